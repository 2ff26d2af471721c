package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/api/option"

	"github.com/WessleyAI/pagerag/pkg/resilience"
)

func TestTavilySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tvly-test" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		var req tavilyReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "What is the capital of France?" || req.MaxResults != 3 {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Write([]byte(`{"results":[
			{"title":"Paris","url":"https://a","content":"Paris is the capital of France."},
			{"title":"empty","url":"https://b","content":"  "},
			{"title":"France","url":"https://c","content":"France's capital city is Paris."},
			{"title":"More","url":"https://d","content":"Paris has 2.1M inhabitants."},
			{"title":"Extra","url":"https://e","content":"ignored"}
		]}`))
	}))
	defer srv.Close()

	got, err := NewTavily("tvly-test", srv.URL).Search(context.Background(), "What is the capital of France?", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0] != "Paris is the capital of France." || got[2] != "Paris has 2.1M inhabitants." {
		t.Fatalf("unexpected snippets: %q", got)
	}
}

func TestTavilyErrors(t *testing.T) {
	if _, err := NewTavily("", "").Search(context.Background(), "q", 3); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	if _, err := NewTavily("bad", srv.URL).Search(context.Background(), "q", 3); err == nil {
		t.Fatal("expected status error")
	}
}

func TestGoogleSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "capital of France" || q.Get("cx") != "engine-1" || q.Get("num") != "2" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"title":"Paris","link":"https://a","snippet":"Paris is the capital."},{"title":"x","link":"https://b","snippet":"Second snippet."}]}`))
	}))
	defer srv.Close()

	g, err := NewGoogle(context.Background(), "key", "engine-1", option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Search(context.Background(), "capital of France", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "Paris is the capital." {
		t.Fatalf("unexpected snippets: %q", got)
	}
}

func TestNewGoogleRequiresCredentials(t *testing.T) {
	if _, err := NewGoogle(context.Background(), "", "cx"); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

type countingProvider struct{ calls int }

func (c *countingProvider) Search(context.Context, string, int) ([]string, error) {
	c.calls++
	return []string{"a"}, nil
}

func TestLimited(t *testing.T) {
	inner := &countingProvider{}
	p := Limited(inner, resilience.NewLimiter(resilience.LimiterOpts{Rate: 0.001, Burst: 1}))
	if _, err := p.Search(context.Background(), "q", 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Search(ctx, "q", 1); err == nil {
		t.Fatal("expected limiter error")
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", inner.calls)
	}
}

func TestJoin(t *testing.T) {
	if Join([]string{"a", "b", "c"}) != "a\nb\nc" {
		t.Fatal("snippets should be newline separated")
	}
	if Join(nil) != "" {
		t.Fatal("no snippets should join to empty")
	}
}
