package colpali

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/", Dim: 2})
}

func TestEmbedImages(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/images" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req imagesReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		out := imagesResp{}
		for _, s := range req.Images {
			if _, err := base64.StdEncoding.DecodeString(s); err != nil {
				t.Errorf("image not base64: %v", err)
			}
			out.Embeddings = append(out.Embeddings, [][]float32{{1, 0}, {0, 1}})
		}
		json.NewEncoder(w).Encode(out)
	})

	imgs := []image.Image{image.NewRGBA(image.Rect(0, 0, 4, 4)), image.NewRGBA(image.Rect(0, 0, 2, 2))}
	got, err := c.EmbedImages(context.Background(), imgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || len(got[0]) != 2 {
		t.Fatalf("unexpected embeddings: %v", got)
	}
}

func TestEmbedImages_Empty(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:0"})
	got, err := c.EmbedImages(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestEmbedImages_CountMismatch(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(imagesResp{Embeddings: [][][]float32{{{1, 0}}}})
	})
	imgs := []image.Image{image.NewRGBA(image.Rect(0, 0, 1, 1)), image.NewRGBA(image.Rect(0, 0, 1, 1))}
	if _, err := c.EmbedImages(context.Background(), imgs); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestEmbedQuery(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req queryReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "brake fluid" {
			t.Errorf("query = %q", req.Query)
		}
		json.NewEncoder(w).Encode(queryResp{Embedding: [][]float32{{0.5, 0.5}}})
	})
	got, err := c.EmbedQuery(context.Background(), "brake fluid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0][0] != 0.5 {
		t.Fatalf("unexpected embedding: %v", got)
	}
}

func TestEmbedQuery_WrongDimension(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResp{Embedding: [][]float32{{1, 2, 3}}})
	})
	_, err := c.EmbedQuery(context.Background(), "q")
	if !errors.Is(err, ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}
}

func TestEmbedQuery_ServerError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})
	if _, err := c.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbedQuery_BadJSON(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})
	if _, err := c.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEmbedQuery_Empty(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResp{})
	})
	if _, err := c.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
