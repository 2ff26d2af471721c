package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// Tavily is a Provider backed by the Tavily search API.
type Tavily struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewTavily creates a Tavily provider. An empty endpoint uses DefaultTavilyURL.
func NewTavily(apiKey, endpoint string) *Tavily {
	if endpoint == "" {
		endpoint = DefaultTavilyURL
	}
	return &Tavily{
		apiKey:   apiKey,
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   20 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type tavilyReq struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
}

type tavilyResp struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search returns the content of the top results, in provider order.
func (t *Tavily) Search(ctx context.Context, query string, max int) ([]string, error) {
	if t.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	max = clampMax(max)
	body, err := json.Marshal(tavilyReq{Query: query, MaxResults: max})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out tavilyResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tavily search decode: %w", err)
	}
	snippets := make([]string, len(out.Results))
	for i, r := range out.Results {
		snippets[i] = r.Content
	}
	return firstN(snippets, max), nil
}
