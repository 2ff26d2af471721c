package websearch

import (
	"context"
	"fmt"

	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// Google is a Provider backed by the Google Programmable Search (CSE) API.
type Google struct {
	svc      *customsearch.Service
	engineID string
}

// NewGoogle creates a Google provider for the given search engine id.
// Extra client options are passed to the API client.
func NewGoogle(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*Google, error) {
	if apiKey == "" || engineID == "" {
		return nil, ErrNoAPIKey
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google search: create service: %w", err)
	}
	return &Google{svc: svc, engineID: engineID}, nil
}

// Search returns result snippets. The API caps num at 10.
func (g *Google) Search(ctx context.Context, query string, max int) ([]string, error) {
	max = min(clampMax(max), 10)
	res, err := g.svc.Cse.List().Q(query).Cx(g.engineID).Num(int64(max)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google search: %w", err)
	}
	snippets := make([]string, len(res.Items))
	for i, item := range res.Items {
		snippets[i] = item.Snippet
	}
	return firstN(snippets, max), nil
}
