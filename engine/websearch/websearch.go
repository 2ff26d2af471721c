// Package websearch queries external web-search providers for text snippets
// used when local documents have nothing relevant.
package websearch

import (
	"context"
	"errors"
	"strings"

	"github.com/WessleyAI/pagerag/pkg/resilience"
)

// DefaultMaxResults is how many snippets a fallback answer is built from.
const DefaultMaxResults = 3

// Provider returns up to max text snippets for a query.
type Provider interface {
	Search(ctx context.Context, query string, max int) ([]string, error)
}

// ErrNoAPIKey is returned by providers constructed without credentials.
var ErrNoAPIKey = errors.New("websearch: api key not configured")

// Join formats snippets as a single answer text, one snippet per line.
func Join(snippets []string) string {
	return strings.Join(snippets, "\n")
}

// Limited wraps a provider so each search waits for a limiter token.
func Limited(p Provider, l *resilience.Limiter) Provider {
	return limited{p: p, l: l}
}

type limited struct {
	p Provider
	l *resilience.Limiter
}

func (l limited) Search(ctx context.Context, query string, max int) ([]string, error) {
	if err := l.l.Wait(ctx); err != nil {
		return nil, err
	}
	return l.p.Search(ctx, query, max)
}

func clampMax(max int) int {
	if max <= 0 {
		return DefaultMaxResults
	}
	return max
}

func firstN(snippets []string, n int) []string {
	out := make([]string, 0, min(n, len(snippets)))
	for _, s := range snippets {
		if len(out) == n {
			break
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
