package semantic

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process index with the same max-sim semantics as the
// Qdrant collection. It backs `pagerag serve --memory` and tests.
type Memory struct {
	mu     sync.RWMutex
	size   int
	exists bool
	points map[string]Point
}

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]Point)}
}

// EnsureCollection records the vector size. Later calls are no-ops.
func (m *Memory) EnsureCollection(_ context.Context, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		m.size = size
		m.exists = true
	}
	return nil
}

// DeleteCollection drops every point.
func (m *Memory) DeleteCollection(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = make(map[string]Point)
	m.exists = false
	return nil
}

// Upsert inserts or replaces points by ID.
func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return errors.New("semantic: memory: collection not created")
	}
	for _, p := range points {
		if len(p.Vector) == 0 {
			return errors.New("semantic: memory: empty vector")
		}
		if p.ID == "" {
			return errors.New("semantic: memory: point without id")
		}
		if m.size > 0 && p.Vector.Dim() != m.size {
			return errors.New("semantic: memory: vector size mismatch")
		}
		m.points[p.ID] = p
	}
	return nil
}

// Search scores every point with max-sim over cosine similarity and returns
// the topK best, highest first. Ties break on ascending ID.
func (m *Memory) Search(_ context.Context, query MultiVector, topK int) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, errors.New("semantic: memory: empty query")
	}
	if topK <= 0 {
		topK = 10
	}
	m.mu.RLock()
	results := make([]SearchResult, 0, len(m.points))
	for _, p := range m.points {
		results = append(results, SearchResult{ID: p.ID, Score: MaxSim(query, p.Vector), Payload: p.Payload})
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of stored points.
func (m *Memory) Count(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.points)), nil
}

// MaxSim sums, over the query vectors, the best cosine similarity against
// any document vector.
func MaxSim(query, doc MultiVector) float32 {
	var total float64
	for _, q := range query {
		best := math.Inf(-1)
		for _, d := range doc {
			if s := cosine(q, d); s > best {
				best = s
			}
		}
		if !math.IsInf(best, -1) {
			total += best
		}
	}
	return float32(total)
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
