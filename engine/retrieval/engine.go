// Package retrieval indexes page images as multi-vector embeddings and
// resolves text queries back to stored page images.
//
// Indexing groups pages into fixed-size batches, embeds each batch and
// upserts it under random UUID point ids. A failed batch is logged and
// skipped. Queries embed the text, search the index and load the page image
// for every hit that clears the score threshold; hits whose image is gone
// are dropped.
//
// Scores are normalised to the mean best cosine per query token, so they lie
// in [-1, 1] whatever the query length and MinScore is comparable across
// queries.
package retrieval

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/pagerag/engine/domain"
	"github.com/WessleyAI/pagerag/engine/pdfpage"
	"github.com/WessleyAI/pagerag/engine/semantic"
	"github.com/WessleyAI/pagerag/pkg/metrics"
	"github.com/WessleyAI/pagerag/pkg/resilience"
)

// Embedder turns page images and query text into multi-vectors.
type Embedder interface {
	EmbedImages(ctx context.Context, images []image.Image) ([][][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([][]float32, error)
}

// Index is the vector collection the engine writes to and searches.
type Index interface {
	EnsureCollection(ctx context.Context, size int) error
	Upsert(ctx context.Context, points []semantic.Point) error
	Search(ctx context.Context, query semantic.MultiVector, topK int) ([]semantic.SearchResult, error)
	Count(ctx context.Context) (uint64, error)
}

// DefaultMinScore is the normalised score a hit needs to count as evidence.
const DefaultMinScore = 0.6

// Options configures the engine. A zero MinScore means DefaultMinScore and a
// negative one keeps every hit.
type Options struct {
	ImageDir      string
	BatchSize     int
	TopK          int
	SearchLimit   int
	MinScore      float32
	VectorSize    int
	SearchTimeout time.Duration

	// LoadImage resolves an evidence image. Defaults to pdfpage.LoadImage.
	LoadImage func(path string) (image.Image, error)
	Breaker   *resilience.Breaker
	Metrics   *metrics.RAG
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		ImageDir:      "data/pdf_images",
		BatchSize:     5,
		TopK:          3,
		SearchLimit:   10,
		MinScore:      DefaultMinScore,
		VectorSize:    semantic.DefaultVectorSize,
		SearchTimeout: 5 * time.Second,
	}
}

// Engine is the retrieval engine. It is safe for concurrent use.
type Engine struct {
	embed  Embedder
	index  Index
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	ready bool
}

// New creates an Engine. Zero option fields take their defaults.
func New(embed Embedder, index Index, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultOptions()
	if opts.ImageDir == "" {
		opts.ImageDir = d.ImageDir
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = d.BatchSize
	}
	if opts.TopK <= 0 {
		opts.TopK = d.TopK
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = d.SearchLimit
	}
	if opts.MinScore == 0 {
		opts.MinScore = d.MinScore
	}
	if opts.VectorSize <= 0 {
		opts.VectorSize = d.VectorSize
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = d.SearchTimeout
	}
	if opts.LoadImage == nil {
		opts.LoadImage = pdfpage.LoadImage
	}
	if opts.Breaker == nil {
		bo := resilience.DefaultBreakerOpts()
		bo.Name = "embedding"
		bo.Logger = logger
		opts.Breaker = resilience.NewBreaker(bo)
	}
	return &Engine{
		embed:  embed,
		index:  index,
		opts:   opts,
		logger: logger,
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// Ensure creates the collection if needed and records the current point
// count. It runs once; a failed attempt is retried on the next call.
func (e *Engine) Ensure(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}
	if err := e.index.EnsureCollection(ctx, e.opts.VectorSize); err != nil {
		return fmt.Errorf("retrieval: ensure collection: %w: %w", domain.ErrIndex, err)
	}
	n, err := e.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("retrieval: count points: %w: %w", domain.ErrIndex, err)
	}
	e.opts.Metrics.Points(n)
	e.ready = true
	e.logger.Info("retrieval: collection ready", "points", n)
	return nil
}

// Reset forgets the ensured state so the next call re-creates the collection.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()
}

func (e *Engine) embedImages(ctx context.Context, images []image.Image) ([][][]float32, error) {
	start := time.Now()
	defer e.opts.Metrics.Stage("embed_images", start)
	vecs, err := resilience.Do(e.opts.Breaker, ctx, func(ctx context.Context) ([][][]float32, error) {
		return e.embed.EmbedImages(ctx, images)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	if len(vecs) != len(images) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d images", domain.ErrEmbedding, len(vecs), len(images))
	}
	return vecs, nil
}

func (e *Engine) embedQuery(ctx context.Context, text string) (semantic.MultiVector, error) {
	start := time.Now()
	defer e.opts.Metrics.Stage("embed_query", start)
	v, err := resilience.Do(e.opts.Breaker, ctx, func(ctx context.Context) ([][]float32, error) {
		return e.embed.EmbedQuery(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", domain.ErrEmbedding)
	}
	return semantic.MultiVector(v), nil
}
