package retrieval

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/pagerag/engine/domain"
	"github.com/WessleyAI/pagerag/engine/pdfpage"
	"github.com/WessleyAI/pagerag/engine/semantic"
	"github.com/WessleyAI/pagerag/pkg/fn"
)

// IndexStats summarises one IndexDocument call.
type IndexStats struct {
	Pages         int `json:"pages"`
	PagesIndexed  int `json:"pages_indexed"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
}

// IndexDocument embeds and stores pages in batches of Options.BatchSize.
// Every batch is attempted; the returned error joins the failures of the
// batches that could not be stored, and the stats count what did succeed.
func (e *Engine) IndexDocument(ctx context.Context, pages []pdfpage.PageRecord) (IndexStats, error) {
	batches := fn.Chunk(pages, e.opts.BatchSize)
	stats := IndexStats{Pages: len(pages), Batches: len(batches)}
	if len(pages) == 0 {
		return stats, nil
	}
	start := time.Now()
	defer e.opts.Metrics.Stage("index", start)

	if err := e.Ensure(ctx); err != nil {
		stats.FailedBatches = len(batches)
		e.logger.Error("retrieval: cannot add to vector DB", "error", err)
		return stats, err
	}

	var errs []error
	for i, batch := range batches {
		stage := fn.TracedStage("retrieval.index_batch", fn.Lift(e.indexBatch),
			attribute.Int("batch", i), attribute.Int("pages", len(batch)))
		n, err := stage(ctx, batch).Unwrap()
		if err != nil {
			stats.FailedBatches++
			e.logger.Error("retrieval: cannot add to vector DB", "batch", i, "pages", len(batch), "error", err)
			errs = append(errs, domain.NewStageError("index", fmt.Sprintf("batch %d", i), err))
			continue
		}
		stats.PagesIndexed += n
	}
	e.opts.Metrics.Pages(0, stats.PagesIndexed, stats.FailedBatches)
	e.logger.Info("retrieval: indexed", "pages", stats.PagesIndexed, "batches", stats.Batches, "failed_batches", stats.FailedBatches)
	return stats, errors.Join(errs...)
}

func (e *Engine) indexBatch(ctx context.Context, batch []pdfpage.PageRecord) (int, error) {
	images := fn.Map(batch, func(p pdfpage.PageRecord) image.Image { return p.Image })
	vecs, err := e.embedImages(ctx, images)
	if err != nil {
		return 0, err
	}

	points := make([]semantic.Point, len(batch))
	for i, p := range batch {
		points[i] = semantic.Point{
			ID:     uuid.NewString(),
			Vector: semantic.MultiVector(vecs[i]),
			Payload: semantic.Payload{
				DocID:   p.DocID,
				PageNum: p.PageNumber,
				Source:  p.Filename,
			},
		}
	}
	if err := e.index.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrIndex, err)
	}
	return len(points), nil
}
