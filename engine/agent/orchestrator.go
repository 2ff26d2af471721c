package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/pagerag/engine/domain"
	"github.com/WessleyAI/pagerag/engine/pdfpage"
	"github.com/WessleyAI/pagerag/engine/retrieval"
	"github.com/WessleyAI/pagerag/engine/websearch"
	"github.com/WessleyAI/pagerag/pkg/fn"
	"github.com/WessleyAI/pagerag/pkg/metrics"
)

// Answer statuses and routes.
const (
	StatusOK        = "ok"
	StatusNoResults = "no_results"

	RouteLocal = "local"
	RouteWeb   = "web"
)

// Index status messages.
const (
	indexedStatus   = "Documents processed and indexed. Processed %d pages."
	noDocsStatus    = "No documents were successfully processed."
	searchFailedFmt = "Search failed: %v"
)

var errNoProvider = errors.New("no web search provider configured")

// Extractor converts a PDF on disk into page records.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]pdfpage.PageRecord, error)
}

// Retriever indexes pages and answers queries from them.
type Retriever interface {
	IndexDocument(ctx context.Context, pages []pdfpage.PageRecord) (retrieval.IndexStats, error)
	SearchAndRetrieve(ctx context.Context, text string, topK int) retrieval.Retrieval
}

// File is an uploaded document.
type File struct {
	Name string
	Data []byte
}

// IndexResult summarises an Index call.
type IndexResult struct {
	Status           string `json:"status"`
	PagesExtracted   int    `json:"pages_extracted"`
	PagesIndexed     int    `json:"pages_indexed"`
	FailedBatches    int    `json:"failed_batches"`
	DocumentsSkipped int    `json:"documents_skipped"`
}

// AnswerResult is the single outcome of Answer.
type AnswerResult struct {
	Status   string               `json:"status"`
	Route    string               `json:"route"`
	Text     string               `json:"text"`
	Evidence []retrieval.Evidence `json:"evidence,omitempty"`
	// Degraded is set when the web provider failed and Text carries the error.
	Degraded bool `json:"degraded,omitempty"`
}

// Options configures the Orchestrator.
type Options struct {
	TopK          int
	MaxWebResults int
	// Workers bounds how many documents are extracted at once.
	Workers  int
	SpoolDir string
	Metrics  *metrics.RAG
}

// DefaultOptions returns the orchestrator defaults.
func DefaultOptions() Options {
	return Options{TopK: 3, MaxWebResults: websearch.DefaultMaxResults, Workers: 2}
}

// Orchestrator combines extraction, retrieval and the fallback policy.
type Orchestrator struct {
	extract Extractor
	engine  Retriever
	web     websearch.Provider
	policy  Policy
	opts    Options
	logger  *slog.Logger
}

// New creates an Orchestrator. A nil web provider makes every fallback a
// degraded answer.
func New(extract Extractor, engine Retriever, web websearch.Provider, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = d.TopK
	}
	if opts.MaxWebResults <= 0 {
		opts.MaxWebResults = d.MaxWebResults
	}
	if opts.Workers <= 0 {
		opts.Workers = d.Workers
	}
	return &Orchestrator{extract: extract, engine: engine, web: web, opts: opts, logger: logger}
}

// Index validates uploaded files, spools them to disk, and indexes their
// pages. Invalid or unreadable documents are skipped; the returned error
// joins everything that was skipped or failed and is informational.
func (o *Orchestrator) Index(ctx context.Context, files []File) (IndexResult, error) {
	var (
		paths   []string
		skipped int
		errs    []error
	)
	for _, f := range files {
		if err := domain.ValidateUpload(f.Name, int64(len(f.Data))); err != nil {
			o.logger.Warn("agent: rejected upload", "file", f.Name, "error", err)
			skipped++
			errs = append(errs, err)
			continue
		}
		path, cleanup, err := o.spool(f)
		if err != nil {
			o.logger.Error("agent: spool upload", "file", f.Name, "error", err)
			skipped++
			errs = append(errs, err)
			continue
		}
		defer cleanup()
		paths = append(paths, path)
	}
	return o.index(ctx, paths, skipped, errs)
}

// IndexPaths indexes PDFs already on disk. Missing or invalid files are
// skipped like in Index.
func (o *Orchestrator) IndexPaths(ctx context.Context, paths []string) (IndexResult, error) {
	var (
		valid   []string
		skipped int
		errs    []error
	)
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err == nil {
			err = domain.ValidateUpload(filepath.Base(p), fi.Size())
		}
		if err != nil {
			o.logger.Warn("agent: skipping file", "path", p, "error", err)
			skipped++
			errs = append(errs, err)
			continue
		}
		valid = append(valid, p)
	}
	return o.index(ctx, valid, skipped, errs)
}

func (o *Orchestrator) spool(f File) (string, func(), error) {
	dir, err := os.MkdirTemp(o.opts.SpoolDir, "pagerag-upload-*")
	if err != nil {
		return "", nil, fmt.Errorf("agent: spool %s: %w", f.Name, err)
	}
	cleanup := func() { os.RemoveAll(dir) }
	path := filepath.Join(dir, filepath.Base(f.Name))
	if err := os.WriteFile(path, f.Data, 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("agent: spool %s: %w", f.Name, err)
	}
	return path, cleanup, nil
}

func (o *Orchestrator) index(ctx context.Context, paths []string, skipped int, errs []error) (IndexResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.index")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(paths)))

	extracted := fn.ParMapResult(ctx, paths, o.opts.Workers, func(ctx context.Context, p string) fn.Result[[]pdfpage.PageRecord] {
		return fn.FromPair(o.extract.Extract(ctx, p))
	})
	var pages []pdfpage.PageRecord
	for _, r := range extracted {
		recs, err := r.Unwrap()
		if err != nil || len(recs) == 0 {
			skipped++
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		pages = append(pages, recs...)
	}

	res := IndexResult{PagesExtracted: len(pages), DocumentsSkipped: skipped}
	o.opts.Metrics.Pages(len(pages), 0, 0)
	if len(pages) == 0 {
		res.Status = noDocsStatus
		o.logger.Warn("agent: nothing to index", "skipped", skipped)
		return res, errors.Join(errs...)
	}

	stats, err := o.engine.IndexDocument(ctx, pages)
	if err != nil {
		errs = append(errs, err)
	}
	res.PagesIndexed = stats.PagesIndexed
	res.FailedBatches = stats.FailedBatches
	res.Status = fmt.Sprintf(indexedStatus, len(pages))
	o.logger.Info("agent: index done",
		"pages_extracted", res.PagesExtracted,
		"pages_indexed", res.PagesIndexed,
		"failed_batches", res.FailedBatches,
		"skipped", skipped,
	)
	return res, errors.Join(errs...)
}
