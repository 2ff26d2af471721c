package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/pagerag/engine/agent"
	"github.com/WessleyAI/pagerag/engine/pdfpage"
	"github.com/WessleyAI/pagerag/engine/retrieval"
	"github.com/WessleyAI/pagerag/engine/semantic"
	"github.com/WessleyAI/pagerag/engine/websearch"
	"github.com/WessleyAI/pagerag/pkg/colpali"
	"github.com/WessleyAI/pagerag/pkg/config"
	"github.com/WessleyAI/pagerag/pkg/metrics"
	"github.com/WessleyAI/pagerag/pkg/resilience"
	"github.com/WessleyAI/pagerag/pkg/telemetry"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *semantic.VectorStore // nil when running on the in-memory index
	engine   *retrieval.Engine
	orch     *agent.Orchestrator
	registry *metrics.Registry
	shutdown telemetry.Shutdown
}

// newApp builds the pipeline. memory swaps Qdrant for the in-process index.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, memory bool) (*app, error) {
	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "pagerag",
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, registry: metrics.New(), shutdown: shutdown}

	var index retrieval.Index
	if memory {
		logger.Warn("using in-memory vector index; data is lost on exit")
		index = semantic.NewMemory()
	} else {
		store, err := semantic.New(semantic.Config{
			Addr:       cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.TLS,
			Collection: cfg.Qdrant.Collection,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("qdrant connect: %w", err)
		}
		a.store = store
		index = store
	}

	ids := pdfpage.NewDocIDs(1)
	if err := ids.SeedFromDir(cfg.Retrieval.ImageDir); err != nil {
		logger.Warn("cannot seed document ids from image dir", "dir", cfg.Retrieval.ImageDir, "err", err)
	}
	extractor, err := pdfpage.New(cfg.Retrieval.ImageDir, nil, ids, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	rm := metrics.NewRAG(a.registry)
	embedder := colpali.New(colpali.Options{
		BaseURL: cfg.Embedding.URL,
		Model:   cfg.Embedding.Model,
		Dim:     cfg.Qdrant.VectorSize,
		Timeout: cfg.Embedding.Timeout,
	})
	a.engine = retrieval.New(embedder, index, retrieval.Options{
		ImageDir:      cfg.Retrieval.ImageDir,
		BatchSize:     cfg.Retrieval.BatchSize,
		TopK:          cfg.Retrieval.TopK,
		SearchLimit:   cfg.Retrieval.SearchLimit,
		MinScore:      cfg.Retrieval.MinScore,
		VectorSize:    cfg.Qdrant.VectorSize,
		SearchTimeout: cfg.Retrieval.SearchTimeout,
		Metrics:       rm,
	}, logger)

	web, err := newProvider(ctx, cfg.Search, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = agent.New(extractor, a.engine, web, agent.Options{
		TopK:          cfg.Retrieval.TopK,
		MaxWebResults: cfg.Search.MaxResults,
		Workers:       cfg.Retrieval.Workers,
		SpoolDir:      cfg.Server.SpoolDir,
		Metrics:       rm,
	}, logger)
	return a, nil
}

// newProvider returns the configured web provider wrapped in a rate limiter.
// Missing credentials disable the fallback rather than failing startup.
func newProvider(ctx context.Context, s config.Search, logger *slog.Logger) (websearch.Provider, error) {
	var (
		p   websearch.Provider
		err error
	)
	switch s.Provider {
	case "none", "":
		return nil, nil
	case "google":
		p, err = websearch.NewGoogle(ctx, s.GoogleAPIKey, s.GoogleCSEID)
	default:
		if s.TavilyAPIKey == "" {
			err = websearch.ErrNoAPIKey
		} else {
			p = websearch.NewTavily(s.TavilyAPIKey, s.TavilyURL)
		}
	}
	if errors.Is(err, websearch.ErrNoAPIKey) {
		logger.Warn("web search disabled: no credentials", "provider", s.Provider)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return websearch.Limited(p, resilience.NewLimiter(resilience.LimiterOpts{Rate: s.Rate, Burst: s.Burst})), nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("qdrant close", "err", err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", "err", err)
		}
	}
}
