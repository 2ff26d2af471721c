package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/pagerag/engine/jobs"
	"github.com/WessleyAI/pagerag/engine/retrieval"
	"github.com/WessleyAI/pagerag/engine/semantic"
)

func newServeCmd(c *cli) *cobra.Command {
	var memory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, memory)
			if err != nil {
				return c.fail("startup", err)
			}
			defer a.Close()
			if err := a.engine.Ensure(ctx); err != nil {
				c.logger.Warn("collection not ready, will retry on first request", "err", err)
			}
			h := newHandler(serverDeps{
				svc:      a.orch,
				imageDir: c.cfg.Retrieval.ImageDir,
				metrics:  a.registry.Handler(),
				origins:  c.cfg.Server.AllowedOrigins,
				logger:   c.logger,
			})
			return runServer(ctx, c.cfg.Server.Addr, h, c.logger)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "use an in-process vector index instead of Qdrant")
	return cmd
}

func newIndexCmd(c *cli) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "index <file.pdf>...",
		Short: "Index PDF files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if async {
				nc, err := nats.Connect(c.cfg.NATS.URL)
				if err != nil {
					return c.fail("nats connect", err)
				}
				defer nc.Close()
				id, err := jobs.Enqueue(ctx, nc, args)
				if err != nil {
					return c.fail("enqueue", err)
				}
				if err := nc.FlushWithContext(ctx); err != nil {
					return c.fail("nats flush", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}

			a, err := newApp(ctx, c.cfg, c.logger, false)
			if err != nil {
				return c.fail("startup", err)
			}
			defer a.Close()
			res, err := a.orch.IndexPaths(ctx, args)
			if err != nil {
				c.logger.Warn("index completed with errors", "err", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "enqueue a job for the worker instead of indexing in-process")
	return cmd
}

func newAskCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from indexed documents or the web",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, false)
			if err != nil {
				return c.fail("startup", err)
			}
			defer a.Close()
			res := a.orch.Answer(ctx, args[0])
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newWorkerCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume index jobs from NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, false)
			if err != nil {
				return c.fail("startup", err)
			}
			defer a.Close()

			nc, err := nats.Connect(c.cfg.NATS.URL)
			if err != nil {
				return c.fail("nats connect", err)
			}
			defer nc.Drain()

			sub, err := jobs.StartConsumer(nc, a.orch, c.logger)
			if err != nil {
				return c.fail("subscribe", err)
			}
			c.logger.Info("worker started", "subject", sub.Subject, "queue", jobs.QueueGroup)
			<-ctx.Done()
			c.logger.Info("worker shutting down")
			return nil
		},
	}
}

func newResetCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the vector collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete collection %q without --yes", c.cfg.Qdrant.Collection)
			}
			store, err := semantic.New(semantic.Config{
				Addr:       c.cfg.Qdrant.URL,
				APIKey:     c.cfg.Qdrant.APIKey,
				UseTLS:     c.cfg.Qdrant.TLS,
				Collection: c.cfg.Qdrant.Collection,
			})
			if err != nil {
				return c.fail("qdrant connect", err)
			}
			defer store.Close()
			if err := store.DeleteCollection(cmd.Context()); err != nil {
				return c.fail("reset", err)
			}
			c.logger.Info("collection deleted", "collection", store.Collection())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	_ retrieval.Index = (*semantic.VectorStore)(nil)
	_ retrieval.Index = (*semantic.Memory)(nil)
)
