// Package main implements the pagerag command: an HTTP server, an async
// index worker, and one-shot index/ask/reset commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/pagerag/pkg/config"
)

// cli holds state shared by every subcommand.
type cli struct {
	cfgFile string
	envFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "pagerag",
		Short:         "Question answering over PDF page images with web-search fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var envFiles []string
			if c.envFile != "" {
				envFiles = append(envFiles, c.envFile)
			}
			cfg, err := config.Load(c.cfgFile, envFiles...)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = cfg.Log.Logger(cmd.ErrOrStderr())
			slog.SetDefault(c.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "dotenv file (default .env)")

	root.AddCommand(
		newServeCmd(c),
		newIndexCmd(c),
		newAskCmd(c),
		newWorkerCmd(c),
		newResetCmd(c),
	)
	return root
}

// fail logs err and returns it so cobra exits non-zero.
func (c *cli) fail(msg string, err error) error {
	c.logger.Error(msg, "err", err)
	return fmt.Errorf("%s: %w", msg, err)
}
