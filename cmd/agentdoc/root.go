package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/config"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/document"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/normalize"
)

type rootOptions struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "agentdoc",
		Short: "Render agent replies and query the agents backend",
		Long: `agentdoc runs the same normalization pipeline as the chat service.

Available subcommands:
  render - normalize a raw payload from a file or stdin
  ask    - send a message to one or more agents
  status - list the agent catalog with backend status`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline diagnostics to stderr")

	cmd.AddCommand(newRenderCmd(opts), newAskCmd(opts), newStatusCmd(opts))
	return cmd
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelError
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newPipeline(cfg *config.Config, logger *slog.Logger) *normalize.Pipeline {
	return normalize.NewPipeline(
		normalize.NewPromoter(normalize.Thresholds{
			MinLines: cfg.Promote.MinLines,
			MinChars: cfg.Promote.MinChars,
			Heading:  cfg.Promote.Heading,
		}),
		document.NewRenderer(nil),
		logger,
	)
}
