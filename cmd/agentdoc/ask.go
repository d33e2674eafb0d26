package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/agent"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/backend"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/chat"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/config"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
)

type askOptions struct {
	render        renderOptions
	agents        []string
	collaboration bool
	coach         bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send a message to the agents backend",
		Long: `Sends one message and prints every reply.

With a single --agent the agent's dedicated endpoint is used. With several,
the message is fanned out and --collaboration asks for one merged answer.
--coach sends the message to the student coach instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			orch, store := newOrchestrator(cfg, root)
			key := chat.Key{UserID: "cli", SessionID: "cli"}
			store.Open(key)
			return runAsk(cmd.Context(), cmd.OutOrStdout(), orch, store, key, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringSliceVarP(&opts.agents, "agent", "a", []string{"tutor"}, "agent ids to ask")
	cmd.Flags().BoolVar(&opts.collaboration, "collaboration", false, "ask for a merged answer")
	cmd.Flags().BoolVar(&opts.coach, "coach", false, "ask the student coach")
	cmd.Flags().StringVarP(&opts.render.format, "format", "f", formatTerm, "output format: term, html or json")
	cmd.Flags().StringVar(&opts.render.style, "style", "auto", "glamour style for term output")
	cmd.Flags().IntVar(&opts.render.width, "width", 80, "word wrap width for term output")
	cmd.Flags().BoolVar(&opts.render.plain, "plain", false, "print the normalized text without terminal styling")
	return cmd
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List agents and whether the backend reports them as real",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			orch, store := newOrchestrator(cfg, root)
			key := chat.Key{UserID: "cli", SessionID: "cli"}
			store.Open(key)
			descs, err := orch.RefreshStatus(cmd.Context(), key)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			for _, d := range descs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-24s %-20s %s\n", d.Icon, d.ID, d.DisplayName, d.StatusLabel)
			}
			return nil
		},
	}
}

func newOrchestrator(cfg *config.Config, root *rootOptions) (*agent.Orchestrator, *chat.Store) {
	logger := root.logger(os.Stderr)
	client := backend.New(cfg.BackendURL, cfg.BackendTimeout, backend.WithLogger(logger))
	catalog, err := agent.LoadCatalog(cfg.AgentCatalogPath)
	if err != nil {
		logger.Warn("falling back to the built-in agent catalog", "error", err)
		catalog, _ = agent.LoadCatalog("")
	}
	store := chat.NewStore()
	orch := agent.NewOrchestrator(client, store, catalog, newPipeline(cfg, logger), agent.Config{HistorySize: cfg.HistorySize}, logger)
	return orch, store
}

func runAsk(ctx context.Context, w io.Writer, orch *agent.Orchestrator, store *chat.Store, key chat.Key, text string, opts *askOptions) error {
	var (
		res agent.TurnResult
		err error
	)
	switch {
	case opts.coach:
		res, err = orch.Coach(ctx, key, text)
	case len(opts.agents) == 1 && !opts.collaboration:
		res, err = orch.Ask(ctx, key, opts.agents[0], text)
	default:
		if _, err = store.SetAgents(key, opts.agents); err != nil {
			return err
		}
		mode := domain.ModeIndividual
		if opts.collaboration {
			mode = domain.ModeCollaboration
		}
		if _, err = store.SetMode(key, mode); err != nil {
			return err
		}
		res, err = orch.Send(ctx, key, text)
	}
	if err != nil {
		return err
	}

	for _, msg := range res.Messages {
		if msg.Role == domain.RoleUser {
			continue
		}
		if msg.Agent != nil {
			fmt.Fprintf(w, "%s %s\n", msg.Agent.Icon, msg.Agent.DisplayName)
		}
		if err := writeContent(w, msg.Content, &opts.render); err != nil {
			return err
		}
	}
	if res.Status == agent.TurnFailed {
		if res.Error != "" {
			return fmt.Errorf("turn failed: %s", res.Error)
		}
		return errors.New("turn failed")
	}
	return nil
}
