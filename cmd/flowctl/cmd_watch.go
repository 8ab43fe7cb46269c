package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"flowctl/internal/api"
	"flowctl/internal/dispatch"
	"flowctl/internal/journal"
	"flowctl/internal/monitor"
	"flowctl/internal/pager"
	"flowctl/internal/pipeline"
	"flowctl/internal/reconcile"
)

var (
	watchEventFile string
	watchFromEnd   bool
	watchAuto      bool
)

// watchCmd follows the event stream and reconciles pipeline state
var watchCmd = &cobra.Command{
	Use:   "watch [campaign-id]",
	Short: "Follow a campaign's event stream and reconcile pipeline state",
	Long: `Consumes the campaign's server-push event stream and keeps the local
phase state in sync: progress counters, terminal transitions, cache
invalidation after count corrections, and (with --auto) auto-advance of
the next runnable phase.

Events are read from --events, an NDJSON file another process appends to,
or from stdin when --events is "-".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		campaignID := args[0]
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, _, err := buildEngine(campaignID, nil)
		if err != nil {
			return err
		}
		if err := eng.Replay(ctx, campaignID); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "watching campaign %s (ctrl-c to stop)\n", campaignID)
		if err := eng.Run(ctx, campaignID); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

// monitorCmd renders the live pipeline TUI
var monitorCmd = &cobra.Command{
	Use:   "monitor [campaign-id]",
	Short: "Live terminal monitor for a campaign pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		campaignID := args[0]
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		snapshots := make(chan reconcile.Snapshot, 8)
		eng, _, err := buildEngine(campaignID, snapshots)
		if err != nil {
			return err
		}

		go func() {
			defer close(snapshots)
			_ = eng.Run(ctx, campaignID)
		}()

		p := tea.NewProgram(monitor.New(campaignID, snapshots), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("monitor: %w", err)
		}
		return nil
	},
}

// buildEngine wires the model, dispatcher, pager registry, journal and the
// configured event source into a reconciliation engine.
func buildEngine(campaignID string, snapshots chan<- reconcile.Snapshot) (*reconcile.Engine, *pager.Registry, error) {
	client, err := api.NewClient(cfg.Server)
	if err != nil {
		return nil, nil, err
	}

	model := pipeline.NewModel()
	ui := pipeline.NewUIState(watchAuto || cfg.Pipeline.FullSequence)
	notifier := api.NewLogNotifier(logger)
	dispatcher := dispatch.New(model, client, notifier)
	registry := pager.NewRegistry(client)

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, nil, err
		}
	}

	var source reconcile.Subscriber
	if watchEventFile == "-" {
		source = api.NewReaderSource(os.Stdin)
	} else {
		source = api.NewFileSource(watchEventFile, watchFromEnd)
	}

	eng, err := reconcile.NewEngine(reconcile.Options{
		Model:        model,
		UI:           ui,
		Subscriber:   source,
		Dispatcher:   dispatcher,
		Notifier:     notifier,
		Journal:      jnl,
		Invalidators: []reconcile.CacheInvalidator{registry},
		Backoff:      cfg.Pipeline.BackoffDuration(),
		Snapshots:    snapshots,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, registry, nil
}

func init() {
	for _, c := range []*cobra.Command{watchCmd, monitorCmd} {
		c.Flags().StringVar(&watchEventFile, "events", "-", `NDJSON event feed: a file path, or "-" for stdin`)
		c.Flags().BoolVar(&watchFromEnd, "from-end", false, "skip events already present in the feed file")
		c.Flags().BoolVar(&watchAuto, "auto", false, "enable auto-advance (full-sequence mode)")
	}
}
