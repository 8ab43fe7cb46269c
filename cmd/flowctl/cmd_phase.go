package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowctl/internal/api"
	"flowctl/internal/dispatch"
	"flowctl/internal/pipeline"
)

// startCmd requests a phase start
var startCmd = &cobra.Command{
	Use:   "start [campaign-id] [phase]",
	Short: "Start a pipeline phase",
	Long: `Requests the backend start one phase of a campaign. The exec state is
updated optimistically and confirmed (or corrected) by the event stream.

Phase keys: domain_generation, dns_validation, http_keyword_validation,
enrichment, extraction.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPhaseCommand(cmd, args[0], pipeline.PhaseKey(args[1]), dispatch.ActionStart)
	},
}

// stopCmd requests a phase stop
var stopCmd = &cobra.Command{
	Use:   "stop [campaign-id] [phase]",
	Short: "Stop a running pipeline phase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPhaseCommand(cmd, args[0], pipeline.PhaseKey(args[1]), dispatch.ActionStop)
	},
}

func runPhaseCommand(cmd *cobra.Command, campaignID string, key pipeline.PhaseKey, action string) error {
	ctx := cmd.Context()

	client, err := api.NewClient(cfg.Server)
	if err != nil {
		return err
	}

	model := pipeline.NewModel()
	if _, err := client.SeedModel(ctx, model, campaignID); err != nil {
		return err
	}

	d := dispatch.New(model, client, api.NewLogNotifier(logger))
	switch action {
	case dispatch.ActionStart:
		err = d.StartPhase(ctx, campaignID, key)
	case dispatch.ActionStop:
		err = d.StopPhase(ctx, campaignID, key)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s of %s for campaign %s accepted\n", action, key, campaignID)
	return nil
}

// statusCmd prints the backend's view of a campaign pipeline
var statusCmd = &cobra.Command{
	Use:   "status [campaign-id]",
	Short: "Show the phase pipeline state of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		campaignID := args[0]

		client, err := api.NewClient(cfg.Server)
		if err != nil {
			return err
		}
		model := pipeline.NewModel()
		c, err := client.SeedModel(ctx, model, campaignID)
		if err != nil {
			return err
		}

		fmt.Printf("Campaign %s  status=%s", c.ID, c.Status)
		if c.CurrentPhase != "" {
			fmt.Printf("  current=%s", c.CurrentPhase)
		}
		fmt.Println()
		for _, p := range model.Snapshot(campaignID) {
			fmt.Printf("  %-26s exec=%-10s config=%s\n", p.Key, p.ExecState, p.ConfigState)
		}
		return nil
	},
}
