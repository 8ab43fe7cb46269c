package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"flowctl/internal/api"
	"flowctl/internal/pager"
	"flowctl/internal/pipeline"
)

var (
	domainsPhase    string
	domainsPageSize int
	domainsPage     int
	domainsInfinite bool
	domainsPages    int
)

// domainsCmd pages through a phase's result set
var domainsCmd = &cobra.Command{
	Use:   "domains [campaign-id]",
	Short: "Page through a phase's result set",
	Long: `Fetches pages of a phase's results (generated domains, validation
outcomes). --infinite accumulates pages into one growing list the way the
admin UI's infinite scroll does; otherwise each page replaces the view.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		campaignID := args[0]
		phase := pipeline.PhaseKey(domainsPhase)
		if !pipeline.KnownPhase(phase) {
			return fmt.Errorf("--phase %q: %w", domainsPhase, pipeline.ErrUnknownPhase)
		}

		client, err := api.NewClient(cfg.Server)
		if err != nil {
			return err
		}

		w := pager.NewWindow(client, campaignID, phase, domainsPageSize)
		if err := w.Load(ctx); err != nil {
			return err
		}
		if domainsPage > 1 {
			if err := w.GoToPage(ctx, domainsPage); err != nil {
				return err
			}
		}
		if domainsInfinite {
			w.ToggleInfinite(true)
			for i := 1; i < domainsPages; i++ {
				before := w.Page()
				if err := w.Next(ctx); err != nil {
					return err
				}
				if w.Page() == before {
					break // last page reached
				}
			}
		}

		printWindow(w)
		return nil
	},
}

func printWindow(w *pager.Window) {
	items := w.Items()
	if w.Infinite() {
		fmt.Printf("pages 1-%d of %d, %d items (total %d)\n",
			w.Page(), lastPageOf(w), len(items), w.Total())
	} else {
		fmt.Printf("page %d of %d, %d items (total %d)\n",
			w.Page(), lastPageOf(w), len(items), w.Total())
	}
	for _, raw := range items {
		fmt.Println(renderItem(raw))
	}
}

func lastPageOf(w *pager.Window) int {
	if w.Total() <= 0 {
		return 1
	}
	return (w.Total() + w.PageSize() - 1) / w.PageSize()
}

// renderItem prints the domain field when the item carries one, otherwise
// the raw JSON.
func renderItem(raw json.RawMessage) string {
	var item struct {
		Domain string `json:"domain"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &item); err == nil && item.Domain != "" {
		if item.Status != "" {
			return fmt.Sprintf("  %-40s %s", item.Domain, item.Status)
		}
		return "  " + item.Domain
	}
	return "  " + string(raw)
}

func init() {
	domainsCmd.Flags().StringVar(&domainsPhase, "phase", string(pipeline.PhaseDomainGeneration), "phase whose results to page")
	domainsCmd.Flags().IntVar(&domainsPageSize, "page-size", 25, "items per page")
	domainsCmd.Flags().IntVar(&domainsPage, "page", 1, "page to show (finite mode)")
	domainsCmd.Flags().BoolVar(&domainsInfinite, "infinite", false, "accumulate pages instead of replacing")
	domainsCmd.Flags().IntVar(&domainsPages, "pages", 4, "pages to accumulate with --infinite")
}
