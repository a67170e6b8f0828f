package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/modegate/internal/db"
)

// newEventsCmd creates the events command
func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the event journal",
		Long: `Show journaled engine events, newest first.

Examples:
  modegate events                    # recent events
  modegate events --kind reindex     # events for one task kind
  modegate events --type mode_unavailable --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			types, _ := cmd.Flags().GetStringSlice("type")
			limit, _ := cmd.Flags().GetInt("limit")
			jsonOut, _ := cmd.Flags().GetBool("json")
			return showEvents(kind, types, limit, jsonOut)
		},
	}

	cmd.Flags().String("kind", "", "filter by work-item kind")
	cmd.Flags().StringSlice("type", nil, "filter by event type")
	cmd.Flags().Int("limit", 50, "maximum events to show")
	cmd.Flags().Bool("json", false, "output as JSON")

	return cmd
}

func showEvents(kind string, types []string, limit int, jsonOut bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Journal.Enabled {
		return fmt.Errorf("journal is disabled in config")
	}

	journal, err := db.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	entries, err := journal.QueryEvents(db.QueryEventsOptions{
		Kind:       kind,
		EventTypes: types,
		Limit:      limit,
	})
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tKIND\tSOURCE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.EventType, e.Kind, e.Source)
	}
	return w.Flush()
}
