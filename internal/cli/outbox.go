package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Harry0M/oikos-sub001/internal/storage/sqlite"
)

// NewOutboxCommand creates the outbox command.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Show relay writes still waiting in the local outbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = rootOpts.cfg.Server.DBPath
			}
			store, err := sqlite.New(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()
			total, err := store.CountOutbox(ctx)
			if err != nil {
				return err
			}
			due, err := store.ListDueOutbox(ctx, time.Now(), total+1)
			if err != nil {
				return err
			}

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"pending": total, "due": len(due)})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d pending, %d due now\n", total, len(due))
			for _, e := range due {
				line := fmt.Sprintf("  %s (attempts %d)", e.Path, e.Attempts)
				if e.LastError != "" {
					line += ": " + e.LastError
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "ledger database (default from config)")
	return cmd
}
