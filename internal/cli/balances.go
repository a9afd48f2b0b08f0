package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Harry0M/oikos-sub001/internal/calculator"
	"github.com/Harry0M/oikos-sub001/internal/service"
	"github.com/Harry0M/oikos-sub001/internal/storage/sqlite"
)

// NewBalancesCommand creates the balances command.
func NewBalancesCommand(rootOpts *RootOptions) *cobra.Command {
	var groupID, dbPath string
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Print a group's balances from the local ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = rootOpts.cfg.Server.DBPath
			}
			return runBalances(cmd.Context(), rootOpts, cmd, dbPath, groupID)
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group ID (required)")
	cmd.Flags().StringVar(&dbPath, "db", "", "ledger database (default from config)")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

type balancesReport struct {
	GroupID   string                  `json:"groupId"`
	Balances  []service.MemberBalance `json:"balances"`
	Suggested []service.Transfer      `json:"suggested"`
	Skipped   int                     `json:"skipped,omitempty"`
}

func runBalances(ctx context.Context, rootOpts *RootOptions, cmd *cobra.Command, dbPath, groupID string) error {
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	result, err := service.GroupBalances(ctx, store, groupID)
	if err != nil {
		return fmt.Errorf("failed to compute balances: %w", err)
	}

	report := balancesReport{
		GroupID:   groupID,
		Balances:  []service.MemberBalance{},
		Suggested: []service.Transfer{},
		Skipped:   result.Skipped,
	}
	names := make(map[string]string, len(result.Balances))
	for _, b := range result.Balances {
		names[b.MemberID] = b.MemberName
		report.Balances = append(report.Balances, service.MemberBalance{MemberID: b.MemberID, MemberName: b.MemberName, Balance: b.Balance})
	}
	for _, t := range calculator.SuggestSettlements(result.Balances) {
		report.Suggested = append(report.Suggested, service.Transfer{FromMemberID: t.FromMemberID, ToMemberID: t.ToMemberID, Amount: t.Amount})
	}

	out := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		return writeJSON(out, report)
	}

	if len(report.Balances) == 0 {
		_, err := fmt.Fprintln(out, "All settled up.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MEMBER\tBALANCE")
	for _, b := range report.Balances {
		fmt.Fprintf(tw, "%s\t%+.2f\n", b.MemberName, b.Balance)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)
	for _, t := range report.Suggested {
		fmt.Fprintf(out, "%s pays %s %.2f\n", names[t.FromMemberID], names[t.ToMemberID], t.Amount)
	}
	if report.Skipped > 0 {
		fmt.Fprintf(out, "(%d malformed records skipped)\n", report.Skipped)
	}
	return nil
}
