package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"trustaudit/internal/report"
	"trustaudit/internal/types"
)

var collectCmd = &cobra.Command{
	Use:   "collect [subject-id]",
	Short: "Fetch evidence from every registered source",
	Long: `Fetches every source for the subject, reusing cached records that are
still fresh unless --force is given. Per-source failures are reported in
the table, never as a command error.`,
	Args: cobra.ExactArgs(1),
	RunE: runCollect,
}

var coverageCmd = &cobra.Command{
	Use:   "coverage [subject-id]",
	Short: "Show cache health without fetching",
	Args:  cobra.ExactArgs(1),
	RunE:  runCoverage,
}

func init() {
	collectCmd.Flags().Bool("force", false, "Refetch even when cached records are fresh")
}

func runCollect(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	sys, err := boot(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	force, _ := cmd.Flags().GetBool("force")
	res, err := sys.Trust.Collect(ctx, args[0], force)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	writeRecords(out, res.Records)
	fmt.Fprintf(out, "\n%d fetched, %d cached", res.Fetched, res.Cached)
	if res.PersistFailures > 0 {
		fmt.Fprintf(out, ", %d not persisted", res.PersistFailures)
	}
	fmt.Fprintln(out)

	if res.Discrepancy.Detected {
		fmt.Fprintf(out, "Rating discrepancy (spread %.2f > %.2f):\n", res.Discrepancy.Spread, res.Discrepancy.Threshold)
		for _, p := range res.Discrepancy.Pairs {
			fmt.Fprintf(out, "  %s rates %.2f higher than %s\n", p.High, p.Gap, p.Low)
		}
	}
	return nil
}

func writeRecords(out io.Writer, records []types.EvidenceRecord) {
	for _, rec := range records {
		detail := rec.ErrorMessage
		if detail == "" {
			detail = rec.SourceURL
		}
		fmt.Fprintf(out, "%-22s %-10s %s  expires %s  %s\n",
			rec.SourceName, rec.Status,
			rec.FetchedAt.Local().Format(time.DateTime),
			rec.ExpiresAt.Local().Format(time.DateTime),
			detail)
	}
}

func runCoverage(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	sys, err := boot(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	cov, err := sys.Trust.GetCoverage(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.Coverage(cov))
	return nil
}
