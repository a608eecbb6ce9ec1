package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trustaudit/internal/sources"
	"trustaudit/internal/types"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the source registry",
	RunE:  listSources,
}

var usageCmd = &cobra.Command{
	Use:   "usage [subject-id]",
	Short: "Summarize the cost ledger",
	Long:  `Aggregates paid calls by service and operation. Without a subject id the whole ledger is summarized.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  showUsage,
}

func listSources(cmd *cobra.Command, args []string) error {
	reg := sources.DefaultRegistry().Without(cfg.Sources.Disabled...)
	reg.SetAdHocTTL(cfg.GetInvestigationTTL())
	out := cmd.OutOrStdout()
	for _, spec := range reg.Specs() {
		seq := ""
		if spec.Sequential {
			seq = "sequential"
		}
		fmt.Fprintf(out, "%-22s %-10s %-15s %-8s %-30s %s\n",
			spec.Name, spec.Tier, spec.Kind, spec.TTL(), spec.Domain, seq)
	}
	fmt.Fprintf(out, "%-22s %-10s %-15s %-8s\n",
		types.AdHocSourcePrefix+"<audit>:<n>", sources.TierAdHoc, "search", reg.AdHocTTL())
	return nil
}

func showUsage(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	subjectID := ""
	if len(args) == 1 {
		subjectID = args[0]
	}
	lines, err := st.CostSummary(cmd.Context(), subjectID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(lines) == 0 {
		fmt.Fprintln(out, "No paid calls recorded.")
		return nil
	}
	var total float64
	for _, l := range lines {
		fmt.Fprintf(out, "%-18s %-14s %5d calls %9d in %9d out  $%.4f\n",
			l.Service, l.Operation, l.Calls, l.InputTokens, l.OutputTokens, l.CostUSD)
		total += l.CostUSD
	}
	fmt.Fprintf(out, "total $%.4f\n", total)
	return nil
}
