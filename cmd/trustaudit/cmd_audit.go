package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trustaudit/internal/audit"
	"trustaudit/internal/enforce"
	"trustaudit/internal/report"
	"trustaudit/internal/trust"
	"trustaudit/internal/types"
)

var auditCmd = &cobra.Command{
	Use:   "audit [subject-id]",
	Short: "Run a trust audit",
	Long: `Collects evidence (unless --skip-collection) and runs the bounded audit
loop. The result is persisted and becomes the subject's latest audit.

With --skip-collection the audit uses whatever is cached, including
expired records, which are labeled stale in the digest.`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

var auditShowCmd = &cobra.Command{
	Use:   "show [subject-id]",
	Short: "Show the latest audit and verify its digest",
	Args:  cobra.ExactArgs(1),
	RunE:  showAudit,
}

func init() {
	auditCmd.Flags().Bool("skip-collection", false, "Audit cached evidence only")
	auditCmd.Flags().Bool("force", false, "Refetch every source before auditing")
	auditCmd.PersistentFlags().Bool("json", false, "Print the result as JSON")
	auditCmd.PersistentFlags().Bool("plain", false, "Print markdown without terminal styling")

	auditCmd.AddCommand(auditShowCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	sys, err := boot(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	skip, _ := cmd.Flags().GetBool("skip-collection")
	force, _ := cmd.Flags().GetBool("force")
	result, err := sys.Trust.RunAudit(ctx, args[0], trust.AuditOptions{SkipCollection: skip, Force: force})
	if err != nil {
		return err
	}
	logger.Info("Audit complete",
		zap.String("subject", result.SubjectID),
		zap.Int("score", result.TrustScore),
		zap.Bool("forced", result.Forced),
		zap.Float64("cost", result.Cost))

	return printResult(cmd, result)
}

func showAudit(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := st.LatestAudit(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "No audits for %s.\n", args[0])
		return nil
	}

	intact, err := audit.VerifySeal(result)
	if err != nil {
		return err
	}
	if !intact {
		logger.Warn("Audit digest mismatch", zap.String("audit", result.ID))
		fmt.Fprintln(cmd.ErrOrStderr(), "WARNING: stored digest does not match the audit contents")
	}

	// Forced results carry a fixed triple outside the threshold table.
	if !result.Forced {
		if _, changed, err := enforce.Reenforce(result); err != nil {
			return err
		} else if changed {
			fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: stored score disagrees with rules %s\n", result.AuditVersion)
		}
		if result.AuditVersion != enforce.CurrentVersion {
			now := enforce.Current().Apply(result.TrustScore, result.RedFlags)
			fmt.Fprintf(cmd.ErrOrStderr(), "Note: audited under rules %s; rules %s give %d %s/%s\n",
				result.AuditVersion, enforce.CurrentVersion, now.Score, now.RiskLevel, now.Recommendation)
		}
	}
	return printResult(cmd, result)
}

func printResult(cmd *cobra.Command, result *types.AuditResult) error {
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	plain, _ := cmd.Flags().GetBool("plain")
	rendered, err := report.Render(result, report.Options{Plain: plain})
	if err != nil {
		return err
	}
	fmt.Fprint(out, rendered)
	return nil
}
