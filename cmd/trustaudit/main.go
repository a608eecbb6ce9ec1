package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trustaudit/internal/config"
	"trustaudit/internal/logging"
	"trustaudit/internal/system"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "trustaudit",
	Short: "trustaudit - evidence collection and bounded trust audits for businesses",
	Long: `trustaudit collects evidence about a business from review platforms,
government records and news, caches it with per-source TTLs, and runs a
bounded reasoning loop that turns the evidence into a trust verdict.

Scores are enforced against the severity of reported red flags before
anything is persisted, and every override is recorded.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Store.DSN = dbPath
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Base()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "trustaudit.yaml", "Config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Store DSN (overrides config and TRUSTAUDIT_DB)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	rootCmd.AddCommand(subjectCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(usageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commandContext returns a context bounded by --timeout and cancelled on SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

// boot wires the full system from the loaded config.
func boot(ctx context.Context) (*system.System, error) {
	sys, err := system.Boot(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("System booted",
		zap.String("store", cfg.Store.Driver),
		zap.String("reasoning", cfg.Reasoning.Provider),
		zap.Int("sources", sys.Registry.Len()))
	return sys, nil
}
