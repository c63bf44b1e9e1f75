package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/reconhawk/reconhawk-stack/cli/internal/seeder"
	"github.com/reconhawk/reconhawk-stack/cli/pkg/output"
	"github.com/reconhawk/reconhawk-stack/common/logging"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write synthetic scan events for testing correlation rules",
	Long: `Generate provenance trees of scan events and bulk load them into scan_events.

A share of emails, IP addresses and software versions is drawn from a pool
common to all seeded scans, so workspace scoped rules have something to find.

Configuration cascade (priority order):
  1. Command-line flags
  2. ./seeder.yaml or --seeder-config
  3. ~/.recon/seeder.yaml
  4. SEEDER_* environment variables
  5. database_url of the active profile
  6. Built-in defaults`,
	Example: `  recon seed --scans 5 --events 500
  recon seed --db postgres://localhost/recon --seed 42 --correlate`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("seeder-config")
	profile, _ := cmd.Flags().GetString("profile")
	scfg, err := seeder.LoadConfig(configPath, cfg.DatabaseURL(profile))
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		scfg.DatabaseURL, _ = flags.GetString("db")
	}
	if flags.Changed("scans") {
		scfg.Scans, _ = flags.GetInt("scans")
	}
	if flags.Changed("events") {
		scfg.EventsPerScan, _ = flags.GetInt("events")
	}
	if flags.Changed("share-ratio") {
		scfg.ShareRatio, _ = flags.GetFloat64("share-ratio")
	}
	if flags.Changed("seed") {
		scfg.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("prefix") {
		scfg.ScanPrefix, _ = flags.GetString("prefix")
	}
	if err := scfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose, _ := flags.GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), level, "text")

	pool, err := pgxpool.New(cmd.Context(), scfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	stats, err := seeder.NewRunner(scfg, seeder.NewPostgresWriter(pool), logger.Logger).Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	output.Success("Wrote %d events across %d scans in %s", stats.Written, len(stats.ScanIDs), stats.Duration.Round(time.Millisecond))

	if correlate, _ := flags.GetBool("correlate"); !correlate {
		output.Info("Run: recon correlations run --scan %s", strings.Join(stats.ScanIDs, ","))
		return nil
	}
	summary, runErr := correlationClient(cmd).Run(cmd.Context(), stats.ScanIDs, nil)
	if summary == nil {
		return fmt.Errorf("failed to run correlations: %w", runErr)
	}
	printSummary(summary)
	return runErr
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("seeder-config", "", "seeder config file")
	seedCmd.Flags().String("db", "", "PostgreSQL URL (overrides config and profile)")
	seedCmd.Flags().Int("scans", 3, "number of scans to generate")
	seedCmd.Flags().Int("events", 200, "events per scan")
	seedCmd.Flags().Float64("share-ratio", 0.2, "probability a shareable value comes from the cross-scan pool")
	seedCmd.Flags().Int64("seed", 0, "random seed (0 picks one)")
	seedCmd.Flags().String("prefix", "SEED", "scan id prefix")
	seedCmd.Flags().Bool("correlate", false, "run all rules over the seeded scans afterwards")
	seedCmd.Flags().BoolP("verbose", "v", false, "log every batch")
}
