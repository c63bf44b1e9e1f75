package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reconhawk/reconhawk-stack/cli/internal/client"
	"github.com/reconhawk/reconhawk-stack/cli/internal/config"
	"github.com/reconhawk/reconhawk-stack/cli/pkg/output"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "recon",
	Short: "ReconHawk Stack CLI",
	Long: `recon is the command-line interface for the ReconHawk correlation service.

Run correlation rules over finished scans, browse stored correlations,
manage the loaded rule set and seed synthetic scan data for testing.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		output.SetWriters(cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		output.Error("%v", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.recon/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

func correlationClient(cmd *cobra.Command) *client.CorrelationClient {
	profile, _ := cmd.Flags().GetString("profile")
	return client.NewCorrelationClient(cfg.CorrelationURL(profile))
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}
