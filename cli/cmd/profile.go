package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/reconhawk/reconhawk-stack/cli/internal/config"
	"github.com/reconhawk/reconhawk-stack/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &config.Profile{}
		if existing, err := cfg.GetProfile(args[0]); err == nil {
			*p = *existing
		}
		if cmd.Flags().Changed("correlation-url") {
			p.CorrelationURL, _ = cmd.Flags().GetString("correlation-url")
		}
		if cmd.Flags().Changed("db") {
			p.DatabaseURL, _ = cmd.Flags().GetString("db")
		}
		if err := cfg.SaveProfile(args[0], p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile %s saved", args[0])
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput(cmd) {
			return output.JSON(cfg)
		}
		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)

		table := output.NewTable([]string{"", "NAME", "CORRELATION URL"})
		for _, name := range names {
			current := ""
			if name == cfg.CurrentProfile {
				current = "*"
			}
			table.AddRow([]string{current, name, cfg.Profiles[name].CorrelationURL})
		}
		table.Render()
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile %s removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileRemoveCmd)

	profileSetCmd.Flags().String("correlation-url", config.DefaultCorrelationURL, "correlation service base URL")
	profileSetCmd.Flags().String("db", "", "PostgreSQL URL used by the seeder")
}
