package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reconhawk/reconhawk-stack/cli/internal/client"
	"github.com/reconhawk/reconhawk-stack/cli/pkg/output"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and reload correlation rules",
}

var rulesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the active rule set",
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, loadErrs, err := correlationClient(cmd).ListRules(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}
		if jsonOutput(cmd) {
			return output.JSON(map[string]interface{}{"rules": rules, "errors": loadErrs})
		}

		if len(rules) == 0 {
			output.Info("No rules loaded")
		} else {
			table := output.NewTable([]string{"ID", "NAME", "RISK", "SCOPE", "AGGREGATION", "STATUS", "SOURCE"})
			for _, r := range rules {
				status := "enabled"
				if !r.Enabled {
					status = "disabled"
				}
				table.AddRow([]string{r.ID, output.Truncate(r.Meta.Name, 40), r.Meta.Risk, r.Meta.Scope, r.Aggregation, status, r.Source})
			}
			table.Render()
		}
		printLoadErrors(loadErrs)
		return nil
	},
}

var rulesReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload rules from the service's rules directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, loadErrs, err := correlationClient(cmd).ReloadRules(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to reload rules: %w", err)
		}
		if jsonOutput(cmd) {
			return output.JSON(map[string]interface{}{"loaded": loaded, "errors": loadErrs})
		}
		output.Success("Loaded %d rules", loaded)
		printLoadErrors(loadErrs)
		return nil
	},
}

func printLoadErrors(errs []client.LoadError) {
	for _, e := range errs {
		output.Warn("%s: %s", e.Source, e.Message)
	}
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesReloadCmd)
}
