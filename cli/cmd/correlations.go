package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reconhawk/reconhawk-stack/cli/internal/client"
	"github.com/reconhawk/reconhawk-stack/cli/pkg/output"
)

var correlationsCmd = &cobra.Command{
	Use:     "correlations",
	Aliases: []string{"corr"},
	Short:   "Run and inspect correlations",
}

var correlationsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run correlation rules over one or more scans",
	Example: `  recon correlations run --scan S1
  recon correlations run --scan S1,S2 --rule shared_email_across_scans`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scanIDs, _ := cmd.Flags().GetStringSlice("scan")
		ruleIDs, _ := cmd.Flags().GetStringSlice("rule")
		if len(scanIDs) == 0 {
			return fmt.Errorf("at least one --scan is required")
		}

		summary, runErr := correlationClient(cmd).Run(cmd.Context(), scanIDs, ruleIDs)
		if summary == nil {
			return fmt.Errorf("failed to run correlations: %w", runErr)
		}

		if jsonOutput(cmd) {
			if err := output.JSON(summary); err != nil {
				return err
			}
			return runErr
		}

		printSummary(summary)
		if runErr != nil {
			output.Warn("Run stopped early, results are partial")
		}
		return runErr
	},
}

func printSummary(s *client.RunSummary) {
	output.Success("Run %s: %d rules evaluated, %d matched, %d correlations created",
		s.RunID, s.RulesEvaluated, s.RulesMatched, s.CorrelationsCreated)
	for _, id := range s.RulesFailed {
		output.Warn("Rule %s failed", id)
	}
	if len(s.Results) == 0 {
		return
	}

	ids := make([]string, 0, len(s.Results))
	for id := range s.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := output.NewTable([]string{"RULE", "RISK", "MATCHED", "CREATED"})
	for _, id := range ids {
		r := s.Results[id]
		table.AddRow([]string{id, r.Meta.Risk, fmt.Sprintf("%t", r.Matched), fmt.Sprintf("%d", r.CorrelationsCreated)})
	}
	table.Render()
}

var correlationsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored correlations",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := client.ListOptions{}
		opts.ScanID, _ = cmd.Flags().GetString("scan-id")
		opts.RuleID, _ = cmd.Flags().GetString("rule-id")
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		opts.Offset, _ = cmd.Flags().GetInt("offset")

		list, err := correlationClient(cmd).ListCorrelations(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("failed to list correlations: %w", err)
		}
		if jsonOutput(cmd) {
			return output.JSON(list)
		}

		if len(list.Correlations) == 0 {
			output.Info("No correlations found")
			return nil
		}
		table := output.NewTable([]string{"ID", "RULE", "RISK", "SCANS", "HEADLINE", "CREATED"})
		for _, c := range list.Correlations {
			table.AddRow([]string{
				c.ID,
				c.RuleID,
				c.Risk,
				strings.Join(c.ScanIDs, ","),
				output.Truncate(c.Headline, 60),
				c.CreatedAt.Format("2006-01-02 15:04"),
			})
		}
		table.Render()
		if end := list.Offset + len(list.Correlations); end < list.Total {
			output.Info("Showing %d-%d of %d (use --offset %d for more)", list.Offset+1, end, list.Total, end)
		}
		return nil
	},
}

var correlationsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one correlation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enrich, _ := cmd.Flags().GetBool("enrich")
		corr, err := correlationClient(cmd).GetCorrelation(cmd.Context(), args[0], enrich)
		if err != nil {
			return fmt.Errorf("failed to get correlation: %w", err)
		}
		if jsonOutput(cmd) {
			return output.JSON(corr)
		}

		output.Info("%s", corr.Headline)
		output.Info("  ID:       %s", corr.ID)
		output.Info("  Rule:     %s (%s)", corr.RuleID, corr.RuleName)
		output.Info("  Risk:     %s", output.Risk(corr.Risk))
		output.Info("  Scans:    %s", strings.Join(corr.ScanIDs, ", "))
		output.Info("  Value:    %s", corr.AggregationValue)
		output.Info("  Events:   %d", len(corr.EventIDs))
		output.Info("  Created:  %s", corr.CreatedAt.Format("2006-01-02 15:04:05"))

		if len(corr.Events) == 0 {
			return nil
		}
		table := output.NewTable([]string{"EVENT", "SCAN", "TYPE", "DATA", "SOURCE"})
		for _, e := range corr.Events {
			source := ""
			if len(e.Sources) > 0 {
				source = e.Sources[0].Type + ": " + e.Sources[0].Data
			}
			table.AddRow([]string{e.ID, e.ScanID, e.Type, output.Truncate(e.Data, 40), output.Truncate(source, 40)})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(correlationsCmd)
	correlationsCmd.AddCommand(correlationsRunCmd)
	correlationsCmd.AddCommand(correlationsListCmd)
	correlationsCmd.AddCommand(correlationsGetCmd)

	correlationsRunCmd.Flags().StringSlice("scan", nil, "scan id(s) to correlate (repeatable or comma separated)")
	correlationsRunCmd.Flags().StringSlice("rule", nil, "only run these rule id(s)")

	correlationsListCmd.Flags().String("scan-id", "", "only correlations involving this scan")
	correlationsListCmd.Flags().String("rule-id", "", "only correlations produced by this rule")
	correlationsListCmd.Flags().Int("limit", 50, "page size")
	correlationsListCmd.Flags().Int("offset", 0, "page offset")

	correlationsGetCmd.Flags().Bool("enrich", false, "include the correlated events and their provenance")
}
