package cmd

import (
	"fmt"

	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <template>",
	Short: "Generate pre-defined reports",
	Long: `Generate formatted reports using pre-defined templates.

Available templates:
  daily   - Summary stats plus today's snapshots grouped by tag

Examples:
  ctxsnap report daily`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "daily":
		return generateDailyReport(cmd)
	default:
		return fmt.Errorf("unknown report template: %s (available: daily)", args[0])
	}
}

func generateDailyReport(cmd *cobra.Command) error {
	ui.Heading(stdout, "Daily Snapshot Report")
	fmt.Fprintln(stdout)

	oldJSON, oldToon := statsJSON, statsToon
	statsJSON, statsToon = false, false
	err := runStats(cmd, nil)
	statsJSON, statsToon = oldJSON, oldToon
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout)
	ui.Heading(stdout, "Today's Snapshots by Tag")

	// Temporarily set list flags
	oldToday, oldGroupBy := listToday, listGroupBy
	oldListJSON, oldListToon := listJSON, listToon
	listToday, listGroupBy = true, "tag"
	listJSON, listToon = false, false

	err = runList(cmd, nil)

	listToday, listGroupBy = oldToday, oldGroupBy
	listJSON, listToon = oldListJSON, oldListToon
	return err
}
