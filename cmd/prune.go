package cmd

import (
	"fmt"
	"time"

	"github.com/pders01/ctxsnap/internal/app"
	"github.com/pders01/ctxsnap/internal/config"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	pruneForce bool
	pruneDays  int
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old snapshots based on retention policy",
	Long: `Remove snapshots older than the retention period.

The retention policy is configured in ~/.config/ctxsnap/config.toml:
  [retention]
  days = 90
  preserve_tags = ["important", "security"]

Pinned snapshots and snapshots with preserve tags are never pruned.
Pruning only affects this machine; sync does not propagate deletions.

Example:
  ctxsnap prune              # Show what would be pruned
  ctxsnap prune --force      # Actually prune snapshots`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().BoolVar(&pruneForce, "force", false, "Actually delete snapshots (default is a dry run)")
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Retention period in days (default: retention.days)")
}

func runPrune(cmd *cobra.Command, args []string) error {
	days := pruneDays
	if days <= 0 {
		days = config.GetRetentionDays()
	}
	preserveTags := config.GetPreserveTags()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Prune(commandContext(cmd), app.PruneOptions{
		Days:         days,
		PreserveTags: preserveTags,
		DryRun:       !pruneForce,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Retention policy: %d days\n", days)
	fmt.Fprintf(stdout, "Preserve tags: %v\n", preserveTags)
	fmt.Fprintf(stdout, "Cutoff date: %s\n\n", report.Cutoff.Format(time.DateOnly))

	if len(report.Pruned) == 0 {
		fmt.Fprintln(stdout, "No snapshots to prune")
		return nil
	}

	verb := "Snapshots to prune"
	if report.Applied {
		verb = "Pruned snapshots"
	}
	fmt.Fprintf(stdout, "%s (%d):\n\n", verb, len(report.Pruned))
	for _, c := range report.Pruned {
		printCandidate(c)
	}

	if len(report.Kept) > 0 {
		fmt.Fprintf(stdout, "Snapshots to preserve (%d):\n\n", len(report.Kept))
		for _, c := range report.Kept {
			printCandidate(c)
		}
	}

	if report.Applied {
		fmt.Fprintf(stdout, "%s %d snapshot(s)\n", ui.Success.Render("✓ Pruned"), len(report.Pruned))
	} else {
		fmt.Fprintln(stdout, "This is a dry run. Use --force to actually prune snapshots.")
	}
	return nil
}

func printCandidate(c app.PruneCandidate) {
	fmt.Fprintf(stdout, "  %s  %s\n", c.Entry.ID, ui.Truncate(c.Entry.Title, 50))
	ui.Fields(stdout,
		ui.Field{Key: "Age", Value: formatDuration(c.Age)},
		ui.Field{Key: "Reason", Value: c.Reason},
		ui.Field{Key: "Tags", Value: ui.Tags(c.Entry.Tags)},
	)
	fmt.Fprintln(stdout)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d.Hours() / 24)
	if days == 0 {
		return "< 1 day"
	}
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
