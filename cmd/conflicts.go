package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	conflictsJSON bool
	conflictsToon bool
	conflictsAll  bool
	conflictsKeep string
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
	Long: `A conflict is queued when the same snapshot changed on this machine and
on the provider since the last sync. Both versions are kept; the one with
the later updated_at stays visible until you pick a side.

Examples:
  ctxsnap conflicts list
  ctxsnap conflicts show 3f2a
  ctxsnap conflicts resolve 3f2a --keep remote`,
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending conflicts",
	Args:  cobra.NoArgs,
	RunE:  runConflictsList,
}

var conflictsShowCmd = &cobra.Command{
	Use:   "show <conflict-id>",
	Short: "Show both versions of a conflicted snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runConflictsShow,
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Keep one side of a conflict",
	Args:  cobra.ExactArgs(1),
	RunE:  runConflictsResolve,
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsShowCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)

	conflictsListCmd.Flags().BoolVar(&conflictsJSON, "json", false, "Output as JSON")
	conflictsListCmd.Flags().BoolVar(&conflictsToon, "toon", false, "Output in LLM-friendly toon format")
	conflictsListCmd.Flags().BoolVar(&conflictsAll, "all", false, "Include resolved conflicts")
	conflictsShowCmd.Flags().BoolVar(&conflictsJSON, "json", false, "Output as JSON")
	conflictsResolveCmd.Flags().StringVar(&conflictsKeep, "keep", "", "Side to keep: local or remote")
	_ = conflictsResolveCmd.MarkFlagRequired("keep")
}

type listedConflict struct {
	ID         string     `json:"id"`
	SnapshotID string     `json:"snapshot_id"`
	Provider   string     `json:"provider"`
	Reason     string     `json:"reason"`
	At         time.Time  `json:"at"`
	Visible    string     `json:"visible"`
	Status     string     `json:"status"`
	LocalRev   int        `json:"local_rev"`
	RemoteRev  int        `json:"remote_rev"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
}

func toListedConflict(c models.SyncConflict) listedConflict {
	return listedConflict{
		ID:         c.ID,
		SnapshotID: c.SnapshotID,
		Provider:   c.Provider,
		Reason:     c.Reason,
		At:         c.At,
		Visible:    c.Visible,
		Status:     c.Status,
		LocalRev:   c.Local.Rev,
		RemoteRev:  c.Remote.Rev,
		ResolvedAt: c.ResolvedAt,
		Resolution: c.Resolution,
	}
}

func runConflictsList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := a.Store.LoadConflicts()
	if err != nil {
		return err
	}
	source := q.Pending()
	if conflictsAll {
		source = q.Conflicts
	}
	listed := make([]listedConflict, 0, len(source))
	for _, c := range source {
		listed = append(listed, toListedConflict(c))
	}

	if ok, err := emit(listed, conflictsJSON, conflictsToon); ok {
		return err
	}
	if len(listed) == 0 {
		fmt.Fprintln(stdout, "No pending conflicts")
		return nil
	}

	for _, c := range listed {
		status := ui.Warn.Render(c.Status)
		if c.Status == models.ConflictResolved {
			status = ui.MutedText.Render(c.Status + " (" + c.Resolution + ")")
		}
		fmt.Fprintf(stdout, "%s  %s  %s\n", ui.Badge.Render(shortID(c.ID)), c.SnapshotID, status)
		ui.Fields(stdout,
			ui.Field{Key: "Reason", Value: c.Reason},
			ui.Field{Key: "Revs", Value: fmt.Sprintf("local %d, remote %d", c.LocalRev, c.RemoteRev)},
			ui.Field{Key: "Visible", Value: c.Visible},
			ui.Field{Key: "Detected", Value: c.At.Local().Format("2006-01-02 15:04")},
		)
		fmt.Fprintln(stdout)
	}
	return nil
}

func runConflictsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := a.Store.LoadConflicts()
	if err != nil {
		return err
	}
	c, ok := q.Find(args[0])
	if !ok {
		return fmt.Errorf("conflict %q: %w", args[0], errs.ErrNotFound)
	}
	if ok, err := emit(c, conflictsJSON, false); ok {
		return err
	}

	local, remote, err := conflictSides(c)
	if err != nil {
		return err
	}

	ui.Heading(stdout, "Conflict %s on %s", shortID(c.ID), c.SnapshotID)
	ui.Fields(stdout,
		ui.Field{Key: "Provider", Value: c.Provider},
		ui.Field{Key: "Reason", Value: c.Reason},
		ui.Field{Key: "Status", Value: c.Status},
		ui.Field{Key: "Visible", Value: c.Visible},
		ui.Field{Key: "Local", Value: fmt.Sprintf("rev %d, updated %s", c.Local.Rev, c.Local.UpdatedAt.Local().Format("2006-01-02 15:04:05"))},
		ui.Field{Key: "Remote", Value: fmt.Sprintf("rev %d, updated %s", c.Remote.Rev, c.Remote.UpdatedAt.Local().Format("2006-01-02 15:04:05"))},
	)
	fmt.Fprintln(stdout)

	if local.Title != remote.Title {
		fmt.Fprintf(stdout, "Title: %s\n", ui.TextDiff(local.Title, remote.Title))
	}
	for i := range local.Todos {
		if local.Todos[i] != remote.Todos[i] {
			fmt.Fprintf(stdout, "Todo %d: %s\n", i+1, ui.TextDiff(local.Todos[i], remote.Todos[i]))
		}
	}

	lj, err := json.MarshalIndent(local, "", "  ")
	if err != nil {
		return err
	}
	rj, err := json.MarshalIndent(remote, "", "  ")
	if err != nil {
		return err
	}
	added, removed := ui.Changed(string(lj), string(rj))
	fmt.Fprintf(stdout, "\nlocal -> remote: +%d -%d lines\n", added, removed)
	fmt.Fprint(stdout, ui.LineDiff(string(lj), string(rj)))

	if c.Pending() {
		fmt.Fprintf(stdout, "\nResolve with: ctxsnap conflicts resolve %s --keep local|remote\n", shortID(c.ID))
	}
	return nil
}

func runConflictsResolve(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := a.Engine()
	if err != nil {
		return err
	}
	snap, err := e.ResolveConflict(commandContext(cmd), args[0], conflictsKeep)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %s: kept %s version (rev %d)\n", ui.Success.Render("✓ Resolved"), snap.ID, conflictsKeep, snap.Rev)
	return nil
}

// shortID is the 8 character prefix accepted by conflicts show and resolve.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
