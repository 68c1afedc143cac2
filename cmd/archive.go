package cmd

import (
	"fmt"

	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var deleteForce bool

var archiveCmd = &cobra.Command{
	Use:   "archive <id>...",
	Short: "Hide snapshots from list and search",
	Long: `Archive snapshots. Archived snapshots stay on disk, keep syncing and
can be shown with list --archived. Use unarchive to bring them back.

Examples:
  ctxsnap archive 20260301-0930
  ctxsnap unarchive 20260301-0930`,
	Args: cobra.MinimumNArgs(1),
	RunE: runArchive,
}

var unarchiveCmd = &cobra.Command{
	Use:   "unarchive <id>...",
	Short: "Return archived snapshots to list and search",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnarchive,
}

var pinCmd = &cobra.Command{
	Use:   "pin <id>...",
	Short: "Pin snapshots so prune never removes them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPin,
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <id>...",
	Short: "Unpin snapshots",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnpin,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete snapshots",
	Long: `Delete snapshots from this machine. Deletions are not propagated by
sync; a snapshot still present on the remote comes back on the next pull.

Without --force the command only lists what would be deleted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(unarchiveCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "Actually delete the snapshots")
}

func runArchive(cmd *cobra.Command, args []string) error {
	return setFlag(args, "Archived", func(s *models.Snapshot) { s.Archived = true })
}

func runUnarchive(cmd *cobra.Command, args []string) error {
	return setFlag(args, "Unarchived", func(s *models.Snapshot) { s.Archived = false })
}

func runPin(cmd *cobra.Command, args []string) error {
	return setFlag(args, "Pinned", func(s *models.Snapshot) { s.Pinned = true })
}

func runUnpin(cmd *cobra.Command, args []string) error {
	return setFlag(args, "Unpinned", func(s *models.Snapshot) { s.Pinned = false })
}

func setFlag(refs []string, verb string, set func(*models.Snapshot)) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	for _, ref := range refs {
		snap, err := a.Update(ref, func(s *models.Snapshot) error {
			set(s)
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s\n", ui.Success.Render("✓ "+verb), snap.ID)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ids := make([]string, 0, len(args))
	for _, ref := range args {
		id, err := a.Resolve(ref)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	if !deleteForce {
		fmt.Fprintf(stdout, "Would delete %d snapshot(s):\n", len(ids))
		for _, id := range ids {
			fmt.Fprintf(stdout, "  %s\n", id)
		}
		fmt.Fprintln(stdout, "\nThis is a dry run. Use --force to actually delete.")
		return nil
	}

	for _, id := range ids {
		if _, err := a.Delete(id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s\n", ui.Success.Render("✓ Deleted"), id)
	}
	return nil
}
