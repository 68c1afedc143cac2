package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pders01/ctxsnap/internal/backup"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	exportSettings  bool
	exportIndex     bool
	exportSnapshots bool
	exportIDs       []string

	importStrategy      string
	importStageSettings bool
	importYes           bool

	backupJSON bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export and import backup bundles",
	Long: `Bundles are single JSON files holding settings, the index and snapshots.

Every import first writes a safety archive of the live documents to
<root>/backups/. If any write fails the store is put back exactly as it
was; "backup restore" rolls back a completed import by hand.

Strategies:
  merge      add snapshots whose id is new (default)
  overwrite  also replace snapshots with the same id
  replace    make the snapshot set equal to the bundle`,
}

var backupExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a backup bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupExport,
}

var backupImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a backup bundle or a bare settings.json",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupImport,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List safety archives",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Put the store back to a safety archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)

	backupExportCmd.Flags().BoolVar(&exportSettings, "settings", true, "Include settings")
	backupExportCmd.Flags().BoolVar(&exportIndex, "index", true, "Include the index")
	backupExportCmd.Flags().BoolVar(&exportSnapshots, "snapshots", true, "Include snapshots")
	backupExportCmd.Flags().StringSliceVar(&exportIDs, "ids", nil, "Only export these snapshot ids")

	backupImportCmd.Flags().StringVar(&importStrategy, "strategy", string(backup.StrategyMerge), "merge, overwrite or replace")
	backupImportCmd.Flags().BoolVar(&importStageSettings, "stage-settings", false, "Show bundled settings changes before applying them")
	backupImportCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "Confirm overwrite/replace and apply staged settings")
	backupImportCmd.Flags().BoolVar(&backupJSON, "json", false, "Output the result as JSON")

	backupListCmd.Flags().BoolVar(&backupJSON, "json", false, "Output as JSON")
	backupRestoreCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "Confirm the restore")
}

func runBackupExport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	sel := backup.Selection{
		Settings:  exportSettings,
		Index:     exportIndex,
		Snapshots: exportSnapshots,
	}
	for _, id := range exportIDs {
		resolved, err := a.Resolve(id)
		if err != nil {
			return err
		}
		sel.IDs = append(sel.IDs, resolved)
	}

	b, err := a.Backup.ExportFile(commandContext(cmd), path, sel)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %d snapshot(s) to %s\n", ui.Success.Render("✓ Exported"), b.Snapshots(), path)
	return nil
}

func runBackupImport(cmd *cobra.Command, args []string) error {
	strategy, err := backup.ParseStrategy(importStrategy)
	if err != nil {
		return err
	}
	if strategy != backup.StrategyMerge && !importYes {
		return fmt.Errorf("strategy %q can replace existing snapshots; rerun with --yes to confirm", strategy)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	current, err := a.Store.LoadSettings()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	res, err := a.Backup.ImportFile(ctx, args[0], backup.ImportOptions{
		Strategy:      strategy,
		StageSettings: importStageSettings,
	})
	if err != nil {
		return err
	}

	settingsApplied := res.Settings
	if res.Staged != nil {
		if !backupJSON {
			if err := printSettingsChange(current, res.Staged); err != nil {
				return err
			}
		}
		if importYes {
			if err := a.Backup.CommitSettings(ctx, res.Staged); err != nil {
				return err
			}
			settingsApplied = true
		} else if !backupJSON {
			fmt.Fprintln(stdout, ui.Warn.Render("Settings were staged, not applied. Rerun with --yes to apply them."))
		}
	}

	if backupJSON {
		_, err := emit(struct {
			Strategy        backup.Strategy `json:"strategy"`
			Added           []string        `json:"added"`
			Updated         []string        `json:"updated"`
			Skipped         []string        `json:"skipped"`
			Removed         []string        `json:"removed"`
			SettingsApplied bool            `json:"settings_applied"`
			SafetyBackup    string          `json:"safety_backup"`
		}{strategy, res.Added, res.Updated, res.Skipped, res.Removed, settingsApplied, res.SafetyBackup}, true, false)
		return err
	}

	fmt.Fprintf(stdout, "%s with strategy %s\n", ui.Success.Render("✓ Imported"), strategy)
	ui.Fields(stdout,
		ui.Field{Key: "Added", Value: fmt.Sprint(len(res.Added))},
		ui.Field{Key: "Updated", Value: fmt.Sprint(len(res.Updated))},
		ui.Field{Key: "Skipped", Value: fmt.Sprint(len(res.Skipped))},
		ui.Field{Key: "Removed", Value: fmt.Sprint(len(res.Removed))},
		ui.Field{Key: "Settings", Value: fmt.Sprint(settingsApplied)},
		ui.Field{Key: "Safety", Value: res.SafetyBackup},
	)
	return nil
}

func printSettingsChange(current, staged *models.Settings) error {
	cj, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	sj, err := json.MarshalIndent(staged, "", "  ")
	if err != nil {
		return err
	}
	added, removed := ui.Changed(string(cj), string(sj))
	if added == 0 && removed == 0 {
		fmt.Fprintln(stdout, "Bundled settings match the current settings")
		return nil
	}
	ui.Heading(stdout, "Settings changes (+%d -%d)", added, removed)
	fmt.Fprint(stdout, ui.LineDiff(string(cj), string(sj)))
	fmt.Fprintln(stdout)
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	paths, err := a.Backup.SafetyBackups()
	if err != nil {
		return err
	}
	if paths == nil {
		paths = []string{}
	}
	if ok, err := emit(paths, backupJSON, false); ok {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(stdout, "No safety archives")
		return nil
	}
	for _, p := range paths {
		files, err := a.Backup.ReadArchive(p)
		if err != nil {
			fmt.Fprintf(stdout, "%s  %s\n", filepath.Base(p), ui.ErrorMsg.Render("unreadable"))
			continue
		}
		snaps := 0
		for name := range files {
			if strings.HasPrefix(name, "snapshots/") {
				snaps++
			}
		}
		fmt.Fprintf(stdout, "%s  %s\n", filepath.Base(p), ui.MutedText.Render(fmt.Sprintf("%d file(s), %d snapshot(s)", len(files), snaps)))
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	path := args[0]
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
		paths, err := a.Backup.SafetyBackups()
		if err != nil {
			return err
		}
		for _, p := range paths {
			if filepath.Base(p) == path {
				path = p
				break
			}
		}
	}
	if !importYes {
		fmt.Fprintf(stdout, "This replaces every document under %s with the contents of %s.\n", a.Store.Root(), filepath.Base(path))
		fmt.Fprintln(stdout, "Rerun with --yes to confirm.")
		return nil
	}
	if err := a.Backup.RestoreArchive(commandContext(cmd), path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s from %s\n", ui.Success.Render("✓ Restored"), filepath.Base(path))
	return nil
}
