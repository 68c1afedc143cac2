package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	profileDefault  bool
	profileOptions  models.RestoreOptions
	settingsShowAll bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change settings.json",
	Long: `Settings live in settings.json under the storage root and travel with
backups. Machine-local options (storage root, logging, sync timeouts,
retention) live in config.toml instead.

Examples:
  ctxsnap settings show
  ctxsnap settings set sync.provider cloud_stub
  ctxsnap settings set dev_flags.sync_enabled true
  ctxsnap settings set tags work,personal,research
  ctxsnap settings profile add quiet --folder --default`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print settings as JSON",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a settings value by dotted key",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var settingsProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage restore profiles",
}

var settingsProfileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or replace a restore profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileAdd,
}

var settingsProfileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a restore profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileRemove,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rewrite every document at its current schema version",
	Long: `Documents written by older versions are upgraded in memory whenever they
are read. migrate writes the upgraded form back so the files on disk match
the current schema. Snapshot revisions are left unchanged.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(migrateCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsProfileCmd)
	settingsProfileCmd.AddCommand(settingsProfileAddCmd)
	settingsProfileCmd.AddCommand(settingsProfileRemoveCmd)

	settingsShowCmd.Flags().BoolVar(&settingsShowAll, "config", false, "Also show where config.toml was loaded from")

	f := settingsProfileAddCmd.Flags()
	f.BoolVar(&profileOptions.OpenFolder, "folder", false, "Open the project folder")
	f.BoolVar(&profileOptions.OpenTerminal, "terminal", false, "Open a terminal in the folder")
	f.BoolVar(&profileOptions.OpenVSCode, "vscode", false, "Open the editor workspace")
	f.BoolVar(&profileOptions.OpenRunningApps, "apps", false, "Relaunch recorded apps")
	f.BoolVar(&profileOptions.ShowChecklist, "checklist", false, "Show the todo checklist")
	f.BoolVar(&profileDefault, "default", false, "Use this profile when none is named")
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Store.LoadSettings()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if settingsShowAll {
		cfg := configFound
		if cfg == "" {
			cfg = "(none, using defaults)"
		}
		ui.Fields(stdout,
			ui.Field{Key: "Config", Value: cfg},
			ui.Field{Key: "Settings", Value: a.Store.Path(models.KindSettings, "")},
		)
		fmt.Fprintln(stdout)
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.SetSetting(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %s = %s\n", ui.Success.Render("✓ Set"), args[0], args[1])
	return nil
}

func runProfileAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.SaveProfile(models.RestoreProfile{
		Name:           args[0],
		RestoreOptions: profileOptions,
		Default:        profileDefault,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s profile %s (%d profile(s))\n", ui.Success.Render("✓ Saved"), args[0], len(s.RestoreProfiles))
	return nil
}

func runProfileRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.RemoveProfile(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s profile %s\n", ui.Success.Render("✓ Removed"), args[0])
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Migrate(commandContext(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %d snapshot(s) and %d other document(s)\n",
		ui.Success.Render("✓ Migrated"), report.Snapshots, len(report.Singletons))
	return nil
}
