package cmd

import (
	"fmt"
	"time"

	"github.com/pders01/ctxsnap/internal/app"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	restoreProfile string
	restoreOnly    []string
	restoreJSON    bool
	historyJSON    bool
	historyToon    bool
	historyLimit   int
)

var restoreCmd = &cobra.Command{
	Use:     "restore <id>",
	Aliases: []string{"open"},
	Short:   "Show how to pick up where a snapshot left off",
	Long: `Resolve what a restore reopens (folder, terminal, editor workspace,
apps and the todo checklist) from the restore defaults in settings or a
restore profile, print it, and record the restore in the history.

Examples:
  ctxsnap restore 20260301-093000
  ctxsnap restore 2026030 --profile quiet
  ctxsnap restore 20260301-093000 --only folder,checklist`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent restores",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(historyCmd)

	restoreCmd.Flags().StringVar(&restoreProfile, "profile", "", "Restore profile to use (default: the default profile)")
	restoreCmd.Flags().StringSliceVar(&restoreOnly, "only", nil, "Reopen only these: folder, terminal, vscode, apps, checklist")
	restoreCmd.Flags().BoolVar(&restoreJSON, "json", false, "Output the plan as JSON")

	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyCmd.Flags().BoolVar(&historyToon, "toon", false, "Output in LLM-friendly toon format")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of entries")
}

func parseOnly(items []string) (*models.RestoreOptions, error) {
	if len(items) == 0 {
		return nil, nil
	}
	o := &models.RestoreOptions{}
	for _, item := range items {
		switch item {
		case "folder":
			o.OpenFolder = true
		case "terminal":
			o.OpenTerminal = true
		case "vscode":
			o.OpenVSCode = true
		case "apps":
			o.OpenRunningApps = true
		case "checklist":
			o.ShowChecklist = true
		default:
			return nil, fmt.Errorf("unknown restore item %q", item)
		}
	}
	return o, nil
}

type restoreOutput struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Profile   string                `json:"profile,omitempty"`
	Choices   models.RestoreOptions `json:"choices"`
	Folder    string                `json:"folder,omitempty"`
	Workspace string                `json:"workspace,omitempty"`
	Apps      []models.RunningApp   `json:"apps,omitempty"`
	Checklist []string              `json:"checklist,omitempty"`
}

func runRestore(cmd *cobra.Command, args []string) error {
	override, err := parseOnly(restoreOnly)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := a.Restore(args[0], app.RestoreRequest{Profile: restoreProfile, Override: override})
	if err != nil {
		return err
	}
	out := restoreOutput{
		ID:        plan.Snapshot.ID,
		Title:     plan.Snapshot.Title,
		Profile:   plan.Profile,
		Choices:   plan.Choices,
		Folder:    plan.Folder,
		Workspace: plan.Workspace,
		Apps:      plan.Apps,
		Checklist: plan.Checklist,
	}
	if ok, err := emit(out, restoreJSON, false); ok {
		return err
	}

	s := plan.Snapshot
	ui.Heading(stdout, "Restoring %s", s.Title)
	profile := plan.Profile
	if profile == "" {
		profile = "(settings defaults)"
	}
	ui.Fields(stdout,
		ui.Field{Key: "ID", Value: s.ID},
		ui.Field{Key: "Profile", Value: profile},
		ui.Field{Key: "Captured", Value: s.CreatedAt.Local().Format("2006-01-02 15:04")},
	)
	if s.GitState.Branch != "" {
		ui.Fields(stdout, ui.Field{Key: "Git", Value: fmt.Sprintf("%s@%s", s.GitState.Branch, ui.Truncate(s.GitState.SHA, 8))})
	}
	fmt.Fprintln(stdout)

	if plan.Folder != "" {
		if plan.Choices.OpenFolder {
			fmt.Fprintf(stdout, "Folder:    %s\n", plan.Folder)
		}
		if plan.Choices.OpenTerminal {
			fmt.Fprintf(stdout, "Terminal:  cd %s\n", plan.Folder)
		}
	}
	if plan.Workspace != "" {
		fmt.Fprintf(stdout, "Editor:    code %s\n", plan.Workspace)
	}
	for _, ra := range plan.Apps {
		fmt.Fprintf(stdout, "App:       %s %s\n", ra.Name, ui.MutedText.Render(ra.Path))
	}
	if s.Note != "" {
		fmt.Fprintf(stdout, "\nNote:\n  %s\n", s.Note)
	}
	if len(plan.Checklist) > 0 {
		fmt.Fprintln(stdout, "\nChecklist:")
		for _, t := range plan.Checklist {
			fmt.Fprintf(stdout, "  [ ] %s\n", t)
		}
	}
	return nil
}

type historyEntry struct {
	At         time.Time `json:"at"`
	SnapshotID string    `json:"snapshot_id"`
	Title      string    `json:"title"`
	Profile    string    `json:"profile,omitempty"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.Store.LoadRestoreHistory()
	if err != nil {
		return err
	}
	x, err := a.Store.LoadIndex()
	if err != nil {
		return err
	}

	entries := []historyEntry{}
	for _, r := range h.Restores {
		if historyLimit > 0 && len(entries) >= historyLimit {
			break
		}
		e := historyEntry{At: r.At, SnapshotID: r.SnapshotID, Profile: r.Profile}
		if ie, ok := x.Find(r.SnapshotID); ok {
			e.Title = ie.Title
		}
		entries = append(entries, e)
	}

	if ok, err := emit(entries, historyJSON, historyToon); ok {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No restores yet")
		return nil
	}
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = ui.MutedText.Render("(deleted)")
		}
		line := fmt.Sprintf("%s  %s  %s", e.At.Local().Format("2006-01-02 15:04"), e.SnapshotID, title)
		if e.Profile != "" {
			line += "  " + ui.Badge.Render(e.Profile)
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}
