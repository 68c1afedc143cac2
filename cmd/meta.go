package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	showJSON bool
	showToon bool

	editTitle      string
	editNote       string
	editTodos      []string
	editAddTags    []string
	editRemoveTags []string
)

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Aliases: []string{"meta"},
	Short:   "Show a snapshot",
	Long: `Display every field of a snapshot. The id may be shortened to any
unambiguous prefix.

Example:
  ctxsnap show 20260301-0930`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change a snapshot's title, note, todos or tags",
	Long: `Edit a snapshot in place. Every edit stores the next revision, which
the sync engine propagates on its next run.

Examples:
  ctxsnap edit 20260301-0930 --note "blocked on review"
  ctxsnap edit 20260301-0930 --add-tag urgent --remove-tag research`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(editCmd)

	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
	showCmd.Flags().BoolVar(&showToon, "toon", false, "Output in LLM-friendly toon format")

	editCmd.Flags().StringVar(&editTitle, "title", "", "New title")
	editCmd.Flags().StringVar(&editNote, "note", "", "New note")
	editCmd.Flags().StringArrayVar(&editTodos, "todo", []string{}, "Replace the todos (repeat up to three times)")
	editCmd.Flags().StringSliceVar(&editAddTags, "add-tag", []string{}, "Tags to add")
	editCmd.Flags().StringSliceVar(&editRemoveTags, "remove-tag", []string{}, "Tags to remove")
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.Get(args[0])
	if err != nil {
		return err
	}
	if ok, err := emit(snap, showJSON, showToon); ok {
		return err
	}
	printSnapshot(snap)
	return nil
}

func printSnapshot(s *models.Snapshot) {
	ui.Heading(stdout, "Snapshot: %s", s.ID)
	fmt.Fprintln(stdout)

	state := []string{}
	if s.Pinned {
		state = append(state, "pinned")
	}
	if s.Archived {
		state = append(state, "archived")
	}
	git := ""
	if s.GitState.Branch != "" {
		git = fmt.Sprintf("%s @ %s", s.GitState.Branch, ui.Truncate(s.GitState.SHA, 8))
		if s.GitState.Dirty {
			git += fmt.Sprintf(" (%d changed, %d staged, %d untracked)",
				s.GitState.Changed, s.GitState.Staged, s.GitState.Untracked)
		}
	}
	source := s.Source
	if s.Trigger != "" {
		source += " (" + s.Trigger + ")"
	}

	ui.Fields(stdout,
		ui.Field{Key: "Title", Value: s.Title},
		ui.Field{Key: "Created", Value: s.CreatedAt.Local().Format("2006-01-02 15:04:05")},
		ui.Field{Key: "Updated", Value: s.UpdatedAt.Local().Format("2006-01-02 15:04:05")},
		ui.Field{Key: "Revision", Value: fmt.Sprint(s.Rev)},
		ui.Field{Key: "Folder", Value: s.Root},
		ui.Field{Key: "Workspace", Value: s.Workspace},
		ui.Field{Key: "Git", Value: git},
		ui.Field{Key: "Tags", Value: ui.Tags(s.Tags)},
		ui.Field{Key: "State", Value: strings.Join(state, ", ")},
		ui.Field{Key: "Source", Value: source},
	)

	fmt.Fprintln(stdout, "\nTodos:")
	for i, t := range s.Todos {
		if t == "" {
			t = ui.MutedText.Render("(empty)")
		}
		fmt.Fprintf(stdout, "  %d. %s\n", i+1, t)
	}
	if s.Note != "" {
		fmt.Fprintf(stdout, "\nNote:\n%s\n", s.Note)
	}
	if len(s.RecentFiles) > 0 {
		fmt.Fprintln(stdout, "\nRecent files:")
		for _, f := range s.RecentFiles {
			fmt.Fprintf(stdout, "  %s\n", f)
		}
	}
	if len(s.RunningApps) > 0 {
		fmt.Fprintln(stdout, "\nRunning apps:")
		for _, app := range s.RunningApps {
			fmt.Fprintf(stdout, "  %s  %s\n", app.Name, ui.MutedText.Render(app.WindowTitle))
		}
	}
}

func runEdit(cmd *cobra.Command, args []string) error {
	if len(editTodos) > models.TodoCount {
		return fmt.Errorf("at most %d todos are allowed, got %d", models.TodoCount, len(editTodos))
	}
	changed := editTitle != "" || editNote != "" || len(editTodos) > 0 ||
		len(editAddTags) > 0 || len(editRemoveTags) > 0
	if !changed {
		return fmt.Errorf("nothing to change (use --title, --note, --todo, --add-tag or --remove-tag)")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.Update(args[0], func(s *models.Snapshot) error {
		if editTitle != "" {
			s.Title = editTitle
		}
		if editNote != "" {
			s.Note = editNote
		}
		if len(editTodos) > 0 {
			s.Todos = [models.TodoCount]string{}
			copy(s.Todos[:], editTodos)
		}
		s.Tags = append(s.Tags, editAddTags...)
		s.Tags = slices.DeleteFunc(s.Tags, func(t string) bool {
			return slices.Contains(editRemoveTags, t)
		})
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %s (rev %d)\n", ui.Success.Render("✓ Updated"), snap.ID, snap.Rev)
	return nil
}
