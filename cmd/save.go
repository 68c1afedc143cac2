package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pders01/ctxsnap/internal/app"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	saveRoot      string
	saveWorkspace string
	saveNote      string
	saveTodos     []string
	saveTags      []string
	saveFiles     []string
	saveAuto      bool
	saveTrigger   string
	saveNoGit     bool
	saveJSON      bool
)

var saveCmd = &cobra.Command{
	Use:   "save <title>",
	Short: "Capture a new context snapshot",
	Long: `Capture the current work context as a snapshot.

The snapshot records the project folder (default: the current directory),
an optional editor workspace, up to three todos, a note, tags, recently
touched files and the git state of the folder.

While capture_enforce_todos is on, all three --todo values are required
for manual captures. Automatic captures (--auto) that match the newest
automatic snapshot of the same folder are skipped.

Examples:
  ctxsnap save "parser rewrite" --todo "write tests" --todo "fix lexer" --todo "ship"
  ctxsnap save "idle" --auto --trigger idle`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)

	saveCmd.Flags().StringVar(&saveRoot, "dir", "", "Project folder (default: current directory)")
	saveCmd.Flags().StringVar(&saveWorkspace, "workspace", "", "Editor workspace file")
	saveCmd.Flags().StringVar(&saveNote, "note", "", "Free-form note")
	saveCmd.Flags().StringArrayVar(&saveTodos, "todo", []string{}, "Todo item (repeat up to three times)")
	saveCmd.Flags().StringSliceVar(&saveTags, "tag", []string{}, "Add tags")
	saveCmd.Flags().StringSliceVar(&saveFiles, "file", []string{}, "Recently touched files")
	saveCmd.Flags().BoolVar(&saveAuto, "auto", false, "Record as an automatic capture")
	saveCmd.Flags().StringVar(&saveTrigger, "trigger", "", "What caused an automatic capture")
	saveCmd.Flags().BoolVar(&saveNoGit, "no-git", false, "Skip recording the git state")
	saveCmd.Flags().BoolVar(&saveJSON, "json", false, "Output the stored snapshot as JSON")
}

func runSave(cmd *cobra.Command, args []string) error {
	if len(saveTodos) > models.TodoCount {
		return fmt.Errorf("at most %d todos are allowed, got %d", models.TodoCount, len(saveTodos))
	}

	root := saveRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("invalid folder: %w", err)
	}

	in := app.CaptureInput{
		Title:       strings.TrimSpace(args[0]),
		Root:        root,
		Workspace:   saveWorkspace,
		Note:        saveNote,
		Tags:        saveTags,
		RecentFiles: saveFiles,
		Trigger:     saveTrigger,
		ProbeGit:    !saveNoGit,
	}
	copy(in.Todos[:], saveTodos)
	if saveAuto {
		in.Source = models.SourceAuto
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	snap, skipped, err := a.Capture(commandContext(cmd), in)
	if errors.Is(err, app.ErrTodosRequired) {
		return fmt.Errorf("%w (pass --todo three times, or turn off capture_enforce_todos)", err)
	}
	if err != nil {
		return err
	}
	if skipped {
		fmt.Fprintln(stdout, ui.MutedText.Render("Nothing changed since the last automatic snapshot; skipped"))
		return nil
	}

	if ok, err := emit(snap, saveJSON, false); ok {
		return err
	}
	fmt.Fprintf(stdout, "%s %s\n", ui.Success.Render("✓ Saved snapshot"), snap.ID)
	ui.Fields(stdout,
		ui.Field{Key: "Title", Value: snap.Title},
		ui.Field{Key: "Folder", Value: snap.Root},
		ui.Field{Key: "Branch", Value: snap.GitState.Branch},
		ui.Field{Key: "Tags", Value: ui.Tags(snap.Tags)},
	)
	return nil
}
