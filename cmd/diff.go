package cmd

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	diffJSON bool
	diffToon bool
	diffRaw  bool
)

var diffCmd = &cobra.Command{
	Use:   "diff <id1> <id2>",
	Short: "Compare two snapshots",
	Long: `Compare two snapshots and show differences in:
  - Title, note and todos
  - Tags
  - Folder and git state
  - Timestamps

With --raw the full JSON documents are compared line by line.

Example:
  ctxsnap diff 20260301-0930 20260302-1015`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Output as JSON")
	diffCmd.Flags().BoolVar(&diffToon, "toon", false, "Output in LLM-friendly toon format")
	diffCmd.Flags().BoolVar(&diffRaw, "raw", false, "Line diff of the stored JSON documents")
}

type snapshotDiff struct {
	Snapshot1      listedSnapshot `json:"snapshot1"`
	Snapshot2      listedSnapshot `json:"snapshot2"`
	TimeDifference string         `json:"time_difference"`
	TitleChanged   bool           `json:"title_changed"`
	NoteChanged    bool           `json:"note_changed"`
	TodosChanged   []int          `json:"todos_changed"`
	TagsAdded      []string       `json:"tags_added"`
	TagsRemoved    []string       `json:"tags_removed"`
	TagsShared     []string       `json:"tags_shared"`
	FolderChanged  bool           `json:"folder_changed"`
	BranchChanged  bool           `json:"branch_changed"`
	CommitChanged  bool           `json:"commit_changed"`
}

func compareSnapshots(s1, s2 *models.Snapshot) snapshotDiff {
	d := snapshotDiff{
		Snapshot1:      toListed(models.EntryFromSnapshot(s1)),
		Snapshot2:      toListed(models.EntryFromSnapshot(s2)),
		TimeDifference: formatDuration(s2.CreatedAt.Sub(s1.CreatedAt)),
		TitleChanged:   s1.Title != s2.Title,
		NoteChanged:    s1.Note != s2.Note,
		TodosChanged:   []int{},
		TagsAdded:      []string{},
		TagsRemoved:    []string{},
		TagsShared:     []string{},
		FolderChanged:  s1.Root != s2.Root,
		BranchChanged:  s1.GitState.Branch != s2.GitState.Branch,
		CommitChanged:  s1.GitState.SHA != s2.GitState.SHA,
	}
	for i := range s1.Todos {
		if s1.Todos[i] != s2.Todos[i] {
			d.TodosChanged = append(d.TodosChanged, i+1)
		}
	}
	for _, t := range s2.Tags {
		if slices.Contains(s1.Tags, t) {
			d.TagsShared = append(d.TagsShared, t)
		} else {
			d.TagsAdded = append(d.TagsAdded, t)
		}
	}
	for _, t := range s1.Tags {
		if !slices.Contains(s2.Tags, t) {
			d.TagsRemoved = append(d.TagsRemoved, t)
		}
	}
	return d
}

func runDiff(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	s1, err := a.Get(args[0])
	if err != nil {
		return err
	}
	s2, err := a.Get(args[1])
	if err != nil {
		return err
	}

	if diffRaw {
		j1, err := json.MarshalIndent(s1, "", "  ")
		if err != nil {
			return err
		}
		j2, err := json.MarshalIndent(s2, "", "  ")
		if err != nil {
			return err
		}
		added, removed := ui.Changed(string(j1), string(j2))
		fmt.Fprintf(stdout, "%s vs %s: +%d -%d lines\n\n", s1.ID, s2.ID, added, removed)
		fmt.Fprint(stdout, ui.LineDiff(string(j1), string(j2)))
		return nil
	}

	diff := compareSnapshots(s1, s2)
	if ok, err := emit(diff, diffJSON, diffToon); ok {
		return err
	}

	ui.Heading(stdout, "Comparing %s and %s", s1.ID, s2.ID)
	fmt.Fprintf(stdout, "Time apart: %s\n\n", diff.TimeDifference)

	if diff.TitleChanged {
		fmt.Fprintf(stdout, "Title:  %s\n", ui.TextDiff(s1.Title, s2.Title))
	}
	if diff.FolderChanged {
		fmt.Fprintf(stdout, "Folder: %s -> %s\n", s1.Root, s2.Root)
	}
	if diff.BranchChanged || diff.CommitChanged {
		fmt.Fprintf(stdout, "Git:    %s@%s -> %s@%s\n",
			s1.GitState.Branch, ui.Truncate(s1.GitState.SHA, 8),
			s2.GitState.Branch, ui.Truncate(s2.GitState.SHA, 8))
	}
	for _, n := range diff.TodosChanged {
		fmt.Fprintf(stdout, "Todo %d: %s\n", n, ui.TextDiff(s1.Todos[n-1], s2.Todos[n-1]))
	}
	if len(diff.TagsAdded) > 0 {
		fmt.Fprintf(stdout, "Tags added:   %s\n", ui.Tags(diff.TagsAdded))
	}
	if len(diff.TagsRemoved) > 0 {
		fmt.Fprintf(stdout, "Tags removed: %s\n", ui.Tags(diff.TagsRemoved))
	}
	if diff.NoteChanged {
		fmt.Fprintln(stdout, "\nNote:")
		fmt.Fprint(stdout, ui.LineDiff(s1.Note+"\n", s2.Note+"\n"))
	}
	return nil
}
