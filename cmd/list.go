package cmd

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	listTag      string
	listRoot     string
	listToday    bool
	listSince    string
	listPinned   bool
	listArchived bool
	listLimit    int
	listGroupBy  string
	listJSON     bool
	listToon     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Long: `List snapshots from the index, newest first. Archived snapshots are
hidden unless --archived is given.

Examples:
  ctxsnap list
  ctxsnap list --tag work --since 2026-01-01
  ctxsnap list --today --group-by tag
  ctxsnap list --json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listTag, "tag", "", "Filter by tag")
	listCmd.Flags().StringVar(&listRoot, "dir", "", "Filter by project folder")
	listCmd.Flags().BoolVar(&listToday, "today", false, "Show only today's snapshots")
	listCmd.Flags().StringVar(&listSince, "since", "", "Show snapshots since date (YYYY-MM-DD)")
	listCmd.Flags().BoolVar(&listPinned, "pinned", false, "Show only pinned snapshots")
	listCmd.Flags().BoolVar(&listArchived, "archived", false, "Include archived snapshots")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Show at most this many snapshots")
	listCmd.Flags().StringVar(&listGroupBy, "group-by", "", "Group output by: tag|dir")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	listCmd.Flags().BoolVar(&listToon, "toon", false, "Output in LLM-friendly toon format")
}

type listedSnapshot struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Root      string    `json:"root"`
	Tags      []string  `json:"tags"`
	Pinned    bool      `json:"pinned"`
	Archived  bool      `json:"archived"`
	Source    string    `json:"source,omitempty"`
	Branch    string    `json:"git_branch,omitempty"`
	Rev       int       `json:"rev"`
}

func toListed(e models.IndexEntry) listedSnapshot {
	return listedSnapshot{
		ID:        e.ID,
		Title:     e.Title,
		CreatedAt: e.CreatedAt,
		Root:      e.Root,
		Tags:      e.Tags,
		Pinned:    e.Pinned,
		Archived:  e.Archived,
		Source:    e.Source,
		Branch:    e.GitBranch,
		Rev:       e.Rev,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	var since time.Time
	if listSince != "" {
		t, err := time.ParseInLocation(time.DateOnly, listSince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since date format (use YYYY-MM-DD): %w", err)
		}
		since = t
	}
	switch listGroupBy {
	case "", "tag", "dir":
	default:
		return fmt.Errorf("invalid --group-by %q (must be: tag, dir)", listGroupBy)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	x, err := a.Store.LoadIndex()
	if err != nil {
		return err
	}

	today := time.Now().Format(time.DateOnly)
	snapshots := []listedSnapshot{}
	for _, e := range x.Snapshots {
		if e.Archived && !listArchived {
			continue
		}
		if listPinned && !e.Pinned {
			continue
		}
		if listTag != "" && !slices.Contains(e.Tags, listTag) {
			continue
		}
		if listRoot != "" && e.Root != listRoot {
			continue
		}
		if listToday && e.CreatedAt.Local().Format(time.DateOnly) != today {
			continue
		}
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		snapshots = append(snapshots, toListed(e))
		if listLimit > 0 && len(snapshots) == listLimit {
			break
		}
	}

	if ok, err := emit(snapshots, listJSON, listToon); ok {
		return err
	}

	if len(snapshots) == 0 {
		fmt.Fprintln(stdout, "No snapshots match the filter criteria")
		return nil
	}

	if listGroupBy != "" {
		printGrouped(snapshots)
		return nil
	}

	fmt.Fprintf(stdout, "Found %d snapshot(s):\n\n", len(snapshots))
	for _, s := range snapshots {
		printListed(s)
	}
	return nil
}

func printListed(s listedSnapshot) {
	marks := ""
	if s.Pinned {
		marks += " " + ui.Badge.Render("pinned")
	}
	if s.Archived {
		marks += " " + ui.MutedText.Render("archived")
	}
	fmt.Fprintf(stdout, "  %s  %s%s\n", ui.Title.Render(s.ID), ui.Truncate(s.Title, 60), marks)
	ui.Fields(stdout,
		ui.Field{Key: "Created", Value: s.CreatedAt.Local().Format("2006-01-02 15:04")},
		ui.Field{Key: "Folder", Value: s.Root},
		ui.Field{Key: "Branch", Value: s.Branch},
		ui.Field{Key: "Tags", Value: ui.Tags(s.Tags)},
	)
	fmt.Fprintln(stdout)
}

func printGrouped(snapshots []listedSnapshot) {
	groups := map[string][]listedSnapshot{}
	for _, s := range snapshots {
		var keys []string
		switch listGroupBy {
		case "tag":
			keys = s.Tags
			if len(keys) == 0 {
				keys = []string{"(untagged)"}
			}
		case "dir":
			keys = []string{s.Root}
		}
		for _, k := range keys {
			groups[k] = append(groups[k], s)
		}
	}

	names := make([]string, 0, len(groups))
	for k := range groups {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		ui.Heading(stdout, "%s (%d)", name, len(groups[name]))
		for _, s := range groups[name] {
			fmt.Fprintf(stdout, "  %s  %s\n", s.ID, ui.Truncate(s.Title, 60))
		}
		fmt.Fprintln(stdout)
	}
}
