package cmd

import (
	"fmt"
	"strings"

	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	searchArchived bool
	searchLimit    int
	searchJSON     bool
	searchToon     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search snapshots by keyword and field",
	Long: `Search snapshot titles, folders, tags, notes, todos, recent files and
process names. Every word must match.

With search.enable_field_query on (the default), key:value terms filter
one field: tag:, root:, todo:, note:, process:, app:, title:. Quote
values containing spaces. An unknown field name is searched as a plain
word.

Examples:
  ctxsnap search parser
  ctxsnap search tag:work "note:blocked on review"
  ctxsnap search root:api todo:tests --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().BoolVar(&searchArchived, "archived", false, "Include archived snapshots")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output as JSON")
	searchCmd.Flags().BoolVar(&searchToon, "toon", false, "Output in LLM-friendly toon format")
}

type searchHit struct {
	listedSnapshot
	Score int `json:"score"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.Search(query)
	if err != nil {
		return err
	}

	hits := []searchHit{}
	for _, r := range results {
		if r.Entry.Archived && !searchArchived {
			continue
		}
		hits = append(hits, searchHit{listedSnapshot: toListed(r.Entry), Score: r.Score})
		if searchLimit > 0 && len(hits) == searchLimit {
			break
		}
	}

	if ok, err := emit(hits, searchJSON, searchToon); ok {
		return err
	}

	if len(hits) == 0 {
		fmt.Fprintf(stdout, "No snapshots found matching: %s\n", query)
		return nil
	}

	fmt.Fprintf(stdout, "Found %d matching snapshot(s):\n\n", len(hits))
	for i, h := range hits {
		fmt.Fprintf(stdout, "%d. %s  %s %s\n", i+1, ui.Title.Render(h.ID), ui.Truncate(h.Title, 60),
			ui.MutedText.Render(fmt.Sprintf("(score %d)", h.Score)))
		ui.Fields(stdout,
			ui.Field{Key: "Folder", Value: h.Root},
			ui.Field{Key: "Tags", Value: ui.Tags(h.Tags)},
		)
		fmt.Fprintln(stdout)
	}
	return nil
}
