package cmd

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	relatedJSON bool
	relatedToon bool
)

var relatedCmd = &cobra.Command{
	Use:   "related <id>",
	Short: "Find related snapshots",
	Long: `Find snapshots related to a given snapshot based on:
  - Shared tags
  - Same project folder
  - Same git branch

Results are ranked by relevance.

Example:
  ctxsnap related 20260301-0930`,
	Args: cobra.ExactArgs(1),
	RunE: runRelated,
}

func init() {
	rootCmd.AddCommand(relatedCmd)

	relatedCmd.Flags().BoolVar(&relatedJSON, "json", false, "Output as JSON")
	relatedCmd.Flags().BoolVar(&relatedToon, "toon", false, "Output in LLM-friendly toon format")
}

type relatedSnapshot struct {
	Snapshot listedSnapshot `json:"snapshot"`
	Score    int            `json:"score"`
	Reason   string         `json:"reason"`
}

// relatedScore rates how close e is to target. Zero means unrelated.
func relatedScore(target, e models.IndexEntry) (int, []string) {
	score := 0
	var reasons []string

	shared := 0
	for _, t := range target.Tags {
		if slices.Contains(e.Tags, t) {
			shared++
		}
	}
	if shared > 0 {
		score += shared * 10
		reasons = append(reasons, fmt.Sprintf("%d shared tags", shared))
	}
	if target.Root != "" && e.Root == target.Root {
		score += 20
		reasons = append(reasons, "same folder")
	}
	if target.GitBranch != "" && e.GitBranch == target.GitBranch {
		score += 15
		reasons = append(reasons, "same branch")
	}
	return score, reasons
}

func runRelated(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.Resolve(args[0])
	if err != nil {
		return err
	}
	x, err := a.Store.LoadIndex()
	if err != nil {
		return err
	}
	target, ok := x.Find(id)
	if !ok {
		return fmt.Errorf("snapshot %s is missing from the index", id)
	}

	related := []relatedSnapshot{}
	for _, e := range x.Snapshots {
		if e.ID == target.ID {
			continue
		}
		score, reasons := relatedScore(target, e)
		if score == 0 {
			continue
		}
		related = append(related, relatedSnapshot{
			Snapshot: toListed(e),
			Score:    score,
			Reason:   strings.Join(reasons, ", "),
		})
	}
	sort.SliceStable(related, func(i, j int) bool {
		return related[i].Score > related[j].Score
	})

	if ok, err := emit(related, relatedJSON, relatedToon); ok {
		return err
	}

	if len(related) == 0 {
		fmt.Fprintln(stdout, "No related snapshots found")
		return nil
	}

	fmt.Fprintf(stdout, "Found %d related snapshot(s) for %s:\n\n", len(related), target.ID)
	for i, r := range related {
		fmt.Fprintf(stdout, "%d. %s  %s [score: %d]\n", i+1, ui.Title.Render(r.Snapshot.ID), ui.Truncate(r.Snapshot.Title, 50), r.Score)
		ui.Fields(stdout,
			ui.Field{Key: "Relationship", Value: r.Reason},
			ui.Field{Key: "Created", Value: r.Snapshot.CreatedAt.Local().Format("2006-01-02 15:04")},
			ui.Field{Key: "Tags", Value: ui.Tags(r.Snapshot.Tags)},
		)
		fmt.Fprintln(stdout)
	}
	return nil
}
