package cmd

import (
	"fmt"

	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	tagsJSON   bool
	tagsToon   bool
	tagsRename string
)

var tagsCmd = &cobra.Command{
	Use:   "tags [old-tag]",
	Short: "List or manage tags",
	Long: `List all tags used across snapshots with usage counts, including
unused tags from the settings vocabulary. Optionally rename a tag across
all snapshots and the vocabulary.

Examples:
  ctxsnap tags                      # List all tags
  ctxsnap tags research --rename investigation`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTags,
}

func init() {
	rootCmd.AddCommand(tagsCmd)

	tagsCmd.Flags().BoolVar(&tagsJSON, "json", false, "Output as JSON")
	tagsCmd.Flags().BoolVar(&tagsToon, "toon", false, "Output in LLM-friendly toon format")
	tagsCmd.Flags().StringVar(&tagsRename, "rename", "", "Rename tag to new value")
}

type tagInfo struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

func runTags(cmd *cobra.Command, args []string) error {
	if tagsRename != "" && len(args) == 0 {
		return fmt.Errorf("tag name required for --rename")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if tagsRename != "" {
		ids, err := a.RenameTag(commandContext(cmd), args[0], tagsRename)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %q to %q in %d snapshot(s)\n", ui.Success.Render("✓ Renamed"), args[0], tagsRename, len(ids))
		return nil
	}

	counts, err := a.TagCounts()
	if err != nil {
		return err
	}
	tags := make([]tagInfo, 0, len(counts))
	for _, c := range counts {
		if len(args) == 1 && c.Tag != args[0] {
			continue
		}
		tags = append(tags, tagInfo{Tag: c.Tag, Count: c.Count})
	}

	if ok, err := emit(tags, tagsJSON, tagsToon); ok {
		return err
	}

	if len(tags) == 0 {
		fmt.Fprintln(stdout, "No tags found")
		return nil
	}
	fmt.Fprintf(stdout, "Tags (%d):\n\n", len(tags))
	for _, t := range tags {
		fmt.Fprintf(stdout, "  %-24s %d\n", ui.Badge.Render("#"+t.Tag), t.Count)
	}
	return nil
}
