package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	statsJSON bool
	statsToon bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show snapshot statistics",
	Long: `Display statistics about your snapshots including:
  - Total, pinned and archived counts
  - Snapshots by source (user, auto, sync, import)
  - Tag usage and the busiest project folders
  - Daily activity
  - Last sync and pending conflicts

Examples:
  ctxsnap stats
  ctxsnap stats --json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
	statsCmd.Flags().BoolVar(&statsToon, "toon", false, "Output in LLM-friendly toon format")
}

type snapshotStats struct {
	TotalSnapshots   int             `json:"total_snapshots"`
	Pinned           int             `json:"pinned"`
	Archived         int             `json:"archived"`
	BySource         map[string]int  `json:"by_source"`
	OldestSnapshot   *time.Time      `json:"oldest_snapshot,omitempty"`
	NewestSnapshot   *time.Time      `json:"newest_snapshot,omitempty"`
	TopTags          []tagInfo       `json:"top_tags"`
	TopFolders       []folderStat    `json:"top_folders"`
	DailyActivity    []dailyActivity `json:"daily_activity"`
	LastSyncAt       *time.Time      `json:"last_sync_at,omitempty"`
	PendingConflicts int             `json:"pending_conflicts"`
}

type folderStat struct {
	Folder string `json:"folder"`
	Count  int    `json:"count"`
}

type dailyActivity struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Stats()
	if err != nil {
		return err
	}
	counts, err := a.TagCounts()
	if err != nil {
		return err
	}
	x, err := a.Store.LoadIndex()
	if err != nil {
		return err
	}

	stats := &snapshotStats{
		TotalSnapshots:   summary.Total,
		Pinned:           summary.Pinned,
		Archived:         summary.Archived,
		BySource:         summary.BySource,
		TopTags:          []tagInfo{},
		TopFolders:       []folderStat{},
		DailyActivity:    []dailyActivity{},
		PendingConflicts: summary.Pending,
	}
	if summary.Total > 0 {
		stats.OldestSnapshot = &summary.Oldest
		stats.NewestSnapshot = &summary.Newest
	}
	if !summary.LastSync.IsZero() {
		stats.LastSyncAt = &summary.LastSync
	}
	for _, c := range counts {
		if c.Count > 0 {
			stats.TopTags = append(stats.TopTags, tagInfo{Tag: c.Tag, Count: c.Count})
		}
	}
	for folder, n := range summary.ByRoot {
		stats.TopFolders = append(stats.TopFolders, folderStat{Folder: folder, Count: n})
	}
	sort.Slice(stats.TopFolders, func(i, j int) bool {
		if stats.TopFolders[i].Count != stats.TopFolders[j].Count {
			return stats.TopFolders[i].Count > stats.TopFolders[j].Count
		}
		return stats.TopFolders[i].Folder < stats.TopFolders[j].Folder
	})

	byDate := map[string]int{}
	for _, e := range x.Snapshots {
		byDate[e.CreatedAt.Local().Format(time.DateOnly)]++
	}
	for date, count := range byDate {
		stats.DailyActivity = append(stats.DailyActivity, dailyActivity{Date: date, Count: count})
	}
	sort.Slice(stats.DailyActivity, func(i, j int) bool {
		return stats.DailyActivity[i].Date > stats.DailyActivity[j].Date
	})

	if ok, err := emit(stats, statsJSON, statsToon); ok {
		return err
	}

	if stats.TotalSnapshots == 0 {
		fmt.Fprintln(stdout, "No snapshots found")
		return nil
	}

	ui.Heading(stdout, "Snapshot Statistics")
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "Total Snapshots: %d (%d pinned, %d archived)\n", stats.TotalSnapshots, stats.Pinned, stats.Archived)
	fmt.Fprintf(stdout, "Date Range:      %s to %s\n",
		stats.OldestSnapshot.Local().Format(time.DateOnly),
		stats.NewestSnapshot.Local().Format(time.DateOnly))
	if stats.LastSyncAt != nil {
		fmt.Fprintf(stdout, "Last Sync:       %s\n", stats.LastSyncAt.Local().Format("2006-01-02 15:04"))
	}
	if stats.PendingConflicts > 0 {
		fmt.Fprintf(stdout, "Conflicts:       %s\n", ui.Warn.Render(fmt.Sprintf("%d pending", stats.PendingConflicts)))
	}
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "By Source:")
	sources := make([]string, 0, len(stats.BySource))
	for s := range stats.BySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		count := stats.BySource[s]
		percentage := float64(count) / float64(stats.TotalSnapshots) * 100
		fmt.Fprintf(stdout, "  %-15s %3d  (%.1f%%)\n", s, count, percentage)
	}
	fmt.Fprintln(stdout)

	if len(stats.TopTags) > 0 {
		fmt.Fprintln(stdout, "Top Tags:")
		for _, ts := range stats.TopTags[:min(10, len(stats.TopTags))] {
			fmt.Fprintf(stdout, "  %-20s %3d\n", ts.Tag, ts.Count)
		}
		fmt.Fprintln(stdout)
	}

	if len(stats.TopFolders) > 0 {
		fmt.Fprintln(stdout, "Top Folders:")
		for _, f := range stats.TopFolders[:min(5, len(stats.TopFolders))] {
			fmt.Fprintf(stdout, "  %-40s %3d\n", ui.Truncate(f.Folder, 40), f.Count)
		}
		fmt.Fprintln(stdout)
	}

	fmt.Fprintln(stdout, "Recent Activity:")
	for _, da := range stats.DailyActivity[:min(7, len(stats.DailyActivity))] {
		bar := strings.Repeat("█", min(da.Count, 20))
		fmt.Fprintf(stdout, "  %s  %3d  %s\n", da.Date, da.Count, bar)
	}
	return nil
}
