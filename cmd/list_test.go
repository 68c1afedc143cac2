package cmd

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pders01/ctxsnap/internal/testutil"
)

func resetListFlags() {
	listTag = ""
	listRoot = ""
	listToday = false
	listSince = ""
	listPinned = false
	listArchived = false
	listLimit = 0
	listGroupBy = ""
	listJSON = true
	listToon = false
}

func seedListFixtures(t *testing.T) {
	t.Helper()
	a := testutil.Snapshot("20260301-093000", "parser rewrite")
	a.Tags = []string{"research"}

	b := testutil.Snapshot("20260302-101500", "release prep")
	b.CreatedAt = testutil.Epoch.Add(25 * time.Hour)
	b.Pinned = true

	c := testutil.Snapshot("20260303-080000", "old spike")
	c.CreatedAt = testutil.Epoch.Add(47 * time.Hour)
	c.Archived = true
	c.Tags = []string{"research"}

	seed(t, a, b, c)
}

func TestListFilters(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
		want  []string
	}{
		{
			name:  "default hides archived, newest first",
			setup: func() {},
			want:  []string{"20260302-101500", "20260301-093000"},
		},
		{
			name:  "archived included",
			setup: func() { listArchived = true },
			want:  []string{"20260303-080000", "20260302-101500", "20260301-093000"},
		},
		{
			name:  "by tag",
			setup: func() { listTag = "research" },
			want:  []string{"20260301-093000"},
		},
		{
			name:  "pinned only",
			setup: func() { listPinned = true },
			want:  []string{"20260302-101500"},
		},
		{
			name:  "by folder",
			setup: func() { listRoot = "/work/20260301-093000" },
			want:  []string{"20260301-093000"},
		},
		{
			name:  "limit",
			setup: func() { listLimit = 1 },
			want:  []string{"20260302-101500"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out := setupRoot(t)
			seedListFixtures(t)
			resetListFlags()
			tt.setup()

			if err := runList(nil, nil); err != nil {
				t.Fatalf("list command failed: %v", err)
			}
			var got []listedSnapshot
			if err := json.Unmarshal(out.Bytes(), &got); err != nil {
				t.Fatalf("failed to parse output: %v\n%s", err, out.String())
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d snapshots, got %d: %+v", len(tt.want), len(got), got)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestListRejectsBadFlags(t *testing.T) {
	setupRoot(t)
	resetListFlags()

	listSince = "yesterday"
	if err := runList(nil, nil); err == nil {
		t.Error("expected an error for an invalid --since")
	}

	listSince = ""
	listGroupBy = "color"
	if err := runList(nil, nil); err == nil {
		t.Error("expected an error for an invalid --group-by")
	}
}

func TestListGroupedByTag(t *testing.T) {
	_, out := setupRoot(t)
	seedListFixtures(t)
	resetListFlags()
	listJSON = false
	listGroupBy = "tag"

	if err := runList(nil, nil); err != nil {
		t.Fatalf("list command failed: %v", err)
	}
	for _, want := range []string{"research", "work", "parser rewrite", "release prep"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("grouped output missing %q:\n%s", want, out.String())
		}
	}
}
