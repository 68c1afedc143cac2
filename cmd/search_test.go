package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pders01/ctxsnap/internal/testutil"
)

func seedSearchFixtures(t *testing.T) {
	t.Helper()
	a := testutil.Snapshot("20260301-093000", "parser rewrite")
	a.Tags = []string{"research"}
	a.Todos[0] = "fix the lexer"

	b := testutil.Snapshot("20260302-093000", "release notes")
	b.Note = "mention the parser speedup"

	c := testutil.Snapshot("20260303-093000", "parser archive")
	c.Archived = true

	seed(t, a, b, c)
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name     string
		query    []string
		archived bool
		want     []string
	}{
		{"title match ranks first", []string{"parser"}, false, []string{"20260301-093000", "20260302-093000"}},
		{"archived included on request", []string{"parser"}, true, []string{"20260303-093000", "20260301-093000", "20260302-093000"}},
		{"tag field", []string{"tag:research"}, false, []string{"20260301-093000"}},
		{"todo field reads the snapshot", []string{"todo:lexer"}, false, []string{"20260301-093000"}},
		{"terms and fields combine", []string{"tag:research", "notes"}, false, nil},
		{"no match", []string{"kubernetes"}, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out := setupRoot(t)
			seedSearchFixtures(t)
			searchArchived = tt.archived
			searchLimit = 20
			searchJSON = true
			searchToon = false
			defer func() { searchArchived, searchJSON = false, false }()

			if err := runSearch(nil, tt.query); err != nil {
				t.Fatalf("search failed: %v", err)
			}
			var hits []searchHit
			if err := json.Unmarshal(out.Bytes(), &hits); err != nil {
				t.Fatalf("failed to parse output: %v\n%s", err, out.String())
			}
			if len(hits) != len(tt.want) {
				t.Fatalf("expected %d hits, got %d: %+v", len(tt.want), len(hits), hits)
			}
			for i, id := range tt.want {
				if hits[i].ID != id {
					t.Errorf("hit %d: expected %s, got %s", i, id, hits[i].ID)
				}
			}
		})
	}
}

func TestSearchNoResultsMessage(t *testing.T) {
	_, out := setupRoot(t)
	searchJSON, searchToon = false, false
	if err := runSearch(nil, []string{"nothing"}); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.Contains(out.String(), "No snapshots found matching: nothing") {
		t.Errorf("unexpected output %q", out.String())
	}
}
