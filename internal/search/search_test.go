package search

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pders01/ctxsnap/internal/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		fields  bool
		terms   []string
		filters map[string][]string
	}{
		{"empty", "   ", true, nil, map[string][]string{}},
		{"terms", "Parser Bug", true, []string{"parser", "bug"}, map[string][]string{}},
		{"fields", "tag:Work todo:ship fix", true, []string{"fix"},
			map[string][]string{FieldTags: {"work"}, FieldTodos: {"ship"}}},
		{"aliases", "process:code app:slack tags:a tags:b", true, nil,
			map[string][]string{FieldProcess: {"code"}, FieldApps: {"slack"}, FieldTags: {"a", "b"}}},
		{"quoted", `title:"release notes" "two words"`, true, []string{"two words"},
			map[string][]string{FieldTitle: {"release notes"}}},
		{"unknown field is a term", "owner:me", true, []string{"owner:me"}, map[string][]string{}},
		{"empty value is a term", "tag:", true, []string{"tag:"}, map[string][]string{}},
		{"fields disabled", "tag:work", false, []string{"tag:work"}, map[string][]string{}},
		{"unterminated quote", `"open ended`, true, []string{"open ended"}, map[string][]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Parse(tt.raw, tt.fields)
			if diff := cmp.Diff(tt.terms, q.Terms); diff != "" {
				t.Errorf("terms (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.filters, q.Fields); diff != "" {
				t.Errorf("fields (-want +got):\n%s", diff)
			}
		})
	}
}

func sample() Item {
	s := models.NewSnapshot("Parser refactor", "/src/Compiler", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.Tags = []string{"work", "bugfix"}
	s.Note = "Token stream rewrite"
	s.Todos = [models.TodoCount]string{"ship lexer", "", ""}
	s.Processes = []models.Process{{PID: 1, Name: "code", Path: "/usr/bin/code"}}
	s.RunningApps = []models.RunningApp{{Name: "Slack", Path: "/apps/slack"}}
	return Item{Entry: models.EntryFromSnapshot(s), Blob: s.SearchBlob(), Snapshot: s}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"parser", true},
		{"parser token", true},
		{"parser missing", false},
		{"compiler", true},
		{"tag:work", true},
		{"tag:personal", false},
		{"root:compiler title:parser", true},
		{"title:token", false},
		{"todo:lexer", true},
		{"note:stream", true},
		{"process:usr/bin", true},
		{"app:slack", true},
		{"app:teams", false},
		{"owner:me", false},
	}

	it := sample()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := Match(Parse(tt.query, true), it); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestMatchFailsClosed(t *testing.T) {
	it := sample()
	it.Snapshot = nil
	if Match(Parse("note:stream", true), it) {
		t.Error("snapshot fields must not match without the snapshot")
	}
	q := Query{Fields: map[string][]string{"owner": {"me"}}}
	if Match(q, sample()) {
		t.Error("unknown fields must not match")
	}
}

func TestRunRanksAndLoads(t *testing.T) {
	x := models.DefaultIndex()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	snaps := map[string]*models.Snapshot{}
	for i, title := range []string{"parser notes", "unrelated", "parser parser"} {
		s := models.NewSnapshot(title, "/src", base.Add(time.Duration(i)*time.Minute))
		s.Note = "about the parser"
		snaps[s.ID] = s
		x.Upsert(s)
	}

	results, err := Run(Parse("parser", true), x, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(results))
	}
	if results[0].Entry.Title != "parser parser" || results[2].Entry.Title != "unrelated" {
		t.Errorf("unexpected ranking %v, %v, %v", results[0].Entry.Title, results[1].Entry.Title, results[2].Entry.Title)
	}

	loads := 0
	loader := func(id string) (*models.Snapshot, error) {
		loads++
		return snaps[id], nil
	}
	if _, err := Run(Parse("tag:x", true), x, loader); err != nil || loads != 0 {
		t.Errorf("index-only query should not load snapshots, loads=%d err=%v", loads, err)
	}
	hits, err := Run(Parse("note:about", true), x, loader)
	if err != nil || len(hits) != 3 || loads != 3 {
		t.Errorf("expected 3 hits from 3 loads, got %d hits, %d loads, %v", len(hits), loads, err)
	}

	boom := errors.New("boom")
	if _, err := Run(Parse("note:about", true), x, func(string) (*models.Snapshot, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("expected loader error, got %v", err)
	}
}
