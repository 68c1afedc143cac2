package cmd

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/testutil"
)

func resetEditFlags() {
	editTitle = ""
	editNote = ""
	editTodos = nil
	editAddTags = nil
	editRemoveTags = nil
}

func TestShow(t *testing.T) {
	_, out := setupRoot(t)
	snap := testutil.Snapshot("20260301-093000", "parser rewrite")
	snap.GitState = models.GitState{Branch: "main", SHA: "0123456789abcdef0123456789abcdef01234567"}
	seed(t, snap)

	showJSON, showToon = false, false
	if err := runShow(nil, []string{"20260301"}); err != nil {
		t.Fatalf("show command failed: %v", err)
	}
	for _, want := range []string{"20260301-093000", "parser rewrite", "main @ 01234...", "note for parser rewrite", "#work"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	showJSON = true
	defer func() { showJSON = false }()
	if err := runShow(nil, []string{"20260301-093000"}); err != nil {
		t.Fatalf("show --json failed: %v", err)
	}
	var got models.Snapshot
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if got.ID != snap.ID || got.Title != snap.Title {
		t.Errorf("unexpected snapshot %+v", got)
	}
}

func TestShowUnknownID(t *testing.T) {
	setupRoot(t)
	err := runShow(nil, []string{"nope"})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEdit(t *testing.T) {
	setupRoot(t)
	seed(t, testutil.Snapshot("20260301-093000", "parser rewrite"))
	before, _, _ := testApp(t).Store.LoadSnapshot("20260301-093000")

	resetEditFlags()
	defer resetEditFlags()
	editTitle = "parser rewrite, part two"
	editTodos = []string{"only this"}
	editAddTags = []string{"research"}
	editRemoveTags = []string{"work"}

	if err := runEdit(nil, []string{"20260301-093000"}); err != nil {
		t.Fatalf("edit command failed: %v", err)
	}

	after, ok, err := testApp(t).Store.LoadSnapshot("20260301-093000")
	if err != nil || !ok {
		t.Fatalf("snapshot missing after edit: %v", err)
	}
	if after.Title != "parser rewrite, part two" {
		t.Errorf("title not updated: %q", after.Title)
	}
	if after.Todos != [models.TodoCount]string{"only this", "", ""} {
		t.Errorf("todos not replaced: %v", after.Todos)
	}
	if len(after.Tags) != 1 || after.Tags[0] != "research" {
		t.Errorf("tags not updated: %v", after.Tags)
	}
	if after.Rev != before.Rev+1 {
		t.Errorf("expected rev %d, got %d", before.Rev+1, after.Rev)
	}
	if after.Note != before.Note {
		t.Errorf("note changed unexpectedly: %q", after.Note)
	}
}

func TestEditRequiresAChange(t *testing.T) {
	setupRoot(t)
	resetEditFlags()
	if err := runEdit(nil, []string{"20260301-093000"}); err == nil {
		t.Error("expected an error when no field is given")
	}
}
