package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pders01/ctxsnap/internal/testutil"
)

func resetTagsFlags() {
	tagsJSON, tagsToon, tagsRename = false, false, ""
}

func TestTagsCountsAndRename(t *testing.T) {
	_, out := setupRoot(t)
	resetTagsFlags()
	defer resetTagsFlags()

	a := testutil.Snapshot("20260301-093000", "a")
	a.Tags = []string{"work", "research"}
	b := testutil.Snapshot("20260302-093000", "b")
	b.Tags = []string{"research"}
	seed(t, a, b)

	tagsJSON = true
	if err := runTags(nil, nil); err != nil {
		t.Fatalf("tags failed: %v", err)
	}
	var tags []tagInfo
	if err := json.Unmarshal(out.Bytes(), &tags); err != nil {
		t.Fatalf("failed to parse output: %v\n%s", err, out.String())
	}
	counts := map[string]int{}
	for _, ti := range tags {
		counts[ti.Tag] = ti.Count
	}
	if tags[0].Tag != "research" || counts["research"] != 2 || counts["work"] != 1 {
		t.Errorf("unexpected counts %+v", tags)
	}
	if n, ok := counts["bugfix"]; !ok || n != 0 {
		t.Errorf("unused vocabulary tags should be listed with zero, got %+v", tags)
	}

	out.Reset()
	tagsJSON = false
	tagsRename = "investigation"
	if err := runTags(nil, []string{"research"}); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if !strings.Contains(out.String(), "in 2 snapshot(s)") {
		t.Errorf("unexpected output:\n%s", out.String())
	}

	app := testApp(t)
	snap, _, err := app.Store.LoadSnapshot("20260301-093000")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.HasTag("investigation") || snap.HasTag("research") {
		t.Errorf("tag not renamed on snapshot: %v", snap.Tags)
	}
	s, _ := app.Store.LoadSettings()
	for _, tag := range s.Tags {
		if tag == "research" {
			t.Errorf("vocabulary still holds the old tag: %v", s.Tags)
		}
	}

	resetTagsFlags()
	tagsRename = "x"
	if err := runTags(nil, nil); err == nil {
		t.Error("--rename without a tag should fail")
	}
}
