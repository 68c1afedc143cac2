package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/testutil"
	"github.com/spf13/afero"
)

const memRoot = "/data"

func openMem(t *testing.T, fs afero.Fs) *Store {
	t.Helper()
	s, err := Open(memRoot, WithFs(fs), WithLogger(testutil.Logger()), WithClock(testutil.Clock()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func writeRaw(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestOpenCreatesLayoutOnDisk(t *testing.T) {
	root := filepath.Join(testutil.TempRoot(t), "nested", "root")
	s, err := Open(root, WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if ok, _ := afero.DirExists(s.Fs(), filepath.Join(root, SnapshotsDir)); !ok {
		t.Error("snapshots directory not created")
	}

	snap := testutil.Snapshot("20260301-093000", "on disk")
	if err := s.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	got, ok, err := s.LoadSnapshot(snap.ID)
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot = %v, %v", ok, err)
	}
	if got.Title != "on disk" {
		t.Errorf("unexpected title %q", got.Title)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs())
	snap := testutil.Snapshot("20260301-093000", "round trip")
	snap.Processes = []models.Process{{PID: 42, Name: "code", Path: "/usr/bin/code"}}
	snap.GitState = models.GitState{Branch: "main", SHA: "abc123", Dirty: true, Changed: 2}
	snap.Sensitive = json.RawMessage(`{ "data": "eA==", "enc": "dpapi" }`)

	if err := s.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if snap.Rev != 2 {
		t.Errorf("expected rev 2 after first save, got %d", snap.Rev)
	}

	got, ok, err := s.LoadSnapshot(snap.ID)
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot = %v, %v", ok, err)
	}
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("loaded snapshot differs (-saved +loaded):\n%s", diff)
	}
}

func TestSaveSnapshotAssignsRevisions(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs())
	snap := testutil.Snapshot("a", "first")
	snap.Rev = 0

	if err := s.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	first := snap.UpdatedAt

	// A stale in-memory copy must not move the revision backwards.
	stale := snap.Clone()
	stale.Rev = 0
	stale.Title = "second"
	if err := s.SaveSnapshot(stale); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if stale.Rev != 2 {
		t.Errorf("expected rev 2, got %d", stale.Rev)
	}
	if !stale.UpdatedAt.After(first) {
		t.Error("updated_at should advance on every save")
	}

	x, err := s.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex failed: %v", err)
	}
	e, ok := x.Find("a")
	if !ok {
		t.Fatal("index entry missing")
	}
	if e.Rev != 2 || e.Title != "second" {
		t.Errorf("index entry not updated: %+v", e)
	}
	if x.SearchMeta.Tokens["a"] == "" {
		t.Error("search tokens not cached")
	}
}

func TestFailedWriteKeepsPreviousDocument(t *testing.T) {
	fs := testutil.NewFaultyFs(afero.NewMemMapFs())
	s := openMem(t, fs)

	snap := testutil.Snapshot("a", "before")
	if err := s.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	fs.FailNthRename(1)
	edited := snap.Clone()
	edited.Title = "after"
	if err := s.SaveSnapshot(edited); !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}

	got, ok, err := s.LoadSnapshot("a")
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot = %v, %v", ok, err)
	}
	if got.Title != "before" {
		t.Errorf("expected previous document, got title %q", got.Title)
	}

	entries, _ := afero.ReadDir(fs, filepath.Join(memRoot, SnapshotsDir))
	for _, e := range entries {
		if isTempName(e.Name()) {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestOpenSweepsInterruptedWrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	openMem(t, fs)

	leftover := filepath.Join(memRoot, SnapshotsDir, ".a.json.tmp-123")
	writeRaw(t, fs, leftover, `{"id":"a","title":"half`)
	writeRaw(t, fs, filepath.Join(memRoot, ".settings.json.tmp-9"), `{`)

	s := openMem(t, fs)
	if ok, _ := afero.Exists(fs, leftover); ok {
		t.Error("interrupted snapshot write not removed")
	}
	ids, err := s.SnapshotIDs()
	if err != nil {
		t.Fatalf("SnapshotIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no snapshots, got %v", ids)
	}
}

func TestCorruptDocumentIsQuarantined(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openMem(t, fs)
	path := s.Path(models.KindSettings, "")
	writeRaw(t, fs, path, `{"tags": [`)

	got, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings should recover, got %v", err)
	}
	if diff := cmp.Diff(models.DefaultSettings(), got); diff != "" {
		t.Errorf("expected defaults (-want +got):\n%s", diff)
	}
	if ok, _ := afero.Exists(fs, path); ok {
		t.Error("corrupt file should be moved aside")
	}

	matches, _ := afero.Glob(fs, filepath.Join(memRoot, "settings.corrupted.*.json"))
	if len(matches) != 1 {
		t.Fatalf("expected one quarantined file, got %v", matches)
	}
	data, _ := afero.ReadFile(fs, matches[0])
	if string(data) != `{"tags": [` {
		t.Errorf("quarantined bytes changed: %q", data)
	}
}

func TestInvalidDocumentIsQuarantined(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openMem(t, fs)

	tests := []struct {
		name    string
		content string
	}{
		{"null", `null`},
		{"wrong type", `{"schema_version":2,"id":"a","title":7}`},
		{"missing title", `{"schema_version":2,"id":"a","title":"  "}`},
		{"foreign id", `{"schema_version":2,"id":"b","title":"moved"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeRaw(t, fs, s.Path(models.KindSnapshot, "a"), tt.content)
			snap, ok, err := s.LoadSnapshot("a")
			if err != nil {
				t.Fatalf("expected soft failure, got %v", err)
			}
			if ok || snap != nil {
				t.Errorf("expected no snapshot, got %+v", snap)
			}
			if exists, _ := afero.Exists(fs, s.Path(models.KindSnapshot, "a")); exists {
				t.Error("invalid file not moved aside")
			}
		})
	}

	ids, _ := s.SnapshotIDs()
	if len(ids) != 0 {
		t.Errorf("quarantined files must not be listed as snapshots: %v", ids)
	}
}

func TestNewerSchemaIsReported(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openMem(t, fs)
	path := s.Path(models.KindSettings, "")
	writeRaw(t, fs, path, `{"schema_version": 99}`)

	_, err := s.LoadSettings()
	if !errors.Is(err, errs.ErrUnsupportedSchema) {
		t.Fatalf("expected ErrUnsupportedSchema, got %v", err)
	}
	if ok, _ := afero.Exists(fs, path); !ok {
		t.Error("a newer document must be left in place")
	}
}

func TestLoadMigratesLegacySnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openMem(t, fs)
	writeRaw(t, fs, s.Path(models.KindSnapshot, "old"),
		`{"id":"old","title":"legacy","created_at":"2024-01-15T14:30:22","git_branch":"dev","todos":["x"]}`)

	snap, ok, err := s.LoadSnapshot("old")
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot = %v, %v", ok, err)
	}
	if snap.SchemaVersion != models.SnapshotSchemaVersion || snap.Rev != 1 {
		t.Errorf("not migrated: schema %d rev %d", snap.SchemaVersion, snap.Rev)
	}
	if snap.GitState.Branch != "dev" || snap.Todos[0] != "x" {
		t.Errorf("legacy fields lost: %+v", snap)
	}
}

func TestIndexRepairsAgainstDisk(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openMem(t, fs)

	for _, id := range []string{"a", "b"} {
		if err := s.SaveSnapshot(testutil.Snapshot(id, "snap "+id)); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}
	// Simulate a delete interrupted after the file went and a save
	// interrupted before the index was written.
	if err := fs.Remove(s.Path(models.KindSnapshot, "a")); err != nil {
		t.Fatal(err)
	}
	orphan, _ := json.Marshal(testutil.Snapshot("c", "orphan"))
	writeRaw(t, fs, s.Path(models.KindSnapshot, "c"), string(orphan))

	x, err := s.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex failed: %v", err)
	}
	if diff := cmp.Diff([]string{"c", "b"}, x.IDs()); diff != "" {
		t.Errorf("unexpected index ids (-want +got):\n%s", diff)
	}

	// The repair is persisted.
	var onDisk models.Index
	data, _ := afero.ReadFile(fs, s.Path(models.KindIndex, ""))
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if len(onDisk.Snapshots) != 2 {
		t.Errorf("repaired index not saved: %v", onDisk.Snapshots)
	}
}

func TestDeleteSnapshot(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs())
	if err := s.SaveSnapshot(testutil.Snapshot("a", "doomed")); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSnapshot("a"); err != nil {
		t.Fatalf("DeleteSnapshot failed: %v", err)
	}
	if _, ok, _ := s.LoadSnapshot("a"); ok {
		t.Error("snapshot still loadable")
	}
	x, _ := s.LoadIndex()
	if _, ok := x.Find("a"); ok {
		t.Error("index entry still present")
	}

	if err := s.DeleteSnapshot("a"); err != nil {
		t.Errorf("deleting a missing snapshot should succeed, got %v", err)
	}
	if err := s.DeleteSnapshot("../settings"); err == nil {
		t.Error("expected error for an id that escapes the snapshots directory")
	}
}

func TestSingletonDefaults(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs())

	state, err := s.LoadSyncState()
	if err != nil {
		t.Fatal(err)
	}
	if state.Cursor != "" || state.Synced == nil {
		t.Errorf("unexpected default sync state %+v", state)
	}
	q, err := s.LoadConflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Conflicts) != 0 {
		t.Errorf("expected empty conflict queue, got %d", len(q.Conflicts))
	}
	if err := s.Delete(models.KindSyncState, ""); err != nil {
		t.Errorf("deleting a missing singleton should succeed, got %v", err)
	}
}

func TestRestoreHistoryIsBounded(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs())
	for i := 0; i < models.MaxRestoreHistory+5; i++ {
		if err := s.AppendRestoreHistory(models.RestoreEntry{SnapshotID: fmt.Sprintf("s%03d", i)}); err != nil {
			t.Fatalf("AppendRestoreHistory failed: %v", err)
		}
	}

	h, err := s.LoadRestoreHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Restores) != models.MaxRestoreHistory {
		t.Fatalf("expected %d entries, got %d", models.MaxRestoreHistory, len(h.Restores))
	}
	want := fmt.Sprintf("s%03d", models.MaxRestoreHistory+4)
	if h.Restores[0].SnapshotID != want {
		t.Errorf("newest entry should be first, got %s", h.Restores[0].SnapshotID)
	}
	if h.Restores[0].At.IsZero() {
		t.Error("restore time not assigned")
	}
}

func TestUpdateConflicts(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs())
	err := s.UpdateConflicts(func(q *models.SyncConflicts) error {
		q.Conflicts = append(q.Conflicts, models.SyncConflict{ID: "c1", SnapshotID: "a", Status: models.ConflictPending})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	if err := s.UpdateConflicts(func(q *models.SyncConflicts) error {
		q.Conflicts = nil
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	q, _ := s.LoadConflicts()
	if len(q.Pending()) != 1 {
		t.Errorf("a failed update must not be saved, got %d pending", len(q.Pending()))
	}
}

func TestFindByFingerprint(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs())
	auto := testutil.Snapshot("20260301-093000", "auto")
	auto.Source = models.SourceAuto
	auto.AutoFingerprint = auto.Fingerprint()
	if err := s.SaveSnapshot(auto); err != nil {
		t.Fatal(err)
	}

	if _, same, err := s.FindByFingerprint(auto.Root, auto.AutoFingerprint); err != nil || !same {
		t.Errorf("expected fingerprint match, got %v %v", same, err)
	}
	if _, same, _ := s.FindByFingerprint(auto.Root, "other"); same {
		t.Error("different fingerprint should not match")
	}
	if _, same, _ := s.FindByFingerprint("/elsewhere", auto.AutoFingerprint); same {
		t.Error("other roots should not match")
	}
}

func TestLoadAllSnapshots(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openMem(t, fs)
	for _, id := range []string{"c", "a", "b"} {
		if err := s.SaveSnapshot(testutil.Snapshot(id, id)); err != nil {
			t.Fatal(err)
		}
	}
	writeRaw(t, fs, s.Path(models.KindSnapshot, "broken"), `{`)

	snaps, err := s.LoadAllSnapshots(context.Background())
	if err != nil {
		t.Fatalf("LoadAllSnapshots failed: %v", err)
	}
	var ids []string
	for _, snap := range snaps {
		ids = append(ids, snap.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("unexpected ids (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.LoadAllSnapshots(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentSavesKeepIndexComplete(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.SaveSnapshot(testutil.Snapshot(fmt.Sprintf("s%02d", i), "parallel")); err != nil {
				t.Errorf("SaveSnapshot failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	x, err := s.LoadIndex()
	if err != nil {
		t.Fatal(err)
	}
	if len(x.Snapshots) != 20 {
		t.Errorf("expected 20 index entries, got %d", len(x.Snapshots))
	}
}

func TestExclusiveRawAccess(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs())
	if err := s.SaveSnapshot(testutil.Snapshot("a", "raw")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSettings(models.DefaultSettings()); err != nil {
		t.Fatal(err)
	}

	err := s.Exclusive(context.Background(), func(tx *Tx) error {
		files, err := tx.Files()
		if err != nil {
			return err
		}
		want := []string{"settings.json", "index.json", "snapshots/a.json"}
		if diff := cmp.Diff(want, files); diff != "" {
			t.Errorf("unexpected files (-want +got):\n%s", diff)
		}

		data, err := tx.ReadRaw("snapshots/a.json")
		if err != nil {
			return err
		}
		if err := tx.WriteRaw("snapshots/b.json", []byte(strings.Replace(string(data), `"id": "a"`, `"id": "b"`, 1))); err != nil {
			return err
		}
		if err := tx.RemoveRaw("snapshots/a.json"); err != nil {
			return err
		}

		for _, bad := range []string{"../outside.json", "snapshots/../x.json", "logs/ctxsnap.log", "snapshots/.hidden.json"} {
			if _, err := tx.ReadRaw(bad); err == nil {
				t.Errorf("expected %q to be rejected", bad)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Exclusive failed: %v", err)
	}

	x, _ := s.LoadIndex()
	if diff := cmp.Diff([]string{"b"}, x.IDs()); diff != "" {
		t.Errorf("index not repaired after raw writes (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Exclusive(ctx, func(*Tx) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCheckpointRollback(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := openMem(t, fs)
	if err := s.SaveSnapshot(testutil.Snapshot("a", "before")); err != nil {
		t.Fatal(err)
	}
	before, _ := afero.ReadFile(fs, s.Path(models.KindSnapshot, "a"))
	indexBefore, _ := afero.ReadFile(fs, s.Path(models.KindIndex, ""))

	err := s.Exclusive(context.Background(), func(tx *Tx) error {
		cp, err := tx.Checkpoint(
			Rel(models.KindSnapshot, "a"),
			Rel(models.KindSnapshot, "b"),
			Rel(models.KindIndex, ""),
			Rel(models.KindSyncConflicts, ""),
		)
		if err != nil {
			return err
		}
		edited := testutil.Snapshot("a", "after")
		if err := tx.SaveSnapshots(edited, testutil.Snapshot("b", "new")); err != nil {
			return err
		}
		if err := tx.SaveConflicts(models.DefaultSyncConflicts()); err != nil {
			return err
		}
		return cp.Rollback()
	})
	if err != nil {
		t.Fatalf("Exclusive failed: %v", err)
	}

	after, _ := afero.ReadFile(fs, s.Path(models.KindSnapshot, "a"))
	if string(after) != string(before) {
		t.Error("snapshot a not restored byte for byte")
	}
	indexAfter, _ := afero.ReadFile(fs, s.Path(models.KindIndex, ""))
	if string(indexAfter) != string(indexBefore) {
		t.Error("index not restored byte for byte")
	}
	if ok, _ := afero.Exists(fs, s.Path(models.KindSyncConflicts, "")); ok {
		t.Error("sync_conflicts.json created after the checkpoint was not removed")
	}
	if ok, _ := afero.Exists(fs, s.Path(models.KindSnapshot, "b")); ok {
		t.Error("snapshot b created after the checkpoint was not removed")
	}
}
