package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/store"
	"github.com/pders01/ctxsnap/internal/testutil"
	"github.com/spf13/afero"
)

const root = "/data"

func open(t *testing.T, fs afero.Fs) (*store.Store, *Manager) {
	t.Helper()
	st, err := store.Open(root, store.WithFs(fs), store.WithLogger(testutil.Logger()), store.WithClock(testutil.Clock()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return st, New(st, WithLogger(testutil.Logger()))
}

func seed(t *testing.T, st *store.Store, snaps ...*models.Snapshot) {
	t.Helper()
	if err := st.ReplaceSnapshots(snaps...); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

// documents returns every file under the root except backups, keyed by
// relative path.
func documents(t *testing.T, fs afero.Fs) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if info.IsDir() {
			if rel == store.BackupsDir {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	return files
}

func bundleOf(t *testing.T, snaps ...*models.Snapshot) *Bundle {
	t.Helper()
	b := &Bundle{App: AppName, Version: BundleVersion, Data: &Data{}}
	for _, s := range snaps {
		m, err := toMap(s)
		if err != nil {
			t.Fatal(err)
		}
		b.Data.Snapshots = append(b.Data.Snapshots, m)
	}
	return b
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, srcMgr := open(t, afero.NewMemMapFs())
	a, b := testutil.Snapshot("a", "alpha"), testutil.Snapshot("b", "beta")
	a.Rev = 4
	seed(t, src, a, b)
	settings := models.DefaultSettings()
	settings.Tags = []string{"x", "y"}
	if err := src.SaveSettings(settings); err != nil {
		t.Fatal(err)
	}

	if _, err := srcMgr.ExportFile(ctx, "/out/bundle.json", All()); err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	data, err := afero.ReadFile(src.Fs(), "/out/bundle.json")
	if err != nil {
		t.Fatal(err)
	}
	bundle, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if bundle.Version != BundleVersion || bundle.BundleID == "" || bundle.Snapshots() != 2 {
		t.Errorf("unexpected bundle header %+v", bundle)
	}
	if bundle.SchemaVersions[models.KindSnapshot] != models.SnapshotSchemaVersion {
		t.Errorf("missing schema versions: %v", bundle.SchemaVersions)
	}

	dst, dstMgr := open(t, afero.NewMemMapFs())
	res, err := dstMgr.Import(ctx, bundle, ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(res.Added) != 2 || !res.Settings || res.SafetyBackup == "" {
		t.Errorf("unexpected result %+v", res)
	}

	got, err := dst.LoadAllSnapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := src.LoadAllSnapshots(ctx)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("imported snapshots differ (-want +got):\n%s", diff)
	}
	x, _ := dst.LoadIndex()
	if len(x.Snapshots) != 2 {
		t.Errorf("index not rebuilt: %v", x.IDs())
	}
	gotSettings, _ := dst.LoadSettings()
	if diff := cmp.Diff([]string{"x", "y"}, gotSettings.Tags); diff != "" {
		t.Errorf("settings not imported: %s", diff)
	}
}

func TestExportSelection(t *testing.T) {
	st, m := open(t, afero.NewMemMapFs())
	seed(t, st, testutil.Snapshot("a", "A"), testutil.Snapshot("b", "B"))

	b, err := m.Export(context.Background(), Selection{Snapshots: true, IDs: []string{"b"}})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if b.Settings != nil || b.Data.Index != nil {
		t.Error("unselected documents were exported")
	}
	if b.Snapshots() != 1 || b.Data.Snapshots[0]["id"] != "b" {
		t.Errorf("expected only b, got %v", b.Data.Snapshots)
	}

	settingsOnly, _ := m.Export(context.Background(), Selection{Settings: true})
	if settingsOnly.Data != nil {
		t.Error("settings-only export should carry no data")
	}
}

func TestImportStrategies(t *testing.T) {
	tests := []struct {
		strategy Strategy
		added    []string
		updated  []string
		skipped  []string
		removed  []string
		want     map[string]string
	}{
		{StrategyMerge, []string{"c"}, nil, []string{"a"}, nil,
			map[string]string{"a": "live a", "b": "live b", "c": "bundle c"}},
		{StrategyOverwrite, []string{"c"}, []string{"a"}, nil, nil,
			map[string]string{"a": "bundle a", "b": "live b", "c": "bundle c"}},
		{StrategyReplace, []string{"c"}, []string{"a"}, nil, []string{"b"},
			map[string]string{"a": "bundle a", "c": "bundle c"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			ctx := context.Background()
			st, m := open(t, afero.NewMemMapFs())
			seed(t, st, testutil.Snapshot("a", "live a"), testutil.Snapshot("b", "live b"))

			res, err := m.Import(ctx, bundleOf(t, testutil.Snapshot("a", "bundle a"), testutil.Snapshot("c", "bundle c")),
				ImportOptions{Strategy: tt.strategy})
			if err != nil {
				t.Fatalf("Import failed: %v", err)
			}
			if diff := cmp.Diff(tt.added, res.Added); diff != "" {
				t.Errorf("added (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.updated, res.Updated); diff != "" {
				t.Errorf("updated (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.skipped, res.Skipped); diff != "" {
				t.Errorf("skipped (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.removed, res.Removed); diff != "" {
				t.Errorf("removed (-want +got):\n%s", diff)
			}

			snaps, err := st.LoadAllSnapshots(ctx)
			if err != nil {
				t.Fatal(err)
			}
			got := map[string]string{}
			for _, s := range snaps {
				got[s.ID] = s.Title
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("live set (-want +got):\n%s", diff)
			}
			x, _ := st.LoadIndex()
			if len(x.Snapshots) != len(tt.want) {
				t.Errorf("index has %d entries, want %d", len(x.Snapshots), len(tt.want))
			}
		})
	}
}

func TestImportRejectsIncompatibleBundles(t *testing.T) {
	newer := testutil.Snapshot("n", "newer")
	newerDoc, _ := toMap(newer)
	newerDoc["schema_version"] = float64(models.SnapshotSchemaVersion + 1)

	untitled, _ := toMap(testutil.Snapshot("u", "untitled"))
	untitled["title"] = ""

	tests := []struct {
		name   string
		bundle *Bundle
	}{
		{"foreign app", &Bundle{App: "other", Version: 1}},
		{"newer format", &Bundle{App: AppName, Version: BundleVersion + 1}},
		{"newer declared schema", &Bundle{App: AppName, Version: 3,
			SchemaVersions: map[models.Kind]int{models.KindSnapshot: models.SnapshotSchemaVersion + 1}}},
		{"newer snapshot", &Bundle{App: AppName, Version: 2, Data: &Data{Snapshots: []map[string]any{newerDoc}}}},
		{"invalid snapshot", &Bundle{App: AppName, Version: 2, Data: &Data{Snapshots: []map[string]any{untitled}}}},
		{"duplicate ids", bundleOf(t, testutil.Snapshot("d", "one"), testutil.Snapshot("d", "two"))},
		{"newer settings", &Bundle{App: AppName, Version: 1,
			Settings: map[string]any{"schema_version": float64(models.SettingsSchemaVersion + 1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			st, m := open(t, fs)
			seed(t, st, testutil.Snapshot("a", "live"))
			before := documents(t, fs)

			_, err := m.Import(context.Background(), tt.bundle, ImportOptions{Strategy: StrategyReplace})
			if !errors.Is(err, errs.ErrIncompatibleBundle) {
				t.Fatalf("expected ErrIncompatibleBundle, got %v", err)
			}
			if !errs.Fatal(err) {
				t.Error("incompatible bundles are fatal")
			}
			if diff := cmp.Diff(before, documents(t, fs)); diff != "" {
				t.Errorf("store changed (-before +after):\n%s", diff)
			}
			if backups, _ := m.SafetyBackups(); len(backups) != 0 {
				t.Errorf("no safety backup should be taken, got %v", backups)
			}
		})
	}

	var ib *errs.IncompatibleBundleError
	_, m := open(t, afero.NewMemMapFs())
	_, err := m.Import(context.Background(), &Bundle{App: AppName, Version: 2,
		Data: &Data{Snapshots: []map[string]any{newerDoc}}}, ImportOptions{})
	if !errors.As(err, &ib) || ib.ID != "n" || ib.Version != models.SnapshotSchemaVersion+1 {
		t.Errorf("expected version detail, got %+v", ib)
	}
}

func TestParseAcceptsLegacyShapes(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		version int
		raw2    bool
	}{
		{"settings export", `{"app":"ctxsnap","version":1,"exported_at":"2024-01-15T14:30:22","settings":{"tags":["a"]}}`, 1, false},
		{"v2 backup", `{"app":"ctxsnap","version":2,"settings":{"tags":["a"]},"data":{"snapshots":[]}}`, 2, false},
		{"unversioned export", `{"settings":{"tags":["a"]}}`, 1, false},
		{"raw settings", `{"tags":["a"],"recent_files_limit":10}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Parse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if b.Version != tt.version || b.Raw != tt.raw2 {
				t.Errorf("got version %d raw %v", b.Version, b.Raw)
			}
			if tags, _ := b.Settings["tags"].([]any); len(tags) != 1 {
				t.Errorf("settings not found: %v", b.Settings)
			}
		})
	}

	for _, bad := range []string{`[]`, `null`, `{"app":"ctxsnap","version":"3"}`, `{`} {
		if _, err := Parse([]byte(bad)); !errors.Is(err, errs.ErrIncompatibleBundle) {
			t.Errorf("Parse(%s) = %v, want ErrIncompatibleBundle", bad, err)
		}
	}
}

func TestImportStagesSettings(t *testing.T) {
	ctx := context.Background()
	st, m := open(t, afero.NewMemMapFs())
	b, err := Parse([]byte(`{"tags":["staged"],"restore":{"show_post_restore_checklist":false}}`))
	if err != nil {
		t.Fatal(err)
	}

	res, err := m.Import(ctx, b, ImportOptions{StageSettings: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if res.Settings || res.Staged == nil {
		t.Fatalf("settings should be staged, got %+v", res)
	}
	if res.Staged.Restore.ShowChecklist {
		t.Error("legacy settings should be migrated while staging")
	}
	live, _ := st.LoadSettings()
	if slices.Contains(live.Tags, "staged") {
		t.Error("staged settings were written")
	}

	if err := m.CommitSettings(ctx, res.Staged); err != nil {
		t.Fatalf("CommitSettings failed: %v", err)
	}
	live, _ = st.LoadSettings()
	if !slices.Contains(live.Tags, "staged") {
		t.Errorf("committed settings not applied: %v", live.Tags)
	}
	if err := m.CommitSettings(ctx, nil); err == nil {
		t.Error("expected error without staged settings")
	}
}

func TestFailedImportRollsBack(t *testing.T) {
	ctx := context.Background()
	faulty := testutil.NewFaultyFs(afero.NewMemMapFs())
	st, m := open(t, faulty)
	seed(t, st, testutil.Snapshot("a", "live a"), testutil.Snapshot("b", "live b"))
	if err := st.SaveSettings(models.DefaultSettings()); err != nil {
		t.Fatal(err)
	}
	before := documents(t, faulty)

	bundle := bundleOf(t, testutil.Snapshot("a", "bundle a"), testutil.Snapshot("c", "bundle c"))
	bundle.Settings = map[string]any{"tags": []any{"imported"}}
	faulty.FailRenamesTo(func(newname string) bool {
		return strings.HasSuffix(newname, "/snapshots/c.json")
	})

	_, err := m.Import(ctx, bundle, ImportOptions{Strategy: StrategyReplace})
	faulty.Reset()

	var failed *errs.ImportFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected ImportFailedError, got %v", err)
	}
	if !errors.Is(err, errs.ErrImportFailed) || !errors.Is(err, testutil.ErrInjected) {
		t.Errorf("error chain incomplete: %v", err)
	}
	if !failed.RolledBack || failed.RollbackErr != nil {
		t.Fatalf("expected a complete rollback, got %+v", failed)
	}
	if diff := cmp.Diff(before, documents(t, faulty)); diff != "" {
		t.Errorf("store not restored byte for byte (-before +after):\n%s", diff)
	}

	captured, err := m.ReadArchive(failed.SafetyBackup)
	if err != nil {
		t.Fatalf("ReadArchive failed: %v", err)
	}
	archived := map[string]string{}
	for name, data := range captured {
		archived[name] = string(data)
	}
	if diff := cmp.Diff(before, archived); diff != "" {
		t.Errorf("safety backup differs from pre-import state (-before +archive):\n%s", diff)
	}
}

func TestIncompleteRollbackCanBeFinishedFromSafetyBackup(t *testing.T) {
	ctx := context.Background()
	faulty := testutil.NewFaultyFs(afero.NewMemMapFs())
	st, m := open(t, faulty)
	seed(t, st, testutil.Snapshot("a", "live a"))
	before := documents(t, faulty)

	// The import fails on the index, and the rollback of a fails too.
	aWrites := 0
	faulty.FailRenamesTo(func(newname string) bool {
		if strings.HasSuffix(newname, "/snapshots/a.json") {
			aWrites++
			return aWrites > 1
		}
		return strings.HasSuffix(newname, "/index.json")
	})

	_, err := m.Import(ctx, bundleOf(t, testutil.Snapshot("a", "bundle a"), testutil.Snapshot("c", "bundle c")),
		ImportOptions{Strategy: StrategyOverwrite})
	faulty.Reset()

	var failed *errs.ImportFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected ImportFailedError, got %v", err)
	}
	if failed.RolledBack || failed.RollbackErr == nil || failed.SafetyBackup == "" {
		t.Fatalf("expected an incomplete rollback, got %+v", failed)
	}
	if !strings.Contains(failed.Error(), failed.SafetyBackup) {
		t.Errorf("error should name the safety backup: %v", failed)
	}

	if err := m.RestoreArchive(ctx, failed.SafetyBackup); err != nil {
		t.Fatalf("RestoreArchive failed: %v", err)
	}
	if diff := cmp.Diff(before, documents(t, faulty)); diff != "" {
		t.Errorf("store not restored (-before +after):\n%s", diff)
	}
}

func TestSafetyBackupsAreListedNewestFirst(t *testing.T) {
	ctx := context.Background()
	_, m := open(t, afero.NewMemMapFs())
	for i := 0; i < 3; i++ {
		if _, err := m.Import(ctx, bundleOf(t), ImportOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	paths, err := m.SafetyBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 safety backups, got %v", paths)
	}
	if paths[0] < paths[1] || paths[1] < paths[2] {
		t.Errorf("not newest first: %v", paths)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{"": StrategyMerge, "Merge": StrategyMerge, "overwrite": StrategyOverwrite, " replace ": StrategyReplace}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseStrategy("append"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestBundleJSONShape(t *testing.T) {
	st, m := open(t, afero.NewMemMapFs())
	seed(t, st, testutil.Snapshot("a", "A"))
	b, err := m.Export(context.Background(), All())
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(b)
	var generic map[string]any
	json.Unmarshal(data, &generic)
	for _, key := range []string{"app", "version", "bundle_id", "exported_at", "schema_versions", "settings", "data"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("bundle is missing %q", key)
		}
	}
	if _, ok := generic["Raw"]; ok {
		t.Error("Raw must not be serialised")
	}
}
