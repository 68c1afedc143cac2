package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/testutil"
)

func TestSettingsSet(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		check   func(*models.Settings) bool
		wantErr bool
	}{
		{"dev_flags.sync_enabled", "true", func(s *models.Settings) bool { return s.DevFlags.SyncEnabled }, false},
		{"sync.provider", "cloud_stub", func(s *models.Settings) bool { return s.Sync.Provider == "cloud_stub" }, false},
		{"sync.auto_interval_min", "15", func(s *models.Settings) bool { return s.Sync.AutoIntervalMin == 15 }, false},
		{"tags", "alpha, beta,,alpha", func(s *models.Settings) bool {
			return len(s.Tags) == 2 && s.Tags[0] == "alpha" && s.Tags[1] == "beta"
		}, false},
		{"restore.open_vscode", "false", func(s *models.Settings) bool { return !s.Restore.OpenVSCode }, false},
		{"sync.provider", "carrier_pigeon", nil, true},
		{"sync.auto_interval_min", "soon", nil, true},
		{"dev_flags.sync_enabled", "maybe", nil, true},
		{"schema_version", "9", nil, true},
		{"no.such.key", "1", nil, true},
		{"restore_profiles", "quiet", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			setupRoot(t)
			err := runSettingsSet(nil, []string{tt.key, tt.value})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				s, _ := testApp(t).Store.LoadSettings()
				if s.Sync.Provider != models.ProviderLocal {
					t.Errorf("failed set changed settings: %+v", s.Sync)
				}
				return
			}
			if err != nil {
				t.Fatalf("settings set failed: %v", err)
			}
			s, err := testApp(t).Store.LoadSettings()
			if err != nil {
				t.Fatal(err)
			}
			if !tt.check(s) {
				t.Errorf("value not applied: %+v", s)
			}
		})
	}
}

func TestSettingsShow(t *testing.T) {
	_, out := setupRoot(t)
	if err := runSettingsSet(nil, []string{"sync.auto_interval_min", "30"}); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	settingsShowAll = false
	if err := runSettingsShow(nil, nil); err != nil {
		t.Fatalf("settings show failed: %v", err)
	}
	var s models.Settings
	if err := json.Unmarshal(out.Bytes(), &s); err != nil {
		t.Fatalf("failed to parse output: %v\n%s", err, out.String())
	}
	if s.Sync.AutoIntervalMin != 30 {
		t.Errorf("expected auto_interval_min 30, got %d", s.Sync.AutoIntervalMin)
	}
}

func TestProfileAddRemove(t *testing.T) {
	setupRoot(t)
	defer func() { profileOptions, profileDefault = models.RestoreOptions{}, false }()

	profileOptions = models.RestoreOptions{OpenFolder: true}
	profileDefault = true
	if err := runProfileAdd(nil, []string{"focus"}); err != nil {
		t.Fatalf("profile add failed: %v", err)
	}
	profileOptions = models.RestoreOptions{ShowChecklist: true}
	if err := runProfileAdd(nil, []string{"review"}); err != nil {
		t.Fatalf("profile add failed: %v", err)
	}

	s, _ := testApp(t).Store.LoadSettings()
	p, ok := s.Profile("")
	if !ok || p.Name != "review" {
		t.Errorf("the last default profile should win, got %+v", p)
	}
	if len(s.RestoreProfiles) != 2 {
		t.Errorf("expected 2 profiles, got %d", len(s.RestoreProfiles))
	}

	if err := runProfileRemove(nil, []string{"REVIEW"}); err != nil {
		t.Fatalf("profile remove failed: %v", err)
	}
	if err := runProfileRemove(nil, []string{"review"}); err == nil {
		t.Error("removing a missing profile should fail")
	}
	s, _ = testApp(t).Store.LoadSettings()
	if len(s.RestoreProfiles) != 1 || s.RestoreProfiles[0].Name != "focus" {
		t.Errorf("unexpected profiles %+v", s.RestoreProfiles)
	}
}

func TestMigrate(t *testing.T) {
	root, out := setupRoot(t)
	seed(t, testutil.Snapshot("20260301-093000", "current"))

	legacy := `{"schema_version": 1, "id": "20250101-090000", "title": "legacy", "created_at": "2025-01-01T09:00:00Z", "root": "/old", "todos": ["a", "b", "c"], "tags": ["x"]}`
	path := filepath.Join(root, "snapshots", "20250101-090000.json")
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runMigrate(nil, nil); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out.String(), "Migrated 2 snapshot(s)") {
		t.Errorf("unexpected output:\n%s", out.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if v, _ := doc["schema_version"].(float64); int(v) != models.SnapshotSchemaVersion {
		t.Errorf("legacy snapshot not rewritten at schema %d: %v", models.SnapshotSchemaVersion, doc["schema_version"])
	}
}
