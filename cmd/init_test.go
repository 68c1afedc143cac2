package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/pders01/ctxsnap/internal/models"
)

func TestInit(t *testing.T) {
	root, out := setupRoot(t)
	cfgFile = filepath.Join(t.TempDir(), "config.toml")
	defer func() { cfgFile = "" }()
	initForce = false

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "settings.json")); err != nil {
		t.Errorf("settings.json not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "snapshots")); err != nil {
		t.Errorf("snapshots/ not created: %v", err)
	}

	var cfg fileConfig
	if _, err := toml.DecodeFile(cfgFile, &cfg); err != nil {
		t.Fatalf("config.toml is not valid TOML: %v", err)
	}
	if cfg.Retention.Days != 90 {
		t.Errorf("expected retention.days 90, got %d", cfg.Retention.Days)
	}
	if !strings.Contains(out.String(), "Created config") {
		t.Errorf("unexpected output:\n%s", out.String())
	}

	s, err := testApp(t).Store.LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if s.SchemaVersion != models.SettingsSchemaVersion {
		t.Errorf("expected schema %d, got %d", models.SettingsSchemaVersion, s.SchemaVersion)
	}
}

func TestInitKeepsExistingConfig(t *testing.T) {
	_, out := setupRoot(t)
	cfgFile = filepath.Join(t.TempDir(), "config.toml")
	defer func() { cfgFile = "" }()
	if err := os.WriteFile(cfgFile, []byte("# mine\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	initForce = false
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	data, _ := os.ReadFile(cfgFile)
	if string(data) != "# mine\n" {
		t.Error("init overwrote an existing config without --force")
	}
	if !strings.Contains(out.String(), "Config already exists") {
		t.Errorf("unexpected output:\n%s", out.String())
	}

	initForce = true
	defer func() { initForce = false }()
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("init --force failed: %v", err)
	}
	data, _ = os.ReadFile(cfgFile)
	if !strings.Contains(string(data), "[retention]") {
		t.Errorf("init --force did not rewrite the config:\n%s", data)
	}
}
