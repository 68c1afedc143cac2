package cmd

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/pders01/ctxsnap/internal/app"
	"github.com/pders01/ctxsnap/internal/config"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/testutil"
	"github.com/spf13/viper"
)

// setupRoot points the commands at a fresh storage root and captures their
// output.
func setupRoot(t *testing.T) (string, *bytes.Buffer) {
	t.Helper()

	root := testutil.TempRoot(t)
	viper.Reset()
	config.SetDefaults(viper.GetViper())
	viper.Set("storage.root", root)
	viper.Set("log.file", filepath.Join(root, "logs", "test.log"))
	viper.Set("log.level", "error")

	out := &bytes.Buffer{}
	oldOut, oldErr := stdout, stderr
	stdout, stderr = out, io.Discard
	t.Cleanup(func() {
		stdout, stderr = oldOut, oldErr
		viper.Reset()
	})
	return root, out
}

// seed stores snapshots directly, bypassing capture.
func seed(t *testing.T, snaps ...*models.Snapshot) {
	t.Helper()
	a := testApp(t)
	for _, s := range snaps {
		if err := a.Store.SaveSnapshot(s); err != nil {
			t.Fatalf("failed to seed %s: %v", s.ID, err)
		}
	}
}

// testApp opens the configured root the way the commands do.
func testApp(t *testing.T) *app.App {
	t.Helper()
	a, err := openApp()
	if err != nil {
		t.Fatalf("failed to open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func enableSync(t *testing.T) {
	t.Helper()
	if _, err := testApp(t).SetSetting("dev_flags.sync_enabled", "true"); err != nil {
		t.Fatalf("failed to enable sync: %v", err)
	}
}
