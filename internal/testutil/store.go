package testutil

import (
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/spf13/afero"
)

// ErrInjected is returned by FaultyFs when an armed fault fires.
var ErrInjected = errors.New("injected fault")

// Epoch is the fixed clock used by fixtures.
var Epoch = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// TempRoot creates a storage root that is removed when the test ends.
func TempRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ctxsnap-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// Logger returns a logger that discards everything.
func Logger() *log.Logger {
	return log.New(io.Discard)
}

// Clock returns a deterministic clock advancing one second per call.
func Clock() func() time.Time {
	var mu sync.Mutex
	now := Epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

// Snapshot builds a valid snapshot with predictable content.
func Snapshot(id, title string) *models.Snapshot {
	s := models.NewSnapshot(title, "/work/"+id, Epoch)
	s.ID = id
	s.Rev = 1
	s.UpdatedAt = Epoch
	s.Note = "note for " + title
	s.Todos = [models.TodoCount]string{"first", "second", ""}
	s.Tags = []string{"work"}
	s.Normalize()
	return s
}

// FaultyFs wraps an afero.Fs and fails selected renames. WriteFileAtomic
// commits through Rename, so a failed rename is a write that never landed.
type FaultyFs struct {
	afero.Fs

	mu        sync.Mutex
	renames   int
	failAt    int
	failMatch func(newname string) bool
}

func NewFaultyFs(base afero.Fs) *FaultyFs {
	return &FaultyFs{Fs: base}
}

// FailNthRename makes the n-th rename from now fail once.
func (f *FaultyFs) FailNthRename(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = 0
	f.failAt = n
}

// FailRenamesTo fails every rename whose destination satisfies match until
// Reset is called.
func (f *FaultyFs) FailRenamesTo(match func(newname string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMatch = match
}

func (f *FaultyFs) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt = 0
	f.failMatch = nil
}

func (f *FaultyFs) Rename(oldname, newname string) error {
	f.mu.Lock()
	f.renames++
	fail := f.renames == f.failAt || (f.failMatch != nil && f.failMatch(newname))
	if f.renames == f.failAt {
		f.failAt = 0
	}
	f.mu.Unlock()
	if fail {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: ErrInjected}
	}
	return f.Fs.Rename(oldname, newname)
}
