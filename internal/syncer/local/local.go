// Package local implements a sync provider backed by a directory, such as a
// folder shared through a file-sync service or a mounted drive.
//
// Layout:
//
//	<dir>/manifest.json        {"seq": N, "entries": {id: {rev, hash, seq}}}
//	<dir>/snapshots/<id>.json
//
// Every push bumps seq once and stamps the pushed entries with it. The
// cursor "c<seq>" names a manifest sequence; a pull returns the entries
// stamped after it.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pders01/ctxsnap/internal/migrate"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/store"
	"github.com/pders01/ctxsnap/internal/syncer"
	"github.com/spf13/afero"
)

const (
	Name = models.ProviderLocal

	manifestFile = "manifest.json"
	lockFile     = ".manifest.lock"
)

type entry struct {
	Rev  int    `json:"rev"`
	Hash string `json:"hash"`
	Seq  int    `json:"seq"`
}

type manifest struct {
	Seq     int              `json:"seq"`
	Entries map[string]entry `json:"entries"`
}

// Provider is the directory-backed provider.
type Provider struct {
	dir      string
	fs       afero.Fs
	migrator *migrate.Engine
	// mu orders pushes within the process; the lock file orders them
	// across processes sharing dir.
	mu sync.Mutex
}

var _ syncer.Provider = (*Provider)(nil)

type Option func(*Provider)

// WithFs replaces the OS filesystem. The cross-process lock still uses the
// real filesystem and is skipped for any other Fs.
func WithFs(fs afero.Fs) Option {
	return func(p *Provider) { p.fs = fs }
}

func WithMigrator(m *migrate.Engine) Option {
	return func(p *Provider) { p.migrator = m }
}

func New(dir string, opts ...Option) *Provider {
	p := &Provider{dir: dir, fs: afero.NewOsFs(), migrator: migrate.New()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Dir() string {
	return p.dir
}

// Cursor formats a manifest sequence.
func Cursor(seq int) string {
	return "c" + strconv.Itoa(seq)
}

// ParseCursor returns the sequence named by cursor, or 0 for an empty or
// malformed cursor.
func ParseCursor(cursor string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(cursor, "c"))
	if err != nil || n < 0 || !strings.HasPrefix(cursor, "c") {
		return 0
	}
	return n
}

func (p *Provider) Pull(ctx context.Context, cursor string) (syncer.PullResult, error) {
	if err := ctx.Err(); err != nil {
		return syncer.PullResult{}, err
	}
	m, err := p.loadManifest()
	if err != nil {
		return syncer.PullResult{}, err
	}

	since := ParseCursor(cursor)
	if since > m.Seq {
		// The remote was reset or replaced; start over.
		since = 0
	}

	ids := make([]string, 0, len(m.Entries))
	for id, e := range m.Entries {
		if e.Seq > since {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	changes := make([]*models.Snapshot, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return syncer.PullResult{}, err
		}
		snap, err := p.readSnapshot(id)
		if err != nil {
			return syncer.PullResult{}, err
		}
		if snap != nil {
			changes = append(changes, snap)
		}
	}
	return syncer.PullResult{Changes: changes, Cursor: Cursor(m.Seq)}, nil
}

func (p *Provider) Push(ctx context.Context, docs []*models.Snapshot) (syncer.PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	unlock, err := p.lock(ctx)
	if err != nil {
		return syncer.PushResult{}, err
	}
	defer unlock()

	m, err := p.loadManifest()
	if err != nil {
		return syncer.PushResult{}, err
	}
	seq := m.Seq + 1
	acked := make(map[string]int, len(docs))

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return syncer.PushResult{}, err
		}
		if !models.ValidID(doc.ID) {
			return syncer.PushResult{}, fmt.Errorf("invalid snapshot id %q", doc.ID)
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return syncer.PushResult{}, fmt.Errorf("failed to encode %s: %w", doc.ID, err)
		}
		if err := store.WriteFileAtomic(p.fs, p.snapshotPath(doc.ID), append(data, '\n'), 0o644); err != nil {
			return syncer.PushResult{}, err
		}
		m.Entries[doc.ID] = entry{Rev: doc.Rev, Hash: doc.ContentHash(), Seq: seq}
		acked[doc.ID] = doc.Rev
	}

	m.Seq = seq
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return syncer.PushResult{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := store.WriteFileAtomic(p.fs, filepath.Join(p.dir, manifestFile), append(data, '\n'), 0o644); err != nil {
		return syncer.PushResult{}, err
	}
	return syncer.PushResult{Acked: acked, Cursor: Cursor(seq)}, nil
}

func (p *Provider) lock(ctx context.Context) (func(), error) {
	if _, ok := p.fs.(*afero.OsFs); !ok {
		return func() {}, nil
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", p.dir, err)
	}
	lock := flock.New(filepath.Join(p.dir, lockFile))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to lock remote manifest: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("remote manifest is locked")
	}
	return func() { _ = lock.Unlock() }, nil
}

func (p *Provider) snapshotPath(id string) string {
	return filepath.Join(p.dir, store.SnapshotsDir, id+".json")
}

func (p *Provider) loadManifest() (*manifest, error) {
	m := &manifest{Entries: map[string]entry{}}
	data, err := afero.ReadFile(p.fs, filepath.Join(p.dir, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = map[string]entry{}
	}
	return m, nil
}

// readSnapshot loads and migrates a remote document. A manifest entry whose
// file is missing is skipped; the next push of that id restores it.
func (p *Provider) readSnapshot(id string) (*models.Snapshot, error) {
	if !models.ValidID(id) {
		return nil, fmt.Errorf("manifest names invalid snapshot id %q", id)
	}
	data, err := afero.ReadFile(p.fs, p.snapshotPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read remote snapshot %s: %w", id, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode remote snapshot %s: %w", id, err)
	}
	migrated, _, err := p.migrator.Migrate(models.KindSnapshot, id, raw)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(migrated)
	if err != nil {
		return nil, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode remote snapshot %s: %w", id, err)
	}
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if snap.ID != id {
		return nil, fmt.Errorf("remote file %s holds snapshot %q", id, snap.ID)
	}
	return &snap, nil
}
