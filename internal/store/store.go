// Package store persists ctxsnap documents as JSON files under one root
// directory.
//
// Every write is atomic (temp file, fsync, rename). Loads fail soft: a
// missing file yields the kind's default document and a corrupt one is
// moved aside and replaced by the default. Only a document written by a
// newer schema is reported as an error.
//
// Within one process the store admits a single writer per document kind.
// Multi-kind operations lock kinds in the fixed order of models.Kinds.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/migrate"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
)

const (
	SnapshotsDir = "snapshots"
	BackupsDir   = "backups"
	LogsDir      = "logs"

	filePerm = 0o644
)

var singletonFiles = map[models.Kind]string{
	models.KindSettings:       "settings.json",
	models.KindIndex:          "index.json",
	models.KindSyncState:      "sync_state.json",
	models.KindSyncConflicts:  "sync_conflicts.json",
	models.KindRestoreHistory: "restore_history.json",
}

// Store is the sole writer of document bytes under its root.
type Store struct {
	fs       afero.Fs
	root     string
	logger   *log.Logger
	migrator *migrate.Engine
	queue    *opQueue
	now      func() time.Time
	loaders  int
}

// Option configures a Store.
type Option func(*Store)

// WithFs replaces the OS filesystem, mainly for fault injection in tests.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) { s.fs = fs }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithMigrator(m *migrate.Engine) Option {
	return func(s *Store) { s.migrator = m }
}

// WithClock sets the source of store-assigned updated_at values.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open prepares the layout under root and clears leftovers of interrupted
// writes.
func Open(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	s := &Store{
		fs:       afero.NewOsFs(),
		root:     root,
		migrator: migrate.New(),
		queue:    newOpQueue(),
		now:      func() time.Time { return time.Now().UTC().Round(0) },
		loaders:  8,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default().WithPrefix("store")
	}

	for _, dir := range []string{root, filepath.Join(root, SnapshotsDir)} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		n, err := sweepTemp(s.fs, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
		if n > 0 {
			s.logger.Info("removed interrupted writes", "dir", dir, "count", n)
		}
	}
	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Fs() afero.Fs {
	return s.fs
}

func (s *Store) Logger() *log.Logger {
	return s.logger
}

func (s *Store) Migrator() *migrate.Engine {
	return s.migrator
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// Path returns the file backing a document. id is ignored for singletons.
func (s *Store) Path(kind models.Kind, id string) string {
	if kind == models.KindSnapshot {
		return filepath.Join(s.root, SnapshotsDir, id+".json")
	}
	return filepath.Join(s.root, singletonFiles[kind])
}

// Exclusive runs fn with every document kind locked. Backup import and the
// sync commit use it to apply a batch no other writer can interleave with.
func (s *Store) Exclusive(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	release := s.queue.acquire(models.Kinds...)
	defer release()
	return fn(&Tx{s: s})
}

// Load reads one document into doc. It reports whether a valid document was
// found; when it was not, doc is left untouched so the caller's default
// stands.
func (s *Store) Load(kind models.Kind, id string, doc models.Document) (bool, error) {
	return s.load(kind, id, doc)
}

// Save writes doc verbatim. Snapshots and the index should go through their
// dedicated methods, which keep rev and the index in step.
func (s *Store) Save(kind models.Kind, id string, doc models.Document) error {
	release := s.queue.acquire(kind)
	defer release()
	return s.save(kind, id, doc)
}

// Delete removes a document file. A missing file is not an error.
func (s *Store) Delete(kind models.Kind, id string) error {
	if kind == models.KindSnapshot {
		return s.DeleteSnapshot(id)
	}
	release := s.queue.acquire(kind)
	defer release()
	return s.remove(s.Path(kind, id))
}

func (s *Store) load(kind models.Kind, id string, doc models.Document) (bool, error) {
	path := s.Path(kind, id)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		s.quarantine(kind, path, err)
		return false, nil
	}
	if raw == nil {
		s.quarantine(kind, path, fmt.Errorf("document is null"))
		return false, nil
	}

	migrated, _, err := s.migrator.Migrate(kind, id, raw)
	if err != nil {
		if errors.Is(err, errs.ErrUnsupportedSchema) {
			return false, err
		}
		s.quarantine(kind, path, err)
		return false, nil
	}

	decoded, err := decodeInto(kind, migrated)
	if err != nil {
		s.quarantine(kind, path, err)
		return false, nil
	}
	if snap, ok := decoded.(*models.Snapshot); ok && snap.ID != id {
		s.quarantine(kind, path, fmt.Errorf("file holds snapshot %q", snap.ID))
		return false, nil
	}

	copyDocument(doc, decoded)
	return true, nil
}

// decodeInto turns a migrated map into a fresh typed document of kind.
func decodeInto(kind models.Kind, m map[string]any) (models.Document, error) {
	var doc models.Document
	switch kind {
	case models.KindSnapshot:
		doc = &models.Snapshot{}
	case models.KindIndex:
		doc = &models.Index{}
	case models.KindSettings:
		doc = &models.Settings{}
	case models.KindSyncState:
		doc = &models.SyncState{}
	case models.KindSyncConflicts:
		doc = &models.SyncConflicts{}
	case models.KindRestoreHistory:
		doc = &models.RestoreHistory{}
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func copyDocument(dst, src models.Document) {
	switch d := dst.(type) {
	case *models.Snapshot:
		*d = *src.(*models.Snapshot)
	case *models.Index:
		*d = *src.(*models.Index)
	case *models.Settings:
		*d = *src.(*models.Settings)
	case *models.SyncState:
		*d = *src.(*models.SyncState)
	case *models.SyncConflicts:
		*d = *src.(*models.SyncConflicts)
	case *models.RestoreHistory:
		*d = *src.(*models.RestoreHistory)
	}
}

// quarantine moves an unreadable file aside so the default can take its
// place without losing the bytes.
func (s *Store) quarantine(kind models.Kind, path string, cause error) {
	base := strings.TrimSuffix(path, ".json")
	dest := fmt.Sprintf("%s.corrupted.%s.json", base, s.now().Format("20060102-150405"))
	if err := s.fs.Rename(path, dest); err != nil {
		s.logger.Warn("store_corrupt", "kind", kind, "path", path, "err", cause, "quarantine_err", err)
		return
	}
	s.logger.Warn("store_corrupt", "kind", kind, "path", path, "err", cause, "moved_to", dest)
}

func (s *Store) save(kind models.Kind, id string, doc models.Document) error {
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid %s: %w", kind, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	data = append(data, '\n')
	if err := WriteFileAtomic(s.fs, s.Path(kind, id), data, filePerm); err != nil {
		return fmt.Errorf("failed to save %s: %w", kind, err)
	}
	return nil
}

func (s *Store) remove(path string) error {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// diskRev reads only the rev of an existing file, 0 when absent or unreadable.
func (s *Store) diskRev(kind models.Kind, id string) int {
	data, err := afero.ReadFile(s.fs, s.Path(kind, id))
	if err != nil {
		return 0
	}
	var head struct {
		Rev int `json:"rev"`
	}
	if json.Unmarshal(data, &head) != nil {
		return 0
	}
	return head.Rev
}

// LoadSettings returns the settings document or first-run defaults.
func (s *Store) LoadSettings() (*models.Settings, error) {
	doc := models.DefaultSettings()
	if _, err := s.load(models.KindSettings, "", doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) SaveSettings(doc *models.Settings) error {
	release := s.queue.acquire(models.KindSettings)
	defer release()
	return s.save(models.KindSettings, "", doc)
}

func (s *Store) LoadSyncState() (*models.SyncState, error) {
	doc := models.DefaultSyncState()
	if _, err := s.load(models.KindSyncState, "", doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) LoadConflicts() (*models.SyncConflicts, error) {
	doc := models.DefaultSyncConflicts()
	if _, err := s.load(models.KindSyncConflicts, "", doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateConflicts applies fn to the conflict queue under its writer lock.
func (s *Store) UpdateConflicts(fn func(q *models.SyncConflicts) error) error {
	release := s.queue.acquire(models.KindSyncConflicts)
	defer release()

	q := models.DefaultSyncConflicts()
	if _, err := s.load(models.KindSyncConflicts, "", q); err != nil {
		return err
	}
	if err := fn(q); err != nil {
		return err
	}
	return s.save(models.KindSyncConflicts, "", q)
}

func (s *Store) LoadRestoreHistory() (*models.RestoreHistory, error) {
	doc := models.DefaultRestoreHistory()
	if _, err := s.load(models.KindRestoreHistory, "", doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// AppendRestoreHistory records a restore as the newest entry.
func (s *Store) AppendRestoreHistory(entry models.RestoreEntry) error {
	release := s.queue.acquire(models.KindRestoreHistory)
	defer release()

	h := models.DefaultRestoreHistory()
	if _, err := s.load(models.KindRestoreHistory, "", h); err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = s.now()
	}
	h.Prepend(entry)
	return s.save(models.KindRestoreHistory, "", h)
}

// LoadSnapshot returns the snapshot with id. A missing or corrupt file
// reports false with a nil error.
func (s *Store) LoadSnapshot(id string) (*models.Snapshot, bool, error) {
	if !models.ValidID(id) {
		return nil, false, fmt.Errorf("invalid snapshot id %q", id)
	}
	snap := &models.Snapshot{}
	ok, err := s.load(models.KindSnapshot, id, snap)
	if err != nil || !ok {
		return nil, false, err
	}
	return snap, true, nil
}

// SaveSnapshot stores snap with a store-assigned rev and updated_at and
// updates its index entry. snap is modified in place to carry them.
func (s *Store) SaveSnapshot(snap *models.Snapshot) error {
	release := s.queue.acquire(models.KindSnapshot, models.KindIndex)
	defer release()
	return s.putSnapshots([]*models.Snapshot{snap}, true)
}

// ReplaceSnapshots writes snapshots exactly as given, keeping their rev and
// updated_at, then updates the index once. Sync fast-forwards and backup
// imports use it.
func (s *Store) ReplaceSnapshots(snaps ...*models.Snapshot) error {
	release := s.queue.acquire(models.KindSnapshot, models.KindIndex)
	defer release()
	return s.putSnapshots(snaps, false)
}

// Snapshot files are written before the index so an interruption leaves an
// orphan file, which the next index load adopts.
func (s *Store) putSnapshots(snaps []*models.Snapshot, stamp bool) error {
	if len(snaps) == 0 {
		return nil
	}
	for _, snap := range snaps {
		if stamp {
			if disk := s.diskRev(models.KindSnapshot, snap.ID); disk > snap.Rev {
				snap.Rev = disk
			}
			snap.Rev++
			snap.UpdatedAt = s.now()
			snap.SchemaVersion = models.SnapshotSchemaVersion
		}
		if err := s.save(models.KindSnapshot, snap.ID, snap); err != nil {
			return err
		}
	}

	x, err := s.loadIndex()
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		x.Upsert(snap)
	}
	return s.saveIndex(x)
}

// DeleteSnapshot removes the snapshot file, then its index entry. A crash
// between the two leaves a stale entry that the next index load drops.
func (s *Store) DeleteSnapshot(id string) error {
	release := s.queue.acquire(models.KindSnapshot, models.KindIndex)
	defer release()
	return s.deleteSnapshots([]string{id})
}

func (s *Store) deleteSnapshots(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if !models.ValidID(id) {
			return fmt.Errorf("invalid snapshot id %q", id)
		}
		if err := s.remove(s.Path(models.KindSnapshot, id)); err != nil {
			return err
		}
	}
	x, err := s.loadIndex()
	if err != nil {
		return err
	}
	for _, id := range ids {
		x.Remove(id)
	}
	return s.saveIndex(x)
}

// LoadIndex returns the index, repaired against the snapshot files on disk.
func (s *Store) LoadIndex() (*models.Index, error) {
	release := s.queue.acquire(models.KindIndex)
	defer release()
	return s.loadIndex()
}

// SaveIndex stores x with a store-assigned rev and updated_at.
func (s *Store) SaveIndex(x *models.Index) error {
	release := s.queue.acquire(models.KindIndex)
	defer release()
	return s.saveIndex(x)
}

func (s *Store) loadIndex() (*models.Index, error) {
	x := models.DefaultIndex()
	if _, err := s.load(models.KindIndex, "", x); err != nil {
		return nil, err
	}

	ids, err := s.snapshotIDs()
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]bool, len(ids))
	for _, id := range ids {
		onDisk[id] = true
	}

	repaired := false
	for _, id := range x.IDs() {
		if !onDisk[id] {
			x.Remove(id)
			repaired = true
			s.logger.Info("index_stale_entry", "id", id)
		}
	}
	for _, id := range ids {
		if _, ok := x.Find(id); ok {
			continue
		}
		snap, ok, err := s.LoadSnapshot(id)
		if err != nil {
			s.logger.Warn("index_orphan_unreadable", "id", id, "err", err)
			continue
		}
		if !ok {
			continue
		}
		x.Upsert(snap)
		repaired = true
		s.logger.Info("index_orphan_adopted", "id", id)
	}

	if repaired {
		if err := s.saveIndex(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (s *Store) saveIndex(x *models.Index) error {
	if disk := s.diskRev(models.KindIndex, ""); disk > x.Rev {
		x.Rev = disk
	}
	x.Rev++
	x.UpdatedAt = s.now()
	x.SchemaVersion = models.IndexSchemaVersion
	return s.save(models.KindIndex, "", x)
}

// SnapshotIDs lists the ids of snapshot files on disk, sorted.
func (s *Store) SnapshotIDs() ([]string, error) {
	return s.snapshotIDs()
}

func (s *Store) snapshotIDs() ([]string, error) {
	dir := filepath.Join(s.root, SnapshotsDir)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || isTempName(name) || strings.Contains(name, ".corrupted.") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadAllSnapshots reads every snapshot file with bounded parallelism.
// Corrupt files are quarantined and skipped; a snapshot written by a newer
// schema fails the whole call.
func (s *Store) LoadAllSnapshots(ctx context.Context) ([]*models.Snapshot, error) {
	ids, err := s.snapshotIDs()
	if err != nil {
		return nil, err
	}

	p := pool.NewWithResults[*models.Snapshot]().
		WithContext(ctx).
		WithMaxGoroutines(s.loaders)
	for _, id := range ids {
		id := id
		p.Go(func(ctx context.Context) (*models.Snapshot, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			snap, _, err := s.LoadSnapshot(id)
			return snap, err
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	snaps := make([]*models.Snapshot, 0, len(results))
	for _, snap := range results {
		if snap != nil {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps, nil
}

// FindByFingerprint reports whether the newest automatic snapshot of root
// carries fingerprint fp.
func (s *Store) FindByFingerprint(root, fp string) (models.IndexEntry, bool, error) {
	x, err := s.LoadIndex()
	if err != nil {
		return models.IndexEntry{}, false, err
	}
	for _, e := range x.Snapshots {
		if e.Source != models.SourceAuto || e.Root != root {
			continue
		}
		return e, e.AutoFingerprint == fp, nil
	}
	return models.IndexEntry{}, false, nil
}
