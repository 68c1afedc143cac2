package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pders01/ctxsnap/internal/models"
	"github.com/spf13/afero"
)

// Tx exposes store operations while Exclusive holds every kind lock.
// It must not be used after the Exclusive callback returns.
type Tx struct {
	s *Store
}

func (tx *Tx) Store() *Store {
	return tx.s
}

func (tx *Tx) LoadIndex() (*models.Index, error) {
	return tx.s.loadIndex()
}

func (tx *Tx) LoadSnapshot(id string) (*models.Snapshot, bool, error) {
	return tx.s.LoadSnapshot(id)
}

func (tx *Tx) LoadSettings() (*models.Settings, error) {
	return tx.s.LoadSettings()
}

func (tx *Tx) LoadSyncState() (*models.SyncState, error) {
	return tx.s.LoadSyncState()
}

func (tx *Tx) LoadConflicts() (*models.SyncConflicts, error) {
	return tx.s.LoadConflicts()
}

// ReplaceSnapshots writes snapshots verbatim and updates the index once.
func (tx *Tx) ReplaceSnapshots(snaps ...*models.Snapshot) error {
	return tx.s.putSnapshots(snaps, false)
}

// SaveSnapshots stamps rev and updated_at like Store.SaveSnapshot.
func (tx *Tx) SaveSnapshots(snaps ...*models.Snapshot) error {
	return tx.s.putSnapshots(snaps, true)
}

func (tx *Tx) DeleteSnapshots(ids ...string) error {
	return tx.s.deleteSnapshots(ids)
}

func (tx *Tx) SaveSettings(doc *models.Settings) error {
	return tx.s.save(models.KindSettings, "", doc)
}

func (tx *Tx) SaveSyncState(doc *models.SyncState) error {
	return tx.s.save(models.KindSyncState, "", doc)
}

func (tx *Tx) SaveConflicts(doc *models.SyncConflicts) error {
	return tx.s.save(models.KindSyncConflicts, "", doc)
}

// Files lists every document file relative to the root, singletons first.
func (tx *Tx) Files() ([]string, error) {
	var files []string
	for _, k := range models.Kinds {
		if k == models.KindSnapshot {
			continue
		}
		name := singletonFiles[k]
		ok, err := afero.Exists(tx.s.fs, filepath.Join(tx.s.root, name))
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, name)
		}
	}
	ids, err := tx.s.snapshotIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		files = append(files, filepath.ToSlash(filepath.Join(SnapshotsDir, id+".json")))
	}
	return files, nil
}

// ReadRaw returns the exact bytes of a document file.
func (tx *Tx) ReadRaw(rel string) ([]byte, error) {
	path, err := tx.s.documentPath(rel)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(tx.s.fs, path)
}

// WriteRaw atomically writes the exact bytes of a document file.
func (tx *Tx) WriteRaw(rel string, data []byte) error {
	path, err := tx.s.documentPath(rel)
	if err != nil {
		return err
	}
	return WriteFileAtomic(tx.s.fs, path, data, filePerm)
}

func (tx *Tx) RemoveRaw(rel string) error {
	path, err := tx.s.documentPath(rel)
	if err != nil {
		return err
	}
	return tx.s.remove(path)
}

// Rel is the root-relative file name of a document, the form ReadRaw,
// WriteRaw and Checkpoint take.
func Rel(kind models.Kind, id string) string {
	if kind == models.KindSnapshot {
		return SnapshotsDir + "/" + id + ".json"
	}
	return singletonFiles[kind]
}

// Checkpoint holds the bytes of some document files as they were when it
// was taken. A nil entry is a file that did not exist.
type Checkpoint struct {
	tx    *Tx
	files map[string][]byte
}

// Checkpoint captures rels so a failed batch can be undone with Rollback.
func (tx *Tx) Checkpoint(rels ...string) (*Checkpoint, error) {
	cp := &Checkpoint{tx: tx, files: make(map[string][]byte, len(rels))}
	for _, rel := range rels {
		rel = filepath.ToSlash(rel)
		if _, ok := cp.files[rel]; ok {
			continue
		}
		data, err := tx.ReadRaw(rel)
		switch {
		case errors.Is(err, os.ErrNotExist):
			cp.files[rel] = nil
		case err != nil:
			return nil, fmt.Errorf("failed to checkpoint %s: %w", rel, err)
		default:
			cp.files[rel] = data
		}
	}
	return cp, nil
}

// Rollback puts every captured file back byte for byte and removes the
// ones that did not exist. Files already matching are left alone. It keeps
// going past failures and reports them together.
func (cp *Checkpoint) Rollback() error {
	names := make([]string, 0, len(cp.files))
	for name := range cp.files {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []error
	for _, name := range names {
		want := cp.files[name]
		current, err := cp.tx.ReadRaw(name)
		if want == nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err := cp.tx.RemoveRaw(name); err != nil {
				failed = append(failed, err)
			}
			continue
		}
		if err == nil && bytes.Equal(current, want) {
			continue
		}
		if err := cp.tx.WriteRaw(name, want); err != nil {
			failed = append(failed, fmt.Errorf("failed to restore %s: %w", name, err))
		}
	}
	return errors.Join(failed...)
}

// documentPath maps a root-relative name to a path, accepting only the
// layout's document files.
func (s *Store) documentPath(rel string) (string, error) {
	rel = filepath.ToSlash(rel)
	for _, name := range singletonFiles {
		if rel == name {
			return filepath.Join(s.root, name), nil
		}
	}
	if id, ok := strings.CutPrefix(rel, SnapshotsDir+"/"); ok {
		id = strings.TrimSuffix(id, ".json")
		if models.ValidID(id) && strings.HasSuffix(rel, ".json") {
			return s.Path(models.KindSnapshot, id), nil
		}
	}
	return "", fmt.Errorf("%q is not a document file", rel)
}
