package backup

import (
	"bytes"
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
	"github.com/google/uuid"
	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/store"
	"github.com/spf13/afero"
)

const safetyPrefix = "ctxsnap_safety_"

// Strategy decides how bundled snapshots meet live ones.
type Strategy string

const (
	// StrategyMerge adds bundled snapshots whose id is not live.
	StrategyMerge Strategy = "merge"
	// StrategyOverwrite also replaces live snapshots with the same id.
	StrategyOverwrite Strategy = "overwrite"
	// StrategyReplace makes the live set equal to the bundle.
	StrategyReplace Strategy = "replace"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyMerge:
		return StrategyMerge, nil
	case StrategyOverwrite:
		return StrategyOverwrite, nil
	case StrategyReplace:
		return StrategyReplace, nil
	}
	return "", fmt.Errorf("unknown import strategy %q (merge, overwrite, replace)", s)
}

// Selection picks what Export includes. A nil IDs exports every snapshot.
type Selection struct {
	Settings  bool
	Index     bool
	Snapshots bool
	IDs       []string
}

// All selects every document.
func All() Selection {
	return Selection{Settings: true, Index: true, Snapshots: true}
}

type ImportOptions struct {
	Strategy Strategy
	// StageSettings returns bundled settings in the result instead of
	// writing them; CommitSettings applies them later.
	StageSettings bool
}

type ImportResult struct {
	Added    []string
	Updated  []string
	Skipped  []string
	Removed  []string
	Settings bool
	// Staged holds the bundled settings when StageSettings was set.
	Staged       *models.Settings
	SafetyBackup string
}

// Manager reads and writes bundles through a Store.
type Manager struct {
	st     *store.Store
	logger *log.Logger
}

type Option func(*Manager)

func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func New(st *store.Store, opts ...Option) *Manager {
	m := &Manager{st: st}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.Default().WithPrefix("backup")
	}
	return m
}

// Export builds a bundle from the live documents. It never writes.
func (m *Manager) Export(ctx context.Context, sel Selection) (*Bundle, error) {
	b := &Bundle{
		App:            AppName,
		Version:        BundleVersion,
		BundleID:       uuid.NewString(),
		ExportedAt:     m.st.Now().UTC().Format(time.RFC3339),
		SchemaVersions: map[models.Kind]int{},
	}

	if sel.Settings {
		settings, err := m.st.LoadSettings()
		if err != nil {
			return nil, err
		}
		if b.Settings, err = toMap(settings); err != nil {
			return nil, fmt.Errorf("failed to encode settings: %w", err)
		}
		b.SchemaVersions[models.KindSettings] = models.SettingsSchemaVersion
	}
	if !sel.Index && !sel.Snapshots {
		return b, nil
	}

	b.Data = &Data{}
	if sel.Index {
		x, err := m.st.LoadIndex()
		if err != nil {
			return nil, err
		}
		if b.Data.Index, err = toMap(x); err != nil {
			return nil, fmt.Errorf("failed to encode index: %w", err)
		}
		b.SchemaVersions[models.KindIndex] = models.IndexSchemaVersion
	}
	if sel.Snapshots {
		snaps, err := m.st.LoadAllSnapshots(ctx)
		if err != nil {
			return nil, err
		}
		want := make(map[string]bool, len(sel.IDs))
		for _, id := range sel.IDs {
			want[id] = true
		}
		b.Data.Snapshots = []map[string]any{}
		for _, snap := range snaps {
			if sel.IDs != nil && !want[snap.ID] {
				continue
			}
			doc, err := toMap(snap)
			if err != nil {
				return nil, fmt.Errorf("failed to encode snapshot %s: %w", snap.ID, err)
			}
			b.Data.Snapshots = append(b.Data.Snapshots, doc)
		}
		b.SchemaVersions[models.KindSnapshot] = models.SnapshotSchemaVersion
	}
	return b, nil
}

// ExportFile writes an export atomically to path.
func (m *Manager) ExportFile(ctx context.Context, path string, sel Selection) (*Bundle, error) {
	b, err := m.Export(ctx, sel)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}
	if err := store.WriteFileAtomic(m.st.Fs(), path, append(data, '\n'), 0o644); err != nil {
		return nil, err
	}
	m.logger.Info("export_done", "path", path, "snapshots", b.Snapshots())
	return b, nil
}

// ReadFile parses the bundle at path.
func (m *Manager) ReadFile(path string) (*Bundle, error) {
	data, err := afero.ReadFile(m.st.Fs(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	return Parse(data)
}

// Import applies b to the store. Every bundled document is migrated and
// checked first; an incompatible bundle is rejected before anything is
// written. The live document set is then captured to a safety backup, and
// any failed write restores it byte for byte.
func (m *Manager) Import(ctx context.Context, b *Bundle, opts ImportOptions) (*ImportResult, error) {
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	c, err := check(b, m.st.Migrator())
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	err = m.st.Exclusive(ctx, func(tx *store.Tx) error {
		captured, err := capture(tx)
		if err != nil {
			return fmt.Errorf("failed to capture safety backup: %w", err)
		}
		res.SafetyBackup, err = m.writeSafety(captured)
		if err != nil {
			return fmt.Errorf("failed to write safety backup: %w", err)
		}

		if err := apply(ctx, tx, c, strategy, opts, res); err != nil {
			rbErr := restore(tx, captured)
			if rbErr != nil {
				m.logger.Error("import_rollback", "err", err, "rollback_err", rbErr, "safety", res.SafetyBackup)
			} else {
				m.logger.Warn("import_rollback", "err", err, "safety", res.SafetyBackup)
			}
			return &errs.ImportFailedError{
				Cause:        err,
				RolledBack:   rbErr == nil,
				RollbackErr:  rbErr,
				SafetyBackup: res.SafetyBackup,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("import_done",
		"strategy", strategy,
		"added", len(res.Added),
		"updated", len(res.Updated),
		"skipped", len(res.Skipped),
		"removed", len(res.Removed),
		"safety", res.SafetyBackup)
	return res, nil
}

// ImportFile reads and imports the bundle at path.
func (m *Manager) ImportFile(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	b, err := m.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return m.Import(ctx, b, opts)
}

// CommitSettings writes settings staged by an earlier import.
func (m *Manager) CommitSettings(ctx context.Context, staged *models.Settings) error {
	if staged == nil {
		return fmt.Errorf("no staged settings")
	}
	return m.st.Exclusive(ctx, func(tx *store.Tx) error {
		return tx.SaveSettings(staged)
	})
}

// SafetyBackups lists safety archives, newest first.
func (m *Manager) SafetyBackups() ([]string, error) {
	dir := filepath.Join(m.st.Root(), store.BackupsDir)
	entries, err := afero.ReadDir(m.st.Fs(), dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), safetyPrefix) && strings.HasSuffix(e.Name(), ".tar.gz") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

// ReadArchive returns the files captured in a safety archive.
func (m *Manager) ReadArchive(path string) (map[string][]byte, error) {
	data, err := afero.ReadFile(m.st.Fs(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return readArchive(bytes.NewReader(data))
}

// RestoreArchive puts the store back to the exact state captured in a
// safety archive, removing documents the archive does not hold.
func (m *Manager) RestoreArchive(ctx context.Context, path string) error {
	files, err := m.ReadArchive(path)
	if err != nil {
		return err
	}
	return m.st.Exclusive(ctx, func(tx *store.Tx) error {
		if err := restore(tx, files); err != nil {
			return err
		}
		m.logger.Info("archive_restored", "path", path, "files", len(files))
		return nil
	})
}

func capture(tx *store.Tx) (map[string][]byte, error) {
	names, err := tx.Files()
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := tx.ReadRaw(name)
		if err != nil {
			return nil, err
		}
		files[name] = data
	}
	return files, nil
}

func (m *Manager) writeSafety(files map[string][]byte) (string, error) {
	now := m.st.Now()
	data, err := writeArchive(files, now)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(m.st.Root(), store.BackupsDir)
	stamp := now.Format("20060102-150405")
	path := filepath.Join(dir, safetyPrefix+stamp+".tar.gz")
	for n := 2; ; n++ {
		exists, err := afero.Exists(m.st.Fs(), path)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s%s-%d.tar.gz", safetyPrefix, stamp, n))
	}

	if err := store.WriteFileAtomic(m.st.Fs(), path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func apply(ctx context.Context, tx *store.Tx, c *contents, strategy Strategy, opts ImportOptions, res *ImportResult) error {
	if c.settings != nil {
		if opts.StageSettings {
			res.Staged = c.settings
		} else {
			if err := tx.SaveSettings(c.settings); err != nil {
				return err
			}
			res.Settings = true
		}
	}

	ids, err := tx.Store().SnapshotIDs()
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}

	var writes []*models.Snapshot
	bundled := make(map[string]bool, len(c.snapshots))
	for _, snap := range c.snapshots {
		if err := ctx.Err(); err != nil {
			return err
		}
		bundled[snap.ID] = true
		switch {
		case !live[snap.ID]:
			res.Added = append(res.Added, snap.ID)
		case strategy == StrategyMerge:
			res.Skipped = append(res.Skipped, snap.ID)
			continue
		default:
			res.Updated = append(res.Updated, snap.ID)
		}
		writes = append(writes, snap)
	}
	if err := tx.ReplaceSnapshots(writes...); err != nil {
		return err
	}

	if strategy == StrategyReplace {
		for _, id := range ids {
			if !bundled[id] {
				res.Removed = append(res.Removed, id)
			}
		}
		if err := tx.DeleteSnapshots(res.Removed...); err != nil {
			return err
		}
	}
	return nil
}

// restore writes every captured file back and removes document files the
// capture did not hold. It keeps going after a failure so as much as
// possible is restored, and reports every error.
func restore(tx *store.Tx, captured map[string][]byte) error {
	var failed []error
	names := make([]string, 0, len(captured))
	for name := range captured {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		current, err := tx.ReadRaw(name)
		if err == nil && bytes.Equal(current, captured[name]) {
			continue
		}
		if err := tx.WriteRaw(name, captured[name]); err != nil {
			failed = append(failed, err)
		}
	}

	present, err := tx.Files()
	if err != nil {
		return errors.Join(append(failed, err)...)
	}
	for _, name := range present {
		if _, ok := captured[name]; ok {
			continue
		}
		if err := tx.RemoveRaw(name); err != nil {
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}
