package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/models"
)

// MigrateReport counts the documents Migrate rewrote.
type MigrateReport struct {
	Snapshots  int
	Singletons []models.Kind
}

// Migrate rewrites every document at its current schema version. Loading
// already upgrades in memory; this makes the upgrade durable. Snapshot revs
// are kept so sync does not see the rewrite as an edit.
func (a *App) Migrate(ctx context.Context) (*MigrateReport, error) {
	report := &MigrateReport{}

	snaps, err := a.Store.LoadAllSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.Store.ReplaceSnapshots(snaps...); err != nil {
		return nil, err
	}
	report.Snapshots = len(snaps)

	singletons := []struct {
		kind models.Kind
		doc  models.Document
	}{
		{models.KindSettings, models.DefaultSettings()},
		{models.KindSyncState, models.DefaultSyncState()},
		{models.KindSyncConflicts, models.DefaultSyncConflicts()},
		{models.KindRestoreHistory, models.DefaultRestoreHistory()},
	}
	for _, s := range singletons {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := a.Store.Load(s.kind, "", s.doc)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if err := a.Store.Save(s.kind, "", s.doc); err != nil {
			return nil, err
		}
		report.Singletons = append(report.Singletons, s.kind)
	}

	x, err := a.Store.LoadIndex()
	if err != nil {
		return nil, err
	}
	if err := a.Store.SaveIndex(x); err != nil {
		return nil, err
	}
	report.Singletons = append(report.Singletons, models.KindIndex)

	a.Logger.Info("migrate_done", "snapshots", report.Snapshots, "singletons", len(report.Singletons))
	return report, nil
}

// SetSetting assigns value to the dotted settings key, e.g.
// "sync.provider" or "restore.open_vscode". The value is parsed to the
// type the key already holds; lists take comma-separated values.
func (a *App) SetSetting(key, value string) (*models.Settings, error) {
	s, err := a.Store.LoadSettings()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	parts := strings.Split(key, ".")
	parent := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := parent[p].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unknown setting %q", key)
		}
		parent = next
	}
	leaf := parts[len(parts)-1]
	current, ok := parent[leaf]
	if !ok || leaf == "schema_version" {
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	v, err := parseSettingValue(current, value)
	if err != nil {
		return nil, fmt.Errorf("setting %q: %w", key, err)
	}
	parent[leaf] = v

	data, err = json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	updated := models.DefaultSettings()
	if err := json.Unmarshal(data, updated); err != nil {
		return nil, fmt.Errorf("setting %q: %w", key, err)
	}
	updated.Normalize()
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := a.Store.SaveSettings(updated); err != nil {
		return nil, err
	}
	a.Logger.Info("setting_changed", "key", key)
	return updated, nil
}

func parseSettingValue(current any, value string) (any, error) {
	switch current.(type) {
	case bool:
		return strconv.ParseBool(value)
	case float64:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", value)
		}
		return float64(n), nil
	case string:
		return value, nil
	case []any:
		out := []any{}
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot be set from the command line")
}

// SaveProfile adds p to the restore profiles, replacing a profile with the
// same name. A default p clears the default flag on the others.
func (a *App) SaveProfile(p models.RestoreProfile) (*models.Settings, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("profile name is required")
	}
	s, err := a.Store.LoadSettings()
	if err != nil {
		return nil, err
	}
	profiles := []models.RestoreProfile{p}
	for _, other := range s.RestoreProfiles {
		if strings.EqualFold(other.Name, p.Name) {
			continue
		}
		if p.Default {
			other.Default = false
		}
		profiles = append(profiles, other)
	}
	s.RestoreProfiles = profiles
	s.Normalize()
	if err := a.Store.SaveSettings(s); err != nil {
		return nil, err
	}
	return s, nil
}

// RemoveProfile deletes the named restore profile.
func (a *App) RemoveProfile(name string) error {
	s, err := a.Store.LoadSettings()
	if err != nil {
		return err
	}
	kept := s.RestoreProfiles[:0]
	for _, p := range s.RestoreProfiles {
		if !strings.EqualFold(p.Name, name) {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(s.RestoreProfiles) {
		return fmt.Errorf("restore profile %q: %w", name, errs.ErrNotFound)
	}
	s.RestoreProfiles = kept
	return a.Store.SaveSettings(s)
}
