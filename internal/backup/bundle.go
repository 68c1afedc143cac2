// Package backup exports the document set as a JSON bundle and imports
// bundles back with a mandatory safety backup and byte-exact rollback.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/migrate"
	"github.com/pders01/ctxsnap/internal/models"
)

const (
	AppName = "ctxsnap"

	// BundleVersion is the format written by Export. Versions 1
	// (settings only) and 2 (no schema_versions) are still read.
	BundleVersion = 3
)

// Bundle is the on-disk export format. Documents are kept as decoded JSON
// objects so they can be migrated before they are typed.
type Bundle struct {
	App            string              `json:"app"`
	Version        int                 `json:"version"`
	BundleID       string              `json:"bundle_id,omitempty"`
	ExportedAt     string              `json:"exported_at,omitempty"`
	SchemaVersions map[models.Kind]int `json:"schema_versions,omitempty"`
	Settings       map[string]any      `json:"settings,omitempty"`
	Data           *Data               `json:"data,omitempty"`

	// Raw is set when the input was a bare settings.json.
	Raw bool `json:"-"`
}

type Data struct {
	Index     map[string]any   `json:"index,omitempty"`
	Snapshots []map[string]any `json:"snapshots,omitempty"`
}

// Parse decodes a bundle. A JSON object without any bundle field is read
// as a raw settings document.
func Parse(data []byte) (*Bundle, error) {
	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &errs.IncompatibleBundleError{Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	if probe == nil {
		return nil, &errs.IncompatibleBundleError{Reason: "bundle is null"}
	}

	_, hasApp := probe["app"]
	_, hasSettings := probe["settings"].(map[string]any)
	_, hasData := probe["data"]
	if !hasApp && !hasSettings && !hasData {
		return &Bundle{Settings: probe, Raw: true}, nil
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, &errs.IncompatibleBundleError{Reason: fmt.Sprintf("malformed bundle: %v", err)}
	}
	if b.Version == 0 {
		b.Version = 1
	}
	return &b, nil
}

// Snapshots returns the number of bundled snapshots.
func (b *Bundle) Snapshots() int {
	if b.Data == nil {
		return 0
	}
	return len(b.Data.Snapshots)
}

// contents is a bundle after migration and validation.
type contents struct {
	settings  *models.Settings
	snapshots []*models.Snapshot
}

// check rejects the bundle before anything is written: a foreign app, a
// newer format, or any document above the current schema.
func check(b *Bundle, m *migrate.Engine) (*contents, error) {
	if b.App != "" && b.App != AppName {
		return nil, &errs.IncompatibleBundleError{Reason: fmt.Sprintf("bundle was written by %q", b.App)}
	}
	if b.Version > BundleVersion || b.Version < 0 {
		return nil, &errs.IncompatibleBundleError{
			Reason: fmt.Sprintf("bundle format version %d, newest supported is %d", b.Version, BundleVersion),
		}
	}
	for kind, v := range b.SchemaVersions {
		if cur := m.Current(kind); cur > 0 && v > cur {
			return nil, &errs.IncompatibleBundleError{Kind: string(kind), Version: v, Supported: cur}
		}
	}

	c := &contents{}
	if b.Settings != nil {
		s := &models.Settings{}
		if err := decode(m, models.KindSettings, "", b.Settings, s); err != nil {
			return nil, err
		}
		c.settings = s
	}
	if b.Data == nil {
		return c, nil
	}

	if b.Data.Index != nil {
		if _, _, err := m.Migrate(models.KindIndex, "", b.Data.Index); err != nil {
			return nil, incompatible(models.KindIndex, "", err)
		}
	}

	seen := make(map[string]bool, len(b.Data.Snapshots))
	for i, raw := range b.Data.Snapshots {
		if raw == nil {
			return nil, &errs.IncompatibleBundleError{Reason: fmt.Sprintf("snapshot #%d is null", i+1)}
		}
		id, _ := raw["id"].(string)
		snap := &models.Snapshot{}
		if err := decode(m, models.KindSnapshot, id, raw, snap); err != nil {
			return nil, err
		}
		if seen[snap.ID] {
			return nil, &errs.IncompatibleBundleError{Reason: fmt.Sprintf("snapshot %q appears twice", snap.ID)}
		}
		seen[snap.ID] = true
		c.snapshots = append(c.snapshots, snap)
	}
	return c, nil
}

func decode(m *migrate.Engine, kind models.Kind, id string, raw map[string]any, doc models.Document) error {
	migrated, _, err := m.Migrate(kind, id, raw)
	if err != nil {
		return incompatible(kind, id, err)
	}
	data, err := json.Marshal(migrated)
	if err != nil {
		return incompatible(kind, id, err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return incompatible(kind, id, err)
	}
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return incompatible(kind, id, err)
	}
	return nil
}

func incompatible(kind models.Kind, id string, err error) error {
	var use *errs.UnsupportedSchemaError
	if errors.As(err, &use) {
		return &errs.IncompatibleBundleError{Kind: use.Kind, ID: use.ID, Version: use.Version, Supported: use.Supported}
	}
	if id != "" {
		return &errs.IncompatibleBundleError{Reason: fmt.Sprintf("%s %q: %v", kind, id, err)}
	}
	return &errs.IncompatibleBundleError{Reason: fmt.Sprintf("%s: %v", kind, err)}
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
