package models

import (
	"sort"
	"time"
)

// SearchMeta caches per-snapshot search text.
type SearchMeta struct {
	Engine  string            `json:"engine"`
	Version int               `json:"version"`
	Tokens  map[string]string `json:"tokens"`
}

// IndexEntry is the summary of one snapshot kept in index.json.
type IndexEntry struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Rev             int       `json:"rev"`
	Root            string    `json:"root"`
	Workspace       string    `json:"vscode_workspace,omitempty"`
	Tags            []string  `json:"tags"`
	Pinned          bool      `json:"pinned"`
	Archived        bool      `json:"archived"`
	Source          string    `json:"source,omitempty"`
	Trigger         string    `json:"trigger,omitempty"`
	GitBranch       string    `json:"git_branch,omitempty"`
	AutoFingerprint string    `json:"auto_fingerprint,omitempty"`
}

// Index is the ordered summary of every snapshot on disk.
type Index struct {
	SchemaVersion int          `json:"schema_version"`
	Rev           int          `json:"rev"`
	UpdatedAt     time.Time    `json:"updated_at"`
	SearchMeta    SearchMeta   `json:"search_meta"`
	Snapshots     []IndexEntry `json:"snapshots"`
}

// DefaultIndex returns an empty index at the current schema.
func DefaultIndex() *Index {
	return &Index{
		SchemaVersion: IndexSchemaVersion,
		SearchMeta:    SearchMeta{Engine: "blob", Version: 1, Tokens: map[string]string{}},
		Snapshots:     []IndexEntry{},
	}
}

// EntryFromSnapshot builds the index summary for s.
func EntryFromSnapshot(s *Snapshot) IndexEntry {
	return IndexEntry{
		ID:              s.ID,
		Title:           s.Title,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		Rev:             s.Rev,
		Root:            s.Root,
		Workspace:       s.Workspace,
		Tags:            append([]string{}, s.Tags...),
		Pinned:          s.Pinned,
		Archived:        s.Archived,
		Source:          s.Source,
		Trigger:         s.Trigger,
		GitBranch:       s.GitState.Branch,
		AutoFingerprint: s.AutoFingerprint,
	}
}

// Normalize fills nil collections and restores ordering and id uniqueness.
func (x *Index) Normalize() {
	if x.SchemaVersion == 0 {
		x.SchemaVersion = IndexSchemaVersion
	}
	if x.SearchMeta.Engine == "" {
		x.SearchMeta.Engine = "blob"
		x.SearchMeta.Version = 1
	}
	if x.SearchMeta.Tokens == nil {
		x.SearchMeta.Tokens = map[string]string{}
	}
	seen := make(map[string]bool, len(x.Snapshots))
	entries := make([]IndexEntry, 0, len(x.Snapshots))
	for _, e := range x.Snapshots {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		if e.Tags == nil {
			e.Tags = []string{}
		}
		entries = append(entries, e)
	}
	x.Snapshots = entries
	x.sort()
	for id := range x.SearchMeta.Tokens {
		if !seen[id] {
			delete(x.SearchMeta.Tokens, id)
		}
	}
}

// Validate never fails: Normalize repairs everything an index can carry.
func (x *Index) Validate() error {
	return nil
}

// Find returns the entry for id.
func (x *Index) Find(id string) (IndexEntry, bool) {
	for _, e := range x.Snapshots {
		if e.ID == id {
			return e, true
		}
	}
	return IndexEntry{}, false
}

// Upsert inserts or replaces the entry and search tokens for s.
func (x *Index) Upsert(s *Snapshot) {
	entry := EntryFromSnapshot(s)
	replaced := false
	for i := range x.Snapshots {
		if x.Snapshots[i].ID == s.ID {
			x.Snapshots[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		x.Snapshots = append(x.Snapshots, entry)
	}
	if x.SearchMeta.Tokens == nil {
		x.SearchMeta.Tokens = map[string]string{}
	}
	x.SearchMeta.Tokens[s.ID] = s.SearchBlob()
	x.sort()
}

// Remove drops id and reports whether it was present.
func (x *Index) Remove(id string) bool {
	for i := range x.Snapshots {
		if x.Snapshots[i].ID == id {
			x.Snapshots = append(x.Snapshots[:i], x.Snapshots[i+1:]...)
			delete(x.SearchMeta.Tokens, id)
			return true
		}
	}
	return false
}

// IDs returns the snapshot ids in index order.
func (x *Index) IDs() []string {
	ids := make([]string, len(x.Snapshots))
	for i, e := range x.Snapshots {
		ids[i] = e.ID
	}
	return ids
}

// Newest first, id as tie breaker so the order is stable across rebuilds.
func (x *Index) sort() {
	sort.SliceStable(x.Snapshots, func(i, j int) bool {
		a, b := x.Snapshots[i], x.Snapshots[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
