package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IDLayout is the timestamp layout snapshot ids are generated from.
const IDLayout = "20060102-150405"

// TodoCount is the fixed number of todo slots on a snapshot.
const TodoCount = 3

// Snapshot sources
const (
	SourceUser   = "user"
	SourceAuto   = "auto"
	SourceSync   = "sync"
	SourceImport = "import"
)

// Process is one entry of the captured process list.
type Process struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// RunningApp is one captured top-level application window.
type RunningApp struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	WindowTitle string `json:"window_title"`
}

// GitState is the repository state captured with a snapshot.
type GitState struct {
	Branch    string `json:"branch"`
	SHA       string `json:"sha"`
	Dirty     bool   `json:"dirty"`
	Changed   int    `json:"changed"`
	Staged    int    `json:"staged"`
	Untracked int    `json:"untracked"`
}

// Snapshot is a single captured work context, stored as snapshots/<id>.json.
type Snapshot struct {
	SchemaVersion   int               `json:"schema_version"`
	Rev             int               `json:"rev"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	CreatedAt       time.Time         `json:"created_at"`
	Root            string            `json:"root"`
	Workspace       string            `json:"vscode_workspace,omitempty"`
	Note            string            `json:"note"`
	Todos           [TodoCount]string `json:"todos"`
	Tags            []string          `json:"tags"`
	Pinned          bool              `json:"pinned"`
	Archived        bool              `json:"archived"`
	RecentFiles     []string          `json:"recent_files"`
	Processes       []Process         `json:"processes"`
	RunningApps     []RunningApp      `json:"running_apps"`
	GitState        GitState          `json:"git_state"`
	Sensitive       json.RawMessage   `json:"sensitive,omitempty"`
	Source          string            `json:"source,omitempty"`
	Trigger         string            `json:"trigger,omitempty"`
	AutoFingerprint string            `json:"auto_fingerprint,omitempty"`
}

// NewSnapshot returns a snapshot with a generated id and the current schema.
func NewSnapshot(title, root string, now time.Time) *Snapshot {
	now = now.UTC().Truncate(time.Second)
	return &Snapshot{
		SchemaVersion: SnapshotSchemaVersion,
		ID:            now.Format(IDLayout),
		Title:         title,
		CreatedAt:     now,
		UpdatedAt:     now,
		Root:          root,
		Source:        SourceUser,
	}
}

// Normalize fills nil slices, de-duplicates tags keeping the first
// occurrence, and compacts the sensitive envelope. Tags are case-sensitive.
func (s *Snapshot) Normalize() {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SnapshotSchemaVersion
	}
	for i := range s.Todos {
		s.Todos[i] = strings.TrimSpace(s.Todos[i])
	}
	s.Tags = dedupe(s.Tags)
	if s.RecentFiles == nil {
		s.RecentFiles = []string{}
	}
	if s.Processes == nil {
		s.Processes = []Process{}
	}
	if s.RunningApps == nil {
		s.RunningApps = []RunningApp{}
	}
	if len(s.Sensitive) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, s.Sensitive); err == nil {
			s.Sensitive = buf.Bytes()
		}
	}
}

// Validate checks the fields the store relies on.
func (s *Snapshot) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	if !ValidID(s.ID) {
		return fmt.Errorf("invalid snapshot id %q", s.ID)
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("snapshot %s: title is required", s.ID)
	}
	if s.Rev < 0 {
		return fmt.Errorf("snapshot %s: negative rev %d", s.ID, s.Rev)
	}
	return nil
}

// ValidID reports whether id is usable as a snapshot file name.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\:`)
}

// HasTag reports whether tag is present, case-sensitively.
func (s *Snapshot) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Tags = append([]string(nil), s.Tags...)
	c.RecentFiles = append([]string(nil), s.RecentFiles...)
	c.Processes = append([]Process(nil), s.Processes...)
	c.RunningApps = append([]RunningApp(nil), s.RunningApps...)
	if s.Sensitive != nil {
		c.Sensitive = append(json.RawMessage(nil), s.Sensitive...)
	}
	return &c
}

// ContentHash is the SHA-256 of the snapshot's canonical JSON with the
// store-assigned fields (rev, updated_at, schema_version) cleared. Two
// copies with the same content hash differ only in bookkeeping.
func (s *Snapshot) ContentHash() string {
	c := s.Clone()
	c.Normalize()
	c.Rev = 0
	c.UpdatedAt = time.Time{}
	c.SchemaVersion = 0
	data, err := CanonicalJSON(c)
	if err != nil {
		// Marshal of a plain struct only fails on invalid RawMessage.
		data = []byte(fmt.Sprintf("%s|%v", c.ID, err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint identifies a capture by what the user would recognise as the
// same context, for skipping duplicate automatic snapshots.
func (s *Snapshot) Fingerprint() string {
	h := sha256.New()
	fields := []string{s.Root, s.Title, s.Note}
	fields = append(fields, s.Todos[:]...)
	fields = append(fields, s.Tags...)
	fields = append(fields, s.RecentFiles...)
	fields = append(fields, s.GitState.SHA, fmt.Sprint(s.GitState.Dirty))
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SearchBlob is the lowercased text the index caches for keyword search.
func (s *Snapshot) SearchBlob() string {
	var parts []string
	add := func(v string) {
		if v != "" {
			parts = append(parts, v)
		}
	}
	add(s.Note)
	for _, t := range s.Todos {
		add(t)
	}
	for _, f := range s.RecentFiles {
		add(f)
	}
	for _, p := range s.Processes {
		add(p.Name)
	}
	for _, p := range s.Processes {
		add(p.Path)
	}
	for _, a := range s.RunningApps {
		add(a.Name)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// CanonicalJSON marshals v with object keys sorted at every level.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys, so a round trip through any is canonical.
	return json.Marshal(generic)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
