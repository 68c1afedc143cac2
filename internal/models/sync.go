package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncedRevision is what a provider last acknowledged for one snapshot.
type SyncedRevision struct {
	Rev  int    `json:"rev"`
	Hash string `json:"hash"`
}

// SyncState is the resumption point of the sync engine. Only the engine
// writes it, and only after a fully committed cycle.
type SyncState struct {
	SchemaVersion int                       `json:"schema_version"`
	Provider      string                    `json:"provider"`
	Cursor        string                    `json:"cursor"`
	LastSyncAt    time.Time                 `json:"last_sync_at"`
	Synced        map[string]SyncedRevision `json:"synced"`
	SnapshotCount int                       `json:"snapshot_count"`
	ConflictCount int                       `json:"conflict_count"`
}

func DefaultSyncState() *SyncState {
	return &SyncState{
		SchemaVersion: SyncStateSchemaVersion,
		Synced:        map[string]SyncedRevision{},
	}
}

func (s *SyncState) Normalize() {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SyncStateSchemaVersion
	}
	if s.Synced == nil {
		s.Synced = map[string]SyncedRevision{}
	}
}

func (s *SyncState) Validate() error {
	return nil
}

// Conflict statuses
const (
	ConflictPending  = "pending"
	ConflictResolved = "resolved"
)

// Sides of a conflict.
const (
	SideLocal  = "local"
	SideRemote = "remote"
)

// MaxConflicts bounds the conflict queue. Only resolved entries are trimmed.
const MaxConflicts = 500

// ConflictSide is one version of a diverged snapshot.
type ConflictSide struct {
	Rev       int             `json:"rev"`
	UpdatedAt time.Time       `json:"updated_at"`
	Hash      string          `json:"hash"`
	Document  json.RawMessage `json:"document,omitempty"`
}

// SideFromSnapshot captures s in full so either version can be restored.
func SideFromSnapshot(s *Snapshot) (ConflictSide, error) {
	doc, err := json.Marshal(s)
	if err != nil {
		return ConflictSide{}, fmt.Errorf("failed to encode snapshot %s: %w", s.ID, err)
	}
	return ConflictSide{
		Rev:       s.Rev,
		UpdatedAt: s.UpdatedAt,
		Hash:      s.ContentHash(),
		Document:  doc,
	}, nil
}

// Snapshot decodes the retained document.
func (c ConflictSide) Snapshot() (*Snapshot, error) {
	if len(c.Document) == 0 {
		return nil, fmt.Errorf("conflict side has no retained document")
	}
	var s Snapshot
	if err := json.Unmarshal(c.Document, &s); err != nil {
		return nil, fmt.Errorf("failed to decode retained document: %w", err)
	}
	s.Normalize()
	return &s, nil
}

// SyncConflict records a snapshot edited on both sides since the last sync.
type SyncConflict struct {
	ID         string       `json:"id"`
	At         time.Time    `json:"at"`
	Provider   string       `json:"provider"`
	SnapshotID string       `json:"snapshot_id"`
	Reason     string       `json:"reason"`
	Local      ConflictSide `json:"local"`
	Remote     ConflictSide `json:"remote"`
	Visible    string       `json:"visible"`
	Status     string       `json:"status"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
	Resolution string       `json:"resolution,omitempty"`
}

func (c *SyncConflict) Pending() bool {
	return c.Status != ConflictResolved
}

// SyncConflicts is the durable conflict queue, newest first.
type SyncConflicts struct {
	SchemaVersion int            `json:"schema_version"`
	Conflicts     []SyncConflict `json:"conflicts"`
}

func DefaultSyncConflicts() *SyncConflicts {
	return &SyncConflicts{
		SchemaVersion: SyncConflictsSchemaVersion,
		Conflicts:     []SyncConflict{},
	}
}

// Normalize trims resolved entries past MaxConflicts, oldest first.
// Pending entries are always kept.
func (q *SyncConflicts) Normalize() {
	if q.SchemaVersion == 0 {
		q.SchemaVersion = SyncConflictsSchemaVersion
	}
	if q.Conflicts == nil {
		q.Conflicts = []SyncConflict{}
	}
	excess := len(q.Conflicts) - MaxConflicts
	if excess <= 0 {
		return
	}
	kept := make([]SyncConflict, 0, len(q.Conflicts))
	for i := len(q.Conflicts) - 1; i >= 0; i-- {
		c := q.Conflicts[i]
		if excess > 0 && !c.Pending() {
			excess--
			continue
		}
		kept = append(kept, c)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	q.Conflicts = kept
}

func (q *SyncConflicts) Validate() error {
	for _, c := range q.Conflicts {
		if c.SnapshotID == "" {
			return fmt.Errorf("conflict %s has no snapshot id", c.ID)
		}
	}
	return nil
}

// Pending returns the unresolved conflicts in queue order.
func (q *SyncConflicts) Pending() []SyncConflict {
	var out []SyncConflict
	for _, c := range q.Conflicts {
		if c.Pending() {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the conflict with the given id or unique id prefix.
func (q *SyncConflicts) Find(id string) (*SyncConflict, bool) {
	var match *SyncConflict
	for i := range q.Conflicts {
		c := &q.Conflicts[i]
		if c.ID == id {
			return c, true
		}
		if len(id) >= 4 && len(c.ID) > len(id) && c.ID[:len(id)] == id {
			if match != nil {
				return nil, false
			}
			match = c
		}
	}
	return match, match != nil
}

// HasPending reports whether an identical pending conflict is queued.
func (q *SyncConflicts) HasPending(snapshotID, localHash, remoteHash string) bool {
	for _, c := range q.Conflicts {
		if c.Pending() && c.SnapshotID == snapshotID && c.Local.Hash == localHash && c.Remote.Hash == remoteHash {
			return true
		}
	}
	return false
}
