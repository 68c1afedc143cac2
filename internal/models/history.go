package models

import "time"

// MaxRestoreHistory bounds restore_history.json.
const MaxRestoreHistory = 200

// RestoreEntry records one restore action.
type RestoreEntry struct {
	At         time.Time      `json:"at"`
	SnapshotID string         `json:"snapshot_id"`
	Profile    string         `json:"profile,omitempty"`
	Choices    RestoreOptions `json:"choices"`
}

// RestoreHistory is the restore log, newest first.
type RestoreHistory struct {
	SchemaVersion int            `json:"schema_version"`
	Restores      []RestoreEntry `json:"restores"`
}

func DefaultRestoreHistory() *RestoreHistory {
	return &RestoreHistory{
		SchemaVersion: RestoreHistorySchemaVersion,
		Restores:      []RestoreEntry{},
	}
}

func (h *RestoreHistory) Normalize() {
	if h.SchemaVersion == 0 {
		h.SchemaVersion = RestoreHistorySchemaVersion
	}
	if h.Restores == nil {
		h.Restores = []RestoreEntry{}
	}
	if len(h.Restores) > MaxRestoreHistory {
		h.Restores = h.Restores[:MaxRestoreHistory]
	}
}

func (h *RestoreHistory) Validate() error {
	return nil
}

// Prepend adds e as the newest entry.
func (h *RestoreHistory) Prepend(e RestoreEntry) {
	h.Restores = append([]RestoreEntry{e}, h.Restores...)
	h.Normalize()
}
