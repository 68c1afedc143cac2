package models

// Kind names a document type persisted by the store.
type Kind string

const (
	KindSnapshot       Kind = "snapshot"
	KindIndex          Kind = "index"
	KindSettings       Kind = "settings"
	KindSyncState      Kind = "sync_state"
	KindSyncConflicts  Kind = "sync_conflicts"
	KindRestoreHistory Kind = "restore_history"
)

// Current schema versions, one per kind.
const (
	SnapshotSchemaVersion       = 2
	IndexSchemaVersion          = 2
	SettingsSchemaVersion       = 2
	SyncStateSchemaVersion      = 2
	SyncConflictsSchemaVersion  = 2
	RestoreHistorySchemaVersion = 1
)

// Kinds lists every kind in the order the store locks them.
var Kinds = []Kind{
	KindSettings,
	KindSnapshot,
	KindIndex,
	KindSyncConflicts,
	KindSyncState,
	KindRestoreHistory,
}

// CurrentVersion returns the schema version new documents of k are written at.
func (k Kind) CurrentVersion() int {
	switch k {
	case KindSnapshot:
		return SnapshotSchemaVersion
	case KindIndex:
		return IndexSchemaVersion
	case KindSettings:
		return SettingsSchemaVersion
	case KindSyncState:
		return SyncStateSchemaVersion
	case KindSyncConflicts:
		return SyncConflictsSchemaVersion
	case KindRestoreHistory:
		return RestoreHistorySchemaVersion
	}
	return 0
}

// Revisioned reports whether the store assigns rev and updated_at on save.
func (k Kind) Revisioned() bool {
	return k == KindSnapshot || k == KindIndex
}

// Singleton reports whether k has exactly one document per root.
func (k Kind) Singleton() bool {
	return k != KindSnapshot
}

// Document is implemented by every record the store persists.
type Document interface {
	// Normalize repairs values a hand-edited or older file may carry.
	Normalize()
	Validate() error
}
