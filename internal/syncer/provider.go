// Package syncer reconciles the local snapshot set with a sync provider.
//
// One cycle pulls remote changes since the stored cursor, merges them
// against local snapshots using the last synced revision as the common
// base, pushes what the provider has not seen, and only then commits the
// merged documents, the conflict queue and the new cursor. A failure at any
// step leaves the store and the cursor exactly as they were.
package syncer

import (
	"context"

	"github.com/pders01/ctxsnap/internal/models"
)

// Provider is a remote snapshot set addressed by an opaque cursor.
type Provider interface {
	Name() string
	// Pull returns the snapshots changed after cursor. An empty or unknown
	// cursor asks for everything.
	Pull(ctx context.Context, cursor string) (PullResult, error)
	// Push stores docs remotely and reports the rev acknowledged per id.
	Push(ctx context.Context, docs []*models.Snapshot) (PushResult, error)
}

type PullResult struct {
	Changes []*models.Snapshot
	Cursor  string
}

// PushResult reports what the provider accepted. Cursor is the remote
// position after the push and is informational: the engine commits the
// pull cursor, so its own pushes come back on the next pull and merge as
// no-ops. An empty Cursor means the provider does not report one.
type PushResult struct {
	Acked  map[string]int
	Cursor string
}
