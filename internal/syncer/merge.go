package syncer

import (
	"time"

	"github.com/google/uuid"
	"github.com/pders01/ctxsnap/internal/models"
)

// Decision is the outcome of comparing one local snapshot with its pulled
// remote copy. Decide performs no I/O; the engine acts on the result.
type Decision int

const (
	// DecisionSkip means both sides hold the same content.
	DecisionSkip Decision = iota
	// DecisionTakeRemote replaces the local copy with the remote one.
	DecisionTakeRemote
	// DecisionKeepLocal keeps the local copy; it will be pushed.
	DecisionKeepLocal
	// DecisionConflict means both sides changed since they last agreed.
	DecisionConflict
)

func (d Decision) String() string {
	switch d {
	case DecisionSkip:
		return "skip"
	case DecisionTakeRemote:
		return "take_remote"
	case DecisionKeepLocal:
		return "keep_local"
	case DecisionConflict:
		return "conflict"
	}
	return "unknown"
}

// Conflict reasons recorded in the queue.
const (
	ReasonBothChanged    = "both_changed_since_sync"
	ReasonSameRevDiffers = "same_rev_different_content"
)

// Decide compares local and remote against base, the revision both sides
// last agreed on. local may be nil when the snapshot only exists remotely.
//
// With a known base, each side counts as changed when its content hash
// differs from the base hash. Without one, the strictly higher rev wins and
// equal revs with different content conflict.
func Decide(local, remote *models.Snapshot, base models.SyncedRevision, hasBase bool) Decision {
	if local == nil {
		return DecisionTakeRemote
	}
	lh, rh := local.ContentHash(), remote.ContentHash()
	if lh == rh {
		return DecisionSkip
	}

	if hasBase && base.Hash != "" {
		localChanged := lh != base.Hash
		remoteChanged := rh != base.Hash
		switch {
		case !localChanged && remoteChanged:
			return DecisionTakeRemote
		case localChanged && !remoteChanged:
			return DecisionKeepLocal
		default:
			return DecisionConflict
		}
	}

	switch {
	case remote.Rev > local.Rev:
		return DecisionTakeRemote
	case local.Rev > remote.Rev:
		return DecisionKeepLocal
	default:
		return DecisionConflict
	}
}

// newConflict records both versions and picks the visible copy: the later
// updated_at, local on a tie. The visible copy's rev is one above both
// sides so it supersedes either lineage wherever it lands.
func newConflict(provider string, local, remote *models.Snapshot, reason string, at time.Time) (*models.Snapshot, models.SyncConflict, error) {
	ls, err := models.SideFromSnapshot(local)
	if err != nil {
		return nil, models.SyncConflict{}, err
	}
	rs, err := models.SideFromSnapshot(remote)
	if err != nil {
		return nil, models.SyncConflict{}, err
	}

	visibleSide, winner := models.SideLocal, local
	if remote.UpdatedAt.After(local.UpdatedAt) {
		visibleSide, winner = models.SideRemote, remote
	}
	visible := winner.Clone()
	visible.Rev = max(local.Rev, remote.Rev) + 1

	return visible, models.SyncConflict{
		ID:         uuid.NewString(),
		At:         at,
		Provider:   provider,
		SnapshotID: local.ID,
		Reason:     reason,
		Local:      ls,
		Remote:     rs,
		Visible:    visibleSide,
		Status:     models.ConflictPending,
	}, nil
}
