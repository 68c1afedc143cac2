package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/store"
)

// LockFile is the cross-process sync lock under the storage root.
const LockFile = ".sync.lock"

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// State is a step of the sync state machine.
type State int

const (
	StateIdle State = iota
	StatePulling
	StateMerging
	StatePushing
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulling:
		return "pulling"
	case StateMerging:
		return "merging"
	case StatePushing:
		return "pushing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Transition is delivered to observers on every state change. Err is set
// on the transition into StateFailed.
type Transition struct {
	From State
	To   State
	Err  error
}

type Observer func(Transition)

// Result summarises a committed cycle.
type Result struct {
	Provider  string `json:"provider"`
	Cursor    string `json:"cursor"`
	Pulled    int    `json:"pulled"`
	Applied   int    `json:"applied"`
	Pushed    int    `json:"pushed"`
	Conflicts int    `json:"conflicts"`
	Snapshots int    `json:"snapshots"`
}

// Engine runs sync cycles against one provider.
type Engine struct {
	store    *store.Store
	provider Provider
	logger   *log.Logger
	timeout  time.Duration
	lockPath string

	mu        sync.Mutex
	state     State
	observers []Observer
}

type Option func(*Engine)

// WithTimeout sets the per-call provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

func New(st *store.Store, p Provider, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		provider: p,
		timeout:  DefaultTimeout,
		lockPath: filepath.Join(st.Root(), LockFile),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = st.Logger().WithPrefix("sync")
	}
	return e
}

func (e *Engine) Provider() Provider {
	return e.provider
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Observe registers o for later transitions.
func (e *Engine) Observe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) transition(to State, err error) {
	e.mu.Lock()
	t := Transition{From: e.state, To: to, Err: err}
	e.state = to
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	for _, o := range observers {
		o(t)
	}
}

// Sync runs one full cycle. Another cycle holding the sync lock, in this
// process or another, makes it fail fast with errs.ErrLockContention.
func (e *Engine) Sync(ctx context.Context) (Result, error) {
	lock := flock.New(e.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return Result{Provider: e.provider.Name()}, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !locked {
		return Result{Provider: e.provider.Name()}, errs.ErrLockContention
	}
	defer func() { _ = lock.Unlock() }()

	res, err := e.cycle(ctx)
	if err != nil {
		e.transition(StateFailed, err)
		e.logger.Error("sync_failed", "provider", res.Provider, "err", err, "retryable", errs.Retryable(err))
		e.transition(StateIdle, nil)
		return res, err
	}

	e.transition(StateCommitted, nil)
	e.logger.Info("sync_committed", "provider", res.Provider, "cursor", res.Cursor,
		"pulled", res.Pulled, "applied", res.Applied, "pushed", res.Pushed, "conflicts", res.Conflicts)
	e.transition(StateIdle, nil)
	return res, nil
}

// plan is the outcome of a merge, applied only at commit.
type plan struct {
	local     map[string]*models.Snapshot
	read      map[string]models.SyncedRevision
	writes    []*models.Snapshot
	conflicts []models.SyncConflict
	synced    map[string]models.SyncedRevision
	outgoing  []*models.Snapshot
}

func (p *plan) write(s *models.Snapshot) {
	p.writes = append(p.writes, s)
	p.local[s.ID] = s
}

func (e *Engine) cycle(ctx context.Context) (Result, error) {
	name := e.provider.Name()
	res := Result{Provider: name}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	state, err := e.store.LoadSyncState()
	if err != nil {
		return res, err
	}
	if state.Provider != name {
		// Cursors and acknowledgements belong to one provider.
		state.Cursor = ""
		state.Synced = map[string]models.SyncedRevision{}
	}

	e.transition(StatePulling, nil)
	e.logger.Info("sync_pull", "provider", name, "cursor", state.Cursor)
	pulled, err := e.pull(ctx, state.Cursor)
	if err != nil {
		return res, err
	}
	res.Pulled = len(pulled.Changes)

	e.transition(StateMerging, nil)
	p, err := e.merge(ctx, state, pulled.Changes)
	if err != nil {
		return res, err
	}

	e.transition(StatePushing, nil)
	pushed, err := e.push(ctx, p.outgoing)
	if err != nil {
		return res, err
	}

	if err := e.commit(ctx, state, p, pushed, pulled.Cursor); err != nil {
		return res, err
	}

	res.Cursor = pulled.Cursor
	res.Applied = len(p.writes)
	res.Pushed = len(pushed.Acked)
	res.Conflicts = len(p.conflicts)
	res.Snapshots = len(p.local)
	return res, nil
}

func (e *Engine) pull(ctx context.Context, cursor string) (PullResult, error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.provider.Pull(cctx, cursor)
	if err != nil {
		return PullResult{}, e.providerErr(ctx, "pull", err)
	}
	return res, nil
}

func (e *Engine) push(ctx context.Context, docs []*models.Snapshot) (PushResult, error) {
	if len(docs) == 0 {
		return PushResult{Acked: map[string]int{}}, nil
	}
	if err := ctx.Err(); err != nil {
		return PushResult{}, err
	}
	e.logger.Info("sync_push", "provider", e.provider.Name(), "count", len(docs))

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.provider.Push(cctx, docs)
	if err != nil {
		return PushResult{}, e.providerErr(ctx, "push", err)
	}
	if res.Acked == nil {
		res.Acked = map[string]int{}
	}
	e.logger.Debug("sync_pushed", "provider", e.provider.Name(), "acked", len(res.Acked), "remote_cursor", res.Cursor)
	return res, nil
}

// providerErr keeps caller cancellation and schema errors distinct from
// provider failures.
func (e *Engine) providerErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("sync %s: %w", op, ctx.Err())
	}
	if errors.Is(err, errs.ErrUnsupportedSchema) {
		return err
	}
	return errs.NewProviderError(e.provider.Name(), op, err)
}

func (e *Engine) merge(ctx context.Context, state *models.SyncState, changes []*models.Snapshot) (*plan, error) {
	locals, err := e.store.LoadAllSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := e.store.LoadConflicts()
	if err != nil {
		return nil, err
	}

	p := &plan{
		local:  make(map[string]*models.Snapshot, len(locals)),
		read:   make(map[string]models.SyncedRevision, len(locals)),
		synced: make(map[string]models.SyncedRevision, len(changes)),
	}
	for _, s := range locals {
		p.local[s.ID] = s
		p.read[s.ID] = models.SyncedRevision{Rev: s.Rev, Hash: s.ContentHash()}
	}

	remotes := append([]*models.Snapshot(nil), changes...)
	sort.Slice(remotes, func(i, j int) bool { return remotes[i].ID < remotes[j].ID })

	remoteHash := make(map[string]string, len(remotes))
	forced := make(map[string]bool)
	now := e.store.Now()

	for _, remote := range remotes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := remote.ID
		rh := remote.ContentHash()
		remoteHash[id] = rh
		p.synced[id] = models.SyncedRevision{Rev: remote.Rev, Hash: rh}

		local := p.local[id]
		base, hasBase := state.Synced[id]
		decision := Decide(local, remote, base, hasBase)
		e.logger.Debug("sync_merge", "id", id, "decision", decision)

		switch decision {
		case DecisionTakeRemote:
			p.write(remote.Clone())
		case DecisionConflict:
			reason := ReasonSameRevDiffers
			if hasBase && base.Hash != "" {
				reason = ReasonBothChanged
			}
			visible, c, err := newConflict(e.provider.Name(), local, remote, reason, now)
			if err != nil {
				return nil, err
			}
			if queue.HasPending(id, c.Local.Hash, c.Remote.Hash) {
				e.logger.Debug("sync_conflict_known", "id", id)
			} else {
				p.conflicts = append(p.conflicts, c)
				e.logger.Warn("sync_conflict", "id", id, "reason", reason,
					"local_rev", local.Rev, "remote_rev", remote.Rev, "visible", c.Visible)
			}
			p.write(visible)
			forced[id] = true
		}
	}

	ids := make([]string, 0, len(p.local))
	for id := range p.local {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := p.local[id]
		if !forced[id] {
			h := s.ContentHash()
			if rh, ok := remoteHash[id]; ok && rh == h {
				continue
			}
			if b, ok := state.Synced[id]; ok && b.Hash == h {
				if _, pulledNow := remoteHash[id]; !pulledNow {
					continue
				}
			}
		}
		p.outgoing = append(p.outgoing, s)
	}
	return p, nil
}

// commit applies the plan in one exclusive batch. Snapshots changed on
// disk since the merge read them abort the commit with
// errs.ErrConcurrentEdit; the next cycle merges the new content. Every file
// the batch touches is checkpointed first, and a failed write puts them all
// back so the retry sees the same local edits.
func (e *Engine) commit(ctx context.Context, state *models.SyncState, p *plan, pushed PushResult, cursor string) error {
	return e.store.Exclusive(ctx, func(tx *store.Tx) error {
		for _, s := range p.writes {
			disk, ok, err := tx.LoadSnapshot(s.ID)
			if err != nil {
				return err
			}
			var current models.SyncedRevision
			if ok {
				current = models.SyncedRevision{Rev: disk.Rev, Hash: disk.ContentHash()}
			}
			if current != p.read[s.ID] {
				return fmt.Errorf("snapshot %s: %w", s.ID, errs.ErrConcurrentEdit)
			}
		}

		rels := []string{
			store.Rel(models.KindSyncConflicts, ""),
			store.Rel(models.KindIndex, ""),
			store.Rel(models.KindSettings, ""),
			store.Rel(models.KindSyncState, ""),
		}
		for _, s := range p.writes {
			rels = append(rels, store.Rel(models.KindSnapshot, s.ID))
		}
		cp, err := tx.Checkpoint(rels...)
		if err != nil {
			return err
		}

		if err := e.apply(tx, state, p, pushed, cursor); err != nil {
			if rbErr := cp.Rollback(); rbErr != nil {
				e.logger.Error("sync_rollback", "err", err, "rollback_err", rbErr)
				return errors.Join(err, fmt.Errorf("rollback incomplete: %w", rbErr))
			}
			e.logger.Warn("sync_rollback", "err", err)
			return err
		}
		return nil
	})
}

// apply writes the conflict queue before the visible copies it explains,
// then the merged snapshots, the cursor mirror in settings and the state.
func (e *Engine) apply(tx *store.Tx, state *models.SyncState, p *plan, pushed PushResult, cursor string) error {
	if len(p.conflicts) > 0 {
		q, err := tx.LoadConflicts()
		if err != nil {
			return err
		}
		q.Conflicts = append(append([]models.SyncConflict(nil), p.conflicts...), q.Conflicts...)
		if err := tx.SaveConflicts(q); err != nil {
			return err
		}
	}

	if err := tx.ReplaceSnapshots(p.writes...); err != nil {
		return err
	}

	settings, err := tx.LoadSettings()
	if err != nil {
		return err
	}
	if settings.Sync.LastCursor != cursor {
		settings.Sync.LastCursor = cursor
		if err := tx.SaveSettings(settings); err != nil {
			return err
		}
	}

	synced := make(map[string]models.SyncedRevision, len(state.Synced)+len(p.synced))
	for id, rev := range state.Synced {
		synced[id] = rev
	}
	for id, rev := range p.synced {
		synced[id] = rev
	}
	for _, s := range p.outgoing {
		if rev, ok := pushed.Acked[s.ID]; ok {
			synced[s.ID] = models.SyncedRevision{Rev: rev, Hash: s.ContentHash()}
		}
	}
	next := *state
	next.Synced = synced
	next.Provider = e.provider.Name()
	next.Cursor = cursor
	next.LastSyncAt = e.store.Now()
	next.SnapshotCount = len(p.local)
	next.ConflictCount = len(p.conflicts)
	return tx.SaveSyncState(&next)
}

// ResolveConflict makes the kept side of a pending conflict the current
// snapshot with a fresh rev, and marks the conflict resolved. The next
// cycle pushes the result.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID, keep string) (*models.Snapshot, error) {
	if keep != models.SideLocal && keep != models.SideRemote {
		return nil, fmt.Errorf("keep must be %q or %q, got %q", models.SideLocal, models.SideRemote, keep)
	}

	var out *models.Snapshot
	err := e.store.Exclusive(ctx, func(tx *store.Tx) error {
		q, err := tx.LoadConflicts()
		if err != nil {
			return err
		}
		c, ok := q.Find(conflictID)
		if !ok {
			return fmt.Errorf("conflict %q: %w", conflictID, errs.ErrNotFound)
		}
		if !c.Pending() {
			return fmt.Errorf("conflict %s is already resolved", c.ID)
		}

		side := c.Local
		if keep == models.SideRemote {
			side = c.Remote
		}
		snap, err := side.Snapshot()
		if err != nil {
			return err
		}
		snap.Rev = max(c.Local.Rev, c.Remote.Rev)
		if disk, ok, err := tx.LoadSnapshot(c.SnapshotID); err != nil {
			return err
		} else if ok && disk.Rev > snap.Rev {
			snap.Rev = disk.Rev
		}
		if err := tx.SaveSnapshots(snap); err != nil {
			return err
		}

		now := e.store.Now()
		c.Status = models.ConflictResolved
		c.ResolvedAt = &now
		c.Resolution = keep
		if err := tx.SaveConflicts(q); err != nil {
			return err
		}
		out = snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("sync_conflict_resolved", "conflict", conflictID, "id", out.ID, "keep", keep, "rev", out.Rev)
	return out, nil
}
