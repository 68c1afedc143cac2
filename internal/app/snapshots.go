package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/git"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/search"
	"github.com/pders01/ctxsnap/internal/store"
	"github.com/spf13/afero"
)

// ErrTodosRequired rejects a manual capture with an empty todo slot while
// capture_enforce_todos is on.
var ErrTodosRequired = errors.New("all three todos are required")

// CaptureInput is what the user (or the auto-capture trigger) supplies.
type CaptureInput struct {
	Title       string
	Root        string
	Workspace   string
	Note        string
	Todos       [models.TodoCount]string
	Tags        []string
	RecentFiles []string
	Source      string
	Trigger     string
	// ProbeGit records the repository state of Root.
	ProbeGit bool
}

// Capture creates and stores a new snapshot. An automatic capture whose
// fingerprint equals the newest automatic snapshot of the same root is
// skipped; the second result reports the skip.
func (a *App) Capture(ctx context.Context, in CaptureInput) (*models.Snapshot, bool, error) {
	settings, err := a.Store.LoadSettings()
	if err != nil {
		return nil, false, err
	}
	if in.Source == "" {
		in.Source = models.SourceUser
	}
	if in.Source != models.SourceAuto && settings.CaptureEnforceTodos {
		for _, t := range in.Todos {
			if strings.TrimSpace(t) == "" {
				return nil, false, ErrTodosRequired
			}
		}
	}

	snap := models.NewSnapshot(strings.TrimSpace(in.Title), in.Root, a.now())
	snap.Workspace = in.Workspace
	snap.Note = in.Note
	snap.Todos = in.Todos
	snap.Tags = in.Tags
	snap.RecentFiles = limit(in.RecentFiles, settings.RecentFilesLimit)
	snap.Source = in.Source
	snap.Trigger = in.Trigger
	if in.ProbeGit && in.Root != "" {
		state, err := git.Probe(ctx, in.Root)
		if err != nil {
			a.Logger.Debug("git_probe_skipped", "root", in.Root, "err", err)
		} else {
			snap.GitState = state
		}
	}
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return nil, false, err
	}

	if snap.Source == models.SourceAuto {
		snap.AutoFingerprint = snap.Fingerprint()
		prev, dup, err := a.Store.FindByFingerprint(snap.Root, snap.AutoFingerprint)
		if err != nil {
			return nil, false, err
		}
		if dup {
			a.Logger.Debug("auto_capture_skipped", "root", snap.Root, "same_as", prev.ID)
			return nil, true, nil
		}
	}

	a.ids.Lock()
	defer a.ids.Unlock()
	base := snap.ID
	for n := 2; ; n++ {
		exists, err := afero.Exists(a.Store.Fs(), a.Store.Path(models.KindSnapshot, snap.ID))
		if err != nil {
			return nil, false, err
		}
		if !exists {
			break
		}
		snap.ID = fmt.Sprintf("%s-%d", base, n)
	}

	if err := a.Store.SaveSnapshot(snap); err != nil {
		return nil, false, err
	}
	a.Logger.Info("snapshot_captured", "id", snap.ID, "source", snap.Source, "rev", snap.Rev)
	return snap, false, nil
}

func limit(files []string, n int) []string {
	if n > 0 && len(files) > n {
		return files[:n]
	}
	return files
}

// Resolve maps an id or an unambiguous id prefix to a snapshot id.
func (a *App) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("snapshot id is required")
	}
	ids, err := a.Store.SnapshotIDs()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
		if strings.HasPrefix(id, ref) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("snapshot %q: %w", ref, errs.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("snapshot %q is ambiguous: %s", ref, strings.Join(matches, ", "))
}

// Get resolves ref and loads the snapshot.
func (a *App) Get(ref string) (*models.Snapshot, error) {
	id, err := a.Resolve(ref)
	if err != nil {
		return nil, err
	}
	snap, ok, err := a.Store.LoadSnapshot(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("snapshot %q: %w", id, errs.ErrNotFound)
	}
	return snap, nil
}

// Update applies fn to the snapshot and stores it with the next rev.
func (a *App) Update(ref string, fn func(s *models.Snapshot) error) (*models.Snapshot, error) {
	snap, err := a.Get(ref)
	if err != nil {
		return nil, err
	}
	if err := fn(snap); err != nil {
		return nil, err
	}
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := a.Store.SaveSnapshot(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Delete removes the snapshot and its index entry.
func (a *App) Delete(ref string) (string, error) {
	id, err := a.Resolve(ref)
	if err != nil {
		return "", err
	}
	if err := a.Store.DeleteSnapshot(id); err != nil {
		return "", err
	}
	a.Logger.Info("snapshot_deleted", "id", id)
	return id, nil
}

// Search runs a keyword or field query against the index.
func (a *App) Search(query string) ([]search.Result, error) {
	settings, err := a.Store.LoadSettings()
	if err != nil {
		return nil, err
	}
	x, err := a.Store.LoadIndex()
	if err != nil {
		return nil, err
	}
	q := search.Parse(query, settings.Search.EnableFieldQuery)
	return search.Run(q, x, func(id string) (*models.Snapshot, error) {
		snap, _, err := a.Store.LoadSnapshot(id)
		return snap, err
	})
}

// PruneCandidate is one snapshot considered by Prune.
type PruneCandidate struct {
	Entry  models.IndexEntry
	Age    time.Duration
	Reason string
}

type PruneOptions struct {
	Days         int
	PreserveTags []string
	DryRun       bool
}

type PruneReport struct {
	Cutoff  time.Time
	Pruned  []PruneCandidate
	Kept    []PruneCandidate
	Applied bool
}

// Prune deletes snapshots created before the retention cutoff. Pinned
// snapshots and snapshots carrying a preserve tag are kept regardless of
// age.
func (a *App) Prune(ctx context.Context, opts PruneOptions) (*PruneReport, error) {
	if opts.Days <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", opts.Days)
	}
	now := a.now()
	report := &PruneReport{Cutoff: now.AddDate(0, 0, -opts.Days)}

	x, err := a.Store.LoadIndex()
	if err != nil {
		return nil, err
	}
	for _, e := range x.Snapshots {
		c := PruneCandidate{Entry: e, Age: now.Sub(e.CreatedAt)}
		switch {
		case e.Pinned:
			c.Reason = "pinned"
		case preserved(e.Tags, opts.PreserveTags):
			c.Reason = "has preserve tag"
		case e.CreatedAt.Before(report.Cutoff):
			c.Reason = fmt.Sprintf("older than %d days", opts.Days)
			report.Pruned = append(report.Pruned, c)
			continue
		default:
			c.Reason = "within retention period"
		}
		report.Kept = append(report.Kept, c)
	}

	if opts.DryRun || len(report.Pruned) == 0 {
		return report, nil
	}
	ids := make([]string, len(report.Pruned))
	for i, c := range report.Pruned {
		ids[i] = c.Entry.ID
	}
	err = a.Store.Exclusive(ctx, func(tx *store.Tx) error {
		return tx.DeleteSnapshots(ids...)
	})
	if err != nil {
		return nil, err
	}
	report.Applied = true
	a.Logger.Info("prune_done", "deleted", len(ids), "cutoff", report.Cutoff.Format(time.DateOnly))
	return report, nil
}

func preserved(tags, keep []string) bool {
	for _, t := range tags {
		if slices.Contains(keep, t) {
			return true
		}
	}
	return false
}

type TagCount struct {
	Tag   string
	Count int
}

// TagCounts counts tag usage across the index, most used first. Tags from
// the settings vocabulary that no snapshot uses are listed with zero.
func (a *App) TagCounts() ([]TagCount, error) {
	x, err := a.Store.LoadIndex()
	if err != nil {
		return nil, err
	}
	settings, err := a.Store.LoadSettings()
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, t := range settings.Tags {
		counts[t] = 0
	}
	for _, e := range x.Snapshots {
		for _, t := range e.Tags {
			counts[t]++
		}
	}
	out := make([]TagCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TagCount{Tag: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

// RenameTag replaces from with to on every snapshot and in the settings
// vocabulary. It returns the ids of the changed snapshots.
func (a *App) RenameTag(ctx context.Context, from, to string) ([]string, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return nil, fmt.Errorf("both tag names are required")
	}
	if from == to {
		return nil, nil
	}
	snaps, err := a.Store.LoadAllSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	var changed []*models.Snapshot
	var ids []string
	for _, s := range snaps {
		if !s.HasTag(from) {
			continue
		}
		for i, t := range s.Tags {
			if t == from {
				s.Tags[i] = to
			}
		}
		s.Normalize()
		changed = append(changed, s)
		ids = append(ids, s.ID)
	}

	err = a.Store.Exclusive(ctx, func(tx *store.Tx) error {
		settings, err := tx.LoadSettings()
		if err != nil {
			return err
		}
		if i := slices.Index(settings.Tags, from); i >= 0 {
			settings.Tags[i] = to
			settings.Normalize()
			if err := tx.SaveSettings(settings); err != nil {
				return err
			}
		}
		if len(changed) == 0 {
			return nil
		}
		return tx.SaveSnapshots(changed...)
	})
	if err != nil {
		return nil, err
	}
	a.Logger.Info("tag_renamed", "from", from, "to", to, "snapshots", len(ids))
	return ids, nil
}

// Stats summarises the index.
type Stats struct {
	Total    int
	Pinned   int
	Archived int
	BySource map[string]int
	ByRoot   map[string]int
	Oldest   time.Time
	Newest   time.Time
	Pending  int
	LastSync time.Time
}

func (a *App) Stats() (*Stats, error) {
	x, err := a.Store.LoadIndex()
	if err != nil {
		return nil, err
	}
	st := &Stats{BySource: map[string]int{}, ByRoot: map[string]int{}}
	for _, e := range x.Snapshots {
		st.Total++
		if e.Pinned {
			st.Pinned++
		}
		if e.Archived {
			st.Archived++
		}
		src := e.Source
		if src == "" {
			src = models.SourceUser
		}
		st.BySource[src]++
		if e.Root != "" {
			st.ByRoot[e.Root]++
		}
		if st.Oldest.IsZero() || e.CreatedAt.Before(st.Oldest) {
			st.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(st.Newest) {
			st.Newest = e.CreatedAt
		}
	}

	q, err := a.Store.LoadConflicts()
	if err != nil {
		return nil, err
	}
	st.Pending = len(q.Pending())
	state, err := a.Store.LoadSyncState()
	if err != nil {
		return nil, err
	}
	st.LastSync = state.LastSyncAt
	return st, nil
}
