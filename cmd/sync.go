package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pders01/ctxsnap/internal/app"
	"github.com/pders01/ctxsnap/internal/config"
	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/store"
	"github.com/pders01/ctxsnap/internal/syncer"
	"github.com/pders01/ctxsnap/internal/ui"
	"github.com/spf13/cobra"
)

var (
	syncJSON     bool
	syncInterval time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronise snapshots with the configured provider",
	Long: `Pull remote changes, merge them by revision, push local changes and
commit the new cursor. Snapshots edited on both sides are queued as
conflicts with both versions kept; see "ctxsnap conflicts".

Sync is off until dev_flags.sync_enabled is set:
  ctxsnap settings set dev_flags.sync_enabled true`,
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync cycle",
	RunE:  runSyncRun,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the provider, cursor and last sync time",
	RunE:  runSyncStatus,
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync on an interval and whenever snapshots change",
	Long: `Run the background scheduler in the foreground until interrupted.

A cycle runs on every interval (default: sync.auto_interval_min from
settings) and shortly after snapshot files change. Failed cycles back off
exponentially between sync.backoff_base and sync.backoff_max.`,
	RunE: runSyncWatch,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncWatchCmd)

	syncRunCmd.Flags().BoolVar(&syncJSON, "json", false, "Output the result as JSON")
	syncStatusCmd.Flags().BoolVar(&syncJSON, "json", false, "Output as JSON")
	syncWatchCmd.Flags().DurationVar(&syncInterval, "interval", 0, "Override the sync interval")
}

func syncEngine(a *app.App) (*syncer.Engine, error) {
	s, err := a.Store.LoadSettings()
	if err != nil {
		return nil, err
	}
	if !s.DevFlags.SyncEnabled {
		return nil, fmt.Errorf("sync is disabled (run: ctxsnap settings set dev_flags.sync_enabled true)")
	}
	return a.Engine()
}

func printSyncResult(w io.Writer, res syncer.Result) {
	fmt.Fprintf(w, "%s with %s at cursor %s\n", ui.Success.Render("✓ Synced"), res.Provider, res.Cursor)
	ui.Fields(w,
		ui.Field{Key: "Pulled", Value: fmt.Sprint(res.Pulled)},
		ui.Field{Key: "Applied", Value: fmt.Sprint(res.Applied)},
		ui.Field{Key: "Pushed", Value: fmt.Sprint(res.Pushed)},
		ui.Field{Key: "Snapshots", Value: fmt.Sprint(res.Snapshots)},
	)
	if res.Conflicts > 0 {
		fmt.Fprintln(w, ui.Warn.Render(fmt.Sprintf("%d new conflict(s); see: ctxsnap conflicts list", res.Conflicts)))
	}
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := syncEngine(a)
	if err != nil {
		return err
	}
	res, err := e.Sync(commandContext(cmd))
	if err != nil {
		if errors.Is(err, errs.ErrLockContention) {
			return fmt.Errorf("another sync is running: %w", err)
		}
		if errs.Retryable(err) {
			return fmt.Errorf("%w (safe to retry)", err)
		}
		return err
	}
	if ok, err := emit(res, syncJSON, false); ok {
		return err
	}
	printSyncResult(stdout, res)
	return nil
}

type syncStatus struct {
	Enabled          bool      `json:"enabled"`
	Provider         string    `json:"provider"`
	Cursor           string    `json:"cursor"`
	LastSyncAt       time.Time `json:"last_sync_at"`
	SyncedSnapshots  int       `json:"synced_snapshots"`
	PendingConflicts int       `json:"pending_conflicts"`
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Store.LoadSettings()
	if err != nil {
		return err
	}
	state, err := a.Store.LoadSyncState()
	if err != nil {
		return err
	}
	q, err := a.Store.LoadConflicts()
	if err != nil {
		return err
	}

	status := syncStatus{
		Enabled:          s.DevFlags.SyncEnabled,
		Provider:         s.Sync.Provider,
		Cursor:           state.Cursor,
		LastSyncAt:       state.LastSyncAt,
		SyncedSnapshots:  len(state.Synced),
		PendingConflicts: len(q.Pending()),
	}
	if ok, err := emit(status, syncJSON, false); ok {
		return err
	}

	last := "never"
	if !status.LastSyncAt.IsZero() {
		last = status.LastSyncAt.Local().Format("2006-01-02 15:04:05")
	}
	enabled := ui.Success.Render("enabled")
	if !status.Enabled {
		enabled = ui.MutedText.Render("disabled")
	}
	if state.Provider != "" && state.Provider != s.Sync.Provider {
		fmt.Fprintf(stderr, "Warning: last sync used %s; the next cycle starts a full pull from %s\n", state.Provider, s.Sync.Provider)
	}
	ui.Fields(stdout,
		ui.Field{Key: "Sync", Value: enabled},
		ui.Field{Key: "Provider", Value: status.Provider},
		ui.Field{Key: "Cursor", Value: status.Cursor},
		ui.Field{Key: "Last sync", Value: last},
		ui.Field{Key: "Synced", Value: fmt.Sprintf("%d snapshot(s)", status.SyncedSnapshots)},
		ui.Field{Key: "Conflicts", Value: fmt.Sprintf("%d pending", status.PendingConflicts)},
	)
	return nil
}

func runSyncWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := syncEngine(a)
	if err != nil {
		return err
	}
	s, err := a.Store.LoadSettings()
	if err != nil {
		return err
	}
	interval := syncInterval
	if interval <= 0 {
		interval = time.Duration(s.Sync.AutoIntervalMin) * time.Minute
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watch(ctx, a, e, interval)
}

// lockedWriter serialises writes from the scheduler goroutine with the
// command's own output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// watch runs the scheduler until ctx is done.
func watch(ctx context.Context, a *app.App, r syncer.Runner, interval time.Duration) error {
	out := &lockedWriter{w: stdout}
	errOut := &lockedWriter{w: stderr}
	sched := syncer.NewScheduler(r, syncer.SchedulerConfig{
		Interval:    interval,
		Debounce:    config.GetDebounce(),
		BackoffBase: config.GetBackoffBase(),
		BackoffMax:  config.GetBackoffMax(),
		WatchDir:    filepath.Join(a.Store.Root(), store.SnapshotsDir),
		Logger:      a.Logger.WithPrefix("scheduler"),
		OnResult: func(res syncer.Result, err error) {
			if err != nil {
				fmt.Fprintf(errOut, "Warning: sync failed: %v\n", err)
				return
			}
			printSyncResult(out, res)
		},
	})

	fmt.Fprintf(out, "Watching %s (interval %s). Press Ctrl+C to stop.\n", a.Store.Root(), interval)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	sched.Trigger()

	<-ctx.Done()
	sched.Stop()
	return nil
}

// conflictSides decodes both retained versions of c.
func conflictSides(c *models.SyncConflict) (local, remote *models.Snapshot, err error) {
	if local, err = c.Local.Snapshot(); err != nil {
		return nil, nil, fmt.Errorf("local side: %w", err)
	}
	if remote, err = c.Remote.Snapshot(); err != nil {
		return nil, nil, fmt.Errorf("remote side: %w", err)
	}
	return local, remote, nil
}
