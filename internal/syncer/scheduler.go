package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/pders01/ctxsnap/internal/errs"
)

// Runner runs one sync cycle. *Engine implements it.
type Runner interface {
	Sync(ctx context.Context) (Result, error)
}

// SchedulerConfig configures a Scheduler. Zero durations fall back to the
// defaults below; a zero Interval disables periodic runs.
type SchedulerConfig struct {
	Interval    time.Duration
	Debounce    time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// WatchDir, when set, triggers a debounced run on changes to *.json
	// files in it. Events arriving within Settle after a run are the run's
	// own writes and are ignored.
	WatchDir string
	Settle   time.Duration
	Logger   *log.Logger
	// OnResult is called after every attempted run.
	OnResult func(Result, error)
}

const (
	DefaultDebounce    = 2 * time.Second
	DefaultBackoffBase = 5 * time.Second
	DefaultBackoffMax  = 10 * time.Minute
	DefaultSettle      = 500 * time.Millisecond
)

// Scheduler runs sync cycles in the background: on an interval, on
// Trigger, and after file changes settle. Failures back off exponentially
// and a success resets the backoff. A single cycle is never retried
// internally; the retry is the next scheduled run.
type Scheduler struct {
	runner Runner
	cfg    SchedulerConfig
	logger *log.Logger

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	running  bool
	failures int
	retryAt  time.Time
}

func NewScheduler(r Runner, cfg SchedulerConfig) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = max(DefaultBackoffMax, cfg.BackoffBase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("scheduler")
	}
	return &Scheduler{
		runner:  r,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Backoff returns the wait after the given number of consecutive failures:
// base doubled per failure, capped at limit.
func Backoff(base, limit time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	return min(d, limit)
}

// Start launches the scheduler loop. It returns once the watcher, if any,
// is installed; the loop runs until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if s.cfg.WatchDir != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		if err := w.Add(s.cfg.WatchDir); err != nil {
			w.Close()
			return fmt.Errorf("failed to watch %s: %w", s.cfg.WatchDir, err)
		}
		s.watcher = w
		events, watchErrs = w.Events, w.Errors
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx, events, watchErrs)

	s.logger.Info("scheduler_started", "interval", s.cfg.Interval, "watch", s.cfg.WatchDir)
	return nil
}

// Stop cancels the loop and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, watcher := s.cancel, s.watcher
	s.watcher = nil
	s.mu.Unlock()

	cancel()
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			s.logger.Warn("failed to close watcher", "err", err)
		}
	}
	s.wg.Wait()
	s.logger.Info("scheduler_stopped")
}

// Trigger requests a run as soon as the backoff window allows. Repeated
// triggers before the run coalesce.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Failures returns the number of consecutive failed runs.
func (s *Scheduler) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *Scheduler) loop(ctx context.Context, events <-chan fsnotify.Event, watchErrs <-chan error) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()
	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	// A run covers every change made before it started, so a pending
	// debounce is dropped and the run's own writes are ignored until quiet.
	var quiet time.Time
	run := func() {
		if s.runOnce(ctx, retry) {
			debounce.Stop()
			quiet = time.Now().Add(s.cfg.Settle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			run()
		case <-s.trigger:
			run()
		case <-debounce.C:
			run()
		case <-retry.C:
			run()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !relevant(ev) {
				continue
			}
			if time.Now().Before(quiet) {
				s.logger.Debug("watch_event_ignored", "file", filepath.Base(ev.Name))
				continue
			}
			debounce.Reset(s.cfg.Debounce)
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.logger.Warn("watcher_error", "err", err)
		}
	}
}

// relevant filters watcher noise: temp files of atomic writes, quarantined
// files and chmod-only events.
func relevant(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") || strings.Contains(name, ".corrupted.") {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

// runOnce reports whether a cycle actually ran.
func (s *Scheduler) runOnce(ctx context.Context, retry *time.Timer) bool {
	s.mu.Lock()
	wait := time.Until(s.retryAt)
	s.mu.Unlock()
	if wait > 0 {
		s.logger.Debug("sync_deferred", "backoff_remaining", wait)
		retry.Reset(wait)
		return false
	}

	res, err := s.runner.Sync(ctx)
	if ctx.Err() != nil {
		return true
	}

	s.mu.Lock()
	if err != nil {
		s.failures++
		d := Backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, s.failures)
		s.retryAt = time.Now().Add(d)
		failures := s.failures
		s.mu.Unlock()

		s.logger.Warn("sync_backoff", "err", err, "failures", failures, "wait", d, "fatal", errs.Fatal(err))
		if !errs.Fatal(err) {
			retry.Reset(d)
		}
	} else {
		s.failures = 0
		s.retryAt = time.Time{}
		s.mu.Unlock()
	}

	if s.cfg.OnResult != nil {
		s.cfg.OnResult(res, err)
	}
	return true
}
