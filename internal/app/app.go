// Package app is the composition root: it opens the store and logger once
// and hands out the sync engine and backup manager built on them.
package app

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pders01/ctxsnap/internal/backup"
	"github.com/pders01/ctxsnap/internal/logging"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/store"
	"github.com/pders01/ctxsnap/internal/syncer"
	"github.com/pders01/ctxsnap/internal/syncer/cloudstub"
	"github.com/pders01/ctxsnap/internal/syncer/local"
	"github.com/spf13/afero"
)

// RemoteDir is the local provider's directory under the root when
// settings name none.
const RemoteDir = "remote"

type Options struct {
	Root string
	Log  logging.Options
	// Logger replaces the rotating file logger.
	Logger      *log.Logger
	SyncTimeout time.Duration
	Fs          afero.Fs
	Clock       func() time.Time
}

type App struct {
	Store  *store.Store
	Backup *backup.Manager
	Logger *log.Logger

	logFile     *logging.Logger
	fs          afero.Fs
	syncTimeout time.Duration
	now         func() time.Time

	// ids serialises id allocation for new snapshots.
	ids sync.Mutex
}

// New opens the store under opts.Root.
func New(opts Options) (*App, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	a := &App{
		fs:          opts.Fs,
		syncTimeout: opts.SyncTimeout,
		now:         opts.Clock,
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC().Round(0) }
	}

	a.Logger = opts.Logger
	if a.Logger == nil {
		if opts.Log.File == "" {
			opts.Log.File = filepath.Join(opts.Root, store.LogsDir, "ctxsnap.log")
		}
		lf, err := logging.New(opts.Log)
		if err != nil {
			return nil, err
		}
		a.logFile = lf
		a.Logger = lf.Logger
	}

	st, err := store.Open(opts.Root,
		store.WithFs(a.fs),
		store.WithLogger(a.Logger.WithPrefix("store")),
		store.WithClock(a.now),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = st
	a.Backup = backup.New(st, backup.WithLogger(a.Logger.WithPrefix("backup")))
	a.Logger.Debug("app_open", "root", opts.Root)
	return a, nil
}

// Close releases the log file.
func (a *App) Close() error {
	return a.logFile.Close()
}

// Now is the clock shared with the store.
func (a *App) Now() time.Time {
	return a.now()
}

// Provider builds the provider named in settings.
func (a *App) Provider(s *models.Settings) (syncer.Provider, error) {
	switch s.Sync.Provider {
	case models.ProviderLocal, "":
		dir := s.Sync.LocalRoot
		if dir == "" {
			dir = filepath.Join(a.Store.Root(), RemoteDir)
		}
		return local.New(dir, local.WithFs(a.fs), local.WithMigrator(a.Store.Migrator())), nil
	case models.ProviderCloudStub:
		return cloudstub.New(), nil
	}
	return nil, fmt.Errorf("unknown sync provider %q", s.Sync.Provider)
}

// Engine returns a sync engine for the configured provider.
func (a *App) Engine(opts ...syncer.Option) (*syncer.Engine, error) {
	s, err := a.Store.LoadSettings()
	if err != nil {
		return nil, err
	}
	p, err := a.Provider(s)
	if err != nil {
		return nil, err
	}
	opts = append([]syncer.Option{
		syncer.WithTimeout(a.syncTimeout),
		syncer.WithLogger(a.Logger.WithPrefix("sync")),
	}, opts...)
	return syncer.New(a.Store, p, opts...), nil
}
