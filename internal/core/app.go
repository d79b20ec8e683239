// Package core wires the services together: config, logging, storage,
// transport, scheduler, publishing and the daily backup.
package core

import (
	"context"
	"fmt"
	"time"

	"planbot/internal/backup"
	"planbot/internal/config"
	"planbot/internal/directory"
	"planbot/internal/plan"
	"planbot/internal/publish"
	"planbot/internal/runtime/supervisor"
	"planbot/internal/scheduler"
	"planbot/internal/storage"
	"planbot/internal/transport"
	"planbot/internal/transport/telegram"
	logx "planbot/pkg/logx"
)

const backupJobName = "backup-daily"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   *storage.Store
	adapter transport.Adapter

	sched *scheduler.Service
	plans *plan.Service
	pub   *publish.Service
	dir   *directory.Service
	bak   *backup.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeout(),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	adapter, err := telegram.New(telegram.Config{Token: cfg.ResolveToken()},
		log.With(logx.String("comp", "telegram")))
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}

	defaultTimeout, err := config.ParseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}

	sched := scheduler.New(scheduler.Cfg{
		Workers:        cfg.Scheduler.Workers,
		QueueSize:      cfg.Scheduler.QueueSize,
		DefaultTimeout: defaultTimeout,
		Timezone:       cfg.Timezone(),
	}, log.With(logx.String("comp", "scheduler")))

	ratePerSec := cfg.Publish.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = config.DefaultRatePerSec
	}
	pub := publish.New(store, adapter, sched, publish.Cfg{
		RetryDelay: cfg.RetryDelay(),
		RatePerSec: float64(ratePerSec),
	}, log.With(logx.String("comp", "publish")))

	plans := plan.NewService(store, pub, log.With(logx.String("comp", "plan")))
	dir := directory.New(store, adapter, log.With(logx.String("comp", "directory")))
	bak := backup.New(store, adapter, backup.Cfg{
		AdminIDs: cfg.Telegram.AdminIDs,
	}, log.With(logx.String("comp", "backup")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: adapter,
		sched:   sched,
		plans:   plans,
		pub:     pub,
		dir:     dir,
		bak:     bak,
	}, nil
}

// Accessors for the service layer; the command surface builds on these.
func (a *App) Plans() *plan.Service          { return a.plans }
func (a *App) Publisher() *publish.Service   { return a.pub }
func (a *App) Directory() *directory.Service { return a.dir }
func (a *App) Store() *storage.Store         { return a.store }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	a.sched.Start(a.sup.Context())

	// Delivery jobs live in memory; rebuild them from the store.
	if err := a.pub.Recover(a.sup.Context()); err != nil {
		return fmt.Errorf("recover delivery jobs: %w", err)
	}

	cfg := a.cfgm.Get()
	if cfg.Backup.Enabled {
		at := cfg.Backup.At
		if at == "" {
			at = config.DefaultBackupAt
		}
		if err := a.sched.AddDaily(backupJobName, at, a.bak.Run); err != nil {
			return fmt.Errorf("register backup job: %w", err)
		}
	}

	// Hot reload: logging applies live; storage, token and scheduler shape
	// need a restart and are only logged.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, newCfg)
			}
		}
	})

	// The watcher self-heals: an fsnotify failure restarts it with backoff
	// instead of taking the process down.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if cfg.Backup.Enabled {
		at := cfg.Backup.At
		if at == "" {
			at = config.DefaultBackupAt
		}
		if err := a.sched.AddDaily(backupJobName, at, a.bak.Run); err != nil {
			a.log.Warn("backup reschedule failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", logx.String("path", a.cfgPath))
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
