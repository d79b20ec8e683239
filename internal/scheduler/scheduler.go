// Package scheduler runs named jobs at absolute instants and on daily cron
// schedules. One-shot jobs are upserted by name, so re-registering a name
// replaces the pending timer instead of stacking a duplicate. Execution
// happens on a fixed worker pool behind a bounded queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"planbot/internal/config"
	"planbot/pkg/logx"
)

// Job is a unit of work. The context carries the per-job timeout.
type Job func(ctx context.Context) error

type Cfg struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	Timezone       string // location for daily schedules
}

func (c Cfg) withDefaults() Cfg {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 2 * time.Minute
	}
	return c
}

type queuedJob struct {
	name       string
	run        Job
	enqueuedAt time.Time
}

type dailyDef struct {
	name    string
	spec    string
	job     Job
	entryID cron.EntryID
}

type Service struct {
	cfg Cfg
	log logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	loc     *time.Location
	dailies []dailyDef

	// One-shot timers, guarded separately so a firing timer never waits on
	// cron registration.
	tmu     sync.Mutex
	timers  map[string]*time.Timer
	onceAt  map[string]time.Time
	onceVer map[string]uint64

	queue   chan queuedJob
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool

	dropped atomic.Uint64
}

func New(cfg Cfg, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		log:     log,
		timers:  map[string]*time.Timer{},
		onceAt:  map[string]time.Time{},
		onceVer: map[string]uint64{},
		queue:   make(chan queuedJob, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool and the cron runner. Jobs registered before
// Start queue up and run once workers come online.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	for i := range s.dailies {
		s.registerDailyLocked(&s.dailies[i])
	}
	s.c.Start()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(ctx)
		}()
	}
	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers),
		logx.String("tz", s.loc.String()),
		logx.Int("dailies", len(s.dailies)))
}

// Stop halts cron triggering, stops all pending one-shot timers and waits
// for in-flight jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.onceAt = map[string]time.Time{}
	s.tmu.Unlock()

	close(s.stopCh)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// AddOnce schedules job to run once at the given instant. Registering a name
// that already has a pending job replaces it; at most one job per name is
// ever pending. Past instants fire as soon as a worker is free.
func (s *Service) AddOnce(name string, at time.Time, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("job name required")
	}
	if at.IsZero() {
		return errors.New("run instant required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()

	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
	// A version bump makes callbacks from a replaced timer no-ops even if
	// the timer already fired and is waiting on tmu.
	ver := s.onceVer[name] + 1
	s.onceVer[name] = ver
	s.onceAt[name] = at

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		if s.onceVer[name] != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, name)
		delete(s.onceAt, name)
		s.tmu.Unlock()

		s.enqueue(queuedJob{name: name, run: job, enqueuedAt: time.Now()})
	})
	s.log.Debug("one-shot scheduled", logx.String("name", name), logx.Time("at", at))
	return nil
}

// Cancel stops a pending one-shot job. It reports whether a job with that
// name was pending. Jobs already handed to a worker are not interrupted.
func (s *Service) Cancel(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	t, ok := s.timers[name]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, name)
	delete(s.onceAt, name)
	s.onceVer[name]++
	s.log.Debug("one-shot cancelled", logx.String("name", name))
	return true
}

// PendingAt returns the run instant of a pending one-shot job.
func (s *Service) PendingAt(name string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	at, ok := s.onceAt[name]
	return at, ok
}

// PendingCount reports how many one-shot jobs are waiting on timers.
func (s *Service) PendingCount() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.timers)
}

// AddDaily runs job every day at HH:MM in the scheduler timezone. Like
// AddOnce, the name upserts.
func (s *Service) AddDaily(name, hhmm string, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("job name required")
	}
	hour, minute, err := config.ParseHHMM(hhmm)
	if err != nil {
		return err
	}
	spec := fmt.Sprintf("%d %d * * *", minute, hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.dailies {
		if s.dailies[i].name == name {
			if s.c != nil && s.dailies[i].entryID != 0 {
				s.c.Remove(s.dailies[i].entryID)
			}
			s.dailies = append(s.dailies[:i], s.dailies[i+1:]...)
			break
		}
	}
	s.dailies = append(s.dailies, dailyDef{name: name, spec: spec, job: job})
	if s.c != nil {
		s.registerDailyLocked(&s.dailies[len(s.dailies)-1])
	}
	s.log.Debug("daily scheduled", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Dropped reports how many jobs were discarded because the queue was full.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

func (s *Service) registerDailyLocked(d *dailyDef) {
	name, job := d.name, d.job
	id, err := s.c.AddFunc(d.spec, func() {
		s.enqueue(queuedJob{name: name, run: job, enqueuedAt: time.Now()})
	})
	if err != nil {
		s.log.Error("daily register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = id
}

func (s *Service) enqueue(qj queuedJob) {
	select {
	case s.queue <- qj:
	default:
		s.dropped.Add(1)
		s.log.Warn("job dropped, queue full",
			logx.String("name", qj.name),
			logx.Int("cap", cap(s.queue)))
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case qj := <-s.queue:
			s.runOne(ctx, qj)
		}
	}
}

func (s *Service) runOne(ctx context.Context, qj queuedJob) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.DefaultTimeout)
	defer cancel()

	var err error
	// Panics become errors so one bad job cannot take a worker down.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panic",
					logx.String("name", qj.name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		err = qj.run(runCtx)
	}()

	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job failed",
			logx.String("name", qj.name),
			logx.Duration("dur", dur),
			logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("name", qj.name), logx.Duration("dur", dur))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid scheduler timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
