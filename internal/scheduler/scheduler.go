// Package scheduler runs the periodic feed sync on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/reconcile"
)

// DefaultSpec runs at the top of every hour.
const DefaultSpec = "0 * * * *"

// Syncer is the part of reconcile.Syncer the scheduler drives.
type Syncer interface {
	Sync(ctx context.Context, req reconcile.Request) (*reconcile.Result, error)
}

type Options struct {
	Syncer Syncer
	// Spec is a standard five-field cron expression.
	Spec string
	// HorizonDays bounds each run's window [today, today+HorizonDays].
	HorizonDays int
	Location    *time.Location
	Now         func() time.Time
}

// Scheduler triggers full syncs. A tick that fires while the previous run
// is still going is skipped.
type Scheduler struct {
	syncer  Syncer
	spec    string
	horizon int
	loc     *time.Location
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func New(opts Options) *Scheduler {
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = reconcile.DefaultWindowDays
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		syncer:  opts.Syncer,
		spec:    opts.Spec,
		horizon: opts.HorizonDays,
		loc:     opts.Location,
		now:     opts.Now,
	}
}

// Window is the sync range of a run starting now.
func (s *Scheduler) Window() (time.Time, time.Time) {
	from := model.DayStart(s.now(), s.loc)
	return from, from.AddDate(0, 0, s.horizon)
}

// RunOnce syncs every configured property over the scheduled window.
func (s *Scheduler) RunOnce(ctx context.Context) (*reconcile.Result, error) {
	from, to := s.Window()
	return s.syncer.Sync(ctx, reconcile.Request{From: from, To: to})
}

// Start registers the cron job and begins ticking. Runs use ctx and stop
// when it is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	logger := appLog.CronLogger{}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	if _, err := c.AddFunc(s.spec, func() { s.tick(runCtx) }); err != nil {
		s.cancel()
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	c.Start()
	s.cron = c
	s.running = true

	appLog.Info("scheduler started", "spec", s.spec, "horizon_days", s.horizon, "tz", s.loc.String())
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.RunOnce(ctx)
	if err != nil {
		appLog.Error("scheduled sync failed", err)
		return
	}
	appLog.Debug("scheduled sync finished", "sync_id", res.SyncID, "duration_ms", res.DurationMS)
}

// Stop halts ticking and waits for a running sync to finish or ctx to
// expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		appLog.Info("scheduler stopped")
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out")
	}
	s.running = false
}
