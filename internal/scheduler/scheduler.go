package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/config"
	"slack-intake-go/internal/drainer"
	"slack-intake-go/internal/retention"
)

// ErrAlreadyRunning is returned by Start on a running scheduler
var ErrAlreadyRunning = errors.New("scheduler is already running")

// Drainer runs one drain cycle
type Drainer interface {
	DrainOnce(ctx context.Context) (drainer.Result, error)
}

// Sweeper runs one retention sweep
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (retention.Result, error)
}

// Scheduler manages the periodic queue drain and retention sweep
type Scheduler struct {
	cron      *cron.Cron
	drainID   cron.EntryID
	sweepID   cron.EntryID
	config    *config.SchedulerConfig
	drainer   Drainer
	sweeper   Sweeper
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex

	// guarded separately, Stop holds mu while jobs finish
	lastMu    sync.Mutex
	lastDrain *DrainRecord
}

// DrainRecord is the outcome of the most recent drain cycle
type DrainRecord struct {
	At     time.Time      `json:"at"`
	Result drainer.Result `json:"result"`
	Error  string         `json:"error,omitempty"`
}

// Status is a snapshot of the drain and sweep schedule
type Status struct {
	Running       bool         `json:"running"`
	DrainInterval string       `json:"drain_interval"`
	SweepSchedule string       `json:"sweep_schedule,omitempty"`
	NextDrain     *time.Time   `json:"next_drain,omitempty"`
	NextSweep     *time.Time   `json:"next_sweep,omitempty"`
	LastDrain     *DrainRecord `json:"last_drain,omitempty"`
}

// NewScheduler creates a new scheduler. sweeper may be nil when retention is
// disabled.
func NewScheduler(cfg *config.SchedulerConfig, d Drainer, sweeper Sweeper) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:    newCron(),
		config:  cfg,
		drainer: d,
		sweeper: sweeper,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func newCron() *cron.Cron {
	return cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrAlreadyRunning
	}

	// a stopped scheduler gets a fresh cron and context
	if s.ctx.Err() != nil {
		s.cron = newCron()
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	interval := s.config.DrainInterval()
	drainID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.drain)
	if err != nil {
		return fmt.Errorf("failed to add drain job: %w", err)
	}
	s.drainID = drainID

	if s.sweeper != nil && s.config.SweepSchedule != "" {
		sweepID, err := s.cron.AddFunc(s.config.SweepSchedule, s.sweep)
		if err != nil {
			s.cron.Remove(drainID)
			return fmt.Errorf("failed to add sweep job: %w", err)
		}
		s.sweepID = sweepID
	}

	s.cron.Start()
	s.isRunning = true

	logrus.WithFields(logrus.Fields{
		"drain_interval": interval,
		"sweep_schedule": s.config.SweepSchedule,
	}).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.cron.Remove(s.drainID)
	if s.sweepID != 0 {
		s.cron.Remove(s.sweepID)
		s.sweepID = 0
	}
	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) drain() {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping drain cycle")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.runDrain(ctx); err != nil {
		logrus.Errorf("Scheduled drain failed: %v", err)
	}
}

func (s *Scheduler) runDrain(ctx context.Context) (drainer.Result, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	res, err := s.drainer.DrainOnce(ctx)
	rec := &DrainRecord{At: time.Now(), Result: res}
	if err != nil {
		rec.Error = err.Error()
	}
	s.lastMu.Lock()
	s.lastDrain = rec
	s.lastMu.Unlock()
	return res, err
}

func (s *Scheduler) sweep() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.sweeper.Sweep(ctx, time.Now()); err != nil {
		logrus.Errorf("Retention sweep failed: %v", err)
	}
}

// RunOnce runs one drain cycle immediately (for manual triggering)
func (s *Scheduler) RunOnce(ctx context.Context) (drainer.Result, error) {
	logrus.Info("Running queue drain once")
	return s.runDrain(ctx)
}

// Status reports the schedule and the last drain, manual runs included
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	st := Status{
		Running:       s.isRunning,
		DrainInterval: s.config.DrainInterval().String(),
	}
	if s.sweeper != nil {
		st.SweepSchedule = s.config.SweepSchedule
	}
	if s.isRunning {
		st.NextDrain = nextOf(s.cron.Entry(s.drainID))
		if s.sweepID != 0 {
			st.NextSweep = nextOf(s.cron.Entry(s.sweepID))
		}
	}
	s.mu.RUnlock()

	s.lastMu.Lock()
	if s.lastDrain != nil {
		rec := *s.lastDrain
		st.LastDrain = &rec
	}
	s.lastMu.Unlock()
	return st
}

func nextOf(e cron.Entry) *time.Time {
	if e.Next.IsZero() {
		return nil
	}
	next := e.Next
	return &next
}

// Wait waits for in-flight jobs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
