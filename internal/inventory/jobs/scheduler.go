// Package jobs runs the inventory service's periodic work on a gocron scheduler.
package jobs

import (
	"context"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/expiry"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/go-co-op/gocron/v2"
)

// Job names
const (
	ExpirySweepJob   = "expiry-sweep"
	SessionReaperJob = "scan-session-reaper"
)

// ExpirySweeper classifies all stock and publishes the results
type ExpirySweeper interface {
	SweepExpiry(ctx context.Context) (*expiry.Report, error)
}

// SessionReaper drops idle scan sessions
type SessionReaper interface {
	Reap(ttl time.Duration) int
}

// Config holds job periods
type Config struct {
	SweepInterval time.Duration
	SessionTTL    time.Duration
	ReapInterval  time.Duration
}

// Scheduler owns the periodic jobs
type Scheduler struct {
	scheduler gocron.Scheduler
	sweeper   ExpirySweeper
	reaper    SessionReaper
	cfg       Config
	logger    *logger.Logger
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler. Either collaborator may be nil to skip its job.
func NewScheduler(sweeper ExpirySweeper, reaper SessionReaper, cfg Config, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		scheduler: s,
		sweeper:   sweeper,
		reaper:    reaper,
		cfg:       cfg,
		logger:    log.WithComponent("jobs"),
	}, nil
}

// Start registers the jobs and starts the scheduler. The sweep runs once
// immediately, then every SweepInterval.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.sweeper != nil {
		if _, err := s.scheduler.NewJob(
			gocron.DurationJob(s.cfg.SweepInterval),
			gocron.NewTask(s.runSweep, ctx),
			gocron.WithName(ExpirySweepJob),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		); err != nil {
			return err
		}
	}

	if s.reaper != nil {
		if _, err := s.scheduler.NewJob(
			gocron.DurationJob(s.cfg.ReapInterval),
			gocron.NewTask(s.runReap),
			gocron.WithName(SessionReaperJob),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return err
		}
	}

	s.scheduler.Start()
	s.logger.Info().
		Int("jobs", len(s.scheduler.Jobs())).
		Dur("sweep_interval", s.cfg.SweepInterval).
		Dur("session_ttl", s.cfg.SessionTTL).
		Msg("job scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.scheduler.Shutdown()
	s.logger.Info().Msg("job scheduler stopped")
	return err
}

// Jobs returns the names of the registered jobs
func (s *Scheduler) Jobs() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	report, err := s.sweeper.SweepExpiry(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	s.logger.Debug().
		Dur("duration", time.Since(start)).
		Int("critical", report.Stats.Critical.Count).
		Msg("expiry sweep cycle completed")
}

func (s *Scheduler) runReap() {
	s.reaper.Reap(s.cfg.SessionTTL)
}
