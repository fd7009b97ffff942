// Package scheduler runs the periodic jobs: prediction cycles, recalibration
// triggers and storage pruning.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/rewired-gh/skywatch/internal/logger"
)

// Jobs is the work the scheduler drives.
type Jobs interface {
	RunCycle(ctx context.Context) error
	TriggerRecalibration()
	Prune(ctx context.Context) error
}

// Config sets job intervals. A zero CalibrationInterval disables the
// recalibration job; PruneAt is a daily "HH:MM" UTC time.
type Config struct {
	PredictionInterval  time.Duration
	CalibrationInterval time.Duration
	PruneAt             string
	JobTimeout          time.Duration
}

// Scheduler periodically runs Jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      Jobs
	cfg       Config
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new Scheduler.
func New(cfg Config, jobs Jobs) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.PruneAt == "" {
		cfg.PruneAt = "03:30"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		jobs:      jobs,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.cfg.PredictionInterval <= 0 {
		return errors.New("scheduler: prediction interval must be positive")
	}

	if _, err := s.scheduler.Every(s.cfg.PredictionInterval).SingletonMode().Do(s.predict); err != nil {
		return err
	}

	if s.cfg.CalibrationInterval > 0 {
		_, err := s.scheduler.Every(s.cfg.CalibrationInterval).WaitForSchedule().Do(func() {
			logger.Debug("scheduler: requesting recalibration")
			s.jobs.TriggerRecalibration()
		})
		if err != nil {
			return err
		}
	}

	if _, err := s.scheduler.Every(1).Day().At(s.cfg.PruneAt).SingletonMode().Do(s.prune); err != nil {
		return err
	}

	s.scheduler.StartAsync()
	logger.Info("scheduler: started (prediction every %v, recalibration every %v, prune at %s UTC)",
		s.cfg.PredictionInterval, s.cfg.CalibrationInterval, s.cfg.PruneAt)
	return nil
}

func (s *Scheduler) predict() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()
	// RunCycle logs and reports its own failures.
	_ = s.jobs.RunCycle(ctx)
}

func (s *Scheduler) prune() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()
	if err := s.jobs.Prune(ctx); err != nil {
		logger.Warn("scheduler: prune failed: %v", err)
	}
}

// Stop cancels running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
