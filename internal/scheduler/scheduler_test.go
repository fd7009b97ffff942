package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingJobs struct {
	cycles   atomic.Int32
	triggers atomic.Int32
	prunes   atomic.Int32
}

func (j *countingJobs) RunCycle(context.Context) error { j.cycles.Add(1); return nil }
func (j *countingJobs) TriggerRecalibration()          { j.triggers.Add(1) }
func (j *countingJobs) Prune(context.Context) error    { j.prunes.Add(1); return nil }

func TestStart_RejectsZeroInterval(t *testing.T) {
	s := New(Config{}, &countingJobs{})
	defer s.Stop()
	if err := s.Start(); err == nil {
		t.Error("expected error for zero prediction interval")
	}
}

func TestStart_RunsPredictionImmediately(t *testing.T) {
	jobs := &countingJobs{}
	s := New(Config{PredictionInterval: time.Hour, CalibrationInterval: time.Hour}, jobs)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for jobs.cycles.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if jobs.cycles.Load() == 0 {
		t.Error("expected the prediction job to run on start")
	}
	if jobs.triggers.Load() != 0 {
		t.Error("recalibration must wait for its first interval")
	}
}

func TestStop_CancelsJobContext(t *testing.T) {
	s := New(Config{PredictionInterval: time.Hour}, &countingJobs{})
	s.Stop()
	if s.ctx.Err() == nil {
		t.Error("expected job context to be cancelled after Stop")
	}
}
