package retention

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler drives Service.Purge on an operator-supplied schedule,
// mirroring tarsy's cleanup.Service Start/Stop lifecycle. Unlike tarsy's
// fixed ticker, retention here is schedule-driven (e.g. nightly at 02:00)
// rather than a short fixed interval, which is why this wraps
// robfig/cron/v3 instead of a plain time.Ticker.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewScheduler builds a Scheduler that runs service.Purge according to
// spec, a standard five-field cron expression (e.g. "0 2 * * *" for
// nightly at 02:00).
func NewScheduler(service *Service, spec string) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{service: service, cron: c}
	id, err := c.AddFunc(spec, s.runOnce)
	if err != nil {
		return nil, err
	}
	s.entryID = id
	return s, nil
}

// Start begins the cron schedule. It returns immediately; the schedule
// runs on cron's own goroutine until Stop is called.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("retention scheduler started", "entry_id", s.entryID)
}

// Stop halts the schedule and waits for any in-flight purge to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("retention scheduler stopped")
}

func (s *Scheduler) runOnce() {
	result, err := s.service.Purge(context.Background(), false)
	if err != nil {
		slog.Error("retention: scheduled purge failed", "error", err)
		return
	}
	slog.Info("retention: scheduled purge completed",
		"deleted_count", result.DeletedCount,
		"bytes_freed", result.BytesFreed,
		"failed_refs", len(result.FailedRefs),
		"graded_runs", result.GradedRuns,
		"duration_seconds", result.DurationSeconds)
}
