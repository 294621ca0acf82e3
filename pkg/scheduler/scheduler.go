// Package scheduler wakes up runs whose wait deadline has passed. It polls
// the run store on a cron cadence and resumes every due run; the engine's
// claim makes redundant pollers harmless.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engageflow/flows/pkg/models"
	"github.com/robfig/cron/v3"
)

// DefaultPollSpec polls for due runs every 15 seconds.
const DefaultPollSpec = "@every 15s"

// Resumer is the gateway surface the scheduler needs.
type Resumer interface {
	Resume(ctx context.Context, runID string, inputPatch map[string]any) (*models.FlowRun, error)
}

// RunLister is the run store surface the scheduler needs.
type RunLister interface {
	ListDueWaitingRuns(ctx context.Context, due time.Time) ([]*models.FlowRun, error)
}

type Scheduler struct {
	runs     RunLister
	resumer  Resumer
	logger   *slog.Logger
	pollSpec string
	cron     *cron.Cron
}

func NewScheduler(runs RunLister, resumer Resumer, logger *slog.Logger, pollSpec string) *Scheduler {
	if pollSpec == "" {
		pollSpec = DefaultPollSpec
	}

	return &Scheduler{
		runs:     runs,
		resumer:  resumer,
		logger:   logger,
		pollSpec: pollSpec,
	}
}

// Start begins polling. Overlapping polls are skipped rather than stacked.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.pollSpec, func() {
		s.poll(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule poll %q: %w", s.pollSpec, err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", "poll", s.pollSpec)

	return nil
}

// Stop halts polling and waits for an in-flight poll to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.runs.ListDueWaitingRuns(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Failed to list due runs", "error", err)

		return
	}

	if len(due) == 0 {
		return
	}

	s.logger.Info("Resuming due runs", "count", len(due))

	for _, run := range due {
		_, err := s.resumer.Resume(ctx, run.ID, nil)
		if err != nil {
			// A lost race with another poller or an external resume shows
			// up as a terminal-state conflict; everything else is real.
			s.logger.Error("Failed to resume due run", "run_id", run.ID, "error", err)
		}
	}
}
