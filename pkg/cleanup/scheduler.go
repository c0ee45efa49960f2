package cleanup

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/zots0127/tempstore/pkg/metrics"
	"github.com/zots0127/tempstore/pkg/types"
)

// Scheduler runs the janitor on a cron schedule. Scheduled sweeps use
// the zero-value request, the same entry point as manual triggers; a
// tick that arrives while a sweep is running is dropped.
type Scheduler struct {
	cron    *cron.Cron
	janitor *Janitor
	logger  *log.Logger
	entryID cron.EntryID
}

// NewScheduler validates the cron expression and registers the sweep job
func NewScheduler(janitor *Janitor, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		janitor: janitor,
		logger:  log.New(os.Stdout, "[Scheduler] ", log.LstdFlags),
	}

	id, err := s.cron.AddFunc(schedule, s.runScheduledSweep)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	s.entryID = id

	return s, nil
}

// runScheduledSweep executes one scheduled sweep
func (s *Scheduler) runScheduledSweep() {
	metrics.SweepsTotal.WithLabelValues("scheduled").Inc()
	if _, ran := s.janitor.Sweep(context.Background(), &types.CleanupRequest{}); !ran {
		s.logger.Printf("Scheduled sweep skipped, previous sweep still running")
	}
}

// Start begins scheduling. Call once at process init.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Printf("Cleanup scheduler started")
}

// Stop halts scheduling and waits for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Printf("Cleanup scheduler stopped")
}
