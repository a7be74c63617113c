/*
scheduler.go - Automated monthly deduction run

PURPOSE:
  Bills the month that just closed on a cron schedule, so payroll receives
  its deduction file without anyone calling the API.

DESIGN:
  - robfig/cron drives the schedule, evaluated in UTC
  - Each tick generates the period before the clock's current month
  - Reruns are safe: generation overwrites bills by (occupant, period)
  - Failures are logged and counted; the next tick tries again

CONFIGURATION:
  - Schedule: standard 5-field cron expression (default: "0 2 1 * *")
  - Enabled:  whether the scheduler is active (default: true)

USAGE:
  scheduler, err := NewDeductionScheduler(handler.Generator, "0 2 1 * *", clock, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GenerateDeductions endpoint (manual run)
  - deductions/generator.go: GenerateForPeriod
*/
package api

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/quarter-dues/deductions"
	"github.com/warp/quarter-dues/dues"
	"github.com/warp/quarter-dues/metrics"
)

// DeductionScheduler runs the monthly billing job.
type DeductionScheduler struct {
	Generator *deductions.Generator
	Schedule  string

	cron    *cron.Cron
	clock   dues.Clock
	logger  *log.Logger
	mu      sync.Mutex
	started bool
}

// NewDeductionScheduler validates schedule and builds a stopped scheduler.
func NewDeductionScheduler(generator *deductions.Generator, schedule string, clock dues.Clock, logger *log.Logger) (*DeductionScheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid deduction schedule %q: %w", schedule, err)
	}
	if clock == nil {
		clock = dues.SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DeductionScheduler{
		Generator: generator,
		Schedule:  schedule,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Start begins the scheduler.
func (ds *DeductionScheduler) Start() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.started {
		return nil
	}
	ds.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := ds.cron.AddFunc(ds.Schedule, func() {
		if _, err := ds.RunOnce(context.Background()); err != nil {
			ds.logger.Printf("[Scheduler] Deduction run failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule deduction run: %w", err)
	}
	ds.cron.Start()
	ds.started = true

	ds.logger.Printf("[Scheduler] Started with schedule: %s", ds.Schedule)
	return nil
}

// Stop stops the scheduler and waits for a running job.
func (ds *DeductionScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.started {
		return
	}
	<-ds.cron.Stop().Done()
	ds.started = false
	ds.logger.Println("[Scheduler] Stopped")
}

// Period is the billing month a run started now would target.
func (ds *DeductionScheduler) Period() dues.Period {
	return dues.PeriodOf(ds.clock.Now()).Previous()
}

// RunOnce generates the previous month's batch.
func (ds *DeductionScheduler) RunOnce(ctx context.Context) (*deductions.ExportBatch, error) {
	start := time.Now()
	period := ds.Period()

	ds.logger.Printf("[Scheduler] Generating deductions for %s", period)

	batch, err := ds.Generator.GenerateForPeriod(ctx, period)
	if err != nil {
		metrics.ObserveDeductionRun("scheduler", resultFor(err), 0, time.Since(start))
		return nil, err
	}

	metrics.ObserveDeductionRun("scheduler", metrics.ResultSuccess, len(batch.Lines), time.Since(start))
	ds.logger.Printf("[Scheduler] Generated %d lines for %s", len(batch.Lines), period)
	return batch, nil
}
