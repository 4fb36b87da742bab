// Package scheduler runs the daily notification job: due-soon reminders
// first, then overdue alerts, with plain summed totals across the two
// batches.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/ptc-library/notifier/internal/model"
)

type batchRunner interface {
	RunBatch(ctx context.Context, strategy retry.Strategy, kind model.TemplateType) (model.BatchResult, error)
}

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scheduler drives the two daily batches through the notification service.
type Scheduler struct {
	service  batchRunner
	strategy retry.Strategy
	clock    clock
}

// New creates a Scheduler.
func New(service batchRunner, strategy retry.Strategy) *Scheduler {
	return &Scheduler{
		service:  service,
		strategy: strategy,
		clock:    realClock{},
	}
}

// RunDaily executes reminders then alerts sequentially. Each batch re-reads
// active loans from storage, so a loan flipping from due_soon to overdue
// mid-run is evaluated independently per batch. Per-item failures stay
// inside the batch results; a batch that cannot run at all (storage
// unreachable, template missing) aborts the whole run.
func (s *Scheduler) RunDaily(ctx context.Context) (model.DailyReport, error) {
	report := model.DailyReport{
		RunID:     uuid.New(),
		Timestamp: s.clock.Now(),
	}

	zlog.Logger.Info().Str("run_id", report.RunID.String()).Msg("starting daily notification run")

	reminders, err := s.service.RunBatch(ctx, s.strategy, model.TemplateDueReminder)
	if err != nil {
		return report, fmt.Errorf("due reminders: %w", err)
	}
	report.DueReminders = reminders

	alerts, err := s.service.RunBatch(ctx, s.strategy, model.TemplateOverdueAlert)
	if err != nil {
		return report, fmt.Errorf("overdue alerts: %w", err)
	}
	report.OverdueAlerts = alerts

	// No weighting or deduplication across batches: a user with loans in
	// both states receives both messages.
	report.TotalSent = reminders.Success + alerts.Success
	report.TotalFailed = reminders.Failed + alerts.Failed

	zlog.Logger.Info().
		Str("run_id", report.RunID.String()).
		Int("total_sent", report.TotalSent).
		Int("total_failed", report.TotalFailed).
		Msg("daily notification run finished")

	return report, nil
}
