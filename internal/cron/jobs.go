package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// UsagePurger is the subset of the usage ledger needed by UsagePurgeJob.
// Defined here to avoid a dependency on the usage package.
type UsagePurger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// UsagePurgeJob deletes usage records older than Retention.
type UsagePurgeJob struct {
	Ledger       UsagePurger
	Retention    time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "@daily"

	now func() time.Time
}

// Compile-time interface check.
var _ Job = (*UsagePurgeJob)(nil)

// Name implements Job.
func (j *UsagePurgeJob) Name() string { return "usage_purge" }

// Schedule implements Job.
func (j *UsagePurgeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "@daily"
}

// Run removes records older than the retention window.
func (j *UsagePurgeJob) Run(ctx context.Context) error {
	if j.Retention <= 0 {
		return nil
	}
	now := time.Now
	if j.now != nil {
		now = j.now
	}

	purged, err := j.Ledger.Purge(ctx, now().Add(-j.Retention))
	if err != nil {
		return fmt.Errorf("cron: usage purge: %w", err)
	}
	if purged > 0 && j.Logger != nil {
		j.Logger.Info("cron: purged usage records", "count", purged, "retention", j.Retention)
	}
	return nil
}

// SessionCounter reports how many users currently hold a session.
type SessionCounter interface {
	Len() int
}

// SessionGauge receives the current session count.
type SessionGauge interface {
	SetSessions(n int)
}

// SessionGaugeJob publishes the number of live sessions.
type SessionGaugeJob struct {
	Store        SessionCounter
	Gauge        SessionGauge
	ScheduleExpr string // empty = default "@every 30s"
}

// Compile-time interface check.
var _ Job = (*SessionGaugeJob)(nil)

// Name implements Job.
func (j *SessionGaugeJob) Name() string { return "session_gauge" }

// Schedule implements Job.
func (j *SessionGaugeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "@every 30s"
}

// Run samples the store and updates the gauge.
func (j *SessionGaugeJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: session gauge cancelled: %w", ctx.Err())
	}
	j.Gauge.SetSessions(j.Store.Len())
	return nil
}
