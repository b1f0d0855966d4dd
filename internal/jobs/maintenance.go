package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/config"
	"github.com/tradesignal/billing-server-go/internal/metrics"
	"github.com/tradesignal/billing-server-go/internal/model"
)

// CreditResetter is the part of the account store the job needs.
type CreditResetter interface {
	ResetStaleCredits(ctx context.Context, windowStart time.Time, allotment int) (int64, error)
}

type EventPruner interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// MaintenanceJob materialises monthly credit resets and prunes old webhook
// records. The ledger already treats a stale window as a full allotment, so a
// missed run never affects what a user may do.
type MaintenanceJob struct {
	accounts  CreditResetter
	events    EventPruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
}

func NewMaintenanceJob(accounts CreditResetter, events EventPruner, retention, interval time.Duration) *MaintenanceJob {
	return &MaintenanceJob{
		accounts:  accounts,
		events:    events,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

func (j *MaintenanceJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("maintenance job started")
}

func (j *MaintenanceJob) Stop() {
	close(j.done)
	log.Info().Msg("maintenance job stopped")
}

func (j *MaintenanceJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.tick()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *MaintenanceJob) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	j.RunOnce(ctx)
}

// RunOnce performs every task once. Failures are logged per task.
func (j *MaintenanceJob) RunOnce(ctx context.Context) {
	now := j.now()

	j.runTask(ctx, "credit_reset", func(ctx context.Context) (int64, error) {
		return j.accounts.ResetStaleCredits(ctx, model.MonthStart(now), config.FreeMonthlyCredits)
	})
	if j.events != nil && j.retention > 0 {
		j.runTask(ctx, "webhook_event_prune", func(ctx context.Context) (int64, error) {
			return j.events.DeleteOlderThan(ctx, now.Add(-j.retention))
		})
	}
}

func (j *MaintenanceJob) runTask(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Str("task", name).Msg("maintenance task failed")
		return
	}
	if count > 0 {
		metrics.MaintenanceRowsTotal.WithLabelValues(name).Add(float64(count))
		log.Info().Int64("count", count).Str("task", name).Msg("maintenance task completed")
	}
}
