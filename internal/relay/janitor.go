package relay

import (
	"context"
	"time"

	"github.com/corelinkhq/platform-core/internal/repository"
	"github.com/corelinkhq/platform-core/pkg/logger"
)

// Janitor purges DISPATCHED rows past the retention window. It runs
// independently of the relay and has no effect on delivery correctness.
type Janitor struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
}

func NewJanitor(repo repository.OutboxRepository, retention, interval time.Duration, logger *logger.Logger) *Janitor {
	if retention <= 0 {
		panic("Retention must be greater than 0")
	}
	if interval <= 0 {
		panic("Interval must be greater than 0")
	}
	return &Janitor{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("starting outbox janitor", "retention", j.retention.String())

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("shutting down outbox janitor")
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-j.retention)
			deleted, err := j.repo.DeleteDispatchedBefore(ctx, cutoff)
			if err != nil {
				j.logger.Error(err, "failed to purge dispatched events")
				continue
			}
			if deleted > 0 {
				j.logger.Info("purged dispatched events", "count", deleted)
			}
		}
	}
}
