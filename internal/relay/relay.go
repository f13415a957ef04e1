package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/corelinkhq/platform-core/internal/model"
	"github.com/corelinkhq/platform-core/internal/repository"
	"github.com/corelinkhq/platform-core/pkg/logger"
	"github.com/corelinkhq/platform-core/pkg/messaging"
	"github.com/corelinkhq/platform-core/pkg/metrics"
)

// Alerter surfaces events that exhausted their retries. Delivery failures
// are invisible to end users, so this is the operator-facing hook.
type Alerter interface {
	EventFailed(ctx context.Context, event *model.OutboxEvent)
}

type Config struct {
	Claimant       string
	Topic          string
	BatchSize      int
	Partitions     int
	PollInterval   time.Duration
	LeaseFor       time.Duration
	PublishTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Relay drains PENDING outbox rows and publishes them to the bus with
// at-least-once semantics: the row is marked DISPATCHED only after the
// publish succeeded, so a crash in between causes redelivery, never loss.
// Consumers are expected to be idempotent.
type Relay struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	alerter Alerter
}

func New(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	alerter Alerter,
) *Relay {
	// Config validation instead of defaults
	if config.Claimant == "" {
		panic("Claimant must be set")
	}
	if config.Topic == "" {
		panic("Topic must be set")
	}
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.Partitions <= 0 {
		panic("Partitions must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.LeaseFor <= 0 {
		panic("LeaseFor must be greater than 0")
	}
	if config.PublishTimeout <= 0 {
		panic("PublishTimeout must be greater than 0")
	}
	if config.MaxAttempts <= 0 {
		panic("MaxAttempts must be greater than 0")
	}
	if config.InitialBackoff <= 0 {
		panic("InitialBackoff must be greater than 0")
	}
	if config.MaxBackoff < config.InitialBackoff {
		panic("MaxBackoff must be at least InitialBackoff")
	}

	return &Relay{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		alerter: alerter,
	}
}

func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.logger.Info("starting outbox relay", "claimant", r.config.Claimant)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down outbox relay")
			return
		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				r.logger.Error(err, "failed to process outbox batch")
			}
		}
	}
}

// processBatch claims a batch and fans it out to partition workers. All
// events of one aggregate hash to the same partition, and each partition
// dispatches sequentially in sequence order, so dispatch order matches
// creation order per aggregate.
func (r *Relay) processBatch(ctx context.Context) error {
	timer := prometheus.NewTimer(r.metrics.OutboxDispatchLatency)
	defer timer.ObserveDuration()

	events, err := r.repo.ClaimBatch(ctx, r.config.Claimant, r.config.BatchSize, r.config.LeaseFor)
	if err != nil {
		r.metrics.DatabaseOperations.WithLabelValues("claim_batch", "error").Inc()
		return fmt.Errorf("failed to claim events: %w", err)
	}
	r.metrics.DatabaseOperations.WithLabelValues("claim_batch", "success").Inc()

	if pending, err := r.repo.CountPending(ctx); err == nil {
		r.metrics.OutboxQueueSize.Set(float64(pending))
	}

	if len(events) == 0 {
		return nil
	}

	partitions := make([][]*model.OutboxEvent, r.config.Partitions)
	for _, evt := range events {
		p := partition(evt.AggregateID, r.config.Partitions)
		partitions[p] = append(partitions[p], evt)
	}

	var wg sync.WaitGroup
	for _, batch := range partitions {
		if len(batch) == 0 {
			continue
		}
		wg.Add(1)
		go func(batch []*model.OutboxEvent) {
			defer wg.Done()
			for _, evt := range batch {
				if ctx.Err() != nil {
					return
				}
				if err := r.dispatch(ctx, evt); err != nil {
					r.logger.Error(err, "failed to dispatch event",
						"event_id", evt.ID.String(),
						"event_type", evt.EventType)
				}
			}
		}(batch)
	}
	wg.Wait()

	return nil
}

// busMessage is the wire body published per event. Schema changes must
// stay backward compatible for rows still in flight.
type busMessage struct {
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (r *Relay) dispatch(ctx context.Context, evt *model.OutboxEvent) error {
	body, err := json.Marshal(busMessage{
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       evt.Payload,
		CreatedAt:     evt.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal bus message: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
	err = r.broker.Publish(pubCtx, r.config.Topic, evt.AggregateID, body)
	cancel()

	if err != nil {
		return r.handlePublishFailure(ctx, evt, err)
	}

	if err := r.repo.MarkDispatched(ctx, evt.ID); err != nil {
		// The publish went out but the row stays PENDING: the event will
		// be redelivered after the lease expires. At-least-once, by
		// contract.
		return fmt.Errorf("published but not marked dispatched: %w", err)
	}

	r.metrics.OutboxEventsDispatched.Inc()
	return nil
}

// handlePublishFailure schedules a backoff retry, or parks the event as
// FAILED once attempts are exhausted. Timeouts are retryable like any
// other publish failure.
func (r *Relay) handlePublishFailure(ctx context.Context, evt *model.OutboxEvent, pubErr error) error {
	attempt := evt.RetryCount + 1
	if attempt >= r.config.MaxAttempts {
		if err := r.repo.MarkFailed(ctx, evt.ID, pubErr.Error()); err != nil {
			return fmt.Errorf("failed to mark event failed: %w", err)
		}
		r.metrics.OutboxEventsFailed.Inc()
		r.logger.Error(pubErr, "event exhausted retries",
			"event_id", evt.ID.String(),
			"event_type", evt.EventType,
			"attempts", attempt)
		if r.alerter != nil {
			r.alerter.EventFailed(ctx, evt)
		}
		return nil
	}

	retryAt := time.Now().Add(r.backoff(evt.RetryCount))
	if err := r.repo.ScheduleRetry(ctx, evt.ID, pubErr.Error(), retryAt); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	r.metrics.OutboxRetries.WithLabelValues(evt.EventType).Inc()
	r.logger.Warn("publish failed, retry scheduled",
		"event_id", evt.ID.String(),
		"attempt", attempt,
		"retry_at", retryAt.Format(time.RFC3339))
	return nil
}

// backoff doubles per retry, capped at MaxBackoff.
func (r *Relay) backoff(retryCount int) time.Duration {
	d := r.config.InitialBackoff
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= r.config.MaxBackoff {
			return r.config.MaxBackoff
		}
	}
	return d
}

func partition(aggregateID string, partitions int) int {
	h := fnv.New32a()
	h.Write([]byte(aggregateID))
	return int(h.Sum32() % uint32(partitions))
}
