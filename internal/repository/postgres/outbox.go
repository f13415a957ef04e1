package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/corelinkhq/platform-core/internal/model"
	"github.com/corelinkhq/platform-core/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

// CreateTx appends an event row inside the caller's transaction. There is
// deliberately no variant that opens its own connection.
func (r *outboxRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	query := `
		INSERT INTO outbox_events (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`
	_, err := tx.ExecContext(ctx, query,
		event.ID,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
		event.Status,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// ClaimBatch claims runnable head events with a lease. The head of each
// aggregate stream is resolved over all PENDING rows first; only then are
// the heads themselves filtered for runnability. A backed-off or leased
// head therefore blocks its whole stream instead of letting the next
// event stand in as the head and go out ahead of it. SKIP LOCKED keeps
// concurrent relay instances off each other's rows; the lease guard makes
// the claim safe even across crashed holders.
func (r *outboxRepository) ClaimBatch(ctx context.Context, claimant string, limit int, leaseFor time.Duration) ([]*model.OutboxEvent, error) {
	query := `
		UPDATE outbox_events o
		SET claimed_by = $1, claimed_until = $2, updated_at = NOW()
		WHERE o.id IN (
			SELECT p.id FROM outbox_events p
			WHERE p.id IN (
				SELECT h.id FROM (
					SELECT DISTINCT ON (aggregate_id) id, seq, retry_at, claimed_until
					FROM outbox_events
					WHERE status = 'PENDING'
					ORDER BY aggregate_id, seq
				) h
				WHERE (h.retry_at IS NULL OR h.retry_at <= NOW())
				  AND (h.claimed_until IS NULL OR h.claimed_until < NOW())
				ORDER BY h.seq
				LIMIT $3
			)
			FOR UPDATE SKIP LOCKED
		)
		AND (o.claimed_until IS NULL OR o.claimed_until < NOW())
		RETURNING id, seq, aggregate_type, aggregate_id, event_type, payload,
		          status, error_message, retry_count, retry_at, claimed_by,
		          claimed_until, created_at, dispatched_at, updated_at
	`
	rows, err := r.db.QueryxContext(ctx, query, claimant, time.Now().Add(leaseFor), limit)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []*model.OutboxEvent
	for rows.Next() {
		var evt model.OutboxEvent
		if err := rows.StructScan(&evt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, &evt)
	}
	return events, rows.Err()
}

func (r *outboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_events
		SET status = 'DISPATCHED', dispatched_at = NOW(), error_message = NULL,
		    claimed_by = NULL, claimed_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark event dispatched: %w", err)
	}
	return requireOneRow(res, id)
}

// ScheduleRetry keeps the event PENDING, bumps the retry counter and
// releases the claim so any instance can pick it up after retryAt.
func (r *outboxRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	query := `
		UPDATE outbox_events
		SET retry_count = retry_count + 1, error_message = $2, retry_at = $3,
		    claimed_by = NULL, claimed_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	res, err := r.db.ExecContext(ctx, query, id, errMsg, retryAt)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE outbox_events
		SET status = 'FAILED', error_message = $2,
		    claimed_by = NULL, claimed_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	res, err := r.db.ExecContext(ctx, query, id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return requireOneRow(res, id)
}

func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM outbox_events WHERE status = 'PENDING'`)
	return count, err
}

func (r *outboxRepository) DeleteDispatchedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE status = 'DISPATCHED'
		AND dispatched_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dispatched events: %w", err)
	}

	return result.RowsAffected()
}

// requireOneRow guards the PENDING-only status transitions: a zero-row
// update means the event already left PENDING, which a correct relay
// never does twice.
func requireOneRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outbox event %s is not pending", id)
	}
	return nil
}
