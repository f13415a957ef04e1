package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/corelinkhq/platform-core/internal/model"
)

// OutboxRepository owns the outbox_events table. The write side only ever
// calls CreateTx; everything else belongs to the relay, which reads and
// updates dispatch status but never mutates payloads.
type OutboxRepository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error

	// ClaimBatch atomically claims up to limit runnable events, at most
	// one per aggregate, ordered by sequence. Two relay instances never
	// claim the same row; the loser simply claims fewer rows.
	ClaimBatch(ctx context.Context, claimant string, limit int, leaseFor time.Duration) ([]*model.OutboxEvent, error)

	MarkDispatched(ctx context.Context, id uuid.UUID) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	CountPending(ctx context.Context) (int64, error)
	DeleteDispatchedBefore(ctx context.Context, before time.Time) (int64, error)
}

// DeviceRepository persists the sample device aggregate.
type DeviceRepository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, device *model.Device) error
	Get(ctx context.Context, id uuid.UUID) (*model.Device, error)
	ListByTenant(ctx context.Context, tenantID string, page model.Pagination) ([]*model.Device, error)
	ListByOwner(ctx context.Context, userID string, page model.Pagination) ([]*model.Device, error)
	InsertAppTx(ctx context.Context, tx *sqlx.Tx, install *model.AppInstall) error
}
