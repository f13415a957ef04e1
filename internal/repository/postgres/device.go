package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/corelinkhq/platform-core/internal/model"
	"github.com/corelinkhq/platform-core/internal/repository"
	apperrors "github.com/corelinkhq/platform-core/pkg/errors"
)

type deviceRepository struct {
	BaseRepository
}

func NewDeviceRepository(base BaseRepository) repository.DeviceRepository {
	return &deviceRepository{base}
}

func (r *deviceRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, device *model.Device) error {
	query := `
		INSERT INTO devices (
			id, tenant_id, user_id, name, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`
	_, err := tx.ExecContext(ctx, query,
		device.ID,
		device.TenantID,
		device.UserID,
		device.Name,
		device.Status,
		device.CreatedAt,
		device.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (r *deviceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Device, error) {
	var device model.Device
	query := `
		SELECT id, tenant_id, user_id, name, status, created_at, updated_at
		FROM devices
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &device, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("device", err)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (r *deviceRepository) InsertAppTx(ctx context.Context, tx *sqlx.Tx, install *model.AppInstall) error {
	query := `
		INSERT INTO device_apps (device_id, app_id, status, reason, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := tx.ExecContext(ctx, query,
		install.DeviceID,
		install.AppID,
		install.Status,
		install.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record app install: %w", err)
	}
	return nil
}

// ListByTenant is the row-level enforcement point the tenant scope guard
// defers to when a request names no tenant explicitly.
func (r *deviceRepository) ListByTenant(ctx context.Context, tenantID string, page model.Pagination) ([]*model.Device, error) {
	var devices []*model.Device
	query := `
		SELECT id, tenant_id, user_id, name, status, created_at, updated_at
		FROM devices
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &devices, query, tenantID, page.Limit(), page.Offset()); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// ListByOwner filters by the owning user, the enforcement point behind
// the SELF scope's deferred case.
func (r *deviceRepository) ListByOwner(ctx context.Context, userID string, page model.Pagination) ([]*model.Device, error) {
	var devices []*model.Device
	query := `
		SELECT id, tenant_id, user_id, name, status, created_at, updated_at
		FROM devices
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &devices, query, userID, page.Limit(), page.Offset()); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}
