package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelinkhq/platform-core/internal/model"
	"github.com/corelinkhq/platform-core/internal/repository/postgres"
	"github.com/corelinkhq/platform-core/pkg/logger"
	"github.com/corelinkhq/platform-core/pkg/outbox"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := postgres.NewBaseRepository(sqlx.NewDb(db, "postgres"))
	devices := postgres.NewDeviceRepository(base)
	recorder := outbox.NewRecorder(postgres.NewOutboxRepository(base), logger.NewLogger(nil))
	return NewService(base, devices, recorder, logger.NewLogger(nil)), mock
}

func TestRegisterCommitsDeviceAndEventTogether(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO devices`).
		WithArgs(sqlmock.AnyArg(), "t1", "u1", "front-desk-tablet",
			model.DeviceStatusCreated, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), "device", sqlmock.AnyArg(), "device.created",
			sqlmock.AnyArg(), model.OutboxStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	device, err := svc.Register(context.Background(), &model.CreateDeviceRequest{
		TenantID: "t1",
		UserID:   "u1",
		Name:     "front-desk-tablet",
	})
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.NotEqual(t, uuid.Nil, device.ID)
	assert.Equal(t, model.DeviceStatusCreated, device.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRollsBackWhenEventWriteFails(t *testing.T) {
	// The device insert succeeded inside the tx, but the event row did
	// not. Neither becomes visible.
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO devices`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	device, err := svc.Register(context.Background(), &model.CreateDeviceRequest{
		TenantID: "t1",
		UserID:   "u1",
		Name:     "front-desk-tablet",
	})
	require.Error(t, err)
	assert.Nil(t, device)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRollsBackWhenDeviceWriteFails(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO devices`).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := svc.Register(context.Background(), &model.CreateDeviceRequest{
		TenantID: "t1",
		UserID:   "u1",
		Name:     "front-desk-tablet",
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func deviceRow(id uuid.UUID, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "tenant_id", "user_id", "name", "status", "created_at", "updated_at"}).
		AddRow(id, "t1", "u1", "front-desk-tablet", status, now, now)
}

func TestInstallAppOnActiveDevice(t *testing.T) {
	svc, mock := newTestService(t)
	deviceID := uuid.New()

	mock.ExpectQuery(`FROM devices`).
		WithArgs(deviceID).
		WillReturnRows(deviceRow(deviceID, model.DeviceStatusActive))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO device_apps`).
		WithArgs(deviceID, "app-42", model.InstallStatusInstalled, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Two event rows in declaration order: the install outcome on the
	// device stream, then the quota consumption on the tenant stream.
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), "device", deviceID.String(), "app.install.installed",
			sqlmock.AnyArg(), model.OutboxStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), "quota", "t1", "quota.app_slot.consumed",
			sqlmock.AnyArg(), model.OutboxStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	install, err := svc.InstallApp(context.Background(), deviceID, &model.InstallAppRequest{AppID: "app-42"})
	require.NoError(t, err)
	assert.Equal(t, model.InstallStatusInstalled, install.Status)
	assert.Empty(t, install.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallAppOnDisabledDeviceEmitsFailedEvent(t *testing.T) {
	// The install is refused as a business outcome, not a transaction
	// error: the attempt commits and app.install.failed goes downstream.
	svc, mock := newTestService(t)
	deviceID := uuid.New()

	mock.ExpectQuery(`FROM devices`).
		WithArgs(deviceID).
		WillReturnRows(deviceRow(deviceID, model.DeviceStatusDisabled))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO device_apps`).
		WithArgs(deviceID, "app-42", model.InstallStatusFailed, "device disabled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), "device", deviceID.String(), "app.install.failed",
			sqlmock.AnyArg(), model.OutboxStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), "quota", "t1", "quota.app_slot.consumed",
			sqlmock.AnyArg(), model.OutboxStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	install, err := svc.InstallApp(context.Background(), deviceID, &model.InstallAppRequest{AppID: "app-42"})
	require.NoError(t, err)
	assert.Equal(t, model.InstallStatusFailed, install.Status)
	assert.Equal(t, "device disabled", install.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallAppUnknownDevice(t *testing.T) {
	svc, mock := newTestService(t)
	deviceID := uuid.New()

	mock.ExpectQuery(`FROM devices`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.InstallApp(context.Background(), deviceID, &model.InstallAppRequest{AppID: "app-42"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
