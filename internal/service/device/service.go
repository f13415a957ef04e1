package device

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/corelinkhq/platform-core/internal/model"
	"github.com/corelinkhq/platform-core/internal/repository"
	"github.com/corelinkhq/platform-core/internal/repository/postgres"
	"github.com/corelinkhq/platform-core/pkg/logger"
	"github.com/corelinkhq/platform-core/pkg/outbox"
)

// Event publications, declared once at package level and treated as
// registration-time metadata.
var (
	deviceCreated = outbox.NewPublication("device", "device.created",
		func(result interface{}, _ outbox.Args) interface{} {
			d := result.(*model.Device)
			return map[string]interface{}{
				"deviceId": d.ID.String(),
				"tenantId": d.TenantID,
				"name":     d.Name,
			}
		})

	// One install operation branches into app.install.installed or
	// app.install.failed depending on outcome, and additionally consumes
	// a quota slot on the tenant's stream. Both rows ride the same
	// transaction, in this order.
	appInstalled = []outbox.Publication{
		outbox.DynamicPublication("device",
			func(result interface{}, _ outbox.Args) string {
				in := result.(*model.AppInstall)
				return "app.install." + strings.ToLower(in.Status)
			},
			func(result interface{}, _ outbox.Args) interface{} {
				in := result.(*model.AppInstall)
				return map[string]interface{}{
					"deviceId": in.DeviceID.String(),
					"appId":    in.AppID,
					"status":   in.Status,
					"reason":   in.Reason,
				}
			}).WithEntityID(func(result interface{}, _ outbox.Args) string {
			return result.(*model.AppInstall).DeviceID.String()
		}),
		outbox.NewPublication("quota", "quota.app_slot.consumed",
			func(result interface{}, _ outbox.Args) interface{} {
				in := result.(*model.AppInstall)
				return map[string]interface{}{
					"tenantId": in.TenantID,
					"appId":    in.AppID,
				}
			}).WithEntityID(func(result interface{}, _ outbox.Args) string {
			return result.(*model.AppInstall).TenantID
		}),
	}
)

type Service struct {
	base     postgres.BaseRepository
	devices  repository.DeviceRepository
	recorder *outbox.Recorder
	logger   *logger.Logger
}

func NewService(base postgres.BaseRepository, devices repository.DeviceRepository, recorder *outbox.Recorder, logger *logger.Logger) *Service {
	return &Service{
		base:     base,
		devices:  devices,
		recorder: recorder,
		logger:   logger,
	}
}

// Register creates a device and captures device.created in the same
// transaction. If either write fails, neither is visible downstream.
func (s *Service) Register(ctx context.Context, req *model.CreateDeviceRequest) (*model.Device, error) {
	now := time.Now()
	device := &model.Device{
		ID:        uuid.New(),
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		Name:      req.Name,
		Status:    model.DeviceStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.base.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.devices.CreateTx(ctx, tx, device); err != nil {
			return err
		}
		return s.recorder.Capture(ctx, tx, deviceCreated, device, nil)
	})
	if err != nil {
		return nil, err
	}

	return device, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Device, error) {
	return s.devices.Get(ctx, id)
}

func (s *Service) ListByTenant(ctx context.Context, tenantID string, page model.Pagination) ([]*model.Device, error) {
	return s.devices.ListByTenant(ctx, tenantID, page)
}

func (s *Service) ListByOwner(ctx context.Context, userID string, page model.Pagination) ([]*model.Device, error) {
	return s.devices.ListByOwner(ctx, userID, page)
}

// InstallApp records an installation attempt. A disabled device fails the
// install, which still commits and emits app.install.failed; the event
// type tracks the business outcome, not the transaction outcome.
func (s *Service) InstallApp(ctx context.Context, deviceID uuid.UUID, req *model.InstallAppRequest) (*model.AppInstall, error) {
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	install := &model.AppInstall{
		DeviceID: device.ID,
		TenantID: device.TenantID,
		AppID:    req.AppID,
		Status:   model.InstallStatusInstalled,
	}
	if device.Status == model.DeviceStatusDisabled {
		install.Status = model.InstallStatusFailed
		install.Reason = "device disabled"
	}

	err = s.base.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.devices.InsertAppTx(ctx, tx, install); err != nil {
			return err
		}
		return s.recorder.CaptureAll(ctx, tx, appInstalled, install, outbox.Args{
			"deviceId": deviceID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	return install, nil
}
