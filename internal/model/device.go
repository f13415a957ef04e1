package model

import (
	"time"

	"github.com/google/uuid"
)

// Device status constants
const (
	DeviceStatusCreated  = "created"
	DeviceStatusActive   = "active"
	DeviceStatusDisabled = "disabled"
)

// App install status constants
const (
	InstallStatusInstalled = "INSTALLED"
	InstallStatusFailed    = "FAILED"
)

// Device is the representative aggregate used to exercise the event
// capture and scope pipeline end to end.
type Device struct {
	ID        uuid.UUID `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AppInstall is the outcome of an app installation attempt on a device.
type AppInstall struct {
	DeviceID uuid.UUID `json:"device_id"`
	TenantID string    `json:"tenant_id"`
	AppID    string    `json:"app_id"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
}

type CreateDeviceRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

type InstallAppRequest struct {
	AppID string `json:"app_id" binding:"required"`
}
