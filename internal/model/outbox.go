package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusDispatched OutboxStatus = "DISPATCHED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// OutboxEvent is the durable contract between the transactional write side
// and the relay. Seq is assigned by the database and is the ordering key
// within one aggregate's event stream; CreatedAt alone is not monotonic.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Seq           int64           `db:"seq" json:"seq"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id" json:"aggregate_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        OutboxStatus    `db:"status" json:"status"`
	ErrorMessage  *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	RetryAt       *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	ClaimedBy     *string         `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedUntil  *time.Time      `db:"claimed_until" json:"claimed_until,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	DispatchedAt  *time.Time      `db:"dispatched_at" json:"dispatched_at,omitempty"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}
