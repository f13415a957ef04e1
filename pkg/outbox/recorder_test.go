package outbox

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelinkhq/platform-core/internal/model"
	"github.com/corelinkhq/platform-core/pkg/logger"
)

// capturingWriter records events instead of hitting a database. Tx
// plumbing is still exercised through a sqlmock transaction.
type capturingWriter struct {
	events []*model.OutboxEvent
}

func (w *capturingWriter) CreateTx(_ context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	if tx == nil {
		panic("writer called without transaction")
	}
	w.events = append(w.events, event)
	return nil
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func newTestTx(t *testing.T) *sqlx.Tx {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	tx, err := sqlx.NewDb(db, "postgres").Beginx()
	require.NoError(t, err)
	return tx
}

func newTestRecorder() (*Recorder, *capturingWriter) {
	w := &capturingWriter{}
	return NewRecorder(w, logger.NewLogger(nil)), w
}

func TestCaptureStaticEventType(t *testing.T) {
	recorder, writer := newTestRecorder()
	tx := newTestTx(t)

	pub := NewPublication("device", "device.created",
		func(result interface{}, _ Args) interface{} {
			return map[string]interface{}{"deviceId": result.(map[string]interface{})["id"]}
		})

	result := map[string]interface{}{"id": "d1", "userId": "u1", "status": "created"}
	err := recorder.Capture(context.Background(), tx, pub, result, nil)
	require.NoError(t, err)

	require.Len(t, writer.events, 1)
	evt := writer.events[0]
	assert.Equal(t, "device", evt.AggregateType)
	assert.Equal(t, "d1", evt.AggregateID)
	assert.Equal(t, "device.created", evt.EventType)
	assert.JSONEq(t, `{"deviceId":"d1"}`, string(evt.Payload))
	assert.Equal(t, model.OutboxStatusPending, evt.Status)
}

func TestCaptureDynamicEventType(t *testing.T) {
	recorder, writer := newTestRecorder()
	tx := newTestTx(t)

	pub := DynamicPublication("device",
		func(result interface{}, _ Args) string {
			status := result.(map[string]interface{})["status"].(string)
			return "app.install." + strings.ToLower(status)
		},
		func(result interface{}, _ Args) interface{} {
			return result
		})

	result := map[string]interface{}{"id": "d1", "status": "FAILED"}
	err := recorder.Capture(context.Background(), tx, pub, result, nil)
	require.NoError(t, err)

	require.Len(t, writer.events, 1)
	assert.Equal(t, "app.install.failed", writer.events[0].EventType)
}

func TestCaptureRequiresTransaction(t *testing.T) {
	recorder, writer := newTestRecorder()

	pub := NewPublication("device", "device.created",
		func(result interface{}, _ Args) interface{} { return result })

	err := recorder.Capture(context.Background(), nil, pub, map[string]interface{}{"id": "d1"}, nil)
	assert.ErrorIs(t, err, ErrNilTx)
	assert.Empty(t, writer.events)
}

func TestCaptureMissingEntityIDFailsLoudly(t *testing.T) {
	recorder, writer := newTestRecorder()
	tx := newTestTx(t)

	pub := NewPublication("device", "device.created",
		func(result interface{}, _ Args) interface{} { return result })

	err := recorder.Capture(context.Background(), tx, pub, map[string]interface{}{"name": "no id here"}, nil)
	assert.ErrorIs(t, err, ErrNoEntityID)
	assert.Empty(t, writer.events)
}

func TestCaptureMissingPayloadExtractor(t *testing.T) {
	recorder, writer := newTestRecorder()
	tx := newTestTx(t)

	pub := Publication{AggregateType: "device", EventType: "device.created"}

	err := recorder.Capture(context.Background(), tx, pub, map[string]interface{}{"id": "d1"}, nil)
	assert.ErrorIs(t, err, ErrNoPayloadExtractor)
	assert.Empty(t, writer.events)
}

func TestCaptureEntityIDOverride(t *testing.T) {
	recorder, writer := newTestRecorder()
	tx := newTestTx(t)

	pub := NewPublication("quota", "quota.consumed",
		func(result interface{}, _ Args) interface{} { return result }).
		WithEntityID(func(_ interface{}, args Args) string {
			return args["tenantId"].(string)
		})

	err := recorder.Capture(context.Background(), tx, pub, map[string]interface{}{"amount": 1}, Args{"tenantId": "t1"})
	require.NoError(t, err)
	require.Len(t, writer.events, 1)
	assert.Equal(t, "t1", writer.events[0].AggregateID)
}

func TestCaptureAllPreservesRegistrationOrder(t *testing.T) {
	recorder, writer := newTestRecorder()
	tx := newTestTx(t)

	pubs := []Publication{
		NewPublication("device", "first", func(result interface{}, _ Args) interface{} { return result }),
		NewPublication("device", "second", func(result interface{}, _ Args) interface{} { return result }),
		NewPublication("device", "third", func(result interface{}, _ Args) interface{} { return result }),
	}

	err := recorder.CaptureAll(context.Background(), tx, pubs, map[string]interface{}{"id": "d1"}, nil)
	require.NoError(t, err)

	require.Len(t, writer.events, 3)
	assert.Equal(t, "first", writer.events[0].EventType)
	assert.Equal(t, "second", writer.events[1].EventType)
	assert.Equal(t, "third", writer.events[2].EventType)
}

func TestCaptureAllFailsAtomically(t *testing.T) {
	recorder, writer := newTestRecorder()
	tx := newTestTx(t)

	pubs := []Publication{
		NewPublication("device", "first", func(result interface{}, _ Args) interface{} { return result }),
		// No payload extractor: evaluation fails before any further write.
		{AggregateType: "device", EventType: "second"},
	}

	err := recorder.CaptureAll(context.Background(), tx, pubs, map[string]interface{}{"id": "d1"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPayloadExtractor)
	// The first event was written inside the same tx; the caller's
	// rollback discards it together with the business mutation.
	assert.Len(t, writer.events, 1)
}

func TestDefaultEntityIDFromStruct(t *testing.T) {
	device := &model.Device{ID: mustUUID(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")}
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", defaultEntityID(device))

	assert.Equal(t, "", defaultEntityID(&model.Device{}), "zero uuid is not an id")
	assert.Equal(t, "", defaultEntityID(nil))
	assert.Equal(t, "d1", defaultEntityID(map[string]interface{}{"id": "d1"}))
}

func TestNewRecorderRequiresWriter(t *testing.T) {
	assert.Panics(t, func() { NewRecorder(nil, logger.NewLogger(nil)) })
}
