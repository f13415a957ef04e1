package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/corelinkhq/platform-core/internal/model"
	"github.com/corelinkhq/platform-core/pkg/logger"
)

// Configuration errors. All of them abort the enclosing transaction; an
// operation registered for event capture must never silently skip
// emission.
var (
	ErrNilTx              = errors.New("outbox: capture requires the caller's open transaction")
	ErrNoEntityID         = errors.New("outbox: could not resolve entity id")
	ErrNoEventType        = errors.New("outbox: could not resolve event type")
	ErrNoPayloadExtractor = errors.New("outbox: publication has no payload extractor")
)

// Writer is the outbox-write capability. The *sqlx.Tx parameter forces the
// event row into the same transaction as the business mutation.
type Writer interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error
}

// Recorder captures domain events declared by Publications and writes
// them through the caller's transaction. It is shared by all services and
// holds no per-request state.
type Recorder struct {
	writer Writer
	logger *logger.Logger
}

// NewRecorder wires the recorder to the outbox store. A missing writer is
// a deployment mistake, not a runtime condition.
func NewRecorder(writer Writer, logger *logger.Logger) *Recorder {
	if writer == nil {
		panic("outbox: recorder requires a writer")
	}
	return &Recorder{writer: writer, logger: logger}
}

// Capture evaluates one publication against the operation's result and
// writes the event row inside tx. The row becomes durable if and only if
// the caller commits.
func (r *Recorder) Capture(ctx context.Context, tx *sqlx.Tx, pub Publication, result interface{}, args Args) error {
	if tx == nil {
		return ErrNilTx
	}

	event, err := r.build(pub, result, args)
	if err != nil {
		return err
	}

	if err := r.writer.CreateTx(ctx, tx, event); err != nil {
		return fmt.Errorf("outbox: failed to write event: %w", err)
	}

	r.logger.Debug("captured outbox event",
		"aggregate_type", event.AggregateType,
		"aggregate_id", event.AggregateID,
		"event_type", event.EventType,
	)
	return nil
}

// CaptureAll evaluates each publication independently and writes the rows
// in registration order, all inside tx. Sibling events of one operation
// keep their relative order in the aggregate's stream.
func (r *Recorder) CaptureAll(ctx context.Context, tx *sqlx.Tx, pubs []Publication, result interface{}, args Args) error {
	if tx == nil {
		return ErrNilTx
	}

	for i, pub := range pubs {
		event, err := r.build(pub, result, args)
		if err != nil {
			return fmt.Errorf("publication %d: %w", i, err)
		}
		if err := r.writer.CreateTx(ctx, tx, event); err != nil {
			return fmt.Errorf("outbox: failed to write event %d: %w", i, err)
		}
	}
	return nil
}

func (r *Recorder) build(pub Publication, result interface{}, args Args) (*model.OutboxEvent, error) {
	if pub.Payload == nil {
		return nil, fmt.Errorf("%w: aggregate %q", ErrNoPayloadExtractor, pub.AggregateType)
	}

	entityID, err := pub.resolveEntityID(result, args)
	if err != nil {
		return nil, err
	}

	eventType, err := pub.resolveEventType(result, args)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(pub.Payload(result, args))
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to marshal payload for %q: %w", eventType, err)
	}

	now := time.Now()
	return &model.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: pub.AggregateType,
		AggregateID:   entityID,
		EventType:     eventType,
		Payload:       payload,
		Status:        model.OutboxStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
