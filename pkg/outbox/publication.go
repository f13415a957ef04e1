package outbox

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
)

// Args carries the named arguments of the wrapped operation, available to
// extractors alongside the operation's result.
type Args map[string]interface{}

// EventTypeFunc derives the event type from the operation's outcome,
// letting one write operation branch into different event types.
type EventTypeFunc func(result interface{}, args Args) string

// PayloadFunc builds the event payload. The whole result is never
// serialized implicitly; producers state exactly what goes downstream.
type PayloadFunc func(result interface{}, args Args) interface{}

// EntityIDFunc resolves the aggregate id from the operation's outcome.
type EntityIDFunc func(result interface{}, args Args) string

// Publication declares one event emitted by a transactional operation.
// Values are built at registration time and never mutated afterwards.
type Publication struct {
	AggregateType string
	EventType     string
	EventTypeFn   EventTypeFunc
	Payload       PayloadFunc
	EntityID      EntityIDFunc
}

// NewPublication declares a statically-typed event for an aggregate.
func NewPublication(aggregateType, eventType string, payload PayloadFunc) Publication {
	return Publication{
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
	}
}

// DynamicPublication declares an event whose type is computed from the
// operation's result, e.g. "app.install." + status.
func DynamicPublication(aggregateType string, eventType EventTypeFunc, payload PayloadFunc) Publication {
	return Publication{
		AggregateType: aggregateType,
		EventTypeFn:   eventType,
		Payload:       payload,
	}
}

// WithEntityID overrides the default aggregate-id resolution (the
// result's "id" field).
func (p Publication) WithEntityID(fn EntityIDFunc) Publication {
	p.EntityID = fn
	return p
}

func (p Publication) resolveEventType(result interface{}, args Args) (string, error) {
	if p.EventTypeFn != nil {
		if et := p.EventTypeFn(result, args); et != "" {
			return et, nil
		}
		return "", fmt.Errorf("%w: aggregate %q", ErrNoEventType, p.AggregateType)
	}
	if p.EventType != "" {
		return p.EventType, nil
	}
	return "", fmt.Errorf("%w: aggregate %q", ErrNoEventType, p.AggregateType)
}

func (p Publication) resolveEntityID(result interface{}, args Args) (string, error) {
	var id string
	if p.EntityID != nil {
		id = p.EntityID(result, args)
	} else {
		id = defaultEntityID(result)
	}
	if id == "" {
		return "", fmt.Errorf("%w: aggregate %q", ErrNoEntityID, p.AggregateType)
	}
	return id, nil
}

// defaultEntityID pulls the id out of a map's "id" key or a struct's ID
// field. Field traversal mirrors the json tags so map and struct results
// behave the same.
func defaultEntityID(result interface{}) string {
	if result == nil {
		return ""
	}

	if m, ok := result.(map[string]interface{}); ok {
		return stringifyID(m["id"])
	}

	val := reflect.ValueOf(result)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return ""
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return ""
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		if name == "id" {
			return stringifyID(val.Field(i).Interface())
		}
	}
	return ""
}

func stringifyID(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case uuid.UUID:
		if id == uuid.Nil {
			return ""
		}
		return id.String()
	case fmt.Stringer:
		return id.String()
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", id)
	default:
		return ""
	}
}
