package messaging

import (
	"context"
)

// Broker defines the interface for message brokers. Key is the partition
// key for brokers that support keyed publishing; implementations without
// partitions fold the key into the message envelope.
type Broker interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

// Message is the envelope used by brokers without native keys.
type Message struct {
	Key     string `json:"key"`
	Payload []byte `json:"payload"`
}
