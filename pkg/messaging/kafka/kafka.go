package kafka

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/corelinkhq/platform-core/pkg/messaging"
)

type Config struct {
	Brokers      []string
	BatchTimeout time.Duration // default 50ms
	WriteTimeout time.Duration // default 10s
}

// KafkaBroker is a thin wrapper around segmentio/kafka-go Writer. Messages
// with the same key land on the same partition, which gives consumers
// ordered delivery per aggregate.
type KafkaBroker struct {
	w      *kafka.Writer
	logger *zerolog.Logger
}

func NewKafkaBroker(c Config, logger *zerolog.Logger) messaging.Broker {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: bt,
		WriteTimeout: wt,
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaBroker{w: w, logger: logger}
}

func (b *KafkaBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return b.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
}

func (b *KafkaBroker) Close() error {
	return b.w.Close()
}
