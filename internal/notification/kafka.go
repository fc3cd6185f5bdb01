package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives terminal transaction events when no topic is configured.
const DefaultTopic = "ledger.transactions"

const (
	writeTimeout = 2 * time.Second
	// writes are synchronous, one event per commit; do not wait to fill a batch
	batchTimeout = 10 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes messages as JSON, keyed by transaction id so every
// event for one transaction lands on the same partition.
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier builds a notifier writing to topic on the given brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           batchTimeout,
			WriteTimeout:           writeTimeout,
			ReadTimeout:            writeTimeout,
		},
	}
}

// Send encodes and writes the message.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	msg, err := encode(message)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", message.Kind, err)
	}
	return nil
}

// Close flushes pending writes and releases broker connections.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func encode(message Message) (kafka.Message, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", message.Kind, err)
	}
	return kafka.Message{
		Key:   []byte(message.TransactionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(message.Kind)},
		},
	}, nil
}
