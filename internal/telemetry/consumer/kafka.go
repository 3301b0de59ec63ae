// Package consumer reads telemetry events back from the Kafka topic the producer writes to.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"financial-advisor/client/internal/telemetry/domain"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaReader returns a consumer-group reader on topic.
func NewKafkaReader(brokers []string, topic, groupID string) (*kafka.Reader, error) {
	if len(brokers) == 0 {
		return nil, errors.New("consumer: KAFKA_BROKERS is required")
	}
	if topic == "" {
		return nil, errors.New("consumer: topic is required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	}), nil
}

// Tail reads events and passes each to handle until ctx is done, handle fails, or limit events
// were handled (limit <= 0 means no limit). Undecodable messages are logged and skipped.
// Returns nil when stopped by ctx or the limit.
func Tail(ctx context.Context, r MessageReader, limit int, handle func(*domain.Event) error) error {
	handled := 0
	for limit <= 0 || handled < limit {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			log.Printf("consumer: kafka read error: %v", err)
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("consumer: skip undecodable message at offset %d: %v", msg.Offset, err)
			continue
		}
		if err := handle(&ev); err != nil {
			return err
		}
		handled++
	}
	return nil
}
