package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/prompt-general/askslide/pkg/models"
)

// ErrPublisherClosed is returned when publishing on a closed publisher
var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher emits document lifecycle events for downstream consumers
type Publisher interface {
	Publish(ctx context.Context, event models.DocumentEvent) error
	Close() error
}

// Config holds the Kafka publisher settings
type Config struct {
	Brokers []string
	Topic   string
}

type kafkaPublisher struct {
	writer *kafka.Writer
	mu     sync.Mutex
	closed bool
}

// NewKafkaPublisher creates a Publisher writing to the configured topic
func NewKafkaPublisher(cfg Config) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Compression:  kafka.Gzip,
		RequiredAcks: kafka.RequireAll,
	}
	return &kafkaPublisher{writer: writer}, nil
}

// Publish sends one event keyed by document id
func (p *kafkaPublisher) Publish(ctx context.Context, event models.DocumentEvent) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.mu.Unlock()

	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.DocumentID),
		Value: value,
	})
}

// Close closes the underlying writer
func (p *kafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

// NopPublisher drops events; used when Kafka is disabled
type NopPublisher struct{}

// Publish logs the event and discards it
func (NopPublisher) Publish(ctx context.Context, event models.DocumentEvent) error {
	log.Printf("Event (kafka disabled): %s doc=%s kb=%s", event.Type, event.DocumentID, event.KBID)
	return nil
}

// Close is a no-op
func (NopPublisher) Close() error { return nil }
