package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"authguard/internal/alert/domain"
)

const writeTimeout = 5 * time.Second

// Message is the JSON payload written for each alert.
type Message struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	IdentityID  string    `json:"identity_id,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	Details     string    `json:"details,omitempty"`
	Occurrences int       `json:"occurrences"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// NewMessage converts a to its wire form.
func NewMessage(a *domain.Alert) Message {
	return Message{
		ID:          a.ID,
		Type:        string(a.Type),
		Severity:    string(a.Severity),
		IdentityID:  a.IdentityID,
		Origin:      a.Origin,
		Details:     a.Details,
		Occurrences: a.Occurrences,
		FirstSeenAt: a.FirstSeenAt,
		LastSeenAt:  a.LastSeenAt,
	}
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes alerts to a topic keyed by identity so one identity's alerts stay ordered.
type KafkaProducer struct {
	writer messageWriter
}

// NewKafkaProducer returns nil when brokers or topic are empty, meaning Kafka fan-out is off.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaProducer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

// Publish writes a as JSON. A nil producer is a no-op.
func (p *KafkaProducer) Publish(ctx context.Context, a *domain.Alert) error {
	if p == nil || p.writer == nil || a == nil {
		return nil
	}
	payload, err := json.Marshal(NewMessage(a))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(a.IdentityID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte(a.Type)},
			{Key: "severity", Value: []byte(a.Severity)},
		},
	})
}

// Close closes the writer. Safe on a nil producer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
