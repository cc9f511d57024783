package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cartstream/storefront/internal/domain/notify"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes email to a topic for an external sender to deliver.
// Messages are keyed by recipient so one recipient's mail stays ordered.
type Kafka struct {
	w    messageWriter
	from string
}

// NewKafka returns a Kafka mailer writing to topic on the given brokers.
func NewKafka(brokers []string, topic, from string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
		from: from,
	}
}

// mailMessage is the JSON payload of a mail topic message.
type mailMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (m *Kafka) Send(ctx context.Context, e notify.Email) error {
	msg, err := m.encode(e)
	if err != nil {
		return err
	}
	if err := m.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish mail to %q: %w", e.To, err)
	}
	return nil
}

func (m *Kafka) encode(e notify.Email) (kafka.Message, error) {
	data, err := json.Marshal(mailMessage{From: m.from, To: e.To, Subject: e.Subject, Body: e.Body})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.To),
		Value: data,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}

func (m *Kafka) Close() error {
	return m.w.Close()
}
