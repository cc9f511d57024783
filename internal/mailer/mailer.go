// Package mailer provides the email transports behind notify.Mailer.
package mailer

import (
	"io"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/cartstream/storefront/internal/domain/notify"
)

// Transport names accepted by New.
const (
	TransportLog      = "log"
	TransportPostmark = "postmark"
	TransportKafka    = "kafka"
)

// Config selects and configures a transport.
type Config struct {
	Transport     string   `default:"log" usage:"email transport: log, postmark or kafka"`
	From          string   `default:"no-reply@cartstream.local" usage:"sender address"`
	PostmarkToken string   `usage:"Postmark server token"`
	KafkaBrokers  []string `usage:"Kafka brokers for the mail topic"`
	KafkaTopic    string   `default:"storefront.mail" usage:"Kafka topic receiving outgoing email"`
}

// Mailer is a notify.Mailer that may hold resources to release.
type Mailer interface {
	notify.Mailer
	io.Closer
}

// New builds the transport named by cfg.Transport.
func New(cfg Config, lg *zap.Logger) (Mailer, error) {
	switch cfg.Transport {
	case "", TransportLog:
		return NewLog(lg), nil
	case TransportPostmark:
		if cfg.PostmarkToken == "" {
			return nil, errors.New("postmark transport requires a server token")
		}
		return NewPostmark(cfg.PostmarkToken, cfg.From), nil
	case TransportKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("kafka transport requires at least one broker")
		}
		return NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.From), nil
	default:
		return nil, errors.Errorf("unknown mail transport %q", cfg.Transport)
	}
}
