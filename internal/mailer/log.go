package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/cartstream/storefront/internal/domain/notify"
)

// Log writes email to the log instead of sending it. Useful in development.
type Log struct {
	lg *zap.Logger
}

// NewLog returns a Log mailer.
func NewLog(lg *zap.Logger) *Log {
	return &Log{lg: lg.Named("mail")}
}

func (m *Log) Send(_ context.Context, e notify.Email) error {
	m.lg.Info("Email",
		zap.String("to", e.To),
		zap.String("subject", e.Subject),
		zap.Int("body_bytes", len(e.Body)),
	)
	m.lg.Debug("Email body", zap.String("body", e.Body))
	return nil
}

func (m *Log) Close() error { return nil }
