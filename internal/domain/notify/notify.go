// Package notify produces user-visible notifications and outbound email.
//
// In-app notification rows are written through whatever Store the caller
// hands in, so an order transaction can persist them before it commits.
// Email is handed to the Dispatcher only after commit and delivered by
// background workers; a failed send is logged and recorded for retry, never
// reported back to the order path.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = errors.New("notification not found")

// Notification is an in-app message for one user.
type Notification struct {
	ID        int64
	UserID    int64
	Message   string
	IsRead    bool
	CreatedAt time.Time
}

// Email is an outbound email request.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Message pairs an in-app notification with an optional email.
type Message struct {
	UserID int64
	Text   string
	Email  *Email
}

// DeliveryError wraps an email transport failure.
type DeliveryError struct {
	To      string
	Subject string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %q to %s: %v", e.Subject, e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Store persists in-app notifications.
type Store interface {
	// CreateBatch inserts all notifications or none of them, filling IDs.
	CreateBatch(ctx context.Context, ns []Notification) error
	List(ctx context.Context, userID int64) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

// FailedEmail is an audit row for an email that could not be delivered.
type FailedEmail struct {
	ID            int64
	Email         Email
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// Outbox records failed sends so they can be retried.
type Outbox interface {
	RecordFailure(ctx context.Context, e Email, cause string, next time.Time) error
	// DueFailures returns up to limit failures due at now with fewer than
	// maxAttempts attempts.
	DueFailures(ctx context.Context, now time.Time, maxAttempts, limit int) ([]FailedEmail, error)
	Resolve(ctx context.Context, id int64) error
	Reschedule(ctx context.Context, id int64, cause string, next time.Time) error
}

// Mailer is an email transport.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}
