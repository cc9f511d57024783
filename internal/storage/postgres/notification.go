package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartstream/storefront/internal/domain/notify"
	"github.com/cartstream/storefront/pkg/ist"
)

const (
	insertNotificationSQL = `INSERT INTO notifications (user_id, message, is_read, created_at)
		VALUES ($1, $2, FALSE, $3) RETURNING id`

	listNotificationsSQL = `SELECT id, user_id, message, is_read, created_at FROM notifications
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	markNotificationReadSQL = `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`

	markAllNotificationsReadSQL = `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`

	insertFailedEmailSQL = `INSERT INTO failed_emails (recipient, subject, body, last_error, attempts,
		next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)`

	dueFailedEmailsSQL = `SELECT id, recipient, subject, body, attempts, last_error, next_attempt_at, created_at
		FROM failed_emails
		WHERE resolved_at IS NULL AND next_attempt_at <= $1 AND attempts < $2
		ORDER BY next_attempt_at, id
		LIMIT $3`

	resolveFailedEmailSQL = `UPDATE failed_emails SET resolved_at = $2 WHERE id = $1`

	rescheduleFailedEmailSQL = `UPDATE failed_emails
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
		WHERE id = $1`
)

var _ notify.Store = (*NotificationRepository)(nil)

// NotificationRepository implements notify.Store backed by PostgreSQL.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository returns a NotificationRepository that uses the
// given pool.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: pool}
}

// CreateBatch inserts the notifications under a nested transaction. Inside
// an order transaction that is a savepoint, so a failed insert is undone
// without aborting the enclosing transaction.
func (r *NotificationRepository) CreateBatch(ctx context.Context, ns []notify.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for i := range ns {
			n := &ns[i]
			if err := tx.QueryRow(ctx, insertNotificationSQL, n.UserID, n.Message, ist.Wall(n.CreatedAt)).Scan(&n.ID); err != nil {
				return fmt.Errorf("inserting notification for user %d: %w", n.UserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating notifications: %w", err)
	}
	return nil
}

// List returns the user's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, userID int64) ([]notify.Notification, error) {
	rows, err := r.db.Query(ctx, listNotificationsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications of user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notify.Notification, error) {
		var n notify.Notification
		err := row.Scan(&n.ID, &n.UserID, &n.Message, &n.IsRead, &n.CreatedAt)
		n.CreatedAt = ist.FromWall(n.CreatedAt)
		return n, err
	})
}

// MarkRead marks one of the user's notifications as read. Notifications of
// other users are reported as notify.ErrNotFound.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id int64) error {
	tag, err := r.db.Exec(ctx, markNotificationReadSQL, id, userID)
	if err != nil {
		return fmt.Errorf("marking notification %d read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of the user as read and
// returns how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, markAllNotificationsReadSQL, userID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications of user %d read: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}

var _ notify.Outbox = (*OutboxRepository)(nil)

// OutboxRepository records undelivered email in the failed_emails table.
type OutboxRepository struct {
	db  DBTX
	now func() time.Time
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: pool, now: ist.Now}
}

// RecordFailure stores a first failed attempt.
func (r *OutboxRepository) RecordFailure(ctx context.Context, e notify.Email, cause string, next time.Time) error {
	_, err := r.db.Exec(ctx, insertFailedEmailSQL, e.To, e.Subject, e.Body, cause, ist.Wall(next), ist.Wall(r.now()))
	if err != nil {
		return fmt.Errorf("recording failed email to %q: %w", e.To, err)
	}
	return nil
}

// DueFailures returns unresolved failures due at now.
func (r *OutboxRepository) DueFailures(ctx context.Context, now time.Time, maxAttempts, limit int) ([]notify.FailedEmail, error) {
	rows, err := r.db.Query(ctx, dueFailedEmailsSQL, ist.Wall(now), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due failed emails: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notify.FailedEmail, error) {
		var f notify.FailedEmail
		err := row.Scan(&f.ID, &f.Email.To, &f.Email.Subject, &f.Email.Body, &f.Attempts, &f.LastError,
			&f.NextAttemptAt, &f.CreatedAt)
		f.NextAttemptAt = ist.FromWall(f.NextAttemptAt)
		f.CreatedAt = ist.FromWall(f.CreatedAt)
		return f, err
	})
}

// Resolve marks a failure as delivered.
func (r *OutboxRepository) Resolve(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, resolveFailedEmailSQL, id, ist.Wall(r.now())); err != nil {
		return fmt.Errorf("resolving failed email %d: %w", id, err)
	}
	return nil
}

// Reschedule counts another failed attempt and sets the next one.
func (r *OutboxRepository) Reschedule(ctx context.Context, id int64, cause string, next time.Time) error {
	if _, err := r.db.Exec(ctx, rescheduleFailedEmailSQL, id, cause, ist.Wall(next)); err != nil {
		return fmt.Errorf("rescheduling failed email %d: %w", id, err)
	}
	return nil
}
