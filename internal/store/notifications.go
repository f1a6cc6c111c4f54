// internal/store/notifications.go

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"civigo/internal/common/logger"
	"civigo/internal/models"

	stderrors "civigo/internal/common/errors"
)

// NotificationStore is the outbox for applicant-facing messages.
type NotificationStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewNotificationStore(db *sql.DB, log logger.Logger) *NotificationStore {
	return &NotificationStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "notification-store"}),
	}
}

// Enqueue writes a pending notification row.
func (s *NotificationStore) Enqueue(ctx context.Context, n models.Notification) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, application_id, event, channel, recipient, subject, body, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)`,
		id, n.ApplicationID, n.Event, n.Channel, n.Recipient, n.Subject, n.Body,
		models.NotificationStatusPending, time.Now().UTC(),
	)
	if err != nil {
		return "", stderrors.NewQueryExecutionFailedError("notification enqueue", err)
	}
	return id, nil
}

// ClaimPending returns up to limit pending notifications, oldest first.
func (s *NotificationStore) ClaimPending(ctx context.Context, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, event, channel, recipient, COALESCE(subject, ''), body,
		       status, attempts, created_at, sent_at
		FROM notifications
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`,
		models.NotificationStatusPending, limit,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("notification claim", err)
	}
	defer rows.Close()

	var pending []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.ApplicationID, &n.Event, &n.Channel, &n.Recipient,
			&n.Subject, &n.Body, &n.Status, &n.Attempts, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("notification claim", err)
		}
		pending = append(pending, n)
	}
	return pending, rows.Err()
}

// MarkSent finalizes a delivered notification.
func (s *NotificationStore) MarkSent(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.NotificationStatusSent, true)
}

// MarkFailed records a delivery failure. Rows under the attempt ceiling stay
// pending for the next drain; the rest are parked as failed.
func (s *NotificationStore) MarkFailed(ctx context.Context, id string, maxAttempts int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $1 THEN $2 ELSE $3 END
		WHERE id = $4`,
		maxAttempts, models.NotificationStatusFailed, models.NotificationStatusPending, id,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("notification fail", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		s.logger.Warn("notification vanished before failure mark", map[string]interface{}{
			"notificationId": id,
		})
	}
	return nil
}

func (s *NotificationStore) setStatus(ctx context.Context, id, status string, stampSent bool) error {
	var err error
	if stampSent {
		_, err = s.db.ExecContext(ctx,
			`UPDATE notifications SET status = $1, sent_at = $2 WHERE id = $3`,
			status, time.Now().UTC(), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE notifications SET status = $1 WHERE id = $2`, status, id)
	}
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("notification update", err)
	}
	return nil
}
