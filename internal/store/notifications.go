// internal/store/notifications.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fps-workflow/internal/models"
)

var ErrNotificationNotFound = errors.New("NOTIFICATION_NOT_FOUND")

// InsertNotification persists one notification event. Rows are immutable
// apart from the read flag and are never deleted; they are the durable
// source of truth for unread counts.
func InsertNotification(ctx context.Context, q Querier, n *models.Notification) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, record_code, title, message, sender, priority, link, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)`,
		n.ID, n.RecipientID, n.RecordCode, n.Title, n.Message, n.Sender, n.Priority, n.Link, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a recipient's notifications, newest first.
func ListNotifications(ctx context.Context, q Querier, recipientID string) ([]models.Notification, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, recipient_id, record_code, title, message, sender, priority, link, read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC`,
		recipientID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.RecordCode, &n.Title, &n.Message,
			&n.Sender, &n.Priority, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// UnreadCount recomputes the recipient's unread total from stored rows.
func UnreadCount(ctx context.Context, q Querier, recipientID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read = false`,
		recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// MarkNotificationRead flips the read flag on one event and returns its
// recipient so the caller can rebroadcast that user's state.
func MarkNotificationRead(ctx context.Context, q Querier, id string) (string, error) {
	var recipientID string
	err := q.QueryRowContext(ctx,
		`UPDATE notifications SET read = true WHERE id = $1 RETURNING recipient_id`,
		id).Scan(&recipientID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("mark read: %w", err)
	}
	return recipientID, nil
}

// ListActivePushTargets returns the assignee's registered push
// destinations. An empty result is not an error.
func ListActivePushTargets(ctx context.Context, q Querier, userID string) ([]models.PushTarget, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id, endpoint_arn, active FROM push_targets WHERE user_id = $1 AND active = true`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push targets: %w", err)
	}
	defer rows.Close()

	var targets []models.PushTarget
	for rows.Next() {
		var t models.PushTarget
		if err := rows.Scan(&t.UserID, &t.EndpointARN, &t.Active); err != nil {
			return nil, fmt.Errorf("scan push target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}
