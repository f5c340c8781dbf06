// internal/notify/notifier.go
// Package notify delivers in-app notifications with best-effort push and
// live-channel fan-out. Delivery failures never propagate to the workflow
// caller; the persisted notification row is the durable source of truth.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fps-workflow/internal/common/config"
	stderrors "fps-workflow/internal/common/errors"
	"fps-workflow/internal/common/logger"
	"fps-workflow/internal/common/metrics"
	"fps-workflow/internal/models"
	"fps-workflow/internal/store"
)

const unreadCacheTTL = 10 * time.Minute

func unreadCacheKey(userID string) string {
	return "notifications:unread:" + userID
}

// PushSender publishes one push message; satisfied by the SNS client.
type PushSender interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// EmailSender sends one email; satisfied by the SES client.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// LiveChannel emits an event to a user's currently connected sessions.
// At-most-once, best-effort; a disconnected user is a no-op.
type LiveChannel interface {
	EmitToUser(ctx context.Context, userID, event string, payload interface{}) error
}

// Notifier persists notification events and fans out delivery.
type Notifier struct {
	store  *store.Store
	push   PushSender
	email  EmailSender
	live   LiveChannel
	cache  *redis.Client
	logger logger.Logger
	cfg    config.NotificationConfig

	baseURL string
}

func New(st *store.Store, push PushSender, email EmailSender, live LiveChannel,
	cache *redis.Client, cfg config.NotificationConfig, baseURL string, log logger.Logger) *Notifier {
	return &Notifier{
		store:   st,
		push:    push,
		email:   email,
		live:    live,
		cache:   cache,
		logger:  log.WithFields(map[string]interface{}{"component": "notifier"}),
		cfg:     cfg,
		baseURL: baseURL,
	}
}

// Dispatch delivers one notification to one assignee. The event row is
// persisted unconditionally; push delivery is fire-and-forget and never
// rolls it back. After persistence the recipient's unread state is
// recomputed and broadcast to their live channel.
func (n *Notifier) Dispatch(ctx context.Context, recipientID, recordCode, title, message, priority string) error {
	event := &models.Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		RecordCode:  recordCode,
		Title:       title,
		Message:     message,
		Sender:      n.cfg.Sender,
		Priority:    priority,
		Link:        fmt.Sprintf("%s/records/%s", n.baseURL, recordCode),
		CreatedAt:   time.Now().UTC(),
	}

	if err := store.InsertNotification(ctx, n.store.DB(), event); err != nil {
		return err
	}
	metrics.NotificationsDispatched.WithLabelValues(priority).Inc()

	n.sendPush(ctx, recipientID, title, message)
	n.refresh(ctx, recipientID)

	return nil
}

// sendPush attempts push delivery to every active destination of the
// assignee. None registered is a silent skip; timeout or provider error
// downgrades to log-and-continue.
func (n *Notifier) sendPush(ctx context.Context, recipientID, title, body string) {
	if !n.cfg.Push.Enabled || n.push == nil {
		return
	}

	targets, err := store.ListActivePushTargets(ctx, n.store.DB(), recipientID)
	if err != nil {
		n.logger.Warn("push target lookup failed", map[string]interface{}{
			"userId": recipientID,
			"error":  err,
		})
		return
	}
	if len(targets) == 0 {
		return
	}

	timeout := time.Duration(n.cfg.Push.Timeout) * time.Millisecond
	for _, target := range targets {
		pushCtx, cancel := context.WithTimeout(ctx, timeout)
		_, err := n.push.Publish(pushCtx, &sns.PublishInput{
			TargetArn: awssdk.String(target.EndpointARN),
			Subject:   awssdk.String(title),
			Message:   awssdk.String(body),
		})
		cancel()
		if err != nil {
			metrics.PushDeliveryFailures.Inc()
			delivery := stderrors.NewDeliveryFailedError("push", err)
			n.logger.Warn(delivery.Message, map[string]interface{}{
				"userId":   recipientID,
				"endpoint": target.EndpointARN,
				"error":    err,
			})
		}
	}
}

// refresh recomputes the recipient's unread state from stored rows and
// pushes both the count and the updated list to their live channel. A
// disconnected recipient receives current state on next connect.
func (n *Notifier) refresh(ctx context.Context, recipientID string) {
	count, err := store.UnreadCount(ctx, n.store.DB(), recipientID)
	if err != nil {
		n.logger.Warn("unread recount failed", map[string]interface{}{
			"userId": recipientID,
			"error":  err,
		})
		return
	}

	if n.cache != nil {
		if err := n.cache.Set(ctx, unreadCacheKey(recipientID), count, unreadCacheTTL).Err(); err != nil {
			n.logger.Debug("unread cache write failed", map[string]interface{}{
				"userId": recipientID,
				"error":  err,
			})
		}
	}

	if n.live == nil {
		return
	}
	if err := n.live.EmitToUser(ctx, recipientID, "notifications:count", count); err != nil {
		n.logger.Debug("live count emit failed", map[string]interface{}{
			"userId": recipientID,
			"error":  err,
		})
	}

	list, err := store.ListNotifications(ctx, n.store.DB(), recipientID)
	if err != nil {
		n.logger.Warn("notification list reload failed", map[string]interface{}{
			"userId": recipientID,
			"error":  err,
		})
		return
	}
	if err := n.live.EmitToUser(ctx, recipientID, "notifications:list", list); err != nil {
		n.logger.Debug("live list emit failed", map[string]interface{}{
			"userId": recipientID,
			"error":  err,
		})
	}
}

// MarkRead acknowledges one notification, then recomputes and rebroadcasts
// the recipient's unread state.
func (n *Notifier) MarkRead(ctx context.Context, notificationID string) error {
	recipientID, err := store.MarkNotificationRead(ctx, n.store.DB(), notificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotificationNotFound) {
			return stderrors.NewNotificationNotFoundError(notificationID)
		}
		return err
	}
	n.refresh(ctx, recipientID)
	return nil
}

// UnreadCount serves the unread-count endpoint, preferring the cache and
// falling back to the durable rows.
func (n *Notifier) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	if n.cache != nil {
		if cached, err := n.cache.Get(ctx, unreadCacheKey(recipientID)).Result(); err == nil {
			if count, convErr := strconv.Atoi(cached); convErr == nil {
				return count, nil
			}
		}
	}
	return store.UnreadCount(ctx, n.store.DB(), recipientID)
}

// List returns the recipient's notifications, newest first.
func (n *Notifier) List(ctx context.Context, recipientID string) ([]models.Notification, error) {
	return store.ListNotifications(ctx, n.store.DB(), recipientID)
}

// Broadcast notifies every current helper of a record, not just newly
// added ones. Fan-out is bounded; exceeding the bound truncates delivery
// with a warning rather than exhausting resources.
func (n *Notifier) Broadcast(ctx context.Context, recordCode, title, message, priority string) error {
	helpers, err := store.ListHelpers(ctx, n.store.DB(), recordCode)
	if err != nil {
		return err
	}

	limit := n.cfg.FanoutLimit
	if limit > 0 && len(helpers) > limit {
		n.logger.Warn("broadcast fan-out exceeds bound, truncating", map[string]interface{}{
			"recordCode": recordCode,
			"helpers":    len(helpers),
			"limit":      limit,
		})
		helpers = helpers[:limit]
	}

	for _, h := range helpers {
		if err := n.Dispatch(ctx, h.UserID, recordCode, title, message, priority); err != nil {
			n.logger.Error("broadcast dispatch failed", map[string]interface{}{
				"recordCode": recordCode,
				"userId":     h.UserID,
				"error":      err,
			})
			continue
		}
		n.sendClosureEmail(ctx, h.UserEmail, title, message)
	}
	return nil
}

// sendClosureEmail sends the optional closure summary email, best-effort.
func (n *Notifier) sendClosureEmail(ctx context.Context, to, subject, body string) {
	if !n.cfg.Email.Enabled || n.email == nil || to == "" {
		return
	}
	_, err := n.email.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: awssdk.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: awssdk.String(body)},
			},
		},
		Source: awssdk.String(n.cfg.Email.FromEmail),
	})
	if err != nil {
		n.logger.Warn("closure email send failed", map[string]interface{}{
			"to":    to,
			"error": err,
		})
	}
}
