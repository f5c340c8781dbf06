// internal/live/channel.go
// Package live is the real-time channel backed by Redis pub/sub. Delivery
// is at-most-once and best-effort: a publish with no subscriber is lost by
// design, the user receives current state on next connect.
package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fps-workflow/internal/common/logger"
)

func userChannel(userID string) string {
	return "live:user:" + userID
}

// Event is the wire envelope published to a user channel.
type Event struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Channel publishes user-scoped events over Redis pub/sub.
type Channel struct {
	client *redis.Client
	logger logger.Logger
}

func New(client *redis.Client, log logger.Logger) *Channel {
	return &Channel{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "live"}),
	}
}

// EmitToUser publishes one event to the user's channel. Zero subscribers
// is a no-op, not an error.
func (c *Channel) EmitToUser(ctx context.Context, userID, event string, payload interface{}) error {
	body, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode live event: %w", err)
	}

	if err := c.client.Publish(ctx, userChannel(userID), body).Err(); err != nil {
		return fmt.Errorf("publish live event: %w", err)
	}
	return nil
}

// Join subscribes to a user's channel and returns the subscription. The
// session owner is responsible for closing it.
func (c *Channel) Join(ctx context.Context, userID string) *redis.PubSub {
	c.logger.Debug("user joined live channel", map[string]interface{}{
		"userId": userID,
	})
	return c.client.Subscribe(ctx, userChannel(userID))
}
