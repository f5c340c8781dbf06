// internal/models/notification.go
package models

import "time"

// Notification priorities.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is an in-app notification event. Immutable once created;
// only the read flag is ever updated, and rows are never deleted. The
// stored rows are the durable source of truth for unread counts.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	RecordCode  string    `json:"recordCode"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Sender      string    `json:"sender"`
	Priority    string    `json:"priority"`
	Link        string    `json:"link"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}
