// internal/models/notification.go
package models

import "time"

const (
	NotificationChannelEmail = "EMAIL"
	NotificationChannelSMS   = "SMS"

	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"

	NotificationEventAssigned = "ASSIGNED"
	NotificationEventDecided  = "DECIDED"
)

// Notification is one outbox row. Rows are written in the same database as
// the state change that caused them and drained by the send-notification
// worker, so a crash between the two never loses a message.
type Notification struct {
	ID            string     `json:"id"`
	ApplicationID int64      `json:"applicationId"`
	Event         string     `json:"event"`
	Channel       string     `json:"channel"`
	Recipient     string     `json:"recipient"`
	Subject       string     `json:"subject,omitempty"`
	Body          string     `json:"body"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"createdAt"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
}
