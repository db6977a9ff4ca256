package models

import "time"

// NotificationType classifies inbox messages sent by the enrollment core.
type NotificationType string

const (
	NotificationSeatGranted    NotificationType = "SEAT_GRANTED"
	NotificationDropConfirmed  NotificationType = "DROP_CONFIRMED"
	NotificationManualEnrolled NotificationType = "MANUAL_ENROLLED"
)

// Notification is a fire-and-forget inbox message.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      NotificationType  `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
