package models

import "time"

type Notification struct {
	NotificationID string     `json:"notification_id"`
	UserID         string     `json:"user_id"`
	Type           string     `json:"type"`
	ReferenceID    string     `json:"reference_id"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

const (
	NotificationQueueJoined    = "QUEUE_JOINED"
	NotificationQueueCompleted = "QUEUE_COMPLETED"
)
