package models

import "time"

// DateLayout is the wire and storage format of Queue.QueueDate.
const DateLayout = "2006-01-02"

type Queue struct {
	QueueID        string    `json:"queue_id"`
	HealthCenterID string    `json:"health_center_id"`
	ServiceType    *string   `json:"service_type,omitempty"`
	QueueDate      string    `json:"queue_date"`
	MaxCapacity    *int      `json:"max_capacity,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	QueueActive = "ACTIVE"
	QueuePaused = "PAUSED"
	QueueClosed = "CLOSED"
)

func ValidQueueStatus(status string) bool {
	switch status {
	case QueueActive, QueuePaused, QueueClosed:
		return true
	default:
		return false
	}
}

type User struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}
