package models

import "time"

type Reservation struct {
	ReservationID string     `json:"reservation_id"`
	QueueID       string     `json:"queue_id"`
	ClientID      string     `json:"client_id"`
	QueueNumber   int        `json:"queue_number"`
	Status        string     `json:"status"`
	RequestID     string     `json:"request_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusCompleted = "COMPLETED"
)

// ActiveStatuses are the reservation states that still hold a place in line.
var ActiveStatuses = []string{StatusPending, StatusConfirmed}

func IsTerminal(status string) bool {
	return status == StatusCancelled || status == StatusCompleted
}
