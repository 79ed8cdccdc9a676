package store

import (
	"context"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/models"
)

type CreateQueueInput struct {
	QueueID        string
	HealthCenterID string
	ServiceType    *string
	QueueDate      string
	MaxCapacity    *int
	CreatedAt      time.Time
}

// UpdateQueueInput carries optional changes; nil fields are left untouched.
type UpdateQueueInput struct {
	QueueID     string
	ServiceType *string
	QueueDate   *string
	Status      *string
}

type JoinInput struct {
	RequestID     string
	ReservationID string
	QueueID       string
	ClientID      string
	AllowPaused   bool
}

type TransitionInput struct {
	ReservationID string
	Action        string
	OccurredAt    time.Time
}

type QueueStore interface {
	CreateQueue(ctx context.Context, input CreateQueueInput) (models.Queue, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	UpdateQueue(ctx context.Context, input UpdateQueueInput) (models.Queue, error)
	ListQueues(ctx context.Context, healthCenterID, queueDate string) ([]models.Queue, error)
}

type ReservationStore interface {
	// CreateReservation allocates the next queue number and inserts a PENDING
	// reservation in one transaction. The bool is false when RequestID matched
	// an earlier reservation, which is returned unchanged.
	CreateReservation(ctx context.Context, input JoinInput) (models.Reservation, bool, error)
	GetReservation(ctx context.Context, reservationID string) (models.Reservation, error)
	TransitionReservation(ctx context.Context, input TransitionInput) (models.Reservation, error)
	// ListActiveReservations returns ErrQueueNotFound for an unknown queue.
	ListActiveReservations(ctx context.Context, queueID string) ([]models.SnapshotEntry, error)
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, notification models.Notification) (models.Notification, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string, readAt time.Time) (models.Notification, error)
}

type Directory interface {
	StaffHealthCenterID(ctx context.Context, userID string) (string, bool, error)
}

type Store interface {
	QueueStore
	ReservationStore
	NotificationStore
	Directory
}
