// Package notify records durable per-user notifications and announces each
// one on the user's realtime room.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/broadcast"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/metrics"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/models"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store"
)

const listLimit = 50

type Service struct {
	store       store.NotificationStore
	broadcaster broadcast.Broadcaster
	now         func() time.Time
}

func NewService(st store.NotificationStore, broadcaster broadcast.Broadcaster) *Service {
	return &Service{
		store:       st,
		broadcaster: broadcaster,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Notify stores the notification and then publishes notification:new to the
// user room. Publishing is best effort; the stored row is what counts.
func (s *Service) Notify(ctx context.Context, userID, notificationType, referenceID string) (string, error) {
	if userID == "" {
		return "", errors.New("notify: user id is required")
	}
	notification, err := s.store.InsertNotification(ctx, models.Notification{
		UserID:      userID,
		Type:        notificationType,
		ReferenceID: referenceID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return "", store.Classify(err)
	}
	metrics.Notifications.WithLabelValues(notificationType).Inc()
	s.broadcaster.Broadcast(ctx, broadcast.EventNotificationNew, notification, broadcast.UserRoom(userID))
	return notification.NotificationID, nil
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	notifications, err := s.store.ListNotifications(ctx, userID, unreadOnly, listLimit)
	if err != nil {
		return nil, store.Classify(err)
	}
	return notifications, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error) {
	notification, err := s.store.MarkNotificationRead(ctx, userID, notificationID, s.now())
	if err != nil {
		return models.Notification{}, store.Classify(err)
	}
	return notification, nil
}
