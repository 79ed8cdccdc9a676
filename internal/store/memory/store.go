// Package memory provides an in-process implementation of store.Store. It
// follows the same locking and numbering rules as the postgres store and is
// used for local development and service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/models"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store"

	"github.com/google/uuid"
)

const defaultNotificationCap = 50

type Store struct {
	mu sync.Mutex

	queues        map[string]models.Queue
	reservations  map[string]models.Reservation
	requestIndex  map[string]string
	notifications map[string]models.Notification
	users         map[string]models.User
	staff         map[string]string

	// failure, when set, is returned by every call until cleared.
	failure error
	// conflicts forces the next n reservation inserts to report a number
	// collision, the way a concurrent writer on another node would.
	conflicts int
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		queues:        make(map[string]models.Queue),
		reservations:  make(map[string]models.Reservation),
		requestIndex:  make(map[string]string),
		notifications: make(map[string]models.Notification),
		users:         make(map[string]models.User),
		staff:         make(map[string]string),
	}
}

func (s *Store) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = user
}

func (s *Store) AddStaff(userID, healthCenterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[userID] = healthCenterID
}

// SetFailure makes every subsequent call fail with err. Pass nil to recover.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

func (s *Store) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.failure != nil {
		err := s.failure
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	if _, err := time.Parse(models.DateLayout, input.QueueDate); err != nil {
		return models.Queue{}, fmt.Errorf("queue date %q: %w", input.QueueDate, err)
	}
	if err := s.begin(ctx); err != nil {
		return models.Queue{}, err
	}
	defer s.mu.Unlock()

	queue := models.Queue{
		QueueID:        input.QueueID,
		HealthCenterID: input.HealthCenterID,
		ServiceType:    input.ServiceType,
		QueueDate:      input.QueueDate,
		MaxCapacity:    input.MaxCapacity,
		Status:         models.QueueActive,
		CreatedAt:      input.CreatedAt,
	}
	if queue.QueueID == "" {
		queue.QueueID = uuid.NewString()
	}
	if queue.CreatedAt.IsZero() {
		queue.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.queues[queue.QueueID]; exists {
		return models.Queue{}, fmt.Errorf("queue %s already exists", queue.QueueID)
	}
	s.queues[queue.QueueID] = queue
	return queue, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	if err := s.begin(ctx); err != nil {
		return models.Queue{}, err
	}
	defer s.mu.Unlock()

	queue, ok := s.queues[queueID]
	if !ok {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return queue, nil
}

func (s *Store) UpdateQueue(ctx context.Context, input store.UpdateQueueInput) (models.Queue, error) {
	if input.QueueDate != nil {
		if _, err := time.Parse(models.DateLayout, *input.QueueDate); err != nil {
			return models.Queue{}, fmt.Errorf("queue date %q: %w", *input.QueueDate, err)
		}
	}
	if err := s.begin(ctx); err != nil {
		return models.Queue{}, err
	}
	defer s.mu.Unlock()

	queue, ok := s.queues[input.QueueID]
	if !ok {
		return models.Queue{}, store.ErrQueueNotFound
	}
	if queue.Status == models.QueueClosed {
		return models.Queue{}, store.ErrInvalidState
	}
	if input.ServiceType != nil {
		serviceType := *input.ServiceType
		queue.ServiceType = &serviceType
	}
	if input.QueueDate != nil {
		queue.QueueDate = *input.QueueDate
	}
	if input.Status != nil {
		queue.Status = *input.Status
	}
	s.queues[queue.QueueID] = queue
	return queue, nil
}

func (s *Store) ListQueues(ctx context.Context, healthCenterID, queueDate string) ([]models.Queue, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	queues := []models.Queue{}
	for _, queue := range s.queues {
		if queue.HealthCenterID != healthCenterID {
			continue
		}
		if queueDate != "" && queue.QueueDate != queueDate {
			continue
		}
		queues = append(queues, queue)
	}
	sort.Slice(queues, func(i, j int) bool {
		if queues[i].QueueDate != queues[j].QueueDate {
			return queues[i].QueueDate > queues[j].QueueDate
		}
		return queues[i].CreatedAt.Before(queues[j].CreatedAt)
	})
	return queues, nil
}

func (s *Store) CreateReservation(ctx context.Context, input store.JoinInput) (models.Reservation, bool, error) {
	if err := s.begin(ctx); err != nil {
		return models.Reservation{}, false, err
	}
	defer s.mu.Unlock()

	queue, ok := s.queues[input.QueueID]
	if !ok {
		return models.Reservation{}, false, store.ErrQueueNotFound
	}
	if input.RequestID != "" {
		if id, found := s.requestIndex[requestKey(input.ClientID, input.RequestID)]; found {
			existing := s.reservations[id]
			if existing.QueueID != input.QueueID {
				return models.Reservation{}, false, store.ErrRequestReused
			}
			return existing, false, nil
		}
	}

	switch queue.Status {
	case models.QueueClosed:
		return models.Reservation{}, false, store.ErrQueueClosed
	case models.QueuePaused:
		if !input.AllowPaused {
			return models.Reservation{}, false, store.ErrQueuePaused
		}
	}

	maxNumber, active := 0, 0
	for _, reservation := range s.reservations {
		if reservation.QueueID != queue.QueueID {
			continue
		}
		if reservation.QueueNumber > maxNumber {
			maxNumber = reservation.QueueNumber
		}
		if !models.IsTerminal(reservation.Status) {
			active++
		}
	}
	if queue.MaxCapacity != nil && active >= *queue.MaxCapacity {
		return models.Reservation{}, false, store.ErrQueueFull
	}
	if s.conflicts > 0 {
		s.conflicts--
		return models.Reservation{}, false, store.ErrConflict
	}

	reservation := models.Reservation{
		ReservationID: input.ReservationID,
		QueueID:       queue.QueueID,
		ClientID:      input.ClientID,
		QueueNumber:   maxNumber + 1,
		Status:        models.StatusPending,
		RequestID:     input.RequestID,
		CreatedAt:     time.Now().UTC(),
	}
	if reservation.ReservationID == "" {
		reservation.ReservationID = uuid.NewString()
	}
	s.reservations[reservation.ReservationID] = reservation
	if input.RequestID != "" {
		s.requestIndex[requestKey(input.ClientID, input.RequestID)] = reservation.ReservationID
	}
	return reservation, true, nil
}

// requestKey scopes a join request id to the client that sent it.
func requestKey(clientID, requestID string) string {
	return clientID + "\x00" + requestID
}

func (s *Store) GetReservation(ctx context.Context, reservationID string) (models.Reservation, error) {
	if err := s.begin(ctx); err != nil {
		return models.Reservation{}, err
	}
	defer s.mu.Unlock()

	reservation, ok := s.reservations[reservationID]
	if !ok {
		return models.Reservation{}, store.ErrReservationNotFound
	}
	return reservation, nil
}

func (s *Store) TransitionReservation(ctx context.Context, input store.TransitionInput) (models.Reservation, error) {
	toStatus, ok := store.TargetStatus(input.Action)
	if !ok {
		return models.Reservation{}, store.ErrInvalidState
	}
	if err := s.begin(ctx); err != nil {
		return models.Reservation{}, err
	}
	defer s.mu.Unlock()

	reservation, ok := s.reservations[input.ReservationID]
	if !ok {
		return models.Reservation{}, store.ErrReservationNotFound
	}
	if !store.ValidTransition(input.Action, reservation.Status) {
		return models.Reservation{}, store.ErrInvalidState
	}
	reservation.Status = toStatus
	if toStatus == models.StatusCompleted {
		occurredAt := input.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		reservation.CompletedAt = &occurredAt
	}
	s.reservations[reservation.ReservationID] = reservation
	return reservation, nil
}

func (s *Store) ListActiveReservations(ctx context.Context, queueID string) ([]models.SnapshotEntry, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, ok := s.queues[queueID]; !ok {
		return nil, store.ErrQueueNotFound
	}
	entries := []models.SnapshotEntry{}
	for _, reservation := range s.reservations {
		if reservation.QueueID != queueID || models.IsTerminal(reservation.Status) {
			continue
		}
		user := s.users[reservation.ClientID]
		entries = append(entries, models.SnapshotEntry{
			ReservationID: reservation.ReservationID,
			QueueNumber:   reservation.QueueNumber,
			ClientID:      reservation.ClientID,
			Status:        reservation.Status,
			CreatedAt:     reservation.CreatedAt,
			ClientName:    user.Name,
			ClientPhone:   user.Phone,
			ClientEmail:   user.Email,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].QueueNumber < entries[j].QueueNumber
	})
	return entries, nil
}

func (s *Store) InsertNotification(ctx context.Context, notification models.Notification) (models.Notification, error) {
	if err := s.begin(ctx); err != nil {
		return models.Notification{}, err
	}
	defer s.mu.Unlock()

	if notification.NotificationID == "" {
		notification.NotificationID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	s.notifications[notification.NotificationID] = notification
	return notification, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationCap
	}
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	notifications := []models.Notification{}
	for _, notification := range s.notifications {
		if notification.UserID != userID {
			continue
		}
		if unreadOnly && notification.ReadAt != nil {
			continue
		}
		notifications = append(notifications, notification)
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	if len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID string, readAt time.Time) (models.Notification, error) {
	if err := s.begin(ctx); err != nil {
		return models.Notification{}, err
	}
	defer s.mu.Unlock()

	notification, ok := s.notifications[notificationID]
	if !ok || notification.UserID != userID {
		return models.Notification{}, store.ErrNotificationNotFound
	}
	if notification.ReadAt == nil {
		notification.ReadAt = &readAt
		s.notifications[notificationID] = notification
	}
	return notification, nil
}

func (s *Store) StaffHealthCenterID(ctx context.Context, userID string) (string, bool, error) {
	if err := s.begin(ctx); err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()

	centerID, ok := s.staff[userID]
	return centerID, ok, nil
}
