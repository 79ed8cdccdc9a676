// Package queue implements the reservation engine: ticket allocation, the
// reservation state machine, queue snapshots and queue administration.
// Every mutation commits first and then fans out a fresh snapshot and the
// client notification; neither follow-up can fail the operation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/auth"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/broadcast"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/metrics"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/models"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/telemetry"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Notifier interface {
	Notify(ctx context.Context, userID, notificationType, referenceID string) (string, error)
}

type Options struct {
	// AllowJoinWhenPaused lets PAUSED queues keep accepting joins.
	AllowJoinWhenPaused bool
	MaxJoinRetries      int
	StoreTimeout        time.Duration
}

type Service struct {
	store       store.Store
	broadcaster broadcast.Broadcaster
	notifier    Notifier
	opts        Options
	tracer      trace.Tracer
	now         func() time.Time
}

// Outcome is the committed reservation plus the snapshot that was broadcast
// for it. Snapshot is nil when it could not be rebuilt after the commit.
type Outcome struct {
	Reservation models.Reservation `json:"reservation"`
	Snapshot    *models.Snapshot   `json:"snapshot,omitempty"`
}

type JoinRequest struct {
	QueueID   string
	RequestID string
}

type CreateQueueRequest struct {
	ServiceType *string
	QueueDate   string
	MaxCapacity *int
}

type UpdateQueueRequest struct {
	ServiceType *string
	QueueDate   *string
	Status      *string
}

func NewService(st store.Store, broadcaster broadcast.Broadcaster, notifier Notifier, opts Options) *Service {
	if opts.MaxJoinRetries < 0 {
		opts.MaxJoinRetries = 0
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Service{
		store:       st,
		broadcaster: broadcaster,
		notifier:    notifier,
		opts:        opts,
		tracer:      otel.Tracer("github.com/Eyob-smax/AfriQueue-sub000/internal/queue"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Join allocates the next queue number for the acting client.
func (s *Service) Join(ctx context.Context, actor auth.Identity, req JoinRequest) (outcome Outcome, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Join", trace.WithAttributes(attribute.String("queue.id", req.QueueID)))
	defer func() {
		metrics.Joins.WithLabelValues(resultLabel(err)).Inc()
		endSpan(span, err)
	}()

	if actor.UserID == "" {
		return Outcome{}, store.ErrUnauthenticated
	}

	reservation, created, err := s.allocate(ctx, store.JoinInput{
		RequestID:   req.RequestID,
		QueueID:     req.QueueID,
		ClientID:    actor.UserID,
		AllowPaused: s.opts.AllowJoinWhenPaused,
	})
	if err != nil {
		return Outcome{}, err
	}
	span.SetAttributes(attribute.Int("reservation.queue_number", reservation.QueueNumber), attribute.Bool("reservation.created", created))

	snapshot := s.freshSnapshot(ctx, reservation.QueueID)
	if !created {
		return Outcome{Reservation: reservation, Snapshot: snapshot}, nil
	}

	if snapshot != nil {
		s.broadcaster.Broadcast(ctx, broadcast.EventQueueJoined, broadcast.QueueJoinedPayload{
			ReservationID: reservation.ReservationID,
			QueueNumber:   reservation.QueueNumber,
			ClientID:      reservation.ClientID,
			Snapshot:      *snapshot,
		}, broadcast.QueueRoom(reservation.QueueID))
	}
	s.notify(ctx, reservation.ClientID, models.NotificationQueueJoined, reservation.ReservationID)

	return Outcome{Reservation: reservation, Snapshot: snapshot}, nil
}

// allocate retries the store insert while it keeps colliding on the queue
// number. Any other error ends the attempt immediately.
func (s *Service) allocate(ctx context.Context, input store.JoinInput) (models.Reservation, bool, error) {
	type allocation struct {
		reservation models.Reservation
		created     bool
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond

	result, err := backoff.Retry(ctx, func() (allocation, error) {
		callCtx, cancel := s.storeContext(ctx)
		defer cancel()
		reservation, created, err := s.store.CreateReservation(callCtx, input)
		if errors.Is(err, store.ErrConflict) {
			metrics.JoinConflicts.Inc()
			telemetry.LoggerFromContext(ctx).Debug().Str("queue_id", input.QueueID).Msg("queue number conflict, retrying")
			return allocation{}, err
		}
		if err != nil {
			return allocation{}, backoff.Permanent(err)
		}
		return allocation{reservation: reservation, created: created}, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(s.opts.MaxJoinRetries+1)))
	if err != nil {
		return models.Reservation{}, false, store.Classify(err)
	}
	return result.reservation, result.created, nil
}

// Advance completes a reservation. Only staff of the owning health center
// may advance.
func (s *Service) Advance(ctx context.Context, actor auth.Identity, reservationID string) (Outcome, error) {
	return s.transition(ctx, actor, reservationID, store.ActionAdvance)
}

// Cancel cancels a reservation on behalf of its client or of staff of the
// owning health center. Other reservations keep their numbers.
func (s *Service) Cancel(ctx context.Context, actor auth.Identity, reservationID string) (Outcome, error) {
	return s.transition(ctx, actor, reservationID, store.ActionCancel)
}

func (s *Service) transition(ctx context.Context, actor auth.Identity, reservationID, action string) (outcome Outcome, err error) {
	ctx, span := s.tracer.Start(ctx, "queue."+action, trace.WithAttributes(attribute.String("reservation.id", reservationID)))
	defer func() {
		metrics.Transitions.WithLabelValues(action, resultLabel(err)).Inc()
		endSpan(span, err)
	}()

	if actor.UserID == "" {
		return Outcome{}, store.ErrUnauthenticated
	}

	current, err := s.getReservation(ctx, reservationID)
	if err != nil {
		return Outcome{}, err
	}
	queue, err := s.getQueue(ctx, current.QueueID)
	if err != nil {
		return Outcome{}, err
	}
	ownClient := action == store.ActionCancel && current.ClientID == actor.UserID
	if !ownClient {
		if err := s.authorizeStaff(ctx, actor, queue.HealthCenterID); err != nil {
			return Outcome{}, err
		}
	}

	callCtx, cancel := s.storeContext(ctx)
	reservation, err := s.store.TransitionReservation(callCtx, store.TransitionInput{
		ReservationID: reservationID,
		Action:        action,
		OccurredAt:    s.now(),
	})
	cancel()
	if err != nil {
		return Outcome{}, store.Classify(err)
	}

	snapshot := s.freshSnapshot(ctx, reservation.QueueID)
	if snapshot != nil {
		s.broadcaster.Broadcast(ctx, broadcast.EventQueueAdvanced, broadcast.QueueAdvancedPayload{Snapshot: *snapshot}, broadcast.QueueRoom(reservation.QueueID))
	}
	if action == store.ActionAdvance {
		s.notify(ctx, reservation.ClientID, models.NotificationQueueCompleted, reservation.ReservationID)
	}

	return Outcome{Reservation: reservation, Snapshot: snapshot}, nil
}

// Snapshot returns the ordered non-terminal reservations of a queue. An
// unknown queue yields ErrQueueNotFound, never an empty snapshot.
func (s *Service) Snapshot(ctx context.Context, queueID string) (models.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "queue.Snapshot", trace.WithAttributes(attribute.String("queue.id", queueID)))
	snapshot, err := s.snapshot(ctx, queueID)
	endSpan(span, err)
	return snapshot, err
}

func (s *Service) snapshot(ctx context.Context, queueID string) (models.Snapshot, error) {
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	entries, err := s.store.ListActiveReservations(callCtx, queueID)
	if err != nil {
		return models.Snapshot{}, store.Classify(err)
	}
	return models.NewSnapshot(queueID, entries), nil
}

func (s *Service) freshSnapshot(ctx context.Context, queueID string) *models.Snapshot {
	snapshot, err := s.snapshot(ctx, queueID)
	if err != nil {
		telemetry.LoggerFromContext(ctx).Warn().Err(err).Str("queue_id", queueID).Msg("snapshot after commit failed, broadcast skipped")
		return nil
	}
	return &snapshot
}

func (s *Service) notify(ctx context.Context, userID, notificationType, referenceID string) {
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.notifier.Notify(callCtx, userID, notificationType, referenceID); err != nil {
		telemetry.LoggerFromContext(ctx).Warn().Err(err).
			Str("user_id", userID).
			Str("type", notificationType).
			Str("reference_id", referenceID).
			Msg("notification failed")
	}
}

// GetReservation is visible to the reservation's client and to staff of the
// owning health center.
func (s *Service) GetReservation(ctx context.Context, actor auth.Identity, reservationID string) (models.Reservation, error) {
	if actor.UserID == "" {
		return models.Reservation{}, store.ErrUnauthenticated
	}
	reservation, err := s.getReservation(ctx, reservationID)
	if err != nil {
		return models.Reservation{}, err
	}
	if reservation.ClientID == actor.UserID {
		return reservation, nil
	}
	queue, err := s.getQueue(ctx, reservation.QueueID)
	if err != nil {
		return models.Reservation{}, err
	}
	if err := s.authorizeStaff(ctx, actor, queue.HealthCenterID); err != nil {
		return models.Reservation{}, err
	}
	return reservation, nil
}

// CreateQueue opens a queue for the acting staff member's health center.
func (s *Service) CreateQueue(ctx context.Context, actor auth.Identity, req CreateQueueRequest) (models.Queue, error) {
	if actor.UserID == "" {
		return models.Queue{}, store.ErrUnauthenticated
	}
	if err := validateDate(req.QueueDate); err != nil {
		return models.Queue{}, err
	}
	if req.MaxCapacity != nil && *req.MaxCapacity <= 0 {
		return models.Queue{}, fmt.Errorf("%w: max_capacity must be positive", store.ErrInvalidInput)
	}

	centerID, err := s.staffCenter(ctx, actor)
	if err != nil {
		return models.Queue{}, err
	}

	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	queue, err := s.store.CreateQueue(callCtx, store.CreateQueueInput{
		HealthCenterID: centerID,
		ServiceType:    req.ServiceType,
		QueueDate:      req.QueueDate,
		MaxCapacity:    req.MaxCapacity,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return models.Queue{}, store.Classify(err)
	}
	telemetry.LoggerFromContext(ctx).Info().Str("queue_id", queue.QueueID).Str("health_center_id", centerID).Msg("queue created")
	return queue, nil
}

// UpdateQueue changes service type, date or status. CLOSED queues are final.
func (s *Service) UpdateQueue(ctx context.Context, actor auth.Identity, queueID string, req UpdateQueueRequest) (models.Queue, error) {
	if actor.UserID == "" {
		return models.Queue{}, store.ErrUnauthenticated
	}
	if req.QueueDate != nil {
		if err := validateDate(*req.QueueDate); err != nil {
			return models.Queue{}, err
		}
	}
	if req.Status != nil && !models.ValidQueueStatus(*req.Status) {
		return models.Queue{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, *req.Status)
	}

	current, err := s.getQueue(ctx, queueID)
	if err != nil {
		return models.Queue{}, err
	}
	if err := s.authorizeStaff(ctx, actor, current.HealthCenterID); err != nil {
		return models.Queue{}, err
	}

	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	queue, err := s.store.UpdateQueue(callCtx, store.UpdateQueueInput{
		QueueID:     queueID,
		ServiceType: req.ServiceType,
		QueueDate:   req.QueueDate,
		Status:      req.Status,
	})
	if err != nil {
		return models.Queue{}, store.Classify(err)
	}

	s.broadcaster.Broadcast(ctx, broadcast.EventQueueUpdated, broadcast.QueueUpdatedPayload{Queue: queue}, broadcast.QueueRoom(queue.QueueID))
	return queue, nil
}

func (s *Service) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	return s.getQueue(ctx, queueID)
}

func (s *Service) ListQueues(ctx context.Context, healthCenterID, queueDate string) ([]models.Queue, error) {
	if healthCenterID == "" {
		return nil, fmt.Errorf("%w: health_center_id is required", store.ErrInvalidInput)
	}
	if queueDate != "" {
		if err := validateDate(queueDate); err != nil {
			return nil, err
		}
	}
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	queues, err := s.store.ListQueues(callCtx, healthCenterID, queueDate)
	if err != nil {
		return nil, store.Classify(err)
	}
	return queues, nil
}

func (s *Service) getQueue(ctx context.Context, queueID string) (models.Queue, error) {
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	queue, err := s.store.GetQueue(callCtx, queueID)
	if err != nil {
		return models.Queue{}, store.Classify(err)
	}
	return queue, nil
}

func (s *Service) getReservation(ctx context.Context, reservationID string) (models.Reservation, error) {
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	reservation, err := s.store.GetReservation(callCtx, reservationID)
	if err != nil {
		return models.Reservation{}, store.Classify(err)
	}
	return reservation, nil
}

func (s *Service) staffCenter(ctx context.Context, actor auth.Identity) (string, error) {
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	centerID, ok, err := s.store.StaffHealthCenterID(callCtx, actor.UserID)
	if err != nil {
		return "", store.Classify(err)
	}
	if !ok {
		return "", store.ErrForbidden
	}
	return centerID, nil
}

func (s *Service) authorizeStaff(ctx context.Context, actor auth.Identity, healthCenterID string) error {
	centerID, err := s.staffCenter(ctx, actor)
	if err != nil {
		return err
	}
	if centerID != healthCenterID {
		return store.ErrForbidden
	}
	return nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

func validateDate(value string) error {
	if _, err := time.Parse(models.DateLayout, value); err != nil {
		return fmt.Errorf("%w: queue_date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrQueueNotFound), errors.Is(err, store.ErrReservationNotFound):
		return "not_found"
	case errors.Is(err, store.ErrForbidden), errors.Is(err, store.ErrUnauthenticated):
		return "denied"
	case errors.Is(err, store.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, store.ErrQueueClosed), errors.Is(err, store.ErrQueuePaused), errors.Is(err, store.ErrQueueFull):
		return "rejected"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	default:
		return "unavailable"
	}
}
