package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/models"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation        = "23505"
	defaultNotificationCap = 50
)

const queueColumns = `queue_id, health_center_id, service_type, queue_date, max_capacity, status, created_at`

const reservationColumns = `reservation_id, queue_id, client_id, queue_number, status, request_id, created_at, completed_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	queueDate, err := parseDate(input.QueueDate)
	if err != nil {
		return models.Queue{}, err
	}
	queueID := input.QueueID
	if queueID == "" {
		queueID = uuid.NewString()
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO queues (queue_id, health_center_id, service_type, queue_date, max_capacity, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+queueColumns,
		queueID, input.HealthCenterID, input.ServiceType, queueDate, input.MaxCapacity, models.QueueActive, createdAt)
	return scanQueue(row)
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1`, queueID)
	queue, err := scanQueue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return queue, err
}

func (s *Store) UpdateQueue(ctx context.Context, input store.UpdateQueueInput) (models.Queue, error) {
	var queueDate *time.Time
	if input.QueueDate != nil {
		parsed, err := parseDate(*input.QueueDate)
		if err != nil {
			return models.Queue{}, err
		}
		queueDate = &parsed
	}

	var queue models.Queue
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		if current.Status == models.QueueClosed {
			return store.ErrInvalidState
		}
		row := tx.QueryRow(ctx, `
			UPDATE queues
			SET service_type = COALESCE($2, service_type),
				queue_date = COALESCE($3, queue_date),
				status = COALESCE($4, status)
			WHERE queue_id = $1
			RETURNING `+queueColumns,
			input.QueueID, input.ServiceType, queueDate, input.Status)
		queue, err = scanQueue(row)
		return err
	})
	if err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) ListQueues(ctx context.Context, healthCenterID, queueDate string) ([]models.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE health_center_id = $1`
	args := []interface{}{healthCenterID}
	if queueDate != "" {
		parsed, err := parseDate(queueDate)
		if err != nil {
			return nil, err
		}
		query += " AND queue_date = $2"
		args = append(args, parsed)
	}
	query += " ORDER BY queue_date DESC, created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	queues := []models.Queue{}
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return queues, nil
}

func (s *Store) CreateReservation(ctx context.Context, input store.JoinInput) (models.Reservation, bool, error) {
	var reservation models.Reservation
	created := false
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// The queue row lock serializes joins per queue; other queues are unaffected.
		queue, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}

		if input.RequestID != "" {
			existing, found, err := findReservationByRequestID(ctx, tx, input.ClientID, input.RequestID)
			if err != nil {
				return err
			}
			if found {
				if existing.QueueID != queue.QueueID {
					return store.ErrRequestReused
				}
				reservation = existing
				return nil
			}
		}

		if err := checkJoinable(queue, input.AllowPaused); err != nil {
			return err
		}
		if queue.MaxCapacity != nil {
			active, err := countActive(ctx, tx, queue.QueueID)
			if err != nil {
				return err
			}
			if active >= *queue.MaxCapacity {
				return store.ErrQueueFull
			}
		}

		next, err := nextQueueNumber(ctx, tx, queue.QueueID)
		if err != nil {
			return err
		}

		reservationID := input.ReservationID
		if reservationID == "" {
			reservationID = uuid.NewString()
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO reservations (reservation_id, queue_id, client_id, queue_number, status, request_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, clock_timestamp())
			RETURNING `+reservationColumns,
			reservationID, queue.QueueID, input.ClientID, next, models.StatusPending, nullIfEmpty(input.RequestID))
		reservation, err = scanReservation(row)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return models.Reservation{}, false, err
	}
	return reservation, created, nil
}

func (s *Store) GetReservation(ctx context.Context, reservationID string) (models.Reservation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE reservation_id = $1`, reservationID)
	reservation, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reservation{}, store.ErrReservationNotFound
	}
	return reservation, err
}

func (s *Store) TransitionReservation(ctx context.Context, input store.TransitionInput) (models.Reservation, error) {
	toStatus, ok := store.TargetStatus(input.Action)
	if !ok {
		return models.Reservation{}, store.ErrInvalidState
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	var completedAt *time.Time
	if toStatus == models.StatusCompleted {
		completedAt = &occurredAt
	}

	var reservation models.Reservation
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE reservations
			SET status = $1,
				completed_at = COALESCE($2, completed_at)
			WHERE reservation_id = $3 AND status = ANY($4)
			RETURNING `+reservationColumns,
			toStatus, completedAt, input.ReservationID, store.AllowedFrom(input.Action))
		var err error
		reservation, err = scanReservation(row)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		status, exists, err := loadReservationStatus(ctx, tx, input.ReservationID)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrReservationNotFound
		}
		if store.ValidTransition(input.Action, status) {
			return fmt.Errorf("reservation %s changed concurrently", input.ReservationID)
		}
		return store.ErrInvalidState
	})
	if err != nil {
		return models.Reservation{}, err
	}
	return reservation, nil
}

func (s *Store) ListActiveReservations(ctx context.Context, queueID string) ([]models.SnapshotEntry, error) {
	entries := []models.SnapshotEntry{}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queues WHERE queue_id = $1)`, queueID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrQueueNotFound
		}

		rows, err := tx.Query(ctx, `
			SELECT r.reservation_id, r.queue_number, r.client_id, r.status, r.created_at,
				COALESCE(u.name, ''), COALESCE(u.phone, ''), COALESCE(u.email, '')
			FROM reservations r
			LEFT JOIN users u ON u.user_id = r.client_id
			WHERE r.queue_id = $1 AND r.status = ANY($2)
			ORDER BY r.created_at ASC, r.queue_number ASC
		`, queueID, models.ActiveStatuses)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var entry models.SnapshotEntry
			if err := rows.Scan(&entry.ReservationID, &entry.QueueNumber, &entry.ClientID, &entry.Status, &entry.CreatedAt,
				&entry.ClientName, &entry.ClientPhone, &entry.ClientEmail); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) InsertNotification(ctx context.Context, notification models.Notification) (models.Notification, error) {
	if notification.NotificationID == "" {
		notification.NotificationID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (notification_id, user_id, type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING notification_id, user_id, type, reference_id, read_at, created_at
	`, notification.NotificationID, notification.UserID, notification.Type, notification.ReferenceID, notification.CreatedAt)
	return scanNotification(row)
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationCap
	}
	query := `
		SELECT notification_id, user_id, type, reference_id, read_at, created_at
		FROM notifications
		WHERE user_id = $1`
	if unreadOnly {
		query += " AND read_at IS NULL"
	}
	query += " ORDER BY created_at DESC LIMIT $2"

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID string, readAt time.Time) (models.Notification, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $3)
		WHERE notification_id = $1 AND user_id = $2
		RETURNING notification_id, user_id, type, reference_id, read_at, created_at
	`, notificationID, userID, readAt)
	notification, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Notification{}, store.ErrNotificationNotFound
	}
	return notification, err
}

func (s *Store) StaffHealthCenterID(ctx context.Context, userID string) (string, bool, error) {
	var centerID string
	err := s.pool.QueryRow(ctx, `SELECT health_center_id FROM staff WHERE user_id = $1`, userID).Scan(&centerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return centerID, true, nil
}

func lockQueue(ctx context.Context, tx pgx.Tx, queueID string) (models.Queue, error) {
	row := tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1 FOR UPDATE`, queueID)
	queue, err := scanQueue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return queue, err
}

func checkJoinable(queue models.Queue, allowPaused bool) error {
	switch queue.Status {
	case models.QueueClosed:
		return store.ErrQueueClosed
	case models.QueuePaused:
		if !allowPaused {
			return store.ErrQueuePaused
		}
	}
	return nil
}

func countActive(ctx context.Context, tx pgx.Tx, queueID string) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM reservations WHERE queue_id = $1 AND status = ANY($2)
	`, queueID, models.ActiveStatuses).Scan(&count)
	return count, err
}

func nextQueueNumber(ctx context.Context, tx pgx.Tx, queueID string) (int, error) {
	var current int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_number), 0) FROM reservations WHERE queue_id = $1
	`, queueID).Scan(&current); err != nil {
		return 0, err
	}
	return current + 1, nil
}

// findReservationByRequestID looks up a join request id within the client's
// own reservations.
func findReservationByRequestID(ctx context.Context, tx pgx.Tx, clientID, requestID string) (models.Reservation, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE client_id = $1 AND request_id = $2`, clientID, requestID)
	reservation, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, false, nil
		}
		return models.Reservation{}, false, err
	}
	return reservation, true, nil
}

func loadReservationStatus(ctx context.Context, tx pgx.Tx, reservationID string) (string, bool, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE reservation_id = $1`, reservationID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func scanQueue(row pgx.Row) (models.Queue, error) {
	var queue models.Queue
	var queueDate time.Time
	if err := row.Scan(&queue.QueueID, &queue.HealthCenterID, &queue.ServiceType, &queueDate, &queue.MaxCapacity, &queue.Status, &queue.CreatedAt); err != nil {
		return models.Queue{}, err
	}
	queue.QueueDate = queueDate.Format(models.DateLayout)
	return queue, nil
}

func scanReservation(row pgx.Row) (models.Reservation, error) {
	var reservation models.Reservation
	var requestID *string
	if err := row.Scan(&reservation.ReservationID, &reservation.QueueID, &reservation.ClientID, &reservation.QueueNumber,
		&reservation.Status, &requestID, &reservation.CreatedAt, &reservation.CompletedAt); err != nil {
		return models.Reservation{}, err
	}
	if requestID != nil {
		reservation.RequestID = *requestID
	}
	return reservation, nil
}

func scanNotification(row pgx.Row) (models.Notification, error) {
	var notification models.Notification
	if err := row.Scan(&notification.NotificationID, &notification.UserID, &notification.Type, &notification.ReferenceID,
		&notification.ReadAt, &notification.CreatedAt); err != nil {
		return models.Notification{}, err
	}
	return notification, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation
}

func parseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("queue date %q: %w", value, err)
	}
	return parsed, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
