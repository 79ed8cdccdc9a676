package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/auth"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/metrics"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/models"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/queue"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/telemetry"

	"github.com/google/uuid"
)

type QueueService interface {
	Join(ctx context.Context, actor auth.Identity, req queue.JoinRequest) (queue.Outcome, error)
	Advance(ctx context.Context, actor auth.Identity, reservationID string) (queue.Outcome, error)
	Cancel(ctx context.Context, actor auth.Identity, reservationID string) (queue.Outcome, error)
	Snapshot(ctx context.Context, queueID string) (models.Snapshot, error)
	GetReservation(ctx context.Context, actor auth.Identity, reservationID string) (models.Reservation, error)
	CreateQueue(ctx context.Context, actor auth.Identity, req queue.CreateQueueRequest) (models.Queue, error)
	UpdateQueue(ctx context.Context, actor auth.Identity, queueID string, req queue.UpdateQueueRequest) (models.Queue, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	ListQueues(ctx context.Context, healthCenterID, queueDate string) ([]models.Queue, error)
}

type NotificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error)
}

type Handler struct {
	queues        QueueService
	notifications NotificationService
}

type joinRequest struct {
	RequestID string `json:"request_id"`
}

type joinResponse struct {
	ReservationID string           `json:"reservation_id"`
	QueueID       string           `json:"queue_id"`
	QueueNumber   int              `json:"queue_number"`
	Status        string           `json:"status"`
	Snapshot      *models.Snapshot `json:"snapshot,omitempty"`
}

type createQueueRequest struct {
	ServiceType *string `json:"service_type"`
	QueueDate   string  `json:"queue_date"`
	MaxCapacity *int    `json:"max_capacity"`
}

type updateQueueRequest struct {
	ServiceType *string `json:"service_type"`
	QueueDate   *string `json:"queue_date"`
	Status      *string `json:"status"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(queues QueueService, notifications NotificationService) *Handler {
	return &Handler{queues: queues, notifications: notifications}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/queues", h.handleCreateQueue)
	mux.HandleFunc("GET /api/queues", h.handleListQueues)
	mux.HandleFunc("GET /api/queues/{id}", h.handleGetQueue)
	mux.HandleFunc("PATCH /api/queues/{id}", h.handleUpdateQueue)
	mux.HandleFunc("POST /api/queues/{id}/join", h.handleJoin)
	mux.HandleFunc("GET /api/queues/{id}/snapshot", h.handleSnapshot)

	mux.HandleFunc("GET /api/reservations/{id}", h.handleGetReservation)
	mux.HandleFunc("POST /api/reservations/{id}/advance", h.handleAdvance)
	mux.HandleFunc("POST /api/reservations/{id}/cancel", h.handleCancel)

	mux.HandleFunc("GET /api/notifications", h.handleListNotifications)
	mux.HandleFunc("POST /api/notifications/{id}/read", h.handleMarkRead)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createQueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.QueueDate = strings.TrimSpace(req.QueueDate)
	if req.QueueDate == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue_date is required")
		return
	}

	created, err := h.queues.CreateQueue(r.Context(), actor, queue.CreateQueueRequest{
		ServiceType: trimmed(req.ServiceType),
		QueueDate:   req.QueueDate,
		MaxCapacity: req.MaxCapacity,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListQueues(w http.ResponseWriter, r *http.Request) {
	centerID := strings.TrimSpace(r.URL.Query().Get("health_center_id"))
	queueDate := strings.TrimSpace(r.URL.Query().Get("date"))
	if !isValidUUID(centerID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "health_center_id must be a UUID")
		return
	}
	queues, err := h.queues.ListQueues(r.Context(), centerID, queueDate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

func (h *Handler) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	queueID, ok := pathUUID(w, r, "queue id")
	if !ok {
		return
	}
	found, err := h.queues.GetQueue(r.Context(), queueID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) handleUpdateQueue(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	queueID, ok := pathUUID(w, r, "queue id")
	if !ok {
		return
	}
	var req updateQueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.ServiceType == nil && req.QueueDate == nil && req.Status == nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "one of service_type, queue_date, or status is required")
		return
	}
	if req.Status != nil {
		status := strings.ToUpper(strings.TrimSpace(*req.Status))
		req.Status = &status
	}

	updated, err := h.queues.UpdateQueue(r.Context(), actor, queueID, queue.UpdateQueueRequest{
		ServiceType: trimmed(req.ServiceType),
		QueueDate:   trimmed(req.QueueDate),
		Status:      req.Status,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	queueID, ok := pathUUID(w, r, "queue id")
	if !ok {
		return
	}
	var req joinRequest
	if !decodeOptionalRequest(w, r, &req) {
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}

	outcome, err := h.queues.Join(r.Context(), actor, queue.JoinRequest{QueueID: queueID, RequestID: req.RequestID})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{
		ReservationID: outcome.Reservation.ReservationID,
		QueueID:       outcome.Reservation.QueueID,
		QueueNumber:   outcome.Reservation.QueueNumber,
		Status:        outcome.Reservation.Status,
		Snapshot:      outcome.Snapshot,
	})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	queueID, ok := pathUUID(w, r, "queue id")
	if !ok {
		return
	}
	snapshot, err := h.queues.Snapshot(r.Context(), queueID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	reservationID, ok := pathUUID(w, r, "reservation id")
	if !ok {
		return
	}
	reservation, err := h.queues.GetReservation(r.Context(), actor, reservationID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.queues.Advance)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.queues.Cancel)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, apply func(context.Context, auth.Identity, string) (queue.Outcome, error)) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	reservationID, ok := pathUUID(w, r, "reservation id")
	if !ok {
		return
	}
	outcome, err := apply(r.Context(), actor, reservationID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	unreadOnly := false
	if raw := r.URL.Query().Get("unread"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "unread must be a boolean")
			return
		}
		unreadOnly = parsed
	}
	notifications, err := h.notifications.List(r.Context(), actor.UserID, unreadOnly)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	notificationID, ok := pathUUID(w, r, "notification id")
	if !ok {
		return
	}
	notification, err := h.notifications.MarkRead(r.Context(), actor.UserID, notificationID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notification)
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing identity")
		return auth.Identity{}, false
	}
	return identity, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(r.PathValue("id"))
	if !isValidUUID(value) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", name+" must be a UUID")
		return "", false
	}
	return value, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	out := strings.TrimSpace(*value)
	return &out
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// decodeOptionalRequest accepts an empty body as the zero value.
func decodeOptionalRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found", "reservation not found"
	case errors.Is(err, store.ErrNotificationNotFound):
		return http.StatusNotFound, "notification_not_found", "notification not found"
	case errors.Is(err, store.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized", "authentication required"
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "current state does not allow this action"
	case errors.Is(err, store.ErrQueueClosed):
		return http.StatusConflict, "queue_closed", "queue is closed"
	case errors.Is(err, store.ErrQueuePaused):
		return http.StatusConflict, "queue_paused", "queue is paused"
	case errors.Is(err, store.ErrQueueFull):
		return http.StatusConflict, "queue_full", "queue has reached its capacity"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "queue is busy, retry the request"
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		telemetry.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if status == http.StatusServiceUnavailable || code == "conflict" {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
