package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/auth"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/models"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/notify"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/queue"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	centerID = "22222222-2222-2222-2222-222222222222"
	staffID  = "33333333-3333-3333-3333-333333333333"
	clientID = "44444444-4444-4444-4444-444444444444"
	otherID  = "55555555-5555-5555-5555-555555555555"
	missing  = "99999999-9999-9999-9999-999999999999"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(context.Context, string, interface{}, ...string) {}

type testServer struct {
	store    *memory.Store
	verifier *auth.Verifier
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	st.AddStaff(staffID, centerID)
	st.AddUser(models.User{UserID: clientID, Name: "Client", Role: auth.RoleClient})

	notifications := notify.NewService(st, nopBroadcaster{})
	queues := queue.NewService(st, nopBroadcaster{}, notifications, queue.Options{MaxJoinRetries: 2})
	verifier := auth.NewVerifier("test-secret")
	handler := LoggingMiddleware(AuthMiddleware(verifier, NewHandler(queues, notifications).Routes()))
	return &testServer{store: st, verifier: verifier, handler: handler}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		role := auth.RoleClient
		if userID == staffID {
			role = auth.RoleStaff
		}
		token, err := s.verifier.Issue(auth.Identity{UserID: userID, Role: role}, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func (s *testServer) createQueue(t *testing.T) models.Queue {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/queues", staffID, map[string]interface{}{"queue_date": "2026-10-18"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created models.Queue
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var payload errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("X-Request-ID"))
}

func TestRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/notifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("Authorization", "Bearer forged")
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "req-1", decodeError(t, rec).RequestID)
}

func TestJoinSnapshotAdvanceFlow(t *testing.T) {
	s := newTestServer(t)
	created := s.createQueue(t)

	resp := s.do(t, http.MethodPost, "/api/queues/"+created.QueueID+"/join", clientID, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var joined joinResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&joined))
	assert.Equal(t, 1, joined.QueueNumber)
	assert.Equal(t, models.StatusPending, joined.Status)
	require.NotNil(t, joined.Snapshot)
	assert.Equal(t, 1, joined.Snapshot.Count)

	resp = s.do(t, http.MethodGet, "/api/queues/"+created.QueueID+"/snapshot", clientID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var snapshot models.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	require.Len(t, snapshot.Reservations, 1)
	assert.Equal(t, "Client", snapshot.Reservations[0].ClientName)

	resp = s.do(t, http.MethodPost, "/api/reservations/"+joined.ReservationID+"/advance", clientID, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = s.do(t, http.MethodPost, "/api/reservations/"+joined.ReservationID+"/advance", staffID, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var outcome queue.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.Equal(t, models.StatusCompleted, outcome.Reservation.Status)
	require.NotNil(t, outcome.Snapshot)
	assert.Zero(t, outcome.Snapshot.Count)

	resp = s.do(t, http.MethodPost, "/api/reservations/"+joined.ReservationID+"/advance", staffID, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "invalid_state", decodeError(t, resp).Error.Code)

	resp = s.do(t, http.MethodGet, "/api/notifications?unread=true", clientID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var notifications []models.Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&notifications))
	assert.Len(t, notifications, 2)

	resp = s.do(t, http.MethodPost, "/api/notifications/"+notifications[0].NotificationID+"/read", clientID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	resp = s.do(t, http.MethodPost, "/api/notifications/"+notifications[0].NotificationID+"/read", otherID, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestJoinWithRequestIDReplays(t *testing.T) {
	s := newTestServer(t)
	created := s.createQueue(t)
	body := map[string]string{"request_id": "11111111-1111-1111-1111-111111111111"}

	first := s.do(t, http.MethodPost, "/api/queues/"+created.QueueID+"/join", clientID, body)
	require.Equal(t, http.StatusOK, first.Code)
	second := s.do(t, http.MethodPost, "/api/queues/"+created.QueueID+"/join", clientID, body)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b joinResponse
	require.NoError(t, json.NewDecoder(first.Body).Decode(&a))
	require.NoError(t, json.NewDecoder(second.Body).Decode(&b))
	assert.Equal(t, a.ReservationID, b.ReservationID)

	resp := s.do(t, http.MethodPost, "/api/queues/"+created.QueueID+"/join", clientID, map[string]string{"request_id": "kiosk"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = s.do(t, http.MethodPost, "/api/queues/"+created.QueueID+"/join", clientID, map[string]string{"queue_number": "1"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	created := s.createQueue(t)

	cases := []struct {
		name   string
		method string
		path   string
		userID string
		body   interface{}
		status int
		code   string
	}{
		{"unknown queue snapshot", http.MethodGet, "/api/queues/" + missing + "/snapshot", clientID, nil, http.StatusNotFound, "queue_not_found"},
		{"unknown reservation", http.MethodPost, "/api/reservations/" + missing + "/advance", staffID, nil, http.StatusNotFound, "reservation_not_found"},
		{"bad id", http.MethodGet, "/api/queues/not-a-uuid", clientID, nil, http.StatusBadRequest, "invalid_request"},
		{"bad date", http.MethodPost, "/api/queues", staffID, map[string]string{"queue_date": "tomorrow"}, http.StatusBadRequest, "invalid_request"},
		{"client cannot create", http.MethodPost, "/api/queues", clientID, map[string]string{"queue_date": "2026-10-18"}, http.StatusForbidden, "access_denied"},
		{"empty patch", http.MethodPatch, "/api/queues/" + created.QueueID, staffID, map[string]string{}, http.StatusBadRequest, "invalid_request"},
		{"bad status", http.MethodPatch, "/api/queues/" + created.QueueID, staffID, map[string]string{"status": "open"}, http.StatusBadRequest, "invalid_request"},
		{"bad unread flag", http.MethodGet, "/api/notifications?unread=maybe", clientID, nil, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, tt.userID, tt.body)
			require.Equal(t, tt.status, resp.Code, resp.Body.String())
			assert.Equal(t, tt.code, decodeError(t, resp).Error.Code)
		})
	}
}

func TestClosedQueueRejectsJoin(t *testing.T) {
	s := newTestServer(t)
	created := s.createQueue(t)

	resp := s.do(t, http.MethodPatch, "/api/queues/"+created.QueueID, staffID, map[string]string{"status": "closed"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = s.do(t, http.MethodPost, "/api/queues/"+created.QueueID+"/join", clientID, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "queue_closed", decodeError(t, resp).Error.Code)
}

func TestUnavailableSetsRetryAfter(t *testing.T) {
	s := newTestServer(t)
	created := s.createQueue(t)
	s.store.SetFailure(errors.New("too many connections"))

	resp := s.do(t, http.MethodPost, "/api/queues/"+created.QueueID+"/join", clientID, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))
	assert.Equal(t, "unavailable", decodeError(t, resp).Error.Code)
}

func TestListQueues(t *testing.T) {
	s := newTestServer(t)
	created := s.createQueue(t)

	resp := s.do(t, http.MethodGet, "/api/queues?health_center_id="+centerID+"&date=2026-10-18", clientID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var queues []models.Queue
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&queues))
	require.Len(t, queues, 1)
	assert.Equal(t, created.QueueID, queues[0].QueueID)

	resp = s.do(t, http.MethodGet, "/api/queues", clientID, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 2, UserPerMinute: 1, UserBurst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(ip, userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		req.RemoteAddr = ip + ":5000"
		if userID != "" {
			req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: userID}))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1", ""))
	assert.Equal(t, http.StatusNoContent, send("10.0.0.1", ""))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1", ""))

	assert.Equal(t, http.StatusNoContent, send("10.0.0.2", "user-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.3", "user-1"))
}
