// Package server exposes the realtime hub: the publish endpoint used by the
// queue service and the WebSocket and SockJS endpoints used by subscribers.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/auth"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/broadcast"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/metrics"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/realtime/hub"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/realtime/relay"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/telemetry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/rs/zerolog/log"
)

const (
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"

	maxPublishBytes = 1 << 20
)

var errMissingToken = errors.New("missing token")

type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type Options struct {
	// PublishToken guards POST /api/publish. Empty disables the check.
	PublishToken string
	SendBuffer   int
	// Subscribers wraps the socket endpoints, e.g. with a rate limiter.
	Subscribers func(http.Handler) http.Handler
	// AllowedOrigins lists the browser origins ("https://host:port") that may
	// open a socket. Empty or "*" accepts any origin. Requests without an
	// Origin header are not browsers and are always accepted.
	AllowedOrigins []string
}

type Server struct {
	hub      *hub.Hub
	relay    relay.Relay
	verifier TokenVerifier
	opts     Options
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(h *hub.Hub, r relay.Relay, verifier TokenVerifier, opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Subscribers == nil {
		opts.Subscribers = func(next http.Handler) http.Handler { return next }
	}
	s := &Server{
		hub:      h,
		relay:    r,
		verifier: verifier,
		opts:     opts,
		origins:  originSet(opts.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// originSet returns nil when every origin is accepted.
func originSet(allowed []string) map[string]struct{} {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
		if origin == "*" {
			return nil
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (s *Server) originAllowed(r *http.Request) bool {
	if s.origins == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	_, ok := s.origins[strings.ToLower(u.Scheme+"://"+u.Host)]
	return ok
}

func (s *Server) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.originAllowed(r) {
			writeError(w, r, http.StatusForbidden, "forbidden_origin", "origin not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/publish", s.handlePublish)
	mux.Handle("GET /ws", s.opts.Subscribers(s.checkOrigin(http.HandlerFunc(s.handleWebSocket))))
	mux.Handle("/realtime/", s.opts.Subscribers(s.checkOrigin(sockjs.NewHandler("/realtime", sockjs.DefaultOptions, s.handleSockJS))))
	return mux
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedPublisher(r) {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid publish token")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPublishBytes)
	var msg broadcast.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if err := msg.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.relay.Publish(r.Context(), msg); err != nil {
		telemetry.LoggerFromContext(r.Context()).Error().Err(err).Str("event", msg.Event).Msg("relay publish failed")
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "relay unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) authorizedPublisher(r *http.Request) bool {
	if s.opts.PublishToken == "" {
		return true
	}
	token := auth.BearerToken(r.Header.Get("Authorization"))
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.PublishToken)) == 1
}

func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	if r == nil {
		return auth.Identity{}, errMissingToken
	}
	token := auth.TokenFromRequest(r)
	if token == "" {
		return auth.Identity{}, errMissingToken
	}
	return s.verifier.Verify(token)
}

// connect registers a subscriber and joins it to its own user room.
func (s *Server) connect(identity auth.Identity) *hub.Client {
	client := &hub.Client{
		ID:     uuid.NewString(),
		UserID: identity.UserID,
		Send:   make(chan []byte, s.opts.SendBuffer),
	}
	s.hub.Register(client)
	if err := s.hub.Join(client, broadcast.UserRoom(identity.UserID)); err != nil {
		log.Debug().Err(err).Str("user_id", identity.UserID).Msg("user room not joined")
	}
	return client
}

func (s *Server) handleCommand(client *hub.Client, data []byte) {
	cmd, err := s.hub.Apply(client, data)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"message": err.Error()})
		s.reply(client, broadcast.Frame{Event: EventError, Data: payload})
		return
	}
	event := EventSubscribed
	if cmd.Action == hub.ActionLeave {
		event = EventUnsubscribed
	}
	s.reply(client, broadcast.Frame{Room: cmd.Room, Event: event})
}

func (s *Server) reply(client *hub.Client, frame broadcast.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
		metrics.RealtimeDropped.Inc()
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: strings.TrimSpace(r.Header.Get("X-Request-ID")),
		Error:     responseError{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
