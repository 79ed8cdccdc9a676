// Package metrics holds the Prometheus collectors shared by both services.
// Everything registers on one private registry exposed through Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "afriqueue_http_requests_total",
		Help: "HTTP requests by method and status code.",
	}, []string{"method", "status"})

	HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "afriqueue_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	Joins = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "afriqueue_queue_joins_total",
		Help: "Join attempts by outcome.",
	}, []string{"result"})

	JoinConflicts = factory.NewCounter(prometheus.CounterOpts{
		Name: "afriqueue_queue_join_conflicts_total",
		Help: "Queue number collisions retried by the allocator.",
	})

	Transitions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "afriqueue_reservation_transitions_total",
		Help: "Reservation transitions by action and outcome.",
	}, []string{"action", "result"})

	Broadcasts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "afriqueue_broadcast_events_total",
		Help: "Outbound realtime events by outcome (sent, failed, dropped).",
	}, []string{"result"})

	Notifications = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "afriqueue_notifications_total",
		Help: "Notifications recorded by type.",
	}, []string{"type"})

	RealtimeConnections = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "afriqueue_realtime_connections",
		Help: "Connected realtime subscribers by transport.",
	}, []string{"transport"})

	RealtimeDelivered = factory.NewCounter(prometheus.CounterOpts{
		Name: "afriqueue_realtime_messages_delivered_total",
		Help: "Messages queued to subscriber connections.",
	})

	RealtimeDropped = factory.NewCounter(prometheus.CounterOpts{
		Name: "afriqueue_realtime_messages_dropped_total",
		Help: "Messages dropped because a subscriber buffer was full.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
