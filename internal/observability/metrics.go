package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discussion_http_requests_total",
			Help: "Total number of HTTP requests processed by the discussion service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discussion_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_calls_total",
			Help: "Calls made by the chat gateway to the homeserver.",
		},
		[]string{"op", "result"},
	)
	syncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_events_total",
			Help: "Events received from the chat sync loop.",
		},
		[]string{"event"},
	)
	discussionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discussions_created_total",
			Help: "Discussions created by the contact workflow.",
		},
	)
	roomDriftTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discussion_room_drift_total",
			Help: "Repeated discussion creations that supplied a different room id.",
		},
	)
	unreadFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discussion_unread_flags_total",
			Help: "Unread flag transitions.",
		},
		[]string{"transition"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "discussion_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discussion_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discussion_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		gatewayCallsTotal,
		syncEventsTotal,
		discussionsCreatedTotal,
		roomDriftTotal,
		unreadFlagsTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// ObserveGatewayCall counts a homeserver call by outcome.
func ObserveGatewayCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayCallsTotal.WithLabelValues(op, result).Inc()
}

func IncSyncEvent(event string) {
	syncEventsTotal.WithLabelValues(event).Inc()
}

func IncDiscussionCreated() {
	discussionsCreatedTotal.Inc()
}

func IncRoomDrift() {
	roomDriftTotal.Inc()
}

func IncUnreadFlag(transition string) {
	unreadFlagsTotal.WithLabelValues(transition).Inc()
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
