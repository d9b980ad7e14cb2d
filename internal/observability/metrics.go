package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pushConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_push_connected",
			Help: "Whether the push channel is currently connected (1) or the core is polling (0).",
		},
	)
	transportEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_transport_events_total",
			Help: "Total transport events delivered to the sync core.",
		},
		[]string{"type", "source"},
	)
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_polls_total",
			Help: "Total polling ticks executed by the transport adapter.",
		},
		[]string{"kind", "outcome"},
	)
	rpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_rpc_requests_total",
			Help: "Total data-service RPC calls.",
		},
		[]string{"op", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_rpc_duration_seconds",
			Help:    "Data-service RPC latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_sends_total",
			Help: "Total optimistic sends by terminal status.",
		},
		[]string{"status"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_notifications_total",
			Help: "Total notification dispatcher actions.",
		},
		[]string{"action"},
	)
	staleResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_stale_responses_total",
			Help: "Total late fetch responses discarded by relevance checks.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pushConnected,
		transportEventsTotal,
		pollsTotal,
		rpcRequestsTotal,
		rpcDuration,
		sendsTotal,
		notificationsTotal,
		staleResponsesTotal,
	)
}

func SetPushConnected(connected bool) {
	if connected {
		pushConnected.Set(1)
		return
	}
	pushConnected.Set(0)
}

func IncTransportEvent(eventType, source string) {
	transportEventsTotal.WithLabelValues(eventType, source).Inc()
}

func IncPoll(kind, outcome string) {
	pollsTotal.WithLabelValues(kind, outcome).Inc()
}

func IncRPC(op, outcome string) {
	rpcRequestsTotal.WithLabelValues(op, outcome).Inc()
}

func ObserveRPCDuration(op string, seconds float64) {
	rpcDuration.WithLabelValues(op).Observe(seconds)
}

func IncSend(status string) {
	sendsTotal.WithLabelValues(status).Inc()
}

func IncNotification(action string) {
	notificationsTotal.WithLabelValues(action).Inc()
}

func IncStaleResponse() {
	staleResponsesTotal.Inc()
}
