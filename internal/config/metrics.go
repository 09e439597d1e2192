package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection handshake results.
const (
	HandshakeAccepted = "accepted"
	HandshakeRejected = "rejected"
)

// ServerMetrics holds server performance metrics
type ServerMetrics struct {
	ActiveConnections prometheus.Gauge
	Handshakes        *prometheus.CounterVec
	MessagesReceived  prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	BroadcastSkipped  prometheus.Counter
	Flushes           *prometheus.CounterVec
	FlushDurationMS   prometheus.Histogram
	HistoryRequests   *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
}

// NewServerMetrics registers the chat collectors with reg. Tests pass a fresh
// prometheus.NewRegistry so repeated construction does not collide.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	f := promauto.With(reg)
	return &ServerMetrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Currently open WebSocket connections",
		}),
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_handshakes_total",
			Help: "WebSocket handshakes by result",
		}, []string{"result"}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_received_total",
			Help: "Inbound chat messages accepted by the broker",
		}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_dropped_total",
			Help: "Inbound frames dropped by reason",
		}, []string{"reason"}),
		BroadcastSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_broadcast_skipped_total",
			Help: "Peer deliveries skipped because the peer queue was full or closed",
		}),
		Flushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_buffer_flushes_total",
			Help: "Conversation block flushes by status",
		}, []string{"status"}),
		FlushDurationMS: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_buffer_flush_duration_ms",
			Help:    "Time spent persisting a conversation block",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		HistoryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_history_requests_total",
			Help: "History page lookups by result",
		}, []string{"result"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Live login sessions",
		}),
	}
}

// NewNopMetrics returns collectors registered nowhere.
func NewNopMetrics() *ServerMetrics {
	return NewServerMetrics(prometheus.NewRegistry())
}
