// Package telemetry provides Prometheus metrics and tracing helpers for the chat client.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Transport
	FramesReceived  prometheus.Counter
	FramesMalformed prometheus.Counter
	ConnectFailures prometheus.Counter
	Reconnects      prometheus.Counter
	ConnectionState prometheus.Gauge // 0=disconnected,1=connecting,2=connected

	// Outbound
	OutboundSent       prometheus.Counter
	OutboundFailed     prometheus.Counter
	OutboundQueueDepth prometheus.Gauge

	// Decoder / registry / dispatch
	EventsDecoded    *prometheus.CounterVec
	UsersEvicted     prometheus.Counter
	DispatchFailures prometheus.Counter

	// Storage
	RowsInserted  prometheus.Counter
	FlushDuration prometheus.Observer
)

// Init registers metrics (idempotent). Until it is called every helper is a no-op.
func Init() {
	once.Do(func() {
		FramesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_irc_frames_received_total", Help: "Number of complete IRC lines received"})
		FramesMalformed = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_irc_frames_malformed_total", Help: "Number of framing failures that forced a disconnect"})
		ConnectFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_irc_connect_failures_total", Help: "Number of failed dial attempts"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_irc_reconnects_total", Help: "Number of mid-session disconnects followed by a reconnect"})
		ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{Name: "twitch_irc_connection_state", Help: "Connection state: 0=disconnected 1=connecting 2=connected"})
		OutboundSent = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_irc_outbound_sent_total", Help: "Number of lines handed to the socket by the rate limiter"})
		OutboundFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_irc_outbound_failed_total", Help: "Number of lines the rate limiter could not send"})
		OutboundQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "twitch_irc_outbound_queue_depth", Help: "Lines waiting in the rate limiter queue"})
		EventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitch_chat_events_decoded_total", Help: "Decoded events by kind"}, []string{"kind"})
		UsersEvicted = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_chat_users_evicted_total", Help: "Inactive users removed from room caches"})
		DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_chat_dispatch_failures_total", Help: "Subscriber handler errors and panics"})
		RowsInserted = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_chat_rows_inserted_total", Help: "Chat messages flushed to Postgres"})
		FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "twitch_chat_flush_duration_seconds", Help: "Batch flush duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// Inc increments c if metrics are initialised.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// Add adds n to c if metrics are initialised.
func Add(c prometheus.Counter, n int) {
	if c != nil {
		c.Add(float64(n))
	}
}

// IncKind increments the per-kind decoded events counter.
func IncKind(kind string) {
	if EventsDecoded != nil {
		EventsDecoded.WithLabelValues(kind).Inc()
	}
}

// SetGauge sets g if metrics are initialised.
func SetGauge(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}
