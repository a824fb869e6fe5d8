package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Message routing outcomes.
const (
	PathLive    = "live"
	PathPush    = "push"
	PathDropped = "dropped"
)

// Push send results.
const (
	PushOK     = "ok"
	PushFailed = "failed"
)

// Metrics groups the relay collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessions    prometheus.Gauge
	usersOnline prometheus.Gauge
	events      *prometheus.CounterVec
	eventErrors *prometheus.CounterVec
	messages    *prometheus.CounterVec
	push        *prometheus.CounterVec
	dropped     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Open websocket sessions on this node.",
		}),
		usersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_users_online",
			Help: "Identities currently bound in the connection registry.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Inbound events handled, by event name.",
		}, []string{"event"}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_event_errors_total",
			Help: "Inbound events rejected, by event name and error code.",
		}, []string{"event", "code"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Routed chat messages, by delivery path (live, push, dropped).",
		}, []string{"path"}),
		push: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_push_total",
			Help: "Push notification sends, by result.",
		}, []string{"result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Outbound frames dropped because a session send queue was full or closed.",
		}),
	}

	reg.MustRegister(
		m.sessions,
		m.usersOnline,
		m.events,
		m.eventErrors,
		m.messages,
		m.push,
		m.dropped,
	)
	return m
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func (m *Metrics) SetUsersOnline(n int) {
	if m == nil {
		return
	}
	m.usersOnline.Set(float64(n))
}

func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordEventError(event string, code int) {
	if m == nil {
		return
	}
	m.eventErrors.WithLabelValues(event, strconv.Itoa(code)).Inc()
}

func (m *Metrics) RecordMessage(path string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(path).Inc()
}

func (m *Metrics) RecordPush(result string) {
	if m == nil {
		return
	}
	m.push.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDroppedFrame() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
