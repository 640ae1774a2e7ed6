// ABOUTME: Prometheus counters and gauges for session activity
// ABOUTME: A nil *Metrics is valid and records nothing

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records login, step-up, refresh and retry outcomes
type Metrics struct {
	logins    *prometheus.CounterVec
	stepUps   *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	retries   *prometheus.CounterVec
	state     prometheus.Gauge
}

// NewMetrics registers the session metrics on reg. A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		stepUps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "session",
			Name:      "stepups_total",
			Help:      "TOTP step-up attempts by result.",
		}, []string{"result"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Token refresh calls by result.",
		}, []string{"result"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "session",
			Name:      "request_retries_total",
			Help:      "Requests replayed after a 401, by result.",
		}, []string{"result"}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "session",
			Name:      "state",
			Help:      "Session state: 0 anonymous, 1 pending step-up, 2 authenticated.",
		}),
	}
}

// TrackState keeps the state gauge in step with store. The returned function stops tracking.
func (m *Metrics) TrackState(store *TokenStore) func() {
	if m == nil {
		return func() {}
	}
	m.setState(store.State())
	return store.Subscribe(func(t Transition) {
		m.setState(t.To)
	})
}

func (m *Metrics) setState(s State) {
	switch s {
	case StateAuthenticated:
		m.state.Set(2)
	case StatePendingMFA:
		m.state.Set(1)
	default:
		m.state.Set(0)
	}
}

func (m *Metrics) login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) stepUp(result string) {
	if m != nil {
		m.stepUps.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) refresh(result string) {
	if m != nil {
		m.refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) retry(result string) {
	if m != nil {
		m.retries.WithLabelValues(result).Inc()
	}
}
