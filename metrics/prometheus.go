// Package metrics implements tenancy.Metrics with Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goliatone/go-tenancy"
)

const namespace = "tenancy"

// Metrics holds all Prometheus collectors for the tenancy components.
type Metrics struct {
	ProvisionTotal      *prometheus.CounterVec
	LoginTotal          *prometheus.CounterVec
	SlugResolutionTotal *prometheus.CounterVec
	SessionStateTotal   *prometheus.CounterVec
	ForcedSignOutTotal  prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ProvisionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "members_total",
			Help:      "Member provisioning attempts by outcome.",
		}, []string{"outcome"}), // outcome: success, existing, conflict, failure
		LoginTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "attempts_total",
			Help:      "Login attempts by mode and outcome.",
		}, []string{"mode", "outcome"}),
		SlugResolutionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "slug_resolutions_total",
			Help:      "Slug lookups by outcome.",
		}, []string{"outcome"}),
		SessionStateTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"state"}),
		ForcedSignOutTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "forced_signouts_total",
			Help:      "Sign outs forced by the session resolver.",
		}),
	}
}

func (m *Metrics) ObserveProvision(outcome string) {
	m.ProvisionTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLogin(mode tenancy.LoginMode, outcome string) {
	label := string(mode)
	if label == "" {
		label = "unknown"
	}
	m.LoginTotal.WithLabelValues(label, outcome).Inc()
}

func (m *Metrics) ObserveSlugResolution(outcome string) {
	m.SlugResolutionTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSessionState(state tenancy.SessionState) {
	m.SessionStateTotal.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) ObserveForcedSignOut() {
	m.ForcedSignOutTotal.Inc()
}

var _ tenancy.Metrics = (*Metrics)(nil)
