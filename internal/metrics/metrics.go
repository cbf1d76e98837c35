package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"qrattend/internal/attendance"
)

// Metrics are the attendance counters exposed on /metrics.
type Metrics struct {
	Submissions  *prometheus.CounterVec
	TokensIssued prometheus.Counter
	Activations  prometheus.Counter
	ActiveSlot   prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "submissions_total",
			Help:      "Submission decisions by outcome.",
		}, []string{"outcome"}),
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "tokens_issued_total",
			Help:      "Slot tokens issued.",
		}),
		Activations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "slot_activations_total",
			Help:      "Slot activations.",
		}),
		ActiveSlot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "attendance",
			Name:      "slot_active",
			Help:      "1 while a slot is active.",
		}),
	}
}

// Audit counts a submission decision.
func (m *Metrics) Audit(_ context.Context, evt attendance.AuditEvent) {
	m.Submissions.WithLabelValues(evt.Outcome).Inc()
}

func (m *Metrics) SlotActivated() {
	m.Activations.Inc()
	m.ActiveSlot.Set(1)
}

func (m *Metrics) SlotDeactivated() { m.ActiveSlot.Set(0) }

func (m *Metrics) TokenIssued() { m.TokensIssued.Inc() }
