package quota

import "github.com/prometheus/client_golang/prometheus"

// Rejection reasons reported on tripcache_quota_rejections_total.
const (
	ReasonLimit    = "limit"
	ReasonDisabled = "disabled"
)

// Metrics counts tracker outcomes. A nil *Metrics records nothing.
type Metrics struct {
	calls      *prometheus.CounterVec
	rejections *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

// NewMetrics creates the quota collectors and registers them on reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcache_quota_calls_total",
			Help: "External API calls recorded against a quota.",
		}, []string{"service", "endpoint"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcache_quota_rejections_total",
			Help: "Calls refused because the service is disabled or over its daily limit.",
		}, []string{"service", "endpoint", "reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcache_quota_bookkeeping_failures_total",
			Help: "Quota store operations that failed and were ignored.",
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.rejections, m.failures)
	}
	return m
}

func (m *Metrics) called(service, endpoint string) {
	if m != nil {
		m.calls.WithLabelValues(service, endpoint).Inc()
	}
}

func (m *Metrics) rejected(service, endpoint, reason string) {
	if m != nil {
		m.rejections.WithLabelValues(service, endpoint, reason).Inc()
	}
}

func (m *Metrics) failed(operation string) {
	if m != nil {
		m.failures.WithLabelValues(operation).Inc()
	}
}
