package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts cache outcomes per partition. A nil *Metrics is valid and records nothing.
type Metrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
}

// NewMetrics creates the cache collectors and registers them on reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcache_cache_hits_total",
			Help: "Cache lookups answered from the cache, by partition.",
		}, []string{"partition"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcache_cache_misses_total",
			Help: "Cache lookups that fell through to the upstream API, by partition.",
		}, []string{"partition"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripcache_cache_write_failures_total",
			Help: "Cache writes dropped because of an I/O or encoding failure, by partition.",
		}, []string{"partition"}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.writeFailures)
	}
	return m
}

func (m *Metrics) hit(p Partition) {
	if m != nil {
		m.hits.WithLabelValues(string(p)).Inc()
	}
}

func (m *Metrics) miss(p Partition) {
	if m != nil {
		m.misses.WithLabelValues(string(p)).Inc()
	}
}

func (m *Metrics) writeFailed(p Partition) {
	if m != nil {
		m.writeFailures.WithLabelValues(string(p)).Inc()
	}
}
