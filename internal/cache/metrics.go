package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 汇总缓存层计数器。nil *Metrics 的全部方法都是空操作，方便测试省略注入。
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	writes    *prometheus.CounterVec
	discarded *prometheus.CounterVec
	expired   *prometheus.CounterVec
	purged    *prometheus.CounterVec
	swept     *prometheus.CounterVec
}

// NewMetrics 在 reg 上注册缓存计数器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgcache",
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, []string{"backend", "area"})
	}
	return &Metrics{
		hits:      counter("hits_total", "Cache lookups answered from the cache."),
		misses:    counter("misses_total", "Cache lookups that found nothing usable."),
		writes:    counter("writes_total", "Entries committed to their canonical location."),
		discarded: counter("discarded_writes_total", "Writers handed a discard sink because another writer owned the key."),
		expired:   counter("expired_total", "Entries removed because their TTL elapsed."),
		purged:    counter("purged_files_total", "Files removed by purge operations."),
		swept:     counter("swept_files_total", "Temporary or empty files removed by the sweeper."),
	}
}

func (m *Metrics) hit(backend string, area Area) {
	if m != nil {
		m.hits.WithLabelValues(backend, string(area)).Inc()
	}
}

func (m *Metrics) miss(backend string, area Area) {
	if m != nil {
		m.misses.WithLabelValues(backend, string(area)).Inc()
	}
}

func (m *Metrics) write(backend string, area Area) {
	if m != nil {
		m.writes.WithLabelValues(backend, string(area)).Inc()
	}
}

func (m *Metrics) discard(backend string, area Area) {
	if m != nil {
		m.discarded.WithLabelValues(backend, string(area)).Inc()
	}
}

func (m *Metrics) expire(backend string, area Area) {
	m.expireN(backend, area, 1)
}

func (m *Metrics) expireN(backend string, area Area, n int) {
	if m != nil && n > 0 {
		m.expired.WithLabelValues(backend, string(area)).Add(float64(n))
	}
}

func (m *Metrics) purge(backend string, area Area, n int) {
	if m != nil && n > 0 {
		m.purged.WithLabelValues(backend, string(area)).Add(float64(n))
	}
}

func (m *Metrics) sweep(backend string, n int) {
	if m != nil && n > 0 {
		m.swept.WithLabelValues(backend, "all").Add(float64(n))
	}
}
