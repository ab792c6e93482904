package prometheus

import (
	"net/http"

	"github.com/MrEthical07/identityflow"
	"github.com/MrEthical07/identityflow/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() identityflow.MetricsSnapshot
	AuditDropped() uint64
}

type histogramDesc struct {
	id   identityflow.MetricID
	desc *prometheus.Desc
}

// Collector reports engine counters and histograms as constant metrics.
type Collector struct {
	source       metricsSource
	counters     map[identityflow.MetricID]*prometheus.Desc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
}

// NewCollector reads from engine on every scrape.
func NewCollector(engine *identityflow.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:       source,
		counters:     make(map[identityflow.MetricID]*prometheus.Desc, len(internaldefs.CounterDefs)),
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, def := range internaldefs.CounterDefs {
		ch <- c.counters[def.ID]
	}
	for _, h := range c.histograms {
		ch <- h.desc
	}
	ch <- c.auditDropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(c.counters[def.ID], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for _, h := range c.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for i, le := range internaldefs.HistogramBounds {
			buckets[le] = cumulative[i]
		}
		// The snapshot keeps bucket counts only, so the sum is unknown.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler returns a /metrics handler serving only this collector, from a
// private registry.
func Handler(source metricsSource) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollectorFromSource(source)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
