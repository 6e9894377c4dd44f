package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/cfg"
)

// registry is nil until InitializeTelemetry enables metrics; every
// constructor degrades to a no-op stat while it is nil
var registry *prometheus.Registry

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
	SetToCurrentTime()
}

type Histogram interface {
	Observe(float64)
}

// Labeled variants. With resolves one child stat per label value set.
type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

// NoopStat satisfies every stat interface and discards all updates
type NoopStat struct{}

func (NoopStat) Inc()              {}
func (NoopStat) Dec()              {}
func (NoopStat) Add(float64)       {}
func (NoopStat) Sub(float64)       {}
func (NoopStat) Set(float64)       {}
func (NoopStat) SetToCurrentTime() {}
func (NoopStat) Observe(float64)   {}

type noopCounterVec struct{}

func (noopCounterVec) With(...string) Counter { return NoopStat{} }

type noopGaugeVec struct{}

func (noopGaugeVec) With(...string) Gauge { return NoopStat{} }

type noopHistogramVec struct{}

func (noopHistogramVec) With(...string) Histogram { return NoopStat{} }

type counterVec struct{ vec *prometheus.CounterVec }

func (v counterVec) With(labels ...string) Counter { return v.vec.WithLabelValues(labels...) }

type gaugeVec struct{ vec *prometheus.GaugeVec }

func (v gaugeVec) With(labels ...string) Gauge { return v.vec.WithLabelValues(labels...) }

type histogramVec struct{ vec *prometheus.HistogramVec }

func (v histogramVec) With(labels ...string) Histogram { return v.vec.WithLabelValues(labels...) }

// opts stamps the shared namespace and per-node const label onto every
// metric
func opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace: "minsql",
		Subsystem: "engine",
		Name:      name,
		Help:      help,
		ConstLabels: prometheus.Labels{
			"node_id": strconv.FormatUint(cfg.Config.NodeID, 10),
		},
	}
}

func histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	o := opts(name, help)
	return prometheus.HistogramOpts{
		Namespace:   o.Namespace,
		Subsystem:   o.Subsystem,
		Name:        o.Name,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
		Buckets:     buckets,
	}
}

func NewCounter(name, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	c := prometheus.NewCounter(prometheus.CounterOpts(opts(name, help)))
	registry.MustRegister(c)
	return c
}

func NewGauge(name, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts(opts(name, help)))
	registry.MustRegister(g)
	return g
}

func NewHistogram(name, help string) Histogram {
	return NewHistogramWithBuckets(name, help, nil)
}

func NewHistogramWithBuckets(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}
	h := prometheus.NewHistogram(histogramOpts(name, help, buckets))
	registry.MustRegister(h)
	return h
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts(opts(name, help)), labels)
	registry.MustRegister(v)
	return counterVec{vec: v}
}

func NewGaugeVec(name, help string, labels []string) GaugeVec {
	if registry == nil {
		return noopGaugeVec{}
	}
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts(opts(name, help)), labels)
	registry.MustRegister(v)
	return gaugeVec{vec: v}
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	if registry == nil {
		return noopHistogramVec{}
	}
	v := prometheus.NewHistogramVec(histogramOpts(name, help, buckets), labels)
	registry.MustRegister(v)
	return histogramVec{vec: v}
}

// InitializeTelemetry creates the registry when Prometheus is enabled.
// Must run before any metric is constructed.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Msg("Prometheus metrics enabled - served on the HTTP port at /metrics")
}

// GetMetricsHandler returns the /metrics handler, or nil while metrics
// are disabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
