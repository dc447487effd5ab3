// Package metrics defines the Prometheus collectors of the bot and exposes
// an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	PassesTotal        *prometheus.CounterVec
	PassDuration       prometheus.Histogram
	LastPassTimestamp  prometheus.Gauge
	NoticesObserved    *prometheus.GaugeVec
	NoticesKnown       prometheus.Gauge
	NoticesNewTotal    *prometheus.CounterVec
	NoticesResolved    *prometheus.CounterVec
	FetchTotal         *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	NotificationsTotal *prometheus.CounterVec
	StateSavesTotal    *prometheus.CounterVec
}

// New creates the collectors on a private registry (plus Go and process
// collectors), so tests can build as many as they like.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stoerbot_passes_total",
				Help: "Passes by outcome (ok, degraded, interrupted, skipped).",
			},
			[]string{"outcome"},
		),
		PassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stoerbot_pass_duration_seconds",
				Help:    "Wall time of one fetch-diff-notify-persist pass.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		),
		LastPassTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stoerbot_last_pass_timestamp_seconds",
				Help: "Unix time the last pass finished.",
			},
		),
		NoticesObserved: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stoerbot_notices_observed",
				Help: "Notices observed in the last pass by source.",
			},
			[]string{"source"},
		),
		NoticesKnown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stoerbot_notices_known",
				Help: "Notices in the known state after the last pass.",
			},
		),
		NoticesNewTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stoerbot_notices_new_total",
				Help: "Notices reported as new by source.",
			},
			[]string{"source"},
		),
		NoticesResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stoerbot_notices_resolved_total",
				Help: "Notices reported as resolved by source.",
			},
			[]string{"source"},
		),
		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stoerbot_fetch_total",
				Help: "Source fetches by source and status (ok, error).",
			},
			[]string{"source", "status"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stoerbot_fetch_duration_seconds",
				Help:    "Source fetch latency in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"source"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stoerbot_notifications_total",
				Help: "Notification deliveries by sink, kind and status.",
			},
			[]string{"sink", "kind", "status"},
		),
		StateSavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stoerbot_state_saves_total",
				Help: "State persistence attempts by status.",
			},
			[]string{"status"},
		),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PassesTotal,
		m.PassDuration,
		m.LastPassTimestamp,
		m.NoticesObserved,
		m.NoticesKnown,
		m.NoticesNewTotal,
		m.NoticesResolved,
		m.FetchTotal,
		m.FetchDuration,
		m.NotificationsTotal,
		m.StateSavesTotal,
	)
	return m
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (m *Metrics) ObserveFetch(source string, took time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(source, status(ok)).Inc()
	m.FetchDuration.WithLabelValues(source).Observe(took.Seconds())
}

func (m *Metrics) ObserveNotification(sink, kind string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(sink, kind, status(err == nil)).Inc()
}

func (m *Metrics) ObserveSave(ok bool) {
	if m == nil {
		return
	}
	m.StateSavesTotal.WithLabelValues(status(ok)).Inc()
}

// PassResult is what ObservePass needs from a pass report.
type PassResult struct {
	Outcome  string
	Took     time.Duration
	At       time.Time
	Known    int
	Observed map[string]int
	New      map[string]int
	Resolved map[string]int
}

func (m *Metrics) ObservePass(r PassResult) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(r.Outcome).Inc()
	if r.Outcome == "skipped" {
		return
	}
	m.PassDuration.Observe(r.Took.Seconds())
	m.LastPassTimestamp.Set(float64(r.At.Unix()))
	m.NoticesKnown.Set(float64(r.Known))
	for src, n := range r.Observed {
		m.NoticesObserved.WithLabelValues(src).Set(float64(n))
	}
	for src, n := range r.New {
		m.NoticesNewTotal.WithLabelValues(src).Add(float64(n))
	}
	for src, n := range r.Resolved {
		m.NoticesResolved.WithLabelValues(src).Add(float64(n))
	}
}
