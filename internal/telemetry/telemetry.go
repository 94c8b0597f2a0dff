// Package telemetry exposes measurement results and cycle outcomes as
// Prometheus metrics.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HerbHall/speedwatch/internal/speedtest"
	"github.com/HerbHall/speedwatch/internal/version"
	"github.com/HerbHall/speedwatch/pkg/models"
)

const namespace = "speedwatch"

// Metrics holds the SpeedWatch collectors. It implements both the
// scheduler's cycle observer and report.Reporter.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	download      prometheus.Gauge
	upload        prometheus.Gauge
	ping          prometheus.Gauge
	lastSuccess   prometheus.Gauge
	buildInfo     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Measurement cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one measurement cycle.",
			Buckets:   []float64{5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 300},
		}),
		download: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_mbps",
			Help:      "Download throughput of the last successful measurement.",
		}),
		upload: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_mbps",
			Help:      "Upload throughput of the last successful measurement.",
		}),
		ping: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ping_ms",
			Help:      "Latency of the last successful measurement.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Timestamp of the last successful measurement.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information, always 1.",
		}, []string{"version", "commit"}),
	}

	for _, c := range []prometheus.Collector{
		m.cycles, m.cycleDuration, m.download, m.upload, m.ping, m.lastSuccess, m.buildInfo,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	// Pre-create every outcome so rate() queries see zero instead of no data.
	for _, o := range []string{
		speedtest.OutcomeSuccess, speedtest.OutcomeExecution, speedtest.OutcomeParse,
		speedtest.OutcomeTimeout, speedtest.OutcomeCanceled, speedtest.OutcomeUnknown,
	} {
		m.cycles.WithLabelValues(o)
	}
	m.buildInfo.WithLabelValues(version.Short(), version.GitCommit).Set(1)

	return m, nil
}

// ObserveCycle counts a finished cycle and records its duration.
func (m *Metrics) ObserveCycle(outcome string, elapsed time.Duration) {
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

// Report sets the gauges from a successful record.
func (m *Metrics) Report(_ context.Context, rec models.MetricsRecord) error {
	m.download.Set(rec.DownloadMbps)
	m.upload.Set(rec.UploadMbps)
	m.ping.Set(rec.PingMs)
	m.lastSuccess.Set(float64(rec.Timestamp))
	return nil
}
