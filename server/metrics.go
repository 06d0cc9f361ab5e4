package server

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "server"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of vouchers accepted by the device.
	Vouchers metrics.Counter
	// Number of notices accepted by the device.
	Notices metrics.Counter
	// Number of reports accepted by the device.
	Reports metrics.Counter
	// Number of exceptions thrown.
	Exceptions metrics.Counter
	// Number of generic I/O requests forwarded to the device.
	GIORequests metrics.Counter
	// Number of device transactions that returned an error.
	DeviceErrors metrics.Counter
	// Number of finish transactions currently parked on the device.
	FinishInflight metrics.Gauge
	// Time spent waiting for the next rollup request, in seconds.
	FinishWaitSeconds metrics.Histogram
}

// PrometheusMetrics returns Metrics built using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Vouchers: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "vouchers",
			Help:      "Number of vouchers accepted by the device.",
		}, labels).With(labelsAndValues...),
		Notices: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "notices",
			Help:      "Number of notices accepted by the device.",
		}, labels).With(labelsAndValues...),
		Reports: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reports",
			Help:      "Number of reports accepted by the device.",
		}, labels).With(labelsAndValues...),
		Exceptions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "exceptions",
			Help:      "Number of exceptions thrown.",
		}, labels).With(labelsAndValues...),
		GIORequests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "gio_requests",
			Help:      "Number of generic I/O requests forwarded to the device.",
		}, labels).With(labelsAndValues...),
		DeviceErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "device_errors",
			Help:      "Number of device transactions that returned an error.",
		}, labels).With(labelsAndValues...),
		FinishInflight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "finish_inflight",
			Help:      "Number of finish transactions currently parked on the device.",
		}, labels).With(labelsAndValues...),
		FinishWaitSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "finish_wait_seconds",
			Help:      "Time spent waiting for the next rollup request, in seconds.",
			Buckets:   []float64{.01, .1, .5, 1, 5, 15, 60, 300},
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Vouchers:          discard.NewCounter(),
		Notices:           discard.NewCounter(),
		Reports:           discard.NewCounter(),
		Exceptions:        discard.NewCounter(),
		GIORequests:       discard.NewCounter(),
		DeviceErrors:      discard.NewCounter(),
		FinishInflight:    discard.NewGauge(),
		FinishWaitSeconds: discard.NewHistogram(),
	}
}
