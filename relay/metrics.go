package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumpenputzer/dyndns-forwarding-server/pkg/metrics"
)

const MetricSubsystem = "relay"

var (
	MetricPasses = metrics.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: MetricSubsystem,
			Name:      "passes",
		},
		[]string{"disposition"},
	)
	MetricTargetUpdates = metrics.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: MetricSubsystem,
			Name:      "target_updates",
		},
		[]string{"target", "result"},
	)
	MetricTargetLastSuccessTimestamp = metrics.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: MetricSubsystem,
			Name:      "target_last_success_timestamp",
		},
		[]string{"target"},
	)
	MetricLastPassTimestamp = metrics.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: MetricSubsystem,
			Name:      "last_pass_timestamp",
		},
	)
	MetricPassDurationSeconds = metrics.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: MetricSubsystem,
			Name:      "pass_duration_seconds",
		},
	)
)
