// Package metrics wraps prometheus metric construction with the server's
// default namespace.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const Namespace = "dyndns_forwarder"

func NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	if opts.Namespace == "" {
		opts.Namespace = Namespace
	}
	metric := prometheus.NewCounterVec(opts, labelNames)
	prometheus.MustRegister(metric)
	return metric
}

func NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	if opts.Namespace == "" {
		opts.Namespace = Namespace
	}
	metric := prometheus.NewGauge(opts)
	prometheus.MustRegister(metric)
	return metric
}

func NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	if opts.Namespace == "" {
		opts.Namespace = Namespace
	}
	metric := prometheus.NewGaugeVec(opts, labelNames)
	prometheus.MustRegister(metric)
	return metric
}

func NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	if opts.Namespace == "" {
		opts.Namespace = Namespace
	}
	metric := prometheus.NewHistogram(opts)
	prometheus.MustRegister(metric)
	return metric
}
