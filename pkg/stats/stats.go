// Package stats exposes prometheus metrics for the signaling core.
package stats

import "github.com/prometheus/client_golang/prometheus"

var (
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "signal",
		Name:      "sessions",
		Help:      "Number of registered client sessions.",
	})

	Transports = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "signal",
		Name:      "transports",
		Help:      "Number of live transports across all sessions.",
	})

	Producers = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "signal",
		Name:      "producers",
		Help:      "Number of live producers across all sessions.",
	})

	Consumers = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "signal",
		Name:      "consumers",
		Help:      "Number of live consumers across all sessions.",
	})

	SelfHeals = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "signal",
		Name:      "consumer_transport_self_heals",
		Help:      "Consumer transport negotiations started from within consume.",
	})
)

func init() {
	prometheus.MustRegister(Sessions)
	prometheus.MustRegister(Transports)
	prometheus.MustRegister(Producers)
	prometheus.MustRegister(Consumers)
	prometheus.MustRegister(SelfHeals)
}
