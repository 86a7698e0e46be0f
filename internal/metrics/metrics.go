package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels scans that completed, alerts or not.
	OutcomeSuccess = "success"
	// OutcomeError labels scans aborted by a snapshot read failure.
	OutcomeError = "error"
)

var (
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "risk_monitor",
			Name:      "scans_total",
			Help:      "Total number of threshold scans, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	scanDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "risk_monitor",
			Name:      "scan_seconds",
			Help:      "Scan latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "risk_monitor",
			Name:      "alerts_total",
			Help:      "Total number of alerts emitted, partitioned by alert type.",
		},
		[]string{"type"},
	)

	connectedObservers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "risk_monitor",
			Name:      "connected_observers",
			Help:      "Number of currently registered observer connections.",
		},
	)

	deliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "risk_monitor",
			Name:      "deliveries_total",
			Help:      "Total number of alert messages delivered to observers.",
		},
	)

	deliveryFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "risk_monitor",
			Name:      "delivery_failures_total",
			Help:      "Total number of per-connection delivery failures during broadcast.",
		},
	)
)

// Register attaches risk-monitor collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		scansTotal,
		scanDurationSeconds,
		alertsTotal,
		connectedObservers,
		deliveriesTotal,
		deliveryFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveScan records a scan duration and outcome for the given kind.
func ObserveScan(kind string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	scansTotal.WithLabelValues(kind, label).Inc()
	if duration < 0 {
		duration = 0
	}
	scanDurationSeconds.Observe(duration.Seconds())
}

// ObserveAlert counts one emitted alert of the given type.
func ObserveAlert(alertType string) {
	alertsTotal.WithLabelValues(alertType).Inc()
}

// ObserverConnected adjusts the connected-observer gauge by delta.
func ObserverConnected(delta int) {
	connectedObservers.Add(float64(delta))
}

// ObserveDelivery counts one delivered broadcast message.
func ObserveDelivery() {
	deliveriesTotal.Inc()
}

// ObserveDeliveryFailure counts one failed per-connection send.
func ObserveDeliveryFailure() {
	deliveryFailuresTotal.Inc()
}
