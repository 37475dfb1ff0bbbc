// Package metrics exposes Prometheus instrumentation for the scanners and
// the event bus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scanning engine
type Metrics struct {
	// Gauges (current values)
	WorkersRunning  *prometheus.GaugeVec
	CheckpointBlock *prometheus.GaugeVec
	BlockWindow     *prometheus.GaugeVec

	// Counters (cumulative values)
	WindowsScannedTotal *prometheus.CounterVec
	EventsAppliedTotal  *prometheus.CounterVec
	SoftMissesTotal     *prometheus.CounterVec
	WorkerRestartsTotal *prometheus.CounterVec
	AlertsSentTotal     prometheus.Counter
	BusDeliveredTotal   *prometheus.CounterVec
	BusAckedTotal       *prometheus.CounterVec
	BusFailedTotal      *prometheus.CounterVec
}

// New creates and registers all scanner metrics
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "marketscan"
	}

	return &Metrics{
		WorkersRunning: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_running",
			Help:      "Current number of running scanner workers",
		}, []string{"network"}),
		CheckpointBlock: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_block",
			Help:      "Next block to scan per scanner scope",
		}, []string{"network", "category"}),
		BlockWindow: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_window",
			Help:      "Current adaptive block window span per scanner scope",
		}, []string{"network", "category"}),

		WindowsScannedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_scanned_total",
			Help:      "Total number of block windows fetched and applied",
		}, []string{"network", "category"}),
		EventsAppliedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Total number of chain events applied to the ledger",
		}, []string{"network", "category"}),
		SoftMissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "soft_misses_total",
			Help:      "Total number of events skipped over unresolved references",
		}, []string{"category"}),
		WorkerRestartsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Total number of supervised worker restarts",
		}, []string{"network", "fault_kind"}),
		AlertsSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Total number of operator alerts sent",
		}),
		BusDeliveredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_delivered_total",
			Help:      "Total number of bus messages delivered to handlers",
		}, []string{"topic"}),
		BusAckedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_acked_total",
			Help:      "Total number of bus messages acknowledged",
		}, []string{"topic"}),
		BusFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_failed_total",
			Help:      "Total number of bus messages whose handler failed",
		}, []string{"topic"}),
	}
}
