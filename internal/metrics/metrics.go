package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	MessagesReceived  prometheus.Counter
	MessagesDeleted   prometheus.Counter
	PoisonMessages    prometheus.Counter
	DuplicateSkips    prometheus.Counter
	ArtifactsByResult *prometheus.CounterVec
	ReceiveErrors     prometheus.Counter
	ProcessingTime    prometheus.Histogram
	InFlight          prometheus.Gauge
	ArtifactsByStatus *prometheus.GaugeVec
	ScansCompleted    prometheus.Counter
	AlertsCreated     prometheus.Counter
	ScanTime          prometheus.Histogram
	EnqueueFailures   prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradecomply_messages_received_total",
			Help: "Total number of queue messages received by the worker",
		}),
		MessagesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradecomply_messages_deleted_total",
			Help: "Total number of queue messages acknowledged",
		}),
		PoisonMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradecomply_poison_messages_total",
			Help: "Total number of undecodable or orphaned messages dropped",
		}),
		DuplicateSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradecomply_duplicate_deliveries_total",
			Help: "Total number of deliveries skipped because the artifact was already terminal",
		}),
		ArtifactsByResult: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecomply_artifacts_committed_total",
			Help: "Total number of artifacts committed to a terminal status",
		}, []string{"status"}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradecomply_receive_errors_total",
			Help: "Total number of failed queue receives",
		}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradecomply_processing_duration_seconds",
			Help:    "Time spent processing one message",
			Buckets: prometheus.DefBuckets,
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tradecomply_messages_in_flight",
			Help: "Number of messages currently being processed",
		}),
		ArtifactsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradecomply_artifacts",
			Help: "Number of artifacts per status as of the last scan",
		}, []string{"status"}),
		ScansCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradecomply_scans_total",
			Help: "Total number of compliance scans completed",
		}),
		AlertsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradecomply_alerts_created_total",
			Help: "Total number of deadline alerts created",
		}),
		ScanTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradecomply_scan_duration_seconds",
			Help:    "Time spent on one compliance scan",
			Buckets: prometheus.DefBuckets,
		}),
		EnqueueFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradecomply_enqueue_failures_total",
			Help: "Total number of processing messages that could not be enqueued",
		}),
	}
}

// NewDiscard returns metrics registered on a private registry
func NewDiscard() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
