package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "connectivity_metrics"

	// Metrics names.
	MetricNameBuildInfo          = Namespace + "_build_info"
	MetricNameErrors             = Namespace + "_errors_total"
	MetricNameEventsAppended     = Namespace + "_buffer_append_total"
	MetricNameBufferedEvents     = Namespace + "_buffer_events"
	MetricNameBufferCapacity     = Namespace + "_buffer_capacity"
	MetricNameFlushes            = Namespace + "_buffer_flushes_total"
	MetricNameFlushedEvents      = Namespace + "_buffer_flushed_events_total"
	MetricNameNetdEvents         = Namespace + "_netd_events_total"
	MetricNameNetworkRegistered  = Namespace + "_network_registrations_total"
	MetricNameVPNCollectorErrors = Namespace + "_vpn_collector_assertions_total"

	// Labels.
	LabelVersion   = "version"
	LabelCommit    = "commit"
	LabelDate      = "date"
	LabelErrorType = "error_type"
	LabelKind      = "kind"
	LabelOutcome   = "outcome"
	LabelResult    = "result"
	LabelLinkLayer = "link_layer"
	LabelAssertion = "assertion"

	// Error types.
	ErrorTypeFlushSerialize = "flush_serialize"
	ErrorTypeListProto      = "list_proto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricNameBuildInfo,
			Help: "Build information of the connectivity metrics service",
		},
		[]string{LabelVersion, LabelCommit, LabelDate},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameErrors,
			Help: "Number of errors encountered",
		},
		[]string{LabelErrorType},
	)

	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameEventsAppended,
			Help: "Number of events offered to the event buffer, by kind and admission outcome",
		},
		[]string{LabelKind, LabelOutcome},
	)

	BufferedEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameBufferedEvents,
			Help: "Number of events currently held in the event buffer",
		},
	)

	BufferCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameBufferCapacity,
			Help: "Capacity of the current event buffer",
		},
	)

	Flushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameFlushes,
			Help: "Number of event buffer flushes",
		},
	)

	FlushedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameFlushedEvents,
			Help: "Number of events returned by event buffer flushes",
		},
	)

	NetdEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameNetdEvents,
			Help: "Number of dns and connect results dispatched for aggregation, by kind and result",
		},
		[]string{LabelKind, LabelResult},
	)

	NetworkRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameNetworkRegistered,
			Help: "Number of network registrations, by classified link layer",
		},
		[]string{LabelLinkLayer},
	)

	VPNCollectorAssertions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameVPNCollectorErrors,
			Help: "Number of unexpected vpn collector state transitions that were recovered from",
		},
		[]string{LabelAssertion},
	)
)
