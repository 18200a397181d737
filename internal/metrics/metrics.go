// Package metrics exposes the runtime's Prometheus metrics: per-processor
// throughput and error counters, and network fan-out gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the metrics a Board and its processors publish into.
type Registry struct {
	ChunksProcessed   *prometheus.CounterVec
	ProcessorErrors   *prometheus.CounterVec
	CompositesDropped *prometheus.CounterVec
	ProcessLatency    *prometheus.HistogramVec

	NetChannelQueuedBytes *prometheus.GaugeVec
	NetChannelReconnects  *prometheus.CounterVec
}

// NewRegistry constructs and registers the runtime's metrics against reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose on the default /metrics handler.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ChunksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soundmesh",
			Name:      "chunks_processed_total",
			Help:      "Composites successfully processed, per processor.",
		}, []string{"processor"}),
		ProcessorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soundmesh",
			Name:      "processor_errors_total",
			Help:      "Errors reported to the Board, per processor and kind.",
		}, []string{"processor", "kind"}),
		CompositesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soundmesh",
			Name:      "composites_dropped_total",
			Help:      "Incomplete composites condemned by a later completion, per processor.",
		}, []string{"processor"}),
		ProcessLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soundmesh",
			Name:      "process_duration_seconds",
			Help:      "Time spent in Process() per composite, per processor.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"processor"}),
		NetChannelQueuedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "soundmesh",
			Name:      "netchannel_queued_bytes",
			Help:      "Bytes currently queued for the connected peer.",
		}, []string{"addr"}),
		NetChannelReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soundmesh",
			Name:      "netchannel_reconnects_total",
			Help:      "Client reconnect attempts, per server address.",
		}, []string{"addr"}),
	}

	reg.MustRegister(
		r.ChunksProcessed,
		r.ProcessorErrors,
		r.CompositesDropped,
		r.ProcessLatency,
		r.NetChannelQueuedBytes,
		r.NetChannelReconnects,
	)
	return r
}
