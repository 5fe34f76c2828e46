// Package metrics exposes Prometheus instrumentation for the ingest
// pipeline and the playback engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChunksFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapedeck_chunks_fetched_total",
		Help: "Raw chunks retrieved from a fetcher",
	})

	ChunkCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapedeck_chunk_cache_hits_total",
		Help: "Chunk fetches served from the local cache",
	})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapedeck_chunk_decode_failures_total",
		Help: "Chunks that yielded zero parseable records",
	})

	FieldsInflated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapedeck_fields_inflated_total",
		Help: "Compressed payload fields successfully inflated",
	})

	FieldsDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapedeck_fields_degraded_total",
		Help: "Payload fields degraded after an inflate or parse failure",
	})

	AssembliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapedeck_assemblies_total",
		Help: "Completed recording assemblies",
	})

	AssemblyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tapedeck_assembly_duration_seconds",
		Help:    "Wall time to fetch, decode, and assemble a recording",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	SeeksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapedeck_seeks_total",
		Help: "Seek operations performed by the playback controller",
	})

	PrimitiveRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapedeck_primitive_rebuilds_total",
		Help: "Replay primitive instances constructed (loads and seeks)",
	})
)
