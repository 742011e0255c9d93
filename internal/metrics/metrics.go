package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daasclimate_provider_calls_total",
			Help: "Total calls to external lookup providers",
		},
		[]string{"provider", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daasclimate_provider_latency_seconds",
			Help:    "External lookup provider latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daasclimate_cache_lookups_total",
			Help: "Lookup cache hits and misses",
		},
		[]string{"provider", "result"},
	)

	ConsultationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daasclimate_consultations_total",
			Help: "Consultations by final status",
		},
		[]string{"status"},
	)

	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daasclimate_stage_latency_seconds",
			Help:    "Consultation pipeline stage latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	LLMTokensStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daasclimate_llm_tokens_streamed_total",
			Help: "Response chunks streamed from the language model",
		},
	)

	DatasetLoadSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daasclimate_dataset_load_seconds",
			Help: "Duration of the most recent dataset catalog load",
		},
	)

	DatasetFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daasclimate_dataset_quality_flags_total",
			Help: "Out of range values found while loading datasets",
		},
		[]string{"variable", "flag"},
	)

	MirrorFilesSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daasclimate_mirror_files_synced_total",
			Help: "Files downloaded from the dataset mirror",
		},
	)
)
