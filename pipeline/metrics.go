package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_pipeline_runs_total",
		Help: "The total number of pipeline invocations by result",
	}, []string{"result"})
	stagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_pipeline_stages_total",
		Help: "The total number of pipeline stages by stage and status",
	}, []string{"stage", "status"})
	stageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terrain_pipeline_stage_duration_seconds",
		Help:    "The duration of pipeline stages",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"stage"})
	archiveBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_pipeline_archive_bytes",
		Help:    "The size of pipeline archives",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
)
