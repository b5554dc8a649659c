package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readingsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meter_readings_ingested_total",
			Help: "Total number of readings accepted into the ledger.",
		},
	)
	readingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_readings_rejected_total",
			Help: "Total number of readings rejected at ingestion, by reason.",
		},
		[]string{"reason"},
	)

	archiveRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_runs_total",
			Help: "Total number of archival runs, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	partitionsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_device_partitions_written_total",
			Help: "Total number of successful per-device partition writes.",
		},
	)

	restoreRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restore_readings_recovered_total",
			Help: "Readings recovered at startup, by source.",
		},
		[]string{"source"},
	)
	restoreConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restore_conflicts_total",
			Help: "Replayed operational record entries discarded as conflicting.",
		},
	)
	restoreSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restore_lines_skipped_total",
			Help: "Malformed archive or record lines skipped during restore.",
		},
	)
)
