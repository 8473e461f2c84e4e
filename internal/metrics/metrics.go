package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "replicore"
)

var (
	// MemoryUsage tracks process memory usage
	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Memory usage in bytes",
		},
		[]string{"type"}, // alloc/sys/heap_alloc/heap_sys/heap_inuse
	)

	// Info exposes build info
	Info = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "replicad build info",
		},
		[]string{"version", "go_version", "os", "arch"},
	)

	// Uptime tracks process uptime
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)

	// ReplicationBinlogPos tracks each push subscriber's pushed binlog position.
	ReplicationBinlogPos = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "binlog_pos",
			Help:      "Pushed binlog position per replication client",
		},
		[]string{"store_id", "client_id"},
	)

	// ReplicationLagSeconds tracks per-store slave replication lag.
	ReplicationLagSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "lag_seconds",
			Help:      "Seconds since the slave's last successful sync",
		},
		[]string{"store_id"},
	)

	// ReplicationFirstBinlogID tracks each store's recycler low watermark.
	ReplicationFirstBinlogID = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "first_binlog_id",
			Help:      "Lowest binlog id retained by the recycler per store",
		},
		[]string{"store_id"},
	)

	// ReplicationPushStatusCount tracks active push subscriber counts per store.
	ReplicationPushStatusCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "pushstatus_count",
			Help:      "Number of registered push subscribers per store",
		},
		[]string{"store_id"},
	)

	// ReplicationRecycleRunsTotal counts completed recycle passes per store.
	ReplicationRecycleRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "recycle_runs_total",
			Help:      "Total completed binlog recycle passes per store",
		},
		[]string{"store_id"},
	)
)

// InitInfo initializes the build-info gauge.
func InitInfo(version, goVersion, os, arch string) {
	Info.WithLabelValues(version, goVersion, os, arch).Set(1)
}
