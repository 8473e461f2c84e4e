package metrics

import (
	"runtime"
	"sync"
	"time"
)

// Collector samples process-level metrics on a timer; per-store replication
// gauges are refreshed directly by Manager.UpdateMetrics instead, since only
// the manager holds the state they report.
type Collector struct {
	startTime time.Time
	mu        sync.RWMutex
}

// NewCollector creates a collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// Collect collects periodic metrics
func (c *Collector) Collect() {
	c.collectMemory()
	c.collectUptime()
}

func (c *Collector) collectMemory() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryUsage.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}

func (c *Collector) collectUptime() {
	Uptime.Set(time.Since(c.startTime).Seconds())
}

// RecordReplicationRecycleRun increments the recycle-pass counter for storeID.
func RecordReplicationRecycleRun(storeID string) {
	ReplicationRecycleRunsTotal.WithLabelValues(storeID).Inc()
}
