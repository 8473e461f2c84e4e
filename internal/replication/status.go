package replication

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kvshard/replicore/internal/kvstore"
	"github.com/kvshard/replicore/internal/metrics"
)

// SimpleStatus is the aggregate view spec.md §4.8 calls "Simple".
type SimpleStatus struct {
	Role                  string
	MasterLastIOSecondsAgo float64
	ConnectedSlaves       int
	SlaveReplOffset       uint64
}

// GetReplInfoSimple aggregates across every store under the manager mutex.
//
// connected_slaves intentionally reflects only the push-status count of the
// last store iterated, not the sum across stores — a compatibility quirk of
// the original this port preserves rather than fixes (see design notes).
func (m *Manager) GetReplInfoSimple() SimpleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st SimpleStatus
	st.Role = "master"
	now := time.Now()

	for id, meta := range m.syncMeta {
		if meta.IsSlave() {
			st.Role = "slave"
			lag := now.Sub(m.slaveStatus[id].LastSyncTime).Seconds()
			if lag > st.MasterLastIOSecondsAgo {
				st.MasterLastIOSecondsAgo = lag
			}
		}
		st.ConnectedSlaves = len(m.pushStatus[id])

		for _, ps := range m.pushStatus[id] {
			highest := uint64(0)
			if handle, err := m.segMgr.GetDB(id, kvstore.LockNone, true); err == nil {
				highest = handle.Store.GetHighestBinlogID()
				handle.Release()
			}
			if highest >= ps.BinlogPos {
				lag := highest - ps.BinlogPos
				if lag > st.SlaveReplOffset {
					st.SlaveReplOffset = lag
				}
			}
		}
	}
	return st
}

// WriteReplInfoSimple renders SimpleStatus as CRLF-terminated key:value
// lines, per spec.md §6's "Status text format".
func (m *Manager) WriteReplInfoSimple() string {
	st := m.GetReplInfoSimple()
	var b strings.Builder
	fmt.Fprintf(&b, "role:%s\r\n", st.Role)
	fmt.Fprintf(&b, "master_last_io_seconds_ago:%.3f\r\n", st.MasterLastIOSecondsAgo)
	fmt.Fprintf(&b, "connected_slaves:%d\r\n", st.ConnectedSlaves)
	fmt.Fprintf(&b, "slave_repl_offset:%d\r\n", st.SlaveReplOffset)
	return b.String()
}

// DetailRecord is one master- or slave-connection record in the Detail
// report (spec.md §4.8).
type DetailRecord struct {
	Scope  string
	Fields map[string]string
}

// GetReplInfoDetail picks, under the manager mutex: the store with the
// minimum lastSyncTime for its master-connection record, and for each
// push-status with maximum binlog lag, a slave record.
//
// show_all is accepted as a parameter but is unconditionally overwritten to
// false before use — a second preserved quirk from the original (see design
// notes) — so callers can never actually get the "all stores" behavior its
// name implies.
func (m *Manager) GetReplInfoDetail(showAll bool) []DetailRecord {
	showAll = false // preserved quirk: this branch never executes as named.

	m.mu.Lock()
	defer m.mu.Unlock()

	var records []DetailRecord

	minID := -1
	var minTime time.Time
	for id, meta := range m.syncMeta {
		if !meta.IsSlave() {
			continue
		}
		lst := m.slaveStatus[id].LastSyncTime
		if minID == -1 || lst.Before(minTime) {
			minID = id
			minTime = lst
		}
		if showAll {
			records = append(records, masterRecord(id, meta, m.slaveStatus[id]))
		}
	}
	if !showAll && minID != -1 {
		records = append(records, masterRecord(minID, m.syncMeta[minID], m.slaveStatus[minID]))
	}

	maxLagID := -1
	var maxLagClient uint64
	var maxLag uint64
	for id := range m.syncMeta {
		for clientID, ps := range m.pushStatus[id] {
			highest := uint64(0)
			if handle, err := m.segMgr.GetDB(id, kvstore.LockNone, true); err == nil {
				highest = handle.Store.GetHighestBinlogID()
				handle.Release()
			}
			var lag uint64
			if highest >= ps.BinlogPos {
				lag = highest - ps.BinlogPos
			}
			if maxLagID == -1 || lag > maxLag {
				maxLagID, maxLagClient, maxLag = id, clientID, lag
			}
		}
	}
	if maxLagID != -1 {
		records = append(records, slaveRecord(maxLagID, m.pushStatus[maxLagID][maxLagClient]))
	}

	return records
}

func masterRecord(storeID int, meta kvstore.StoreMeta, status *SlaveStatus) DetailRecord {
	return DetailRecord{
		Scope: "master",
		Fields: map[string]string{
			"store_id":        fmt.Sprintf("%d", storeID),
			"sync_source":     fmt.Sprintf("%s:%d:%d", meta.SyncFromHost, meta.SyncFromPort, meta.SyncFromID),
			"repl_state":      meta.ReplState.String(),
			"last_sync_time":  status.LastSyncTime.Format(time.RFC3339),
		},
	}
}

func slaveRecord(storeID int, ps *MasterPushStatus) DetailRecord {
	return DetailRecord{
		Scope: "slave",
		Fields: map[string]string{
			"store_id":    fmt.Sprintf("%d", storeID),
			"client_id":   fmt.Sprintf("%d", ps.ClientID),
			"remote_host": fmt.Sprintf("%s:%d", ps.SlaveListenIP, ps.SlaveListenPort),
			"binlog_pos":  fmt.Sprintf("%d", ps.BinlogPos),
		},
	}
}

// WriteReplInfoDetail renders detail records as CRLF-terminated
// "scope:key=value,key=value,..." lines.
func (m *Manager) WriteReplInfoDetail(showAll bool) string {
	records := m.GetReplInfoDetail(showAll)
	var b strings.Builder
	for _, rec := range records {
		var kvs []string
		for k, v := range rec.Fields {
			kvs = append(kvs, fmt.Sprintf("%s=%s", k, v))
		}
		fmt.Fprintf(&b, "%s:%s\r\n", rec.Scope, strings.Join(kvs, ","))
	}
	return b.String()
}

// jsonStoreStat is one store's entry in the JSON snapshot (spec.md §4.8).
type jsonStoreStat struct {
	FirstBinlog  uint64            `json:"first_binlog"`
	Timestamp    int64             `json:"timestamp"`
	IncrPaused   bool              `json:"incr_paused"`
	SyncDest     map[string]uint64 `json:"sync_dest"`
	SyncSource   string            `json:"sync_source"`
	BinlogID     uint64            `json:"binlog_id"`
	ReplState    string            `json:"repl_state"`
	LastSyncTime string            `json:"last_sync_time"`
}

// UpdateMetrics refreshes the Prometheus gauges in internal/metrics from
// current replication state. Called periodically from the control loop's
// idle tick (see manager.go), never from a hot dispatch path.
func (m *Manager) UpdateMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, meta := range m.syncMeta {
		idStr := strconv.Itoa(id)
		metrics.ReplicationFirstBinlogID.WithLabelValues(idStr).Set(float64(m.recycleStatus[id].FirstBinlogID))
		metrics.ReplicationPushStatusCount.WithLabelValues(idStr).Set(float64(len(m.pushStatus[id])))

		if meta.IsSlave() {
			lag := now.Sub(m.slaveStatus[id].LastSyncTime).Seconds()
			metrics.ReplicationLagSeconds.WithLabelValues(idStr).Set(lag)
		}

		for clientID, ps := range m.pushStatus[id] {
			metrics.ReplicationBinlogPos.WithLabelValues(idStr, strconv.FormatUint(clientID, 10)).Set(float64(ps.BinlogPos))
		}
	}
}

// JSONSnapshot builds the JSON status object keyed by store-id string.
func (m *Manager) JSONSnapshot() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]jsonStoreStat, len(m.syncMeta))
	for id, meta := range m.syncMeta {
		dest := make(map[string]uint64, len(m.pushStatus[id]))
		for clientID, ps := range m.pushStatus[id] {
			dest[fmt.Sprintf("client_%d", clientID)] = ps.BinlogPos
		}
		out[fmt.Sprintf("%d", id)] = jsonStoreStat{
			FirstBinlog:  m.recycleStatus[id].FirstBinlogID,
			Timestamp:    m.recycleStatus[id].Timestamp,
			IncrPaused:   m.incrPaused.Load(),
			SyncDest:     dest,
			SyncSource:   fmt.Sprintf("%s:%d:%d", meta.SyncFromHost, meta.SyncFromPort, meta.SyncFromID),
			BinlogID:     meta.BinlogID,
			ReplState:    strings.ToUpper(meta.ReplState.String()),
			LastSyncTime: m.slaveStatus[id].LastSyncTime.Format(time.RFC3339),
		}
	}
	return json.Marshal(out)
}
