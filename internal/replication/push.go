package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/kvshard/replicore/internal/kvstore"
	"github.com/kvshard/replicore/internal/replnet"
)

// RegisterClient admits a newly-connected slave as a push subscriber of
// storeID. It allocates a clientId, seeds a MasterPushStatus due for
// immediate dispatch, and opens a MasterFullPushStatus tracking the
// snapshot transfer that must run before incremental push begins
// (spec.md §4.3, §4.4).
func (m *Manager) RegisterClient(storeID int, slaveListenIP string, slaveListenPort uint32) (uint64, error) {
	if storeID < 0 || storeID >= len(m.pushStatus) {
		return 0, ErrNotFound
	}
	clientID := m.clientIDGen.Add(1)

	// Snapshot the store's current highest binlog id before taking mu, so
	// this RUNNING full-push's handoff watermark is meaningful from the
	// start rather than defaulting to 0 (spec.md §3, §4.5): the segment
	// lock is acquired and released ahead of mu per the manager's lock
	// ordering (segment-manager store lock -> mu).
	var highest uint64
	if handle, herr := m.segMgr.GetDB(storeID, kvstore.LockNone, true); herr == nil {
		highest = handle.Store.GetHighestBinlogID()
		handle.Release()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	peerKey := fmt.Sprintf("%s:%d", slaveListenIP, slaveListenPort)
	m.fullPushStatus[storeID][peerKey] = &MasterFullPushStatus{
		PeerKey:   peerKey,
		State:     FullPushRunning,
		BinlogPos: highest,
		StartTime: time.Now(),
	}
	m.pushStatus[storeID][clientID] = &MasterPushStatus{
		ClientID:        clientID,
		DstStoreID:      storeID,
		NextSchedTime:   time.Now(),
		SlaveListenIP:   slaveListenIP,
		SlaveListenPort: slaveListenPort,
	}
	return clientID, nil
}

// DeregisterClient removes a push subscriber, e.g. on socket close.
func (m *Manager) DeregisterClient(clientID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, byClient := range m.pushStatus {
		if ps, ok := byClient[clientID]; ok {
			if ps.Client != nil {
				_ = ps.Client.Close()
			}
			delete(byClient, clientID)
			return
		}
	}
}

// dispatchPushLocked schedules one push-role routine for every due client of
// store id that is not already running: a full-push pass if its full-push
// status is still Running, otherwise an incremental push pass. It also
// performs full-push status garbage collection (spec.md §4.4: Success
// entries older than FullPushRetention are dropped; Err and Running entries
// are kept). mu must be held by the caller.
func (m *Manager) dispatchPushLocked(id int, now time.Time) bool {
	for peer, fp := range m.fullPushStatus[id] {
		if fp.State == FullPushSuccess && now.Sub(fp.EndTime) > m.cfg.FullPushRetention {
			delete(m.fullPushStatus[id], peer)
		}
	}

	did := false
	for clientID, ps := range m.pushStatus[id] {
		if ps.IsRunning || ps.NextSchedTime.After(now) {
			continue
		}
		peerKey := fmt.Sprintf("%s:%d", ps.SlaveListenIP, ps.SlaveListenPort)
		fp, hasFull := m.fullPushStatus[id][peerKey]

		ps.IsRunning = true
		cid := clientID
		if hasFull && fp.State == FullPushRunning {
			m.fullPushPool.Schedule(func() { m.runFullPush(id, cid, peerKey) })
		} else {
			m.incrPushPool.Schedule(func() { m.runIncrPush(id, cid) })
		}
		did = true
	}
	return did
}

// runFullPush performs (a stand-in for) the snapshot transfer to a newly
// registered slave. The actual transfer wire format is out of scope
// (spec.md §1 Non-goals); this marks the full-push status Success and seeds
// the push status's binlogPos at the store's current highest binlog id, the
// watermark the incremental phase starts from.
func (m *Manager) runFullPush(storeID int, clientID uint64, peerKey string) {
	handle, err := m.segMgr.GetDB(storeID, kvstore.LockIX, false)

	m.mu.Lock()
	defer func() {
		if ps := m.pushStatus[storeID][clientID]; ps != nil {
			ps.IsRunning = false
		}
		m.cv.Broadcast()
		m.mu.Unlock()
	}()

	fp := m.fullPushStatus[storeID][peerKey]
	ps := m.pushStatus[storeID][clientID]
	if ps == nil {
		if err == nil {
			handle.Release()
		}
		return
	}

	if err != nil {
		if fp != nil {
			fp.State = FullPushErr
			fp.EndTime = time.Now()
		}
		ps.NextSchedTime = time.Now().Add(jitter(1 * time.Second))
		return
	}
	highest := handle.Store.GetHighestBinlogID()
	handle.Release()

	if fp != nil {
		fp.State = FullPushSuccess
		fp.BinlogPos = highest
		fp.EndTime = time.Now()
	}
	ps.BinlogPos = highest
	ps.NextSchedTime = time.Now().Add(jitter(10 * time.Millisecond))
}

// runIncrPush advances ps.BinlogPos to the store's current highest binlog
// id, then reschedules itself. When a client is attached it first takes
// (highest - BinlogPos) tokens from the manager's shared token bucket and
// writes a single "XSYNC <store> <highest>" line; the binlog records
// themselves are not sent.
func (m *Manager) runIncrPush(storeID int, clientID uint64) {
	handle, err := m.segMgr.GetDB(storeID, kvstore.LockIX, false)

	m.mu.Lock()
	ps := m.pushStatus[storeID][clientID]
	if ps == nil {
		m.mu.Unlock()
		if err == nil {
			handle.Release()
		}
		return
	}
	from := ps.BinlogPos
	client := ps.Client
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if ps := m.pushStatus[storeID][clientID]; ps != nil {
			ps.IsRunning = false
		}
		m.cv.Broadcast()
		m.mu.Unlock()
	}()

	if err != nil {
		m.rescheduleIncrPush(storeID, clientID, from, time.Now().Add(jitter(1*time.Second)))
		return
	}
	defer handle.Release()

	highest := handle.Store.GetHighestBinlogID()
	if highest == kvstore.UnInited || highest <= from {
		m.rescheduleIncrPush(storeID, clientID, from, time.Now().Add(jitter(200*time.Millisecond)))
		return
	}

	sent := from
	if client != nil {
		n := int(highest - from)
		if werr := m.rateLimiter.WaitN(context.Background(), n); werr != nil {
			m.rescheduleIncrPush(storeID, clientID, from, time.Now().Add(jitter(200*time.Millisecond)))
			return
		}
		if werr := client.WriteLine(fmt.Sprintf("XSYNC %d %d", storeID, highest)); werr != nil {
			m.rescheduleIncrPush(storeID, clientID, from, time.Now().Add(jitter(1*time.Second)))
			return
		}
	}
	sent = highest

	m.rescheduleIncrPush(storeID, clientID, sent, time.Now().Add(jitter(50*time.Millisecond)))
}

func (m *Manager) rescheduleIncrPush(storeID int, clientID uint64, binlogPos uint64, next time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.pushStatus[storeID][clientID]
	if ps == nil {
		return
	}
	ps.BinlogPos = binlogPos
	ps.NextSchedTime = next
}

// AttachPushClient wires a dialed-in connection to clientID's push status,
// so runIncrPush can write XSYNC frames to it directly.
func (m *Manager) AttachPushClient(storeID int, clientID uint64, client *replnet.BlockingClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.pushStatus[storeID][clientID]
	if ps == nil {
		return ErrNotFound
	}
	ps.Client = client
	return nil
}

// DialAndAttachPushClient is the production replnet.AttachFunc: it dials the
// slave back at the listen address it advertised in its PSYNC request and
// attaches the resulting connection to clientID's push status, so runIncrPush
// has somewhere to write XSYNC frames (spec.md §4.3). Called from the sync
// listener once RegisterClient has admitted the client; a dial failure here
// just leaves the client push-less until it reconnects, the same way a
// failed runIncrPush write does.
func (m *Manager) DialAndAttachPushClient(storeID int, clientID uint64, slaveListenIP string, slaveListenPort uint32) error {
	client := replnet.NewBlockingClient(4096)
	timeout := time.Duration(m.cfg.ConnectMasterTimeoutMs) * time.Millisecond
	if err := client.Connect(slaveListenIP, slaveListenPort, timeout); err != nil {
		return fmt.Errorf("dial push subscriber %s:%d: %w", slaveListenIP, slaveListenPort, err)
	}
	if err := m.AttachPushClient(storeID, clientID, client); err != nil {
		client.Close()
		return err
	}
	return nil
}
