package replication

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/kvshard/replicore/internal/kvstore"
	"github.com/kvshard/replicore/internal/ratelimit"
	"github.com/kvshard/replicore/internal/replnet"
)

// SlaveSyncer is the collaborator that actually talks to a master: dial,
// PSYNC, full-sync receive, incremental tailing. spec.md §4.2 scopes its
// wire protocol out of the core's concern entirely — the core only depends
// on the contract a syncer must uphold (see runSlaveSync below). Production
// wiring is defaultSlaveSyncer; tests inject a fake to exercise the state
// machine without real I/O.
type SlaveSyncer interface {
	// Sync drives store id's slave role for one dispatch: depending on its
	// current ReplState it performs a full-sync receive (ReplConnect) or one
	// incremental tail/heartbeat pass (ReplConnected). It returns the state
	// to transition to, or an error to fall back to ReplConnect.
	Sync(host SlaveRoutineHost, storeID int, meta kvstore.StoreMeta, fromState kvstore.ReplState) (kvstore.ReplState, uint64, error)
}

// SlaveRoutineHost is the narrow callback surface a SlaveSyncer gets back
// into the manager, so the routine can report progress without reaching
// into Manager's private fields directly.
type SlaveRoutineHost interface {
	SegmentManager() *kvstore.SegmentManager
	Config() Config
	RateLimiter() *ratelimit.Limiter
}

// managerHost adapts *Manager to SlaveRoutineHost.
type managerHost struct{ m *Manager }

func (h managerHost) SegmentManager() *kvstore.SegmentManager { return h.m.segMgr }
func (h managerHost) Config() Config                          { return h.m.cfg }
func (h managerHost) RateLimiter() *ratelimit.Limiter          { return h.m.rateLimiter }

// dispatchSlaveLocked schedules at most one slave-role routine for store id
// if it is due. mu must be held by the caller. It returns whether work was
// scheduled.
func (m *Manager) dispatchSlaveLocked(id int, now time.Time) bool {
	meta := m.syncMeta[id]
	if !meta.IsSlave() {
		return false
	}
	status := m.slaveStatus[id]
	if status.IsRunning {
		return false
	}
	if status.NextSchedTime.After(now) {
		return false
	}

	switch meta.ReplState {
	case kvstore.ReplConnect:
		status.IsRunning = true
		status.SessionID++
		sessionID := status.SessionID
		m.fullReceivePool.Schedule(func() { m.runSlaveSync(id, sessionID, kvstore.ReplConnect) })
		return true
	case kvstore.ReplConnected:
		status.IsRunning = true
		sessionID := status.SessionID
		m.incrCheckPool.Schedule(func() { m.runSlaveSync(id, sessionID, kvstore.ReplConnected) })
		return true
	case kvstore.ReplTransfer:
		// No code path in this package sets ReplTransfer: defaultSlaveSyncer
		// moves a store straight from ReplConnect to ReplConnected. The
		// control loop must never see it here (spec.md §4.1 invariant).
		panic(fmt.Sprintf("replication: store %d: control loop observed ReplTransfer", id))
	default:
		return false
	}
}

// runSlaveSync executes one slave dispatch on its pool goroutine. It is the
// single place that talks to the syncer, updates ReplState, and clears
// IsRunning; every exit path notifies cv so changeReplSourceInLock's
// quiescence wait can observe completion.
func (m *Manager) runSlaveSync(storeID int, sessionID uint64, fromState kvstore.ReplState) {
	m.mu.Lock()
	meta := m.syncMeta[storeID].Copy()
	syncer := m.syncerFor(storeID)
	m.mu.Unlock()

	newState, binlogID, err := syncer.Sync(managerHost{m}, storeID, meta, fromState)

	m.mu.Lock()
	defer func() {
		m.slaveStatus[storeID].IsRunning = false
		m.cv.Broadcast()
		m.mu.Unlock()
	}()

	status := m.slaveStatus[storeID]
	if status.SessionID != sessionID {
		// Superseded by a changeReplSource call while we were running.
		return
	}

	if err != nil {
		status.NextSchedTime = time.Now().Add(jitter(1 * time.Second))
		if m.syncMeta[storeID].ReplState != kvstore.ReplNone {
			m.syncMeta[storeID].ReplState = kvstore.ReplConnect
			_ = m.catalog.SetStoreMeta(m.syncMeta[storeID].Copy())
		}
		return
	}

	status.LastSyncTime = time.Now()
	status.NextSchedTime = time.Now().Add(jitter(100 * time.Millisecond))

	if m.syncMeta[storeID].ReplState != newState {
		m.syncMeta[storeID].ReplState = newState
		m.syncMeta[storeID].BinlogID = binlogID
		if err := m.catalog.SetStoreMeta(m.syncMeta[storeID].Copy()); err != nil {
			panic(fmt.Sprintf("replication: persisting store meta for store %d failed: %v", storeID, err))
		}
	}
}

// syncerFor resolves the SlaveSyncer for storeID. Production managers are
// built with a single defaultSlaveSyncer shared across stores; tests may
// override via WithSyncer.
func (m *Manager) syncerFor(storeID int) SlaveSyncer {
	if m.testSyncer != nil {
		return m.testSyncer
	}
	return m.defaultSyncer
}

// jitter returns d scaled by a random factor in [0.8, 1.2), matching the
// backoff shape spec.md §4.5 specifies for the recycler and which the
// original applies uniformly to its retry scheduling.
func jitter(d time.Duration) time.Duration {
	factor := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * factor)
}

// defaultSlaveSyncer is the production SlaveSyncer: it dials the master
// named in StoreMeta, issues PSYNC, and either performs the full-sync
// handshake (ReplConnect) or a single incremental heartbeat (ReplConnected).
// The payload formats of full-sync transfer and incremental log shipping
// are out of scope (spec.md §1 Non-goals) — this only drives the handshake
// and state transition.
type defaultSlaveSyncer struct {
	cfg Config
}

func newDefaultSlaveSyncer(cfg Config) *defaultSlaveSyncer {
	return &defaultSlaveSyncer{cfg: cfg}
}

func (s *defaultSlaveSyncer) Sync(host SlaveRoutineHost, storeID int, meta kvstore.StoreMeta, fromState kvstore.ReplState) (kvstore.ReplState, uint64, error) {
	cfg := host.Config()
	timeout := time.Duration(cfg.ConnectMasterTimeoutMs) * time.Millisecond

	client := replnet.NewBlockingClient(4096)
	if err := client.Connect(meta.SyncFromHost, meta.SyncFromPort, timeout); err != nil {
		return kvstore.ReplConnect, meta.BinlogID, fmt.Errorf("dial master: %w", err)
	}
	defer client.Close()

	if cfg.MasterAuth != "" {
		if err := client.Authenticate(cfg.MasterAuth, timeout); err != nil {
			return kvstore.ReplConnect, meta.BinlogID, err
		}
	}

	switch fromState {
	case kvstore.ReplConnect:
		// Advertise this process's own sync-listener address so the master
		// can dial back and attach an incremental-push client (spec.md §4.3;
		// server.go's PSYNC handler reads these two fields positionally).
		req := fmt.Sprintf("PSYNC %d %s %d", storeID, cfg.SyncListenIP, cfg.SyncListenPort)
		if err := client.WriteLine(req); err != nil {
			return kvstore.ReplConnect, meta.BinlogID, fmt.Errorf("send psync: %w", err)
		}
		resp, err := client.ReadLine(timeout)
		if err != nil {
			return kvstore.ReplConnect, meta.BinlogID, fmt.Errorf("read psync reply: %w", err)
		}
		if len(resp) == 0 || resp[0] == '-' {
			return kvstore.ReplConnect, meta.BinlogID, fmt.Errorf("psync rejected: %s", resp)
		}
		// Full snapshot transfer itself (ReplTransfer) happens here in the
		// original; its wire format is out of scope, so a successful
		// handshake is treated as transfer-complete and we move straight to
		// incremental tailing.
		return kvstore.ReplConnected, meta.BinlogID, nil
	case kvstore.ReplConnected:
		if err := client.WriteLine("PING"); err != nil {
			return kvstore.ReplConnected, meta.BinlogID, fmt.Errorf("send ping: %w", err)
		}
		if _, err := client.ReadLine(timeout); err != nil {
			return kvstore.ReplConnect, meta.BinlogID, fmt.Errorf("read ping reply: %w", err)
		}
		return kvstore.ReplConnected, meta.BinlogID, nil
	default:
		return kvstore.ReplConnect, meta.BinlogID, fmt.Errorf("unexpected from-state %s: %w", fromState, ErrInternal)
	}
}
