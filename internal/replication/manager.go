// Package replication implements primary/backup replication for the KV store.
//
// A Manager owns the node role, the backup set known to a primary, and the
// timestamp of the last heartbeat received from the primary. While Primary it
// runs a heartbeat-sender loop; while Backup it runs a primary-monitor loop that
// promotes the node after heartbeat silence exceeds the failover timeout.
// Both loops re-read the role on every wake and exit when it no longer matches.
//
// Replication is best-effort: there is no quorum, no log and no fencing, so a
// promoted backup may have missed writes and two nodes may both believe they
// are primary after a partition heals.
package replication

import (
	"fmt"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Logger is a minimal structured logger interface, compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Store is the subset of *kv.Store mutated by applied operations.
type Store interface {
	Put(key, value string)
	Delete(key string) bool
}

// Config holds replication timing settings.
type Config struct {
	HeartbeatInterval time.Duration
	MonitorInterval   time.Duration
	FailoverTimeout   time.Duration
	// PeerTimeout bounds a single send to a peer. Zero means no deadline.
	PeerTimeout time.Duration
}

// DefaultConfig returns the reference timings: 1s heartbeats, 500ms monitor
// polls and a 5s failover timeout.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: time.Second,
		MonitorInterval:   500 * time.Millisecond,
		FailoverTimeout:   5 * time.Second,
		PeerTimeout:       2 * time.Second,
	}
}

// Manager is the replication state machine of a single node.
type Manager struct {
	nodeID    string
	store     Store
	transport PeerTransport
	logger    Logger
	tracer    oteltrace.Tracer
	metrics   Metrics

	roleMu sync.Mutex
	role   Role

	backupsMu sync.Mutex
	backups   []string

	heartbeatMu   sync.Mutex
	lastHeartbeat time.Time

	heartbeatInterval time.Duration
	monitorInterval   time.Duration
	failoverTimeout   time.Duration
	peerTimeout       time.Duration

	now       func() time.Time
	newTicker tickerFactory

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a Standalone manager bound to store.
// Zero durations in cfg fall back to DefaultConfig values.
func NewManager(
	nodeID string,
	store Store,
	transport PeerTransport,
	cfg Config,
	logger Logger,
	tracer oteltrace.Tracer,
	metrics Metrics,
) (*Manager, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("replication")
	}

	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.FailoverTimeout <= 0 {
		cfg.FailoverTimeout = def.FailoverTimeout
	}

	m := &Manager{
		nodeID:            nodeID,
		store:             store,
		transport:         transport,
		logger:            logger,
		tracer:            tracer,
		metrics:           metrics,
		role:              Role{Kind: Standalone},
		heartbeatInterval: cfg.HeartbeatInterval,
		monitorInterval:   cfg.MonitorInterval,
		failoverTimeout:   cfg.FailoverTimeout,
		peerTimeout:       cfg.PeerTimeout,
		now:               time.Now,
		newTicker:         defaultTickerFactory,
		stopCh:            make(chan struct{}),
	}
	m.lastHeartbeat = m.now()
	m.metrics.SetReplicationRole(nodeID, Standalone.String())
	return m, nil
}

// StartPrimary transitions Standalone -> Primary and starts the heartbeat sender.
func (m *Manager) StartPrimary() error {
	m.roleMu.Lock()
	if m.role.Kind != Standalone {
		cur := m.role
		m.roleMu.Unlock()
		return fmt.Errorf("%w: %s -> primary", ErrInvalidTransition, cur)
	}
	m.role = Role{Kind: Primary}
	m.roleMu.Unlock()

	m.metrics.SetReplicationRole(m.nodeID, Primary.String())
	m.logger.Info("started as primary node", "node_id", m.nodeID)
	m.startLoop(m.runHeartbeats)
	return nil
}

// StartBackup transitions Standalone -> Backup(primaryAddr) and starts the
// primary monitor. The heartbeat clock is reset so the primary gets a full
// failover timeout before its first heartbeat is due.
func (m *Manager) StartBackup(primaryAddr string) error {
	if primaryAddr == "" {
		return fmt.Errorf("%w: backup requires a primary address", ErrInvalidTransition)
	}

	m.roleMu.Lock()
	if m.role.Kind != Standalone {
		cur := m.role
		m.roleMu.Unlock()
		return fmt.Errorf("%w: %s -> backup", ErrInvalidTransition, cur)
	}
	m.heartbeatMu.Lock()
	m.lastHeartbeat = m.now()
	m.heartbeatMu.Unlock()
	m.role = Role{Kind: Backup, PrimaryAddr: primaryAddr}
	m.roleMu.Unlock()

	m.metrics.SetReplicationRole(m.nodeID, Backup.String())
	m.logger.Info("started as backup node", "node_id", m.nodeID, "primary", primaryAddr)
	m.startLoop(m.runMonitor)
	return nil
}

// AddBackup registers a backup address. Only legal while Primary; adding a
// known address is a no-op.
func (m *Manager) AddBackup(addr string) error {
	m.roleMu.Lock()
	defer m.roleMu.Unlock()

	if m.role.Kind != Primary {
		return ErrNotPrimary
	}

	m.backupsMu.Lock()
	defer m.backupsMu.Unlock()
	for _, b := range m.backups {
		if b == addr {
			return nil
		}
	}
	m.backups = append(m.backups, addr)
	m.metrics.SetBackupCount(m.nodeID, len(m.backups))
	m.logger.Info("added backup node", "node_id", m.nodeID, "backup", addr)
	return nil
}

// ReceiveHeartbeat records that a heartbeat arrived now. Valid in any role.
func (m *Manager) ReceiveHeartbeat() {
	m.heartbeatMu.Lock()
	m.lastHeartbeat = m.now()
	m.heartbeatMu.Unlock()
	m.metrics.IncHeartbeatReceived(m.nodeID)
}

// Role returns the current role.
func (m *Manager) Role() Role {
	m.roleMu.Lock()
	defer m.roleMu.Unlock()
	return m.role
}

// IsPrimary reports whether the node currently holds the Primary role.
func (m *Manager) IsPrimary() bool {
	return m.Role().Kind == Primary
}

// Backups returns a copy of the known backup addresses in insertion order.
func (m *Manager) Backups() []string {
	m.backupsMu.Lock()
	defer m.backupsMu.Unlock()
	return append([]string(nil), m.backups...)
}

// LastHeartbeat returns the time the last heartbeat was recorded.
func (m *Manager) LastHeartbeat() time.Time {
	m.heartbeatMu.Lock()
	defer m.heartbeatMu.Unlock()
	return m.lastHeartbeat
}

// State returns a read-only snapshot of replication state for admin APIs.
func (m *Manager) State() NodeState {
	return NodeState{
		NodeID:            m.nodeID,
		Role:              m.Role(),
		Backups:           m.Backups(),
		LastHeartbeat:     m.LastHeartbeat(),
		HeartbeatInterval: m.heartbeatInterval,
		FailoverTimeout:   m.failoverTimeout,
	}
}

// Stop terminates the active replication loop and waits for it to exit.
// It is meant for process shutdown; role changes never go through Stop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) startLoop(loop func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		loop()
	}()
}
