//revive:disable:var-naming
//revive:disable:exported
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pbkv"

var replicationRoles = []string{"standalone", "primary", "backup"}

// Prometheus exposes application metrics and can be injected into the
// replication, service and line protocol layers. It implements
// replication.Metrics, service.Metrics and lineproto.Metrics through method set
// compatibility, without importing those packages.
type Prometheus struct {
	kvRequestsTotal            *prometheus.CounterVec
	kvKeys                     *prometheus.GaugeVec
	kvPropagationDuration      *prometheus.HistogramVec
	kvPropagationTotal         *prometheus.CounterVec
	kvSaveDuration             *prometheus.HistogramVec
	kvSaveTotal                *prometheus.CounterVec
	lineCommandsTotal          *prometheus.CounterVec
	lineCommandDuration        *prometheus.HistogramVec
	lineActiveConnections      *prometheus.GaugeVec
	replicationRole            *prometheus.GaugeVec
	replicationBackups         *prometheus.GaugeVec
	replicationHeartbeatSent   *prometheus.CounterVec
	replicationHeartbeatRecv   *prometheus.CounterVec
	replicationHeartbeatAge    *prometheus.GaugeVec
	replicationSendTotal       *prometheus.CounterVec
	replicationPeerSendSeconds *prometheus.HistogramVec
	replicationAppliedTotal    *prometheus.CounterVec
	replicationPromotionsTotal *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Prometheus{
		kvRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "requests_total",
				Help:      "KV service requests by operation and result (ok, not_found).",
			},
			[]string{"node_id", "op", "result"},
		),
		kvKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "keys",
				Help:      "Number of live keys after the last local write.",
			},
			[]string{"node_id"},
		),
		kvPropagationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "propagation_duration_seconds",
				Help:      "Time spent pushing one local write to all backups.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2},
			},
			[]string{"node_id"},
		),
		kvPropagationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "propagation_total",
				Help:      "Write propagation outcomes (ok, partial, failed, no_backups, rejected).",
			},
			[]string{"node_id", "result"},
		),
		kvSaveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "save_duration_seconds",
				Help:      "Duration of persisting the store to disk.",
				Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2},
			},
			[]string{"node_id"},
		),
		kvSaveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "save_total",
				Help:      "Store save attempts by result.",
			},
			[]string{"node_id", "result"},
		),
		lineCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "line",
				Name:      "commands_total",
				Help:      "Line protocol commands by verb and result.",
			},
			[]string{"node_id", "verb", "result"},
		),
		lineCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "line",
				Name:      "command_duration_seconds",
				Help:      "Time to execute one line protocol command, including propagation.",
				Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"node_id", "verb"},
		),
		lineActiveConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "line",
				Name:      "active_connections",
				Help:      "Currently open line protocol connections.",
			},
			[]string{"node_id"},
		),
		replicationRole: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "role",
				Help:      "Current replication role (1 for the active role, 0 otherwise).",
			},
			[]string{"node_id", "role"},
		),
		replicationBackups: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "backups",
				Help:      "Number of backups registered with this primary.",
			},
			[]string{"node_id"},
		),
		replicationHeartbeatSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "heartbeats_sent_total",
				Help:      "Heartbeats sent by a primary, by peer and result.",
			},
			[]string{"node_id", "peer", "result"},
		),
		replicationHeartbeatRecv: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "heartbeats_received_total",
				Help:      "Heartbeats received from a primary.",
			},
			[]string{"node_id"},
		),
		replicationHeartbeatAge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "heartbeat_age_seconds",
				Help:      "Time since the last heartbeat, sampled by the backup monitor.",
			},
			[]string{"node_id"},
		),
		replicationSendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "operations_sent_total",
				Help:      "Operations sent to backups, by peer and result.",
			},
			[]string{"node_id", "peer", "result"},
		),
		replicationPeerSendSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "peer_send_duration_seconds",
				Help:      "Duration of one outbound peer command (HEARTBEAT or REPLICATE).",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2},
			},
			[]string{"node_id", "command"},
		),
		replicationAppliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "operations_applied_total",
				Help:      "Operations received from a primary, by kind and result (ok, malformed, not_backup).",
			},
			[]string{"node_id", "kind", "result"},
		),
		replicationPromotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "promotions_total",
				Help:      "Backup to primary promotions after heartbeat timeout.",
			},
			[]string{"node_id"},
		),
	}

	if err := m.register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Prometheus) register(reg prometheus.Registerer) error {
	if err := registerOrReuseCounterVec(reg, &m.kvRequestsTotal); err != nil {
		return fmt.Errorf("register kv requests counter: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.kvKeys); err != nil {
		return fmt.Errorf("register kv keys gauge: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.kvPropagationDuration); err != nil {
		return fmt.Errorf("register kv propagation histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.kvPropagationTotal); err != nil {
		return fmt.Errorf("register kv propagation counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.kvSaveDuration); err != nil {
		return fmt.Errorf("register kv save histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.kvSaveTotal); err != nil {
		return fmt.Errorf("register kv save counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.lineCommandsTotal); err != nil {
		return fmt.Errorf("register line commands counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.lineCommandDuration); err != nil {
		return fmt.Errorf("register line command histogram: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.lineActiveConnections); err != nil {
		return fmt.Errorf("register line connections gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.replicationRole); err != nil {
		return fmt.Errorf("register replication role gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.replicationBackups); err != nil {
		return fmt.Errorf("register replication backups gauge: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.replicationHeartbeatSent); err != nil {
		return fmt.Errorf("register replication heartbeat sent counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.replicationHeartbeatRecv); err != nil {
		return fmt.Errorf("register replication heartbeat received counter: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.replicationHeartbeatAge); err != nil {
		return fmt.Errorf("register replication heartbeat age gauge: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.replicationSendTotal); err != nil {
		return fmt.Errorf("register replication send counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.replicationPeerSendSeconds); err != nil {
		return fmt.Errorf("register replication peer send histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.replicationAppliedTotal); err != nil {
		return fmt.Errorf("register replication applied counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.replicationPromotionsTotal); err != nil {
		return fmt.Errorf("register replication promotions counter: %w", err)
	}
	return nil
}

func registerOrReuseHistogramVec(reg prometheus.Registerer, c **prometheus.HistogramVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseCounterVec(reg prometheus.Registerer, c **prometheus.CounterVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseGaugeVec(reg prometheus.Registerer, c **prometheus.GaugeVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

// service.Metrics

func (m *Prometheus) IncKVRequest(nodeID, op, result string) {
	m.kvRequestsTotal.WithLabelValues(nodeID, op, result).Inc()
}

func (m *Prometheus) SetKVKeys(nodeID string, n int) {
	m.kvKeys.WithLabelValues(nodeID).Set(float64(n))
}

func (m *Prometheus) ObserveKVPropagationDuration(nodeID string, d time.Duration) {
	m.kvPropagationDuration.WithLabelValues(nodeID).Observe(d.Seconds())
}

func (m *Prometheus) IncKVPropagation(nodeID, result string) {
	m.kvPropagationTotal.WithLabelValues(nodeID, result).Inc()
}

func (m *Prometheus) ObserveKVSaveDuration(nodeID string, d time.Duration) {
	m.kvSaveDuration.WithLabelValues(nodeID).Observe(d.Seconds())
}

func (m *Prometheus) IncKVSave(nodeID, result string) {
	m.kvSaveTotal.WithLabelValues(nodeID, result).Inc()
}

// lineproto.Metrics

func (m *Prometheus) IncCommand(nodeID, verb, result string) {
	m.lineCommandsTotal.WithLabelValues(nodeID, verb, result).Inc()
}

func (m *Prometheus) ObserveCommandDuration(nodeID, verb string, d time.Duration) {
	m.lineCommandDuration.WithLabelValues(nodeID, verb).Observe(d.Seconds())
}

func (m *Prometheus) AddActiveConnections(nodeID string, delta int) {
	m.lineActiveConnections.WithLabelValues(nodeID).Add(float64(delta))
}

// replication.Metrics

func (m *Prometheus) SetReplicationRole(nodeID, role string) {
	for _, r := range replicationRoles {
		v := 0.0
		if r == role {
			v = 1
		}
		m.replicationRole.WithLabelValues(nodeID, r).Set(v)
	}
}

func (m *Prometheus) IncHeartbeatSent(nodeID, peer, result string) {
	m.replicationHeartbeatSent.WithLabelValues(nodeID, peer, result).Inc()
}

func (m *Prometheus) IncHeartbeatReceived(nodeID string) {
	m.replicationHeartbeatRecv.WithLabelValues(nodeID).Inc()
}

func (m *Prometheus) SetHeartbeatAge(nodeID string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.replicationHeartbeatAge.WithLabelValues(nodeID).Set(d.Seconds())
}

func (m *Prometheus) IncReplicationSend(nodeID, peer, result string) {
	m.replicationSendTotal.WithLabelValues(nodeID, peer, result).Inc()
}

func (m *Prometheus) ObservePeerSendDuration(nodeID, command string, d time.Duration) {
	m.replicationPeerSendSeconds.WithLabelValues(nodeID, command).Observe(d.Seconds())
}

func (m *Prometheus) IncOperationApplied(nodeID, kind, result string) {
	m.replicationAppliedTotal.WithLabelValues(nodeID, kind, result).Inc()
}

func (m *Prometheus) IncPromotion(nodeID string) {
	m.replicationPromotionsTotal.WithLabelValues(nodeID).Inc()
}

func (m *Prometheus) SetBackupCount(nodeID string, n int) {
	m.replicationBackups.WithLabelValues(nodeID).Set(float64(n))
}
