package replication

import "time"

// runMonitor polls the heartbeat clock while the node is Backup and promotes
// the node once the primary has been silent for longer than the failover timeout.
func (m *Manager) runMonitor() {
	ticker := m.newTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C():
		}

		role := m.Role()
		if role.Kind != Backup {
			m.logger.Debug("primary monitor exiting: no longer backup",
				"node_id", m.nodeID,
				"role", role.String(),
			)
			return
		}

		elapsed := m.now().Sub(m.LastHeartbeat())
		m.metrics.SetHeartbeatAge(m.nodeID, elapsed)
		if elapsed <= m.failoverTimeout {
			continue
		}

		m.logger.Warn("primary heartbeat timed out, promoting to primary",
			"node_id", m.nodeID,
			"primary", role.PrimaryAddr,
			"elapsed", elapsed.Round(time.Millisecond),
			"failover_timeout", m.failoverTimeout,
		)
		if !m.promote() {
			// Role moved away from Backup concurrently; nothing left to monitor.
			return
		}
		m.startLoop(m.runHeartbeats)
		return
	}
}

// promote switches Backup -> Primary. It fails if the role is no longer Backup
// at the moment of transition.
func (m *Manager) promote() bool {
	m.roleMu.Lock()
	if m.role.Kind != Backup {
		m.roleMu.Unlock()
		return false
	}
	m.role = Role{Kind: Primary}
	m.roleMu.Unlock()

	m.metrics.IncPromotion(m.nodeID)
	m.metrics.SetReplicationRole(m.nodeID, Primary.String())
	m.logger.Info("promoted to primary node", "node_id", m.nodeID)
	return true
}
