package replication

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

const (
	cmdHeartbeat = "HEARTBEAT"
	cmdReplicate = "REPLICATE"
	respOK       = "OK"
)

// runHeartbeats sends HEARTBEAT to every known backup once per interval for as
// long as the node stays Primary.
func (m *Manager) runHeartbeats() {
	ticker := m.newTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C():
		}

		if role := m.Role(); role.Kind != Primary {
			m.logger.Debug("heartbeat sender exiting: no longer primary",
				"node_id", m.nodeID,
				"role", role.String(),
			)
			return
		}

		m.sendHeartbeats(context.Background())
	}
}

// sendHeartbeats delivers one heartbeat round. Failures are logged and do not
// remove the backup.
func (m *Manager) sendHeartbeats(ctx context.Context) []SendResult {
	backups := m.Backups()
	results := make([]SendResult, 0, len(backups))

	for _, addr := range backups {
		err := m.sendToPeer(ctx, addr, cmdHeartbeat, cmdHeartbeat)
		m.metrics.IncHeartbeatSent(m.nodeID, addr, resultLabel(err))
		if err != nil {
			m.logger.Warn("failed to send heartbeat",
				"node_id", m.nodeID,
				"peer", addr,
				"error", err,
			)
		}
		results = append(results, SendResult{Addr: addr, Err: err})
	}
	return results
}

// sendToPeer sends command to addr and expects an OK response. No lock is held
// while the transport call is in flight.
func (m *Manager) sendToPeer(ctx context.Context, addr, verb, command string) error {
	ctx, span := m.startSpan(ctx, "replication.sendToPeer",
		attribute.String("replication.peer", addr),
		attribute.String("replication.command", verb),
	)
	defer span.End()

	if m.peerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.peerTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := m.transport.Send(ctx, addr, command)
	m.metrics.ObservePeerSendDuration(m.nodeID, verb, time.Since(start))
	if err != nil {
		spanRecordError(span, err)
		return err
	}
	if resp != respOK {
		err := fmt.Errorf("%w: %q", ErrUnexpectedResponse, resp)
		spanRecordError(span, err)
		return err
	}
	return nil
}
