package replication

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// ReplicateOperation sends op to every known backup. It is only legal while
// Primary. Per-backup failures are logged and collected in the returned results;
// they never abort the batch and never fail the call.
func (m *Manager) ReplicateOperation(ctx context.Context, op Operation) ([]SendResult, error) {
	ctx, span := m.startSpan(ctx, "replication.ReplicateOperation",
		attribute.String("replication.op.kind", op.Kind.String()),
		attribute.String("kv.key", op.Key),
	)
	defer span.End()

	if !m.IsPrimary() {
		spanRecordError(span, ErrNotPrimary)
		return nil, ErrNotPrimary
	}

	text, err := op.MarshalText()
	if err != nil {
		spanRecordError(span, err)
		return nil, err
	}
	command := cmdReplicate + " " + string(text)

	backups := m.Backups()
	span.SetAttributes(attribute.Int("replication.backups", len(backups)))

	results := make([]SendResult, 0, len(backups))
	failed := 0
	for _, addr := range backups {
		err := m.sendToPeer(ctx, addr, cmdReplicate, command)
		m.metrics.IncReplicationSend(m.nodeID, addr, resultLabel(err))
		if err != nil {
			failed++
			m.logger.Warn("failed to replicate operation",
				"node_id", m.nodeID,
				"peer", addr,
				"op", op.Kind.String(),
				"key", op.Key,
				"error", err,
			)
		} else {
			m.logger.Debug("replicated operation",
				"node_id", m.nodeID,
				"peer", addr,
				"op", op.Kind.String(),
				"key", op.Key,
			)
		}
		results = append(results, SendResult{Addr: addr, Err: err})
	}
	span.SetAttributes(attribute.Int("replication.failed", failed))
	return results, nil
}

// ApplyOperation decodes text and applies it to the store. It is only legal
// while Backup; malformed text fails without mutating the store.
func (m *Manager) ApplyOperation(ctx context.Context, text string) error {
	_, span := m.startSpan(ctx, "replication.ApplyOperation",
		attribute.Int("replication.op.bytes", len(text)),
	)
	defer span.End()

	// Held across apply so a promotion cannot interleave. The store call does no I/O.
	m.roleMu.Lock()
	defer m.roleMu.Unlock()

	if m.role.Kind != Backup {
		m.metrics.IncOperationApplied(m.nodeID, "unknown", "not_backup")
		spanRecordError(span, ErrNotBackup)
		return ErrNotBackup
	}

	var op Operation
	if err := op.UnmarshalText([]byte(text)); err != nil {
		m.metrics.IncOperationApplied(m.nodeID, "unknown", "malformed")
		spanRecordError(span, err)
		return err
	}
	span.SetAttributes(
		attribute.String("replication.op.kind", op.Kind.String()),
		attribute.String("kv.key", op.Key),
	)

	switch op.Kind {
	case OpPut:
		m.store.Put(op.Key, op.Value)
	case OpDelete:
		m.store.Delete(op.Key)
	default:
		err := fmt.Errorf("%w: unknown kind %d", ErrMalformedOperation, op.Kind)
		spanRecordError(span, err)
		return err
	}
	m.metrics.IncOperationApplied(m.nodeID, op.Kind.String(), "ok")
	return nil
}
