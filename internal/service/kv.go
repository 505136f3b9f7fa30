// Package service contains application services exposed via transports.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/pbkv/internal/kv"
	"github.com/i-melnichenko/pbkv/internal/replication"
)

// Logger is a minimal structured logger interface, compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Replicator is the subset of *replication.Manager used to propagate local
// writes. *replication.Manager satisfies this interface.
type Replicator interface {
	IsPrimary() bool
	ReplicateOperation(ctx context.Context, op replication.Operation) ([]replication.SendResult, error)
}

// Metrics captures service-level metric sinks used by KV.
type Metrics interface {
	IncKVRequest(nodeID, op, result string)
	SetKVKeys(nodeID string, n int)
	ObserveKVPropagationDuration(nodeID string, d time.Duration)
	IncKVPropagation(nodeID, result string)
	ObserveKVSaveDuration(nodeID string, d time.Duration)
	IncKVSave(nodeID, result string)
}

type noopMetrics struct{}

func (noopMetrics) IncKVRequest(string, string, string)                {}
func (noopMetrics) SetKVKeys(string, int)                              {}
func (noopMetrics) ObserveKVPropagationDuration(string, time.Duration) {}
func (noopMetrics) IncKVPropagation(string, string)                    {}
func (noopMetrics) ObserveKVSaveDuration(string, time.Duration)        {}
func (noopMetrics) IncKVSave(string, string)                           {}

// KV is the application service that bridges the KV store and the replication
// layer. Writes are applied locally first and then pushed to backups when the
// node is primary.
type KV struct {
	store   *kv.Store
	repl    Replicator
	logger  Logger
	tracer  oteltrace.Tracer
	metrics Metrics
	nodeID  string
}

// NewKV creates a KV service. repl may be nil when replication is disabled.
func NewKV(store *kv.Store, repl Replicator, logger Logger, tracer oteltrace.Tracer, metrics Metrics, nodeID string) *KV {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("service")
	}
	return &KV{
		store:   store,
		repl:    repl,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
		nodeID:  nodeID,
	}
}

func (s *KV) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func kvSpanRecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

// Get returns a value from the local store.
func (s *KV) Get(key string) (string, bool) {
	_, span := s.startSpan(context.Background(), "kv.service.Get", attribute.String("kv.key", key))
	defer span.End()

	value, ok := s.store.Get(key)
	span.SetAttributes(attribute.Bool("kv.found", ok))
	s.metrics.IncKVRequest(s.nodeID, "get", foundLabel(ok))
	return value, ok
}

// Put stores value under key and propagates the write when primary.
// Propagation failures are logged and never reported to the caller.
func (s *KV) Put(ctx context.Context, key, value string) {
	ctx, span := s.startSpan(
		ctx,
		"kv.service.Put",
		attribute.String("kv.key", key),
		attribute.Int("kv.value.bytes", len(value)),
	)
	defer span.End()

	s.store.Put(key, value)
	s.metrics.IncKVRequest(s.nodeID, "put", "ok")
	s.metrics.SetKVKeys(s.nodeID, s.store.Len())
	s.propagate(ctx, replication.PutOp(key, value))
}

// Delete removes key and reports whether it existed. Only an actual removal
// is propagated.
func (s *KV) Delete(ctx context.Context, key string) bool {
	ctx, span := s.startSpan(ctx, "kv.service.Delete", attribute.String("kv.key", key))
	defer span.End()

	deleted := s.store.Delete(key)
	span.SetAttributes(attribute.Bool("kv.deleted", deleted))
	s.metrics.IncKVRequest(s.nodeID, "delete", foundLabel(deleted))
	if !deleted {
		return false
	}
	s.metrics.SetKVKeys(s.nodeID, s.store.Len())
	s.propagate(ctx, replication.DeleteOp(key))
	return true
}

// Keys returns the current keys in sorted order.
func (s *KV) Keys() []string {
	keys := s.store.Keys()
	s.metrics.IncKVRequest(s.nodeID, "keys", "ok")
	return keys
}

func (s *KV) propagate(ctx context.Context, op replication.Operation) {
	if s.repl == nil || !s.repl.IsPrimary() {
		return
	}

	ctx, span := s.startSpan(ctx, "kv.service.propagate",
		attribute.String("replication.op.kind", op.Kind.String()),
		attribute.String("kv.key", op.Key),
	)
	defer span.End()
	start := time.Now()

	results, err := s.repl.ReplicateOperation(ctx, op)
	s.metrics.ObserveKVPropagationDuration(s.nodeID, time.Since(start))
	if err != nil {
		s.metrics.IncKVPropagation(s.nodeID, "rejected")
		kvSpanRecordError(span, err)
		s.logger.Warn("propagation rejected", "key", op.Key, "error", err)
		return
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	span.SetAttributes(
		attribute.Int("replication.backups", len(results)),
		attribute.Int("replication.failed", failed),
	)
	s.metrics.IncKVPropagation(s.nodeID, propagationLabel(len(results), failed))
	s.logger.Debug("write propagated",
		"op", op.Kind.String(),
		"key", op.Key,
		"backups", len(results),
		"failed", failed,
	)
}

func foundLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "not_found"
}

func propagationLabel(total, failed int) string {
	switch {
	case total == 0:
		return "no_backups"
	case failed == 0:
		return "ok"
	case failed == total:
		return "failed"
	default:
		return "partial"
	}
}
