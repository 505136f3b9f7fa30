package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Save writes the store to path.
func (s *KV) Save(ctx context.Context, path string) error {
	ctx, span := s.startSpan(ctx, "kv.service.Save", attribute.String("kv.db_path", path))
	defer span.End()
	start := time.Now()

	if err := s.store.Save(ctx, path); err != nil {
		s.metrics.IncKVSave(s.nodeID, "error")
		kvSpanRecordError(span, err)
		return err
	}
	s.metrics.ObserveKVSaveDuration(s.nodeID, time.Since(start))
	s.metrics.IncKVSave(s.nodeID, "ok")
	s.logger.Debug("store saved", "path", path, "keys", s.store.Len())
	return nil
}

// RunSaveLoop saves the store to path every interval until ctx is canceled.
// Save failures are logged and retried on the next tick.
func (s *KV) RunSaveLoop(ctx context.Context, path string, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Save(ctx, path); err != nil {
				s.logger.Warn("periodic save failed", "path", path, "error", err)
			}
		}
	}
}
