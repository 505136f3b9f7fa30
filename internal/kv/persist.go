package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ErrCorruptSnapshot is returned by Load when the persisted file exists but
// cannot be decoded.
var ErrCorruptSnapshot = errors.New("kv: corrupt snapshot file")

// ErrInvalidUTF8 is returned by Save when a key or value is not valid UTF-8
// and would not survive a JSON round trip.
var ErrInvalidUTF8 = errors.New("kv: key or value is not valid UTF-8")

// storedSnapshot is the on-disk format of the store.
type storedSnapshot struct {
	Data map[string]string `json:"data"`
}

// Load hydrates a store from path. A missing or empty file yields an empty store.
func Load(ctx context.Context, path string, tracer oteltrace.Tracer) (*Store, error) {
	ctx, span := tracer.Start(ctx, "kv.store.Load", oteltrace.WithAttributes(attribute.String("kv.snapshot.path", path)))
	defer span.End()

	s := NewStore(tracer)

	//nolint:gosec // path comes from node configuration.
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("kv: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}

	var snap storedSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, path, err)
	}
	s.Restore(ctx, snap.Data)
	span.SetAttributes(attribute.Int("kv.store.items", len(snap.Data)))
	return s, nil
}

// Save atomically writes the current contents to path. The snapshot is taken
// under the read lock; the file is written after the lock is released.
func (s *Store) Save(ctx context.Context, path string) error {
	ctx, span := s.tracer.Start(ctx, "kv.store.Save", oteltrace.WithAttributes(attribute.String("kv.snapshot.path", path)))
	defer span.End()

	snap := storedSnapshot{Data: s.Snapshot(ctx)}
	for k, v := range snap.Data {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			err := fmt.Errorf("%w: key %q", ErrInvalidUTF8, k)
			recordSpanError(span, err)
			return err
		}
	}
	// encoding/json sorts map keys, which keeps the file diffable.
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("kv: encode snapshot: %w", err)
	}
	payload = append(payload, '\n')
	span.SetAttributes(attribute.Int("kv.snapshot.bytes", len(payload)))

	if err := writeFileAtomically(path, payload); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("kv: write %s: %w", path, err)
	}
	return nil
}

func writeFileAtomically(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	//nolint:gosec // tmpName and path are derived from the configured snapshot path.
	return os.Rename(tmpName, path)
}

func recordSpanError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
