package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/pbkv/internal/kv"
	"github.com/i-melnichenko/pbkv/internal/replication"
)

var testTracer = noop.NewTracerProvider().Tracer("test/internal/service")

// stubReplicator is a test double for replication.Manager.
type stubReplicator struct {
	mu      sync.Mutex
	primary bool
	err     error
	results []replication.SendResult
	ops     []replication.Operation
}

func (s *stubReplicator) IsPrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

func (s *stubReplicator) ReplicateOperation(_ context.Context, op replication.Operation) ([]replication.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	return s.results, s.err
}

func (s *stubReplicator) Ops() []replication.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]replication.Operation(nil), s.ops...)
}

func newTestKV(repl Replicator) (*KV, *kv.Store) {
	store := kv.NewStore(testTracer)
	return NewKV(store, repl, slog.Default(), testTracer, nil, "n1"), store
}

func TestKV_Put_PropagatesWhenPrimary(t *testing.T) {
	repl := &stubReplicator{primary: true}
	svc, store := newTestKV(repl)

	svc.Put(context.Background(), "k", "hello world")

	if got, _ := store.Get("k"); got != "hello world" {
		t.Fatalf("expected local apply, got %q", got)
	}
	ops := repl.Ops()
	if len(ops) != 1 || ops[0] != replication.PutOp("k", "hello world") {
		t.Fatalf("expected one put propagated, got %+v", ops)
	}
}

func TestKV_Put_SkipsPropagationWhenNotPrimary(t *testing.T) {
	repl := &stubReplicator{primary: false}
	svc, store := newTestKV(repl)

	svc.Put(context.Background(), "k", "v")

	if _, ok := store.Get("k"); !ok {
		t.Fatalf("expected local apply on non-primary")
	}
	if ops := repl.Ops(); len(ops) != 0 {
		t.Fatalf("expected no propagation, got %+v", ops)
	}
}

func TestKV_Put_WithoutReplication(t *testing.T) {
	svc, store := newTestKV(nil)

	svc.Put(context.Background(), "k", "v")

	if got, ok := store.Get("k"); !ok || got != "v" {
		t.Fatalf("expected k=v, got %q (found=%v)", got, ok)
	}
}

func TestKV_Put_HidesPropagationFailures(t *testing.T) {
	repl := &stubReplicator{
		primary: true,
		results: []replication.SendResult{
			{Addr: "b:1", Err: errors.New("connection refused")},
			{Addr: "b:2"},
		},
	}
	svc, store := newTestKV(repl)

	svc.Put(context.Background(), "k", "v")

	if got, _ := store.Get("k"); got != "v" {
		t.Fatalf("expected local apply despite failed backup, got %q", got)
	}

	repl.err = replication.ErrNotPrimary
	svc.Put(context.Background(), "k2", "v2")
	if got, _ := store.Get("k2"); got != "v2" {
		t.Fatalf("expected local apply despite rejected propagation, got %q", got)
	}
}

func TestKV_Delete_PropagatesOnlyRemovals(t *testing.T) {
	repl := &stubReplicator{primary: true}
	svc, store := newTestKV(repl)
	store.Put("k", "v")

	if svc.Delete(context.Background(), "missing") {
		t.Fatalf("expected delete of missing key to report false")
	}
	if !svc.Delete(context.Background(), "k") {
		t.Fatalf("expected delete of existing key to report true")
	}

	ops := repl.Ops()
	if len(ops) != 1 || ops[0] != replication.DeleteOp("k") {
		t.Fatalf("expected only the real removal to propagate, got %+v", ops)
	}
}

func TestKV_GetAndKeys(t *testing.T) {
	svc, store := newTestKV(nil)
	store.Put("b", "2")
	store.Put("a", "1")

	if got, ok := svc.Get("a"); !ok || got != "1" {
		t.Fatalf("Get(a) = %q, %v", got, ok)
	}
	if _, ok := svc.Get("zzz"); ok {
		t.Fatalf("expected missing key")
	}
	keys := svc.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("expected sorted keys [a b], got %v", keys)
	}
}

func TestKV_RunSaveLoop_SavesPeriodically(t *testing.T) {
	svc, store := newTestKV(nil)
	store.Put("k", "v")
	path := filepath.Join(t.TempDir(), "kv-store.json")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.RunSaveLoop(ctx, path, 10*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("store was not saved periodically")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("RunSaveLoop() error = %v, want context.Canceled", err)
	}
	loaded, err := kv.Load(context.Background(), path, testTracer)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, _ := loaded.Get("k"); got != "v" {
		t.Fatalf("expected saved k=v, got %q", got)
	}
}

func TestKV_RunSaveLoop_DisabledWaitsForCancel(t *testing.T) {
	svc, _ := newTestKV(nil)
	path := filepath.Join(t.TempDir(), "kv-store.json")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.RunSaveLoop(ctx, path, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunSaveLoop() error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file with saving disabled, stat err = %v", err)
	}
}
