package lineproto_test

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/pbkv/internal/kv"
	"github.com/i-melnichenko/pbkv/internal/replication"
	"github.com/i-melnichenko/pbkv/internal/service"
	lineproto "github.com/i-melnichenko/pbkv/internal/transport/line"
)

var testTracer = noop.NewTracerProvider().Tracer("test/internal/transport/line")

// stubReplication is a test double for replication.Manager.
type stubReplication struct {
	mu         sync.Mutex
	heartbeats int
	applied    []string
	backups    []string
	applyErr   error
	addErr     error
}

func (s *stubReplication) ReceiveHeartbeat() {
	s.mu.Lock()
	s.heartbeats++
	s.mu.Unlock()
}

func (s *stubReplication) ApplyOperation(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, text)
	return nil
}

func (s *stubReplication) setAddErr(err error) {
	s.mu.Lock()
	s.addErr = err
	s.mu.Unlock()
}

func (s *stubReplication) AddBackup(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	s.backups = append(s.backups, addr)
	return nil
}

// startServer serves srv on a loopback listener and returns its address.
// The server is stopped on test cleanup.
func startServer(t *testing.T, srv *lineproto.Server) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("Serve() did not return after cancel")
		}
	})
	return lis.Addr().String()
}

func newStoreServer(repl lineproto.Replication) (*lineproto.Server, *kv.Store) {
	store := kv.NewStore(testTracer)
	svc := service.NewKV(store, nil, slog.Default(), testTracer, nil, "n1")
	return lineproto.NewServer("n1", svc, repl, slog.Default(), testTracer, nil), store
}

// testNode is a complete node: store, replication manager, protocol server.
type testNode struct {
	addr   string
	store  *kv.Store
	mgr    *replication.Manager
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func testReplicationConfig() replication.Config {
	return replication.Config{
		HeartbeatInterval: 50 * time.Millisecond,
		MonitorInterval:   20 * time.Millisecond,
		FailoverTimeout:   400 * time.Millisecond,
		PeerTimeout:       time.Second,
	}
}

func startNode(t *testing.T, nodeID string) *testNode {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	store := kv.NewStore(testTracer)
	client := lineproto.NewClient(testTracer, time.Second)
	mgr, err := replication.NewManager(nodeID, store, client, testReplicationConfig(), slog.Default(), testTracer, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	svc := service.NewKV(store, mgr, slog.Default(), testTracer, nil, nodeID)
	srv := lineproto.NewServer(nodeID, svc, mgr, slog.Default(), testTracer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	n := &testNode{
		addr:   lis.Addr().String(),
		store:  store,
		mgr:    mgr,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { n.done <- srv.Serve(ctx, lis) }()
	t.Cleanup(n.stop)
	return n
}

// stop shuts the node down: replication loops first, then the server.
func (n *testNode) stop() {
	n.once.Do(func() {
		n.mgr.Stop()
		n.cancel()
		<-n.done
	})
}

func send(t *testing.T, addr, command string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := lineproto.NewClient(testTracer, time.Second).Send(ctx, addr, command)
	if err != nil {
		t.Fatalf("Send(%q) error = %v", command, err)
	}
	return resp
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
