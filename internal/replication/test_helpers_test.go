package replication

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/pbkv/internal/kv"
)

var testTracer = noop.NewTracerProvider().Tracer("test/internal/replication")

type testEnv struct {
	m       *Manager
	store   *kv.Store
	clock   *fakeClock
	tickers *fakeTickerFactory
	metrics *recordingMetrics
}

// newTestEnv builds a Standalone manager with a fake clock and fake tickers.
// The manager is stopped on test cleanup.
func newTestEnv(t *testing.T, transport PeerTransport) *testEnv {
	t.Helper()

	store := kv.NewStore(testTracer)
	metrics := &recordingMetrics{}
	m, err := NewManager("n1", store, transport, DefaultConfig(), slog.Default(), testTracer, metrics)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	env := &testEnv{
		m:       m,
		store:   store,
		clock:   newFakeClock(),
		tickers: newFakeTickerFactory(),
		metrics: metrics,
	}
	m.now = env.clock.Now
	m.newTicker = env.tickers.NewTicker
	m.lastHeartbeat = env.clock.Now()
	t.Cleanup(m.Stop)
	return env
}

func waitForRole(t *testing.T, m *Manager, want RoleKind) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Role().Kind == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("role did not become %s, got %s", want, m.Role())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTickerFactory struct {
	mu       sync.Mutex
	tickers  []*fakeTicker
	createdD []time.Duration
}

func newFakeTickerFactory() *fakeTickerFactory {
	return &fakeTickerFactory{}
}

func (f *fakeTickerFactory) NewTicker(d time.Duration) loopTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	f.tickers = append(f.tickers, t)
	f.createdD = append(f.createdD, d)
	return t
}

// Ticker waits for the i-th ticker (0-based) to be created.
func (f *fakeTickerFactory) Ticker(t *testing.T, i int) *fakeTicker {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if i < len(f.tickers) {
			tk := f.tickers[i]
			f.mu.Unlock()
			return tk
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("ticker %d was not created", i)
	return nil
}

func (f *fakeTickerFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

func (f *fakeTickerFactory) CreatedDurations() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.createdD))
	copy(out, f.createdD)
	return out
}

// fakeTicker delivers ticks over an unbuffered channel so Fire reports whether
// the loop was still there to receive it.
type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// Fire delivers one tick and reports whether a loop received it.
func (t *fakeTicker) Fire() bool {
	select {
	case t.ch <- time.Now():
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

type recordingMetrics struct {
	noopMetrics

	mu         sync.Mutex
	promotions int
	role       string
}

func (r *recordingMetrics) IncPromotion(string) {
	r.mu.Lock()
	r.promotions++
	r.mu.Unlock()
}

func (r *recordingMetrics) SetReplicationRole(_ string, role string) {
	r.mu.Lock()
	r.role = role
	r.mu.Unlock()
}

func (r *recordingMetrics) Promotions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.promotions
}

func (r *recordingMetrics) Role() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.role
}
