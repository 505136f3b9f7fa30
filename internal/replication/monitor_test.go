package replication

import (
	"testing"
	"time"

	"github.com/golang/mock/gomock"
)

func TestManager_Monitor_NoPromotionWhileHeartbeatsArrive(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, NewMockPeerTransport(ctrl))
	if err := env.m.StartBackup("p:1"); err != nil {
		t.Fatalf("StartBackup() error = %v", err)
	}
	monitor := env.tickers.Ticker(t, 0)

	for i := 0; i < 5; i++ {
		env.clock.Advance(4 * time.Second)
		env.m.ReceiveHeartbeat()
		if !monitor.Fire() {
			t.Fatalf("monitor exited on round %d", i)
		}
	}
	// One more tick so the previous round has been fully processed.
	if !monitor.Fire() {
		t.Fatalf("monitor exited unexpectedly")
	}

	if got := env.m.Role(); got.Kind != Backup {
		t.Fatalf("expected backup role, got %s", got)
	}
	if got := env.metrics.Promotions(); got != 0 {
		t.Fatalf("expected no promotions, got %d", got)
	}
}

func TestManager_Monitor_TimeoutMustBeExceeded(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, NewMockPeerTransport(ctrl))
	if err := env.m.StartBackup("p:1"); err != nil {
		t.Fatalf("StartBackup() error = %v", err)
	}
	monitor := env.tickers.Ticker(t, 0)

	env.clock.Advance(5 * time.Second)
	if !monitor.Fire() || !monitor.Fire() {
		t.Fatalf("monitor exited at exactly the failover timeout")
	}
	if got := env.m.Role(); got.Kind != Backup {
		t.Fatalf("expected backup at elapsed == timeout, got %s", got)
	}
}

func TestManager_Monitor_PromotesExactlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, NewMockPeerTransport(ctrl))
	if err := env.m.StartBackup("p:1"); err != nil {
		t.Fatalf("StartBackup() error = %v", err)
	}
	monitor := env.tickers.Ticker(t, 0)

	env.clock.Advance(5*time.Second + time.Millisecond)
	if !monitor.Fire() {
		t.Fatalf("monitor did not receive tick")
	}
	waitForRole(t, env.m, Primary)

	heartbeat := env.tickers.Ticker(t, 1)
	if got := env.tickers.CreatedDurations()[1]; got != time.Second {
		t.Fatalf("expected heartbeat ticker at 1s after promotion, got %s", got)
	}
	if !heartbeat.Fire() {
		t.Fatalf("heartbeat loop not running after promotion")
	}
	if monitor.Fire() {
		t.Fatalf("expected monitor to exit after promotion")
	}

	env.clock.Advance(time.Minute)
	if got := env.metrics.Promotions(); got != 1 {
		t.Fatalf("expected exactly one promotion, got %d", got)
	}
	if got := env.tickers.Count(); got != 2 {
		t.Fatalf("expected exactly two loops over the lifetime, got %d", got)
	}
	if err := env.m.AddBackup("b:1"); err != nil {
		t.Fatalf("promoted node must accept AddBackup, got %v", err)
	}
}

func TestManager_Promote_OnlyFromBackup(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, NewMockPeerTransport(ctrl))

	if env.m.promote() {
		t.Fatalf("standalone must not promote")
	}

	env.m.roleMu.Lock()
	env.m.role = Role{Kind: Backup, PrimaryAddr: "p:1"}
	env.m.roleMu.Unlock()

	if !env.m.promote() {
		t.Fatalf("expected backup to promote")
	}
	if env.m.promote() {
		t.Fatalf("second promotion must fail")
	}
	if got := env.metrics.Promotions(); got != 1 {
		t.Fatalf("expected one promotion, got %d", got)
	}
}
