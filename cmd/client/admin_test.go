package main

import (
	"strings"
	"testing"
	"time"

	admingrpc "github.com/i-melnichenko/pbkv/internal/transport/grpc/admin"
)

func TestRowFromInfo_Status(t *testing.T) {
	tests := []struct {
		name       string
		info       admingrpc.NodeInfo
		wantRole   string
		wantStatus string
	}{
		{
			name:       "replication disabled",
			info:       admingrpc.NodeInfo{NodeID: "n1"},
			wantRole:   "disabled",
			wantStatus: "unknown",
		},
		{
			name:       "primary",
			info:       admingrpc.NodeInfo{NodeID: "n1", ReplicationEnabled: true, Role: "primary"},
			wantRole:   "primary",
			wantStatus: "healthy",
		},
		{
			name: "backup with fresh heartbeat",
			info: admingrpc.NodeInfo{
				NodeID: "n2", ReplicationEnabled: true, Role: "backup",
				HeartbeatAge: time.Second, FailoverTimeout: 5 * time.Second,
			},
			wantRole:   "backup",
			wantStatus: "healthy",
		},
		{
			name: "backup close to failover",
			info: admingrpc.NodeInfo{
				NodeID: "n2", ReplicationEnabled: true, Role: "backup",
				HeartbeatAge: 3 * time.Second, FailoverTimeout: 5 * time.Second,
			},
			wantRole:   "backup",
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := rowFromInfo("127.0.0.1:9000", tt.info)
			if row.role != tt.wantRole || row.status != tt.wantStatus {
				t.Fatalf("row role=%q status=%q, want %q %q", row.role, row.status, tt.wantRole, tt.wantStatus)
			}
		})
	}
}

func TestBuildAlertLines(t *testing.T) {
	t.Run("multiple primaries", func(t *testing.T) {
		rows := []adminRow{
			{addr: "a:1", role: "primary", status: "healthy"},
			{addr: "b:1", role: "primary", status: "healthy"},
		}
		lines := buildAlertLines(rows, 100)
		if len(lines) != 1 || !strings.Contains(lines[0], "MULTIPLE_PRIMARIES") {
			t.Fatalf("alerts = %q", lines)
		}
	})

	t.Run("primary missing and stale heartbeat", func(t *testing.T) {
		rows := []adminRow{
			{addr: "b:1", role: "backup", status: "degraded", hbAge: 4 * time.Second, failover: 5 * time.Second},
			{addr: "a:1", err: "rpc error: code = Unavailable desc = connection refused"},
		}
		lines := buildAlertLines(rows, 100)
		joined := strings.Join(lines, "\n")
		for _, want := range []string{"PRIMARY_MISSING", "HEARTBEAT_STALE", "Unavailable"} {
			if !strings.Contains(joined, want) {
				t.Fatalf("alerts missing %q: %q", want, lines)
			}
		}
	})

	t.Run("healthy pair", func(t *testing.T) {
		rows := []adminRow{
			{addr: "a:1", role: "primary", status: "healthy"},
			{addr: "b:1", role: "backup", status: "healthy"},
		}
		if lines := buildAlertLines(rows, 100); len(lines) != 0 {
			t.Fatalf("expected no alerts, got %q", lines)
		}
	})
}

func TestAdminColumnsForWidth_ShrinksToFit(t *testing.T) {
	rows := []adminRow{{
		addr:    "very-long-hostname.example:9000",
		nodeID:  "node-1",
		role:    "backup",
		primary: "another-long-hostname.example:7000",
	}}

	wide := adminColumnsForWidth(rows, 200)
	if wide.addr != 21 || wide.primary != 21 {
		t.Fatalf("wide columns = %+v", wide)
	}

	narrow := adminColumnsForWidth(rows, 50)
	total := adminFixedWidth + narrow.addr + narrow.node + narrow.role + narrow.primary
	if total > 50 {
		t.Fatalf("narrow columns %+v need %d chars", narrow, total)
	}
}

func TestFormatAge(t *testing.T) {
	tests := map[time.Duration]string{
		0:                       "0s",
		250 * time.Millisecond:  "250ms",
		1500 * time.Millisecond: "1.5s",
		90 * time.Second:        "1m30s",
	}
	for in, want := range tests {
		if got := formatAge(in); got != want {
			t.Fatalf("formatAge(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestShortenAndHeaderLabel(t *testing.T) {
	if got := shorten("abcdefgh", 6); got != "abc..." {
		t.Fatalf("shorten = %q", got)
	}
	if got := headerLabel("PRIMARY", 5); got != "PRIM" {
		t.Fatalf("headerLabel = %q", got)
	}
}
