package app

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"APP_NODE_ID", "APP_LOG_LEVEL", "APP_ADDR", "APP_ROLE", "APP_PRIMARY_ADDR",
		"APP_BACKUPS", "APP_DB_PATH", "APP_SAVE_INTERVAL", "APP_HEARTBEAT_INTERVAL",
		"APP_MONITOR_INTERVAL", "APP_FAILOVER_TIMEOUT", "APP_PEER_TIMEOUT",
		"APP_METRICS_ADDR", "APP_PPROF_ADDR", "APP_TRACING_ENABLED",
	} {
		t.Setenv(k, "")
	}

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}

	if cfg.Addr != "127.0.0.1:7000" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.DBPath != "kv-store.json" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.ReplicationEnabled() {
		t.Fatalf("expected replication disabled by default")
	}
	rc := cfg.ReplicationConfig()
	if rc.HeartbeatInterval != time.Second || rc.MonitorInterval != 500*time.Millisecond || rc.FailoverTimeout != 5*time.Second {
		t.Fatalf("unexpected default timings: %+v", rc)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_NODE_ID", "node-b")
	t.Setenv("APP_LOG_LEVEL", "DEBUG")
	t.Setenv("APP_ADDR", "0.0.0.0:7001")
	t.Setenv("APP_ADMIN_GRPC_ADDR", "")
	t.Setenv("APP_ROLE", "Backup")
	t.Setenv("APP_PRIMARY_ADDR", "10.0.0.1:7000")
	t.Setenv("APP_DB_PATH", "/var/lib/pbkv/b.json")
	t.Setenv("APP_SAVE_INTERVAL", "30s")
	t.Setenv("APP_HEARTBEAT_INTERVAL", "200ms")
	t.Setenv("APP_MONITOR_INTERVAL", "100ms")
	t.Setenv("APP_FAILOVER_TIMEOUT", "2s")
	t.Setenv("APP_PEER_TIMEOUT", "750ms")
	t.Setenv("APP_TRACING_ENABLED", "true")
	t.Setenv("APP_TRACING_ENDPOINT", "otel:4317")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}

	if cfg.NodeID != "node-b" || cfg.LogLevel != "debug" || cfg.Addr != "0.0.0.0:7001" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.AdminGRPCAddr != "" {
		t.Fatalf("expected admin grpc disabled by empty env, got %q", cfg.AdminGRPCAddr)
	}
	if cfg.Role != RoleBackup || cfg.PrimaryAddr != "10.0.0.1:7000" {
		t.Fatalf("unexpected role: %q primary=%q", cfg.Role, cfg.PrimaryAddr)
	}
	if cfg.SaveInterval != 30*time.Second {
		t.Fatalf("save interval = %s", cfg.SaveInterval)
	}
	rc := cfg.ReplicationConfig()
	if rc.HeartbeatInterval != 200*time.Millisecond || rc.MonitorInterval != 100*time.Millisecond ||
		rc.FailoverTimeout != 2*time.Second || rc.PeerTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected timings: %+v", rc)
	}
	if !cfg.TracingEnabled || cfg.TracingEndpoint != "otel:4317" {
		t.Fatalf("unexpected tracing config: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_ParsesBackups(t *testing.T) {
	t.Setenv("APP_ROLE", "primary")
	t.Setenv("APP_BACKUPS", " 10.0.0.2:7000, ,10.0.0.3:7000 ")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if len(cfg.Backups) != 2 || cfg.Backups[0] != "10.0.0.2:7000" || cfg.Backups[1] != "10.0.0.3:7000" {
		t.Fatalf("backups = %v", cfg.Backups)
	}
}

func TestLoadConfigFromEnv_RejectsInvalidDuration(t *testing.T) {
	t.Setenv("APP_FAILOVER_TIMEOUT", "five seconds")

	_, err := LoadConfigFromEnv()
	if err == nil || !strings.Contains(err.Error(), "APP_FAILOVER_TIMEOUT") {
		t.Fatalf("expected APP_FAILOVER_TIMEOUT error, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "standalone", mutate: func(c *Config) { c.Role = RoleStandalone }},
		{name: "missing node id", mutate: func(c *Config) { c.NodeID = " " }, wantErr: "node id"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "log level"},
		{name: "missing addr", mutate: func(c *Config) { c.Addr = "" }, wantErr: "listen addr"},
		{name: "missing db path", mutate: func(c *Config) { c.DBPath = "" }, wantErr: "db path"},
		{name: "unknown role", mutate: func(c *Config) { c.Role = "leader" }, wantErr: "unsupported role"},
		{name: "backup without primary", mutate: func(c *Config) { c.Role = RoleBackup }, wantErr: "primary addr"},
		{
			name:    "backups on non-primary",
			mutate:  func(c *Config) { c.Role = RoleStandalone; c.Backups = []string{"b:1"} },
			wantErr: "backups",
		},
		{name: "negative duration", mutate: func(c *Config) { c.PeerTimeout = -time.Second }, wantErr: "negative"},
		{
			name:    "failover not above heartbeat",
			mutate:  func(c *Config) { c.FailoverTimeout = c.HeartbeatInterval },
			wantErr: "failover timeout",
		},
		{
			name:    "tracing without endpoint",
			mutate:  func(c *Config) { c.TracingEnabled = true; c.TracingEndpoint = "" },
			wantErr: "tracing endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
