package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/i-melnichenko/pbkv/internal/replication"
)

// Role selects how the node takes part in replication at startup.
type Role string

// Supported startup roles. RoleDisabled runs the node without replication.
const (
	RoleDisabled   Role = ""
	RoleStandalone Role = "standalone"
	RolePrimary    Role = "primary"
	RoleBackup     Role = "backup"
)

// Config contains runtime settings for a node process.
type Config struct {
	NodeID   string
	LogLevel string

	Addr          string
	AdminGRPCAddr string
	MetricsAddr   string
	PprofAddr     string

	Role        Role
	PrimaryAddr string
	// Backups are registered right after the node becomes primary.
	Backups []string

	DBPath string
	// SaveInterval flushes the store to DBPath periodically. Zero saves only
	// on shutdown.
	SaveInterval time.Duration

	HeartbeatInterval time.Duration
	MonitorInterval   time.Duration
	FailoverTimeout   time.Duration
	PeerTimeout       time.Duration

	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string
}

// DefaultConfig returns a local-development configuration.
func DefaultConfig() Config {
	rc := replication.DefaultConfig()
	return Config{
		NodeID:             "node-1",
		LogLevel:           "info",
		Addr:               "127.0.0.1:7000",
		AdminGRPCAddr:      "127.0.0.1:9000",
		DBPath:             "kv-store.json",
		HeartbeatInterval:  rc.HeartbeatInterval,
		MonitorInterval:    rc.MonitorInterval,
		FailoverTimeout:    rc.FailoverTimeout,
		PeerTimeout:        rc.PeerTimeout,
		TracingEndpoint:    "localhost:4317",
		TracingServiceName: "pbkv",
	}
}

// LoadConfigFromEnv loads config from environment variables.
//
// Supported vars:
// - APP_NODE_ID
// - APP_LOG_LEVEL (debug|info|warn|error)
// - APP_ADDR (line protocol listen address)
// - APP_ADMIN_GRPC_ADDR (empty disables the admin API)
// - APP_METRICS_ADDR, APP_PPROF_ADDR (empty disables)
// - APP_ROLE ("" = replication disabled | standalone | primary | backup)
// - APP_PRIMARY_ADDR (required for backup)
// - APP_BACKUPS (comma-separated addresses, primary only)
// - APP_DB_PATH
// - APP_SAVE_INTERVAL (duration, 0 = save on shutdown only)
// - APP_HEARTBEAT_INTERVAL, APP_MONITOR_INTERVAL, APP_FAILOVER_TIMEOUT, APP_PEER_TIMEOUT (durations)
// - APP_TRACING_ENABLED (bool), APP_TRACING_ENDPOINT, APP_TRACING_SERVICE_NAME
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("APP_NODE_ID")); v != "" {
		cfg.NodeID = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_ADDR")); v != "" {
		cfg.Addr = v
	}
	if v, ok := os.LookupEnv("APP_ADMIN_GRPC_ADDR"); ok {
		cfg.AdminGRPCAddr = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_PPROF_ADDR")); v != "" {
		cfg.PprofAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_ROLE")); v != "" {
		cfg.Role = Role(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("APP_PRIMARY_ADDR")); v != "" {
		cfg.PrimaryAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_BACKUPS")); v != "" {
		cfg.Backups = splitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_DB_PATH")); v != "" {
		cfg.DBPath = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"APP_SAVE_INTERVAL", &cfg.SaveInterval},
		{"APP_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"APP_MONITOR_INTERVAL", &cfg.MonitorInterval},
		{"APP_FAILOVER_TIMEOUT", &cfg.FailoverTimeout},
		{"APP_PEER_TIMEOUT", &cfg.PeerTimeout},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.env))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid %s %q: %w", d.env, v, err)
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("APP_TRACING_ENABLED")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_TRACING_ENABLED %q: %w", v, err)
		}
		cfg.TracingEnabled = enabled
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_ENDPOINT")); v != "" {
		cfg.TracingEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_SERVICE_NAME")); v != "" {
		cfg.TracingServiceName = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and supported.
func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("app: node id is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app: unsupported log level %q", c.LogLevel)
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("app: listen addr is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("app: db path is required")
	}

	switch c.Role {
	case RoleDisabled, RoleStandalone, RolePrimary:
	case RoleBackup:
		if strings.TrimSpace(c.PrimaryAddr) == "" {
			return fmt.Errorf("app: primary addr is required for role %q", c.Role)
		}
	default:
		return fmt.Errorf("app: unsupported role %q", c.Role)
	}
	if len(c.Backups) > 0 && c.Role != RolePrimary {
		return fmt.Errorf("app: backups can only be configured for role %q", RolePrimary)
	}

	if c.SaveInterval < 0 || c.HeartbeatInterval < 0 || c.MonitorInterval < 0 ||
		c.FailoverTimeout < 0 || c.PeerTimeout < 0 {
		return fmt.Errorf("app: durations must not be negative")
	}
	if c.HeartbeatInterval > 0 && c.FailoverTimeout > 0 && c.FailoverTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("app: failover timeout %s must exceed heartbeat interval %s",
			c.FailoverTimeout, c.HeartbeatInterval)
	}

	if c.TracingEnabled {
		if strings.TrimSpace(c.TracingEndpoint) == "" {
			return fmt.Errorf("app: tracing endpoint is required when tracing is enabled")
		}
		if strings.TrimSpace(c.TracingServiceName) == "" {
			return fmt.Errorf("app: tracing service name is required when tracing is enabled")
		}
	}
	return nil
}

// ReplicationEnabled reports whether the node runs a replication manager.
func (c Config) ReplicationEnabled() bool {
	return c.Role != RoleDisabled
}

// ReplicationConfig returns the replication timings for the manager.
func (c Config) ReplicationConfig() replication.Config {
	return replication.Config{
		HeartbeatInterval: c.HeartbeatInterval,
		MonitorInterval:   c.MonitorInterval,
		FailoverTimeout:   c.FailoverTimeout,
		PeerTimeout:       c.PeerTimeout,
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
