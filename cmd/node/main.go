// Package main implements the node process that serves the KV line protocol
// and takes part in primary/backup replication.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	apppkg "github.com/i-melnichenko/pbkv/internal/app"
	"github.com/i-melnichenko/pbkv/internal/kv"
	"github.com/i-melnichenko/pbkv/internal/observability/metrics"
	"github.com/i-melnichenko/pbkv/internal/replication"
	"github.com/i-melnichenko/pbkv/internal/service"
	admingrpc "github.com/i-melnichenko/pbkv/internal/transport/grpc/admin"
	lineproto "github.com/i-melnichenko/pbkv/internal/transport/line"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := apppkg.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.LogLevel))
	logger := slog.Default()

	promMetrics, err := metrics.NewPrometheus(nil)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := kv.Load(ctx, cfg.DBPath, otel.Tracer("pbkv/kv"))
	if err != nil {
		return err
	}
	promMetrics.SetKVKeys(cfg.NodeID, store.Len())

	// Interfaces stay nil when replication is disabled so that consumers see
	// a nil interface rather than a typed nil pointer.
	var (
		repl       *replication.Manager
		replicator service.Replicator
		lineRepl   lineproto.Replication
		adminRepl  admingrpc.ReplicationController
	)
	if cfg.ReplicationEnabled() {
		peers := lineproto.NewClient(otel.Tracer("pbkv/transport/line/client"), cfg.PeerTimeout)
		repl, err = replication.NewManager(
			cfg.NodeID,
			store,
			peers,
			cfg.ReplicationConfig(),
			logger,
			otel.Tracer("pbkv/replication"),
			promMetrics,
		)
		if err != nil {
			return err
		}
		replicator, lineRepl, adminRepl = repl, repl, repl
	}

	kvSvc := service.NewKV(store, replicator, logger, otel.Tracer("pbkv/service"), promMetrics, cfg.NodeID)
	lineSrv := lineproto.NewServer(cfg.NodeID, kvSvc, lineRepl, logger, otel.Tracer("pbkv/transport/line"), promMetrics)
	adminSrv := admingrpc.NewServer(cfg.NodeID, adminRepl, store)

	app, err := apppkg.New(cfg, logger, kvSvc, repl, lineSrv, adminSrv)
	if err != nil {
		if repl != nil {
			repl.Stop()
		}
		return err
	}
	defer app.Stop()

	return app.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
