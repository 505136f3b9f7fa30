// Package app wires the store, replication manager and transports together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/i-melnichenko/pbkv/internal/replication"
	"github.com/i-melnichenko/pbkv/internal/service"
	admingrpc "github.com/i-melnichenko/pbkv/internal/transport/grpc/admin"
	lineproto "github.com/i-melnichenko/pbkv/internal/transport/line"
)

// Logger is the logging interface required by App.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// App runs the line protocol server, the admin gRPC API and the replication
// role of one node. All dependencies are injected; App only opens listeners.
type App struct {
	config   Config
	logger   Logger
	kv       *service.KV
	repl     *replication.Manager
	lineSrv  *lineproto.Server
	adminSrv admingrpc.AdminServiceServer
}

// New validates dependencies and constructs a runnable application.
// repl must be nil exactly when replication is disabled in cfg.
func New(
	cfg Config,
	logger Logger,
	kvSvc *service.KV,
	repl *replication.Manager,
	lineSrv *lineproto.Server,
	adminSrv admingrpc.AdminServiceServer,
) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("app: nil logger")
	}
	if kvSvc == nil {
		return nil, fmt.Errorf("app: nil kv service")
	}
	if cfg.ReplicationEnabled() && repl == nil {
		return nil, fmt.Errorf("app: nil replication manager for role %q", cfg.Role)
	}
	if lineSrv == nil {
		return nil, fmt.Errorf("app: nil line server")
	}
	if cfg.AdminGRPCAddr != "" && adminSrv == nil {
		return nil, fmt.Errorf("app: nil admin server")
	}
	return &App{
		config:   cfg,
		logger:   logger,
		kv:       kvSvc,
		repl:     repl,
		lineSrv:  lineSrv,
		adminSrv: adminSrv,
	}, nil
}

// Stop stops the replication loops.
func (a *App) Stop() {
	if a.repl != nil {
		a.repl.Stop()
	}
}

// Run starts the configured replication role and all servers, and blocks
// until shutdown or a fatal error. The store is saved before Run returns.
func (a *App) Run(ctx context.Context) error {
	shutdownTracing, err := a.initTracing(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			a.logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	lineLis, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.config.Addr, err)
	}
	defer func() { _ = lineLis.Close() }()

	var adminLis net.Listener
	if a.config.AdminGRPCAddr != "" {
		adminLis, err = net.Listen("tcp", a.config.AdminGRPCAddr)
		if err != nil {
			return fmt.Errorf("listen admin grpc %s: %w", a.config.AdminGRPCAddr, err)
		}
		defer func() { _ = adminLis.Close() }()
	}

	if err := a.startReplication(); err != nil {
		return err
	}

	a.logger.Info(
		"node started",
		"node_id", a.config.NodeID,
		"role", roleLabel(a.config.Role),
		"addr", a.config.Addr,
		"admin_grpc_addr", a.config.AdminGRPCAddr,
		"db_path", a.config.DBPath,
	)

	return a.serve(ctx, lineLis, adminLis)
}

// startReplication applies the configured startup role.
func (a *App) startReplication() error {
	switch a.config.Role {
	case RoleDisabled:
		a.logger.Info("replication disabled", "node_id", a.config.NodeID)
	case RoleStandalone:
		a.logger.Info("replication enabled in standalone mode", "node_id", a.config.NodeID)
	case RolePrimary:
		if err := a.repl.StartPrimary(); err != nil {
			return fmt.Errorf("start primary: %w", err)
		}
		for _, addr := range a.config.Backups {
			if err := a.repl.AddBackup(addr); err != nil {
				return fmt.Errorf("add backup %s: %w", addr, err)
			}
		}
	case RoleBackup:
		if err := a.repl.StartBackup(a.config.PrimaryAddr); err != nil {
			return fmt.Errorf("start backup: %w", err)
		}
	}
	return nil
}

// serve starts all servers and background loops and blocks until ctx is
// canceled or a fatal error occurs. adminLis may be nil.
func (a *App) serve(ctx context.Context, lineLis, adminLis net.Listener) error {
	aux, err := a.auxServers()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One slot per producer so late failures never block.
	errCh := make(chan error, 3+len(aux))
	lineDone := make(chan struct{})

	go func() {
		defer close(lineDone)
		if err := a.lineSrv.Serve(ctx, lineLis); err != nil {
			errCh <- fmt.Errorf("line serve: %w", err)
		}
	}()

	go func() {
		if err := a.kv.RunSaveLoop(ctx, a.config.DBPath, a.config.SaveInterval); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("save loop: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	var healthSrv *health.Server
	if adminLis != nil {
		grpcSrv = grpc.NewServer()
		healthSrv = health.NewServer()
		admingrpc.RegisterAdminServiceServer(grpcSrv, a.adminSrv)
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)
		reflection.Register(grpcSrv)
		healthSrv.SetServingStatus(admingrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

		go func() {
			if err := grpcSrv.Serve(adminLis); err != nil {
				errCh <- fmt.Errorf("admin grpc serve: %w", err)
			}
		}()
	}

	for _, s := range aux {
		s.serve(a.logger, errCh)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("fatal server error", "error", runErr)
	}

	cancel()
	if healthSrv != nil {
		healthSrv.Shutdown()
	}
	if grpcSrv != nil {
		if runErr == nil {
			grpcSrv.GracefulStop()
		} else {
			grpcSrv.Stop()
		}
	}
	for _, s := range aux {
		s.shutdown(a.logger)
	}
	<-lineDone

	a.Stop()
	if err := a.kv.Save(context.Background(), a.config.DBPath); err != nil {
		a.logger.Error("final save failed", "path", a.config.DBPath, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("final save: %w", err)
		}
	} else {
		a.logger.Info("store saved", "path", a.config.DBPath)
	}
	return runErr
}
