// Package lineproto implements the newline-delimited text protocol spoken by
// clients and peer nodes: a TCP server that dispatches commands to the store
// and the replication manager, and a client used as the peer transport.
package lineproto

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Logger is a minimal structured logger interface, compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Store is the subset of *service.KV required by the server.
// *service.KV satisfies this interface.
type Store interface {
	Get(key string) (string, bool)
	Put(ctx context.Context, key, value string)
	Delete(ctx context.Context, key string) bool
	Keys() []string
}

// Replication is the subset of *replication.Manager required by the server.
// *replication.Manager satisfies this interface.
type Replication interface {
	ReceiveHeartbeat()
	ApplyOperation(ctx context.Context, text string) error
	AddBackup(addr string) error
}

// Metrics captures protocol-level metric sinks used by Server.
type Metrics interface {
	IncCommand(nodeID, verb, result string)
	ObserveCommandDuration(nodeID, verb string, d time.Duration)
	AddActiveConnections(nodeID string, delta int)
}

type noopMetrics struct{}

func (noopMetrics) IncCommand(string, string, string)                    {}
func (noopMetrics) ObserveCommandDuration(string, string, time.Duration) {}
func (noopMetrics) AddActiveConnections(string, int)                     {}

// Server serves the line protocol. Each accepted connection is handled on its
// own goroutine until the peer disconnects.
type Server struct {
	nodeID  string
	store   Store
	repl    Replication
	logger  Logger
	tracer  oteltrace.Tracer
	metrics Metrics

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a protocol server. repl must be nil when replication is
// disabled on this node.
func NewServer(nodeID string, store Store, repl Replication, logger Logger, tracer oteltrace.Tracer, metrics Metrics) *Server {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("lineproto")
	}
	return &Server{
		nodeID:  nodeID,
		store:   store,
		repl:    repl,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on lis until ctx is canceled or the listener
// fails. On return the listener and all open connections are closed.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	// Handlers are awaited only after the watcher has been released to close
	// the listener and every tracked connection.
	defer s.wg.Wait()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = lis.Close()
		s.closeConns()
	}()

	s.logger.Info("line protocol server listening", "node_id", s.nodeID, "addr", lis.Addr().String())

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "node_id", s.nodeID, "error", err)
			return err
		}

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.metrics.AddActiveConnections(s.nodeID, 1)
	defer s.metrics.AddActiveConnections(s.nodeID, -1)
	s.logger.Debug("client connected", "node_id", s.nodeID, "remote", remote)

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, tooLong, readErr := readLine(r, maxLineBytes)
		if tooLong || line != "" {
			resp := respLineTooLong
			if !tooLong {
				resp = s.Execute(ctx, line)
			} else {
				s.logger.Warn("command line too long", "node_id", s.nodeID, "remote", remote, "limit", maxLineBytes)
			}
			if _, err := w.WriteString(resp + "\n"); err != nil {
				s.logger.Debug("write failed", "node_id", s.nodeID, "remote", remote, "error", err)
				return
			}
			if err := w.Flush(); err != nil {
				s.logger.Debug("write failed", "node_id", s.nodeID, "remote", remote, "error", err)
				return
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) {
				s.logger.Debug("client disconnected", "node_id", s.nodeID, "remote", remote)
			} else {
				s.logger.Warn("connection read failed", "node_id", s.nodeID, "remote", remote, "error", readErr)
			}
			return
		}
	}
}

// maxLineBytes bounds a single command line, newline included.
const maxLineBytes = 1 << 20

// readLine reads up to and including the next newline. Bytes past limit are
// discarded until the newline and reported through tooLong, so memory stays
// bounded by limit.
func readLine(r *bufio.Reader, limit int) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		if !tooLong && len(buf)+len(frag) <= limit {
			buf = append(buf, frag...)
		} else {
			tooLong = true
			buf = nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(buf), tooLong, err
	}
}

// track registers conn unless the server is shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
}
