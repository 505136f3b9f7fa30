// Package admingrpc exposes node inspection and replication role control over gRPC.
package admingrpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/i-melnichenko/pbkv/internal/replication"
)

// ErrReplicationDisabled is returned for role operations on a node started
// without replication.
var ErrReplicationDisabled = errors.New("admingrpc: replication not enabled")

// ReplicationController is the subset of *replication.Manager required by the
// admin gRPC server. *replication.Manager satisfies this interface.
type ReplicationController interface {
	State() replication.NodeState
	StartPrimary() error
	StartBackup(primaryAddr string) error
	AddBackup(addr string) error
}

// KeyCounter reports the number of keys held by the node. *kv.Store satisfies
// this interface.
type KeyCounter interface {
	Len() int
}

// Server implements AdminServiceServer.
type Server struct {
	nodeID string
	repl   ReplicationController
	store  KeyCounter
	now    func() time.Time
}

var _ AdminServiceServer = (*Server)(nil)

// NewServer creates an admin gRPC server adapter. repl must be nil when
// replication is disabled.
func NewServer(nodeID string, repl ReplicationController, store KeyCounter) *Server {
	return &Server{
		nodeID: nodeID,
		repl:   repl,
		store:  store,
		now:    time.Now,
	}
}

// GetNodeInfo returns administrative information about the current node.
func (s *Server) GetNodeInfo(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	info := NodeInfo{NodeID: s.nodeID}
	if s.store != nil {
		info.Keys = s.store.Len()
	}

	if s.repl != nil {
		st := s.repl.State()
		info.ReplicationEnabled = true
		info.Role = st.Role.Kind.String()
		info.PrimaryAddr = st.Role.PrimaryAddr
		info.Backups = st.Backups
		info.LastHeartbeat = st.LastHeartbeat
		info.HeartbeatInterval = st.HeartbeatInterval
		info.FailoverTimeout = st.FailoverTimeout
		if !st.LastHeartbeat.IsZero() {
			info.HeartbeatAge = s.now().Sub(st.LastHeartbeat)
		}
	}

	out, err := nodeInfoToPB(info)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// StartPrimary moves a standalone node to the primary role.
func (s *Server) StartPrimary(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s.repl == nil {
		return nil, toGRPCStatus(ErrReplicationDisabled)
	}
	if err := s.repl.StartPrimary(); err != nil {
		return nil, toGRPCStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// StartBackup moves a standalone node to the backup role following the
// primary at the given address.
func (s *Server) StartBackup(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	addr := strings.TrimSpace(req.GetValue())
	if addr == "" {
		return nil, status.Error(codes.InvalidArgument, "primary address is required")
	}
	if s.repl == nil {
		return nil, toGRPCStatus(ErrReplicationDisabled)
	}
	if err := s.repl.StartBackup(addr); err != nil {
		return nil, toGRPCStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// AddBackup registers a backup address with a primary node.
func (s *Server) AddBackup(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	addr := strings.TrimSpace(req.GetValue())
	if addr == "" {
		return nil, status.Error(codes.InvalidArgument, "backup address is required")
	}
	if s.repl == nil {
		return nil, toGRPCStatus(ErrReplicationDisabled)
	}
	if err := s.repl.AddBackup(addr); err != nil {
		return nil, toGRPCStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func toGRPCStatus(err error) error {
	switch {
	case errors.Is(err, ErrReplicationDisabled),
		errors.Is(err, replication.ErrNotPrimary),
		errors.Is(err, replication.ErrNotBackup),
		errors.Is(err, replication.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, replication.ErrMalformedOperation):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
