package replication

import (
	"errors"
	"time"
)

// RoleKind identifies the replication role of a node.
type RoleKind int

// Node roles in the replication state machine.
const (
	Standalone RoleKind = iota
	Primary
	Backup
)

func (k RoleKind) String() string {
	switch k {
	case Primary:
		return "primary"
	case Backup:
		return "backup"
	default:
		return "standalone"
	}
}

// Role is the current role of a node. PrimaryAddr is set only for Backup.
type Role struct {
	Kind        RoleKind
	PrimaryAddr string
}

func (r Role) String() string {
	if r.Kind == Backup {
		return "backup(" + r.PrimaryAddr + ")"
	}
	return r.Kind.String()
}

// SendResult is the outcome of delivering one command to one peer.
type SendResult struct {
	Addr string
	Err  error
}

// NodeState is a point-in-time snapshot of replication state for admin APIs.
type NodeState struct {
	NodeID            string
	Role              Role
	Backups           []string
	LastHeartbeat     time.Time
	HeartbeatInterval time.Duration
	FailoverTimeout   time.Duration
}

// ErrNotPrimary is returned when an operation requires the Primary role.
var ErrNotPrimary = errors.New("replication: only primary nodes can perform this operation")

// ErrNotBackup is returned when an operation requires the Backup role.
var ErrNotBackup = errors.New("replication: only backup nodes can apply operations from primary")

// ErrInvalidTransition is returned when a start request does not originate from Standalone.
var ErrInvalidTransition = errors.New("replication: role transition not allowed")

// ErrMalformedOperation is returned when an operation cannot be encoded or decoded.
var ErrMalformedOperation = errors.New("replication: malformed operation")

// ErrUnexpectedResponse is returned when a peer answers with anything other than OK.
var ErrUnexpectedResponse = errors.New("replication: unexpected peer response")

// ErrNilStore is returned when NewManager is called with a nil store.
var ErrNilStore = errors.New("replication: nil store")

// ErrNilTransport is returned when NewManager is called with a nil peer transport.
var ErrNilTransport = errors.New("replication: nil peer transport")

// ErrNilLogger is returned when NewManager is called with a nil logger.
var ErrNilLogger = errors.New("replication: nil logger")
