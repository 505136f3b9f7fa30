package replication

import "context"

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

// PeerTransport delivers one line-protocol command to a remote node and
// returns its single-line response. I/O failures are returned as errors;
// protocol-level error text is returned as the response.
type PeerTransport interface {
	Send(ctx context.Context, addr, command string) (string, error)
}
