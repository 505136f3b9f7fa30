package admingrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the admin service of one node.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the admin service at target.
// The connection is established lazily on the first RPC call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// GetNodeInfo fetches the node's administrative state.
func (c *Client) GetNodeInfo(ctx context.Context) (NodeInfo, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetNodeInfo, &emptypb.Empty{}, out); err != nil {
		return NodeInfo{}, err
	}
	return nodeInfoFromPB(out)
}

// StartPrimary asks a standalone node to become primary.
func (c *Client) StartPrimary(ctx context.Context) error {
	return c.conn.Invoke(ctx, methodStartPrimary, &emptypb.Empty{}, new(emptypb.Empty))
}

// StartBackup asks a standalone node to become a backup of primaryAddr.
func (c *Client) StartBackup(ctx context.Context, primaryAddr string) error {
	return c.conn.Invoke(ctx, methodStartBackup, wrapperspb.String(primaryAddr), new(emptypb.Empty))
}

// AddBackup registers backupAddr with a primary node.
func (c *Client) AddBackup(ctx context.Context, backupAddr string) error {
	return c.conn.Invoke(ctx, methodAddBackup, wrapperspb.String(backupAddr), new(emptypb.Empty))
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
