package lineproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrInvalidCommand is returned when a command cannot be sent as a single line.
var ErrInvalidCommand = errors.New("lineproto: command must be a single non-empty line")

// ErrNoResponse is returned when the peer closes the connection before
// answering.
var ErrNoResponse = errors.New("lineproto: connection closed before response")

// Client sends one command per connection and reads back one response line.
// It implements replication.PeerTransport.
type Client struct {
	dialer net.Dialer
	tracer oteltrace.Tracer
}

// NewClient creates a line-protocol client. dialTimeout bounds connection
// setup when the context carries no earlier deadline; zero means no limit.
func NewClient(tracer oteltrace.Tracer, dialTimeout time.Duration) *Client {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("lineproto")
	}
	return &Client{
		dialer: net.Dialer{Timeout: dialTimeout},
		tracer: tracer,
	}
}

// Send dials addr, writes command followed by a newline, and returns the
// trimmed response line. I/O failures are returned as errors; protocol-level
// error text is returned as the response.
func (c *Client) Send(ctx context.Context, addr, command string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "lineproto.Client.Send", oteltrace.WithSpanKind(oteltrace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("net.peer.addr", addr),
		attribute.String("lineproto.verb", verbOf(command)),
	)

	if command == "" || strings.ContainsAny(command, "\r\n") {
		recordSpanError(span, ErrInvalidCommand)
		return "", ErrInvalidCommand
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", addr, err)
		recordSpanError(span, err)
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	resp, err := roundTrip(conn, command)
	if err != nil {
		err = withContextCause(ctx, err)
		err = fmt.Errorf("send to %s: %w", addr, err)
		recordSpanError(span, err)
		return "", err
	}
	span.SetAttributes(attribute.Int("lineproto.response.bytes", len(resp)))
	return resp, nil
}

func roundTrip(conn net.Conn, command string) (string, error) {
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(command + "\n"); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return "", ErrNoResponse
			}
		} else {
			return "", err
		}
	}
	return strings.TrimSpace(line), nil
}

// withContextCause attributes an I/O error to ctx when ctx is done or its
// deadline, which is also the connection deadline, has passed.
func withContextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
	}
	return err
}

func verbOf(command string) string {
	if i := strings.IndexAny(command, " \t"); i >= 0 {
		command = command[:i]
	}
	return strings.ToUpper(command)
}

// Get fetches key from the node at addr.
//
// The protocol returns a value and an error on the same line, so a stored
// value is returned as is even when it looks like an error. Only the exact
// replies GET can produce are interpreted: "Key not found" reports a missing
// key, and usage or encoding errors are returned as *ResponseError. A value
// equal to "Key not found" is indistinguishable from a missing key.
func (c *Client) Get(ctx context.Context, addr, key string) (string, bool, error) {
	resp, err := c.Send(ctx, addr, "GET "+key)
	if err != nil {
		return "", false, err
	}
	switch resp {
	case respKeyNotFound:
		return "", false, nil
	case usageGet, respInvalidUTF8, respLineTooLong:
		return "", false, &ResponseError{Line: resp}
	}
	return resp, true, nil
}

// Put stores value under key on the node at addr. Runs of whitespace inside
// value are collapsed to single spaces by the server.
func (c *Client) Put(ctx context.Context, addr, key, value string) error {
	resp, err := c.Send(ctx, addr, "PUT "+key+" "+value)
	if err != nil {
		return err
	}
	return expectOK(resp)
}

// Delete removes key on the node at addr and reports whether it existed.
func (c *Client) Delete(ctx context.Context, addr, key string) (bool, error) {
	resp, err := c.Send(ctx, addr, "DELETE "+key)
	if err != nil {
		return false, err
	}
	switch resp {
	case respOK:
		return true, nil
	case respNull:
		return false, nil
	default:
		return false, responseError(resp)
	}
}

// Keys lists the keys stored on the node at addr.
func (c *Client) Keys(ctx context.Context, addr string) ([]string, error) {
	resp, err := c.Send(ctx, addr, "KEYS")
	if err != nil {
		return nil, err
	}
	if resp == respNoKeys {
		return nil, nil
	}
	if err := responseError(resp); err != nil {
		return nil, err
	}
	return strings.Split(resp, keysSeparator), nil
}

// AddBackup registers backupAddr with the primary at addr.
func (c *Client) AddBackup(ctx context.Context, addr, backupAddr string) error {
	resp, err := c.Send(ctx, addr, "ADD_BACKUP "+backupAddr)
	if err != nil {
		return err
	}
	return expectOK(resp)
}

// ResponseError is a protocol-level error line returned by a node.
type ResponseError struct {
	Line string
}

func (e *ResponseError) Error() string {
	return "lineproto: server replied: " + e.Line
}

func responseError(resp string) error {
	if strings.HasPrefix(resp, "Error:") || strings.HasPrefix(resp, "ERROR") {
		return &ResponseError{Line: resp}
	}
	return nil
}

func expectOK(resp string) error {
	if resp == respOK {
		return nil
	}
	return &ResponseError{Line: resp}
}
