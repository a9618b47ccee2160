package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
)

// Client talks to a Server either in-process (when linked into the same
// binary — used by tests) or over a Unix/TCP connection, which is how
// cmd/collective reaches an already running daemon. Adapted from the teacher's
// internal/rpc client dial/call pattern.
type Client struct {
	inProcess *Server

	mu   sync.Mutex
	conn net.Conn
	dec  *json.Decoder
	enc  *json.Encoder

	dialSocket string
	dialTCP    string
	token      string
	timeout    time.Duration
}

// NewInProcessClient returns a Client that calls srv.Dispatch directly,
// with no network round trip.
func NewInProcessClient(srv *Server) *Client {
	return &Client{inProcess: srv}
}

// NewUnixClient returns a Client that dials a Unix domain socket on first
// call.
func NewUnixClient(socketPath string, timeout time.Duration) *Client {
	return &Client{dialSocket: socketPath, timeout: timeout}
}

// NewTCPClient returns a Client that dials addr with a bearer token on
// first call.
func NewTCPClient(addr, token string, timeout time.Duration) *Client {
	return &Client{dialTCP: addr, token: token, timeout: timeout}
}

func (c *Client) ensureConn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	var conn net.Conn
	var err error
	switch {
	case c.dialSocket != "":
		conn, err = dialRPC(c.dialSocket, c.timeout)
	case c.dialTCP != "":
		conn, err = dialTCP(c.dialTCP, c.timeout)
	default:
		return fmt.Errorf("rpc: client has no transport configured")
	}
	if err != nil {
		return errkind.Wrap(errkind.Transport, "dial rpc server", err)
	}
	c.conn = conn
	c.dec = json.NewDecoder(conn)
	c.enc = json.NewEncoder(conn)
	return nil
}

// Call sends req and returns the decoded Response.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	if req.RequestID == "" {
		req.RequestID = clockid.NewTaskID()
	}
	if c.inProcess != nil {
		return c.inProcess.Dispatch(ctx, req), nil
	}

	if err := c.ensureConn(); err != nil {
		return Response{}, err
	}
	req.Token = c.token

	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}
	if err := c.enc.Encode(req); err != nil {
		c.conn.Close()
		c.conn = nil
		return Response{}, errkind.Wrap(errkind.Transport, "encode request", err)
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		c.conn.Close()
		c.conn = nil
		return Response{}, errkind.Wrap(errkind.Transport, "decode response", err)
	}
	return resp, nil
}

// CallInto sends req and unmarshals a successful response's Data into out.
func (c *Client) CallInto(ctx context.Context, op Operation, args, out interface{}) error {
	argsRaw, err := json.Marshal(args)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "marshal args", err)
	}
	resp, err := c.Call(ctx, Request{Operation: op, Args: argsRaw})
	if err != nil {
		return err
	}
	if !resp.Success {
		kind := errkind.Internal
		msg := "unknown error"
		var retryAfter int64
		if resp.Error != nil {
			kind = errkind.Kind(resp.Error.Kind)
			msg = resp.Error.Message
			retryAfter = resp.Error.RetryAfterMs
		}
		return errkind.New(kind, msg).WithRetryAfter(retryAfter)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
