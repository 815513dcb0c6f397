package service

import (
	"context"
	"net"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// Client is a Controller backed by a remote service. Executors and
// schedulers run against it unmodified.
type Client struct {
	conn *jsonrpc2.Conn
}

var _ ctrl.Controller = (*Client)(nil)

// Dial connects to a server at an address accepted by Listen.
func Dial(addr string) (*Client, error) {
	network, address := splitAddr(addr)
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	rpcConn := jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewBufferedStream(conn, jsonrpc2.VarintObjectCodec{}),
		noopHandler{})
	return &Client{conn: rpcConn}
}

// noopHandler ignores server-initiated messages; the protocol has none.
type noopHandler struct{}

func (noopHandler) Handle(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) {}

func (c *Client) call(method string, params, result any) error {
	err := c.conn.Call(context.Background(), method, params, result)
	return fromWireError(err)
}

// Session returns the session name reported by the server.
func (c *Client) Session() (string, error) {
	var res sessionResult
	err := c.call(methodSession, nil, &res)
	return res.Session, err
}

func (c *Client) SeedCode(m *code.Model) error {
	var res struct{}
	return c.call(methodSeedCode, seedCodeParams{Model: m}, &res)
}

func (c *Client) Code() (*code.Model, error) {
	var res codeResult
	if err := c.call(methodCode, nil, &res); err != nil {
		return nil, err
	}
	return res.Model, nil
}

func (c *Client) NewThread(fn string, args []vals.Value) (machine.ThreadID, machine.FutureID, error) {
	var res idsResult
	err := c.call(methodNewThread, newThreadParams{Fn: fn, Args: machine.Stack(args)}, &res)
	return res.Thread, res.Future, err
}

func (c *Client) ReserveIDs() (machine.ThreadID, machine.FutureID, error) {
	var res idsResult
	err := c.call(methodReserveIDs, nil, &res)
	return res.Thread, res.Future, err
}

func (c *Client) LeaseReady() (*ctrl.Lease, error) {
	var res leaseResult
	if err := c.call(methodLeaseReady, nil, &res); err != nil {
		return nil, err
	}
	if res.Lease == nil {
		return nil, nil
	}
	return &ctrl.Lease{
		Thread:   res.Lease.Thread,
		Token:    res.Lease.Token,
		Deadline: res.Lease.Deadline,
	}, nil
}

func (c *Client) CommitStep(cm ctrl.Commit) ([]machine.ThreadID, error) {
	var res commitResult
	if err := c.call(methodCommitStep, cm, &res); err != nil {
		return nil, err
	}
	return res.Woken, nil
}

func (c *Client) Resolve(f machine.FutureID, v vals.Value) ([]machine.ThreadID, error) {
	var res commitResult
	err := c.call(methodResolve, resolveParams{Future: f, Value: vals.Box{V: v}}, &res)
	if err != nil {
		return nil, err
	}
	return res.Woken, nil
}

func (c *Client) Wake(ids []machine.ThreadID) error {
	var res struct{}
	return c.call(methodWake, wakeParams{Threads: ids}, &res)
}

func (c *Client) ReadFuture(f machine.FutureID) (*machine.Future, error) {
	var res machine.Future
	if err := c.call(methodReadFuture, futureParams{Future: f}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Thread(id machine.ThreadID) (*machine.Thread, error) {
	var res machine.Thread
	if err := c.call(methodThread, threadParams{Thread: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Outputs() ([]machine.OutputEntry, error) {
	var res outputsResult
	if err := c.call(methodOutputs, nil, &res); err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// DisconnectNotify returns a channel that is closed when the connection
// drops.
func (c *Client) DisconnectNotify() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
