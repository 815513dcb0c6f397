package service

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/hark-lang/hark/pkg/hark/ctrl"
)

var (
	errMethodNotFound = &jsonrpc2.Error{
		Code: jsonrpc2.CodeMethodNotFound, Message: "method not found"}
	errInvalidParams = &jsonrpc2.Error{
		Code: jsonrpc2.CodeInvalidParams, Message: "invalid params"}
)

// Server serves one controller to any number of clients.
type Server struct {
	session string
	ctrl    ctrl.Controller
}

// NewServer creates a server for a controller. The session name is reported
// to clients for diagnostics.
func NewServer(session string, c ctrl.Controller) *Server {
	return &Server{session: session, ctrl: c}
}

type method func(params json.RawMessage) (any, error)

// Handler returns the JSON-RPC handler routing to the controller.
func (s *Server) Handler() jsonrpc2.Handler {
	methods := map[string]method{
		methodSession:    s.handleSession,
		methodSeedCode:   s.seedCode,
		methodCode:       s.code,
		methodNewThread:  s.newThread,
		methodReserveIDs: s.reserveIDs,
		methodLeaseReady: s.leaseReady,
		methodCommitStep: s.commitStep,
		methodResolve:    s.resolve,
		methodWake:       s.wake,
		methodReadFuture: s.readFuture,
		methodThread:     s.thread,
		methodOutputs:    s.outputs,
	}
	return jsonrpc2.HandlerWithError(func(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		fn, ok := methods[req.Method]
		if !ok {
			return nil, errMethodNotFound
		}
		var params json.RawMessage
		if req.Params != nil {
			params = *req.Params
		}
		result, err := fn(params)
		return result, toWireError(err)
	})
}

func (s *Server) handleSession(json.RawMessage) (any, error) {
	return sessionResult{Session: s.session}, nil
}

func (s *Server) seedCode(raw json.RawMessage) (any, error) {
	var params seedCodeParams
	if json.Unmarshal(raw, &params) != nil || params.Model == nil {
		return nil, errInvalidParams
	}
	return struct{}{}, s.ctrl.SeedCode(params.Model)
}

func (s *Server) code(json.RawMessage) (any, error) {
	m, err := s.ctrl.Code()
	if err != nil {
		return nil, err
	}
	return codeResult{Model: m}, nil
}

func (s *Server) newThread(raw json.RawMessage) (any, error) {
	var params newThreadParams
	if json.Unmarshal(raw, &params) != nil {
		return nil, errInvalidParams
	}
	tid, fid, err := s.ctrl.NewThread(params.Fn, params.Args)
	if err != nil {
		return nil, err
	}
	return idsResult{Thread: tid, Future: fid}, nil
}

func (s *Server) reserveIDs(json.RawMessage) (any, error) {
	tid, fid, err := s.ctrl.ReserveIDs()
	if err != nil {
		return nil, err
	}
	return idsResult{Thread: tid, Future: fid}, nil
}

func (s *Server) leaseReady(json.RawMessage) (any, error) {
	lease, err := s.ctrl.LeaseReady()
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return leaseResult{}, nil
	}
	return leaseResult{Lease: &wireLease{
		Thread: lease.Thread, Token: lease.Token, Deadline: lease.Deadline,
	}}, nil
}

func (s *Server) commitStep(raw json.RawMessage) (any, error) {
	var cm ctrl.Commit
	if json.Unmarshal(raw, &cm) != nil {
		return nil, errInvalidParams
	}
	woken, err := s.ctrl.CommitStep(cm)
	if err != nil {
		return nil, err
	}
	return commitResult{Woken: woken}, nil
}

func (s *Server) resolve(raw json.RawMessage) (any, error) {
	var params resolveParams
	if json.Unmarshal(raw, &params) != nil {
		return nil, errInvalidParams
	}
	chain, err := s.ctrl.Resolve(params.Future, params.Value.V)
	if err != nil {
		return nil, err
	}
	return commitResult{Woken: chain}, nil
}

func (s *Server) wake(raw json.RawMessage) (any, error) {
	var params wakeParams
	if json.Unmarshal(raw, &params) != nil {
		return nil, errInvalidParams
	}
	return struct{}{}, s.ctrl.Wake(params.Threads)
}

func (s *Server) readFuture(raw json.RawMessage) (any, error) {
	var params futureParams
	if json.Unmarshal(raw, &params) != nil {
		return nil, errInvalidParams
	}
	return s.ctrl.ReadFuture(params.Future)
}

func (s *Server) thread(raw json.RawMessage) (any, error) {
	var params threadParams
	if json.Unmarshal(raw, &params) != nil {
		return nil, errInvalidParams
	}
	return s.ctrl.Thread(params.Thread)
}

func (s *Server) outputs(json.RawMessage) (any, error) {
	entries, err := s.ctrl.Outputs()
	if err != nil {
		return nil, err
	}
	return outputsResult{Entries: entries}, nil
}

// ServeOpts keeps options that can be passed to Serve.
type ServeOpts struct {
	// If not nil, will be closed when the server is ready to accept
	// connections.
	Ready chan<- struct{}
	// Causes the server to stop if closed or sent any value. If nil, Serve
	// runs until the listener fails.
	Stop <-chan struct{}
}

// Serve accepts connections on the listener and serves the controller to each
// until Stop is signalled. It closes the listener before returning.
func (s *Server) Serve(listener net.Listener, opts ServeOpts) {
	handler := s.Handler()

	connCh := make(chan net.Conn, 10)
	listenErrCh := make(chan error, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				listenErrCh <- err
				close(listenErrCh)
				return
			}
			connCh <- conn
		}
	}()

	if opts.Ready != nil {
		close(opts.Ready)
	}

	var wg sync.WaitGroup
	conns := make(map[*jsonrpc2.Conn]struct{})
	var mu sync.Mutex

loop:
	for {
		select {
		case <-opts.Stop:
			logger.Println("stop requested")
			break loop
		case err := <-listenErrCh:
			logger.Println("could not listen:", err)
			break loop
		case conn := <-connCh:
			rpcConn := jsonrpc2.NewConn(context.Background(),
				jsonrpc2.NewBufferedStream(conn, jsonrpc2.VarintObjectCodec{}),
				handler)
			mu.Lock()
			conns[rpcConn] = struct{}{}
			mu.Unlock()
			wg.Add(1)
			go func() {
				<-rpcConn.DisconnectNotify()
				mu.Lock()
				delete(conns, rpcConn)
				mu.Unlock()
				wg.Done()
			}()
		}
	}

	listener.Close()
	mu.Lock()
	for conn := range conns {
		conn.Close()
	}
	mu.Unlock()
	wg.Wait()
	logger.Println("all clients disconnected, exiting")
}

// Listen creates a listener for an address of the form "unix:/path" or
// "tcp:host:port"; a bare path listens on a unix socket.
func Listen(addr string) (net.Listener, error) {
	network, address := splitAddr(addr)
	if network == "unix" {
		// A stale socket file from an unclean shutdown blocks listening.
		if _, err := os.Stat(address); err == nil {
			os.Remove(address)
		}
	}
	return net.Listen(network, address)
}

func splitAddr(addr string) (network, address string) {
	const (
		unixPrefix = "unix:"
		tcpPrefix  = "tcp:"
	)
	switch {
	case len(addr) > len(unixPrefix) && addr[:len(unixPrefix)] == unixPrefix:
		return "unix", addr[len(unixPrefix):]
	case len(addr) > len(tcpPrefix) && addr[:len(tcpPrefix)] == tcpPrefix:
		return "tcp", addr[len(tcpPrefix):]
	default:
		return "unix", addr
	}
}
