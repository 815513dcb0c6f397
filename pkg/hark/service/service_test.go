package service_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/hark-lang/hark/pkg/hark/boltctrl"
	"github.com/hark-lang/hark/pkg/hark/compile"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/harktest"
	"github.com/hark-lang/hark/pkg/hark/sched"
	"github.com/hark-lang/hark/pkg/hark/service"
	"github.com/hark-lang/hark/pkg/hark/vals"
	"github.com/hark-lang/hark/pkg/testutil"
)

// newRemote wires a client to an in-process server over a pipe, backed by a
// fresh in-memory controller.
func newRemote(t *testing.T) *service.Client {
	t.Helper()
	server := service.NewServer("test", ctrl.NewMem(ctrl.MemOptions{}))
	clientSide, serverSide := net.Pipe()
	serverConn := jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VarintObjectCodec{}),
		server.Handler())
	client := service.NewClient(clientSide)
	t.Cleanup(func() {
		client.Close()
		serverConn.Close()
	})
	return client
}

func TestRemoteController(t *testing.T) {
	harktest.TestController(t, func(t *testing.T) ctrl.Controller {
		return newRemote(t)
	})
}

func TestRemoteScenarios(t *testing.T) {
	harktest.TestScenarios(t, func(t *testing.T) ctrl.Controller {
		return newRemote(t)
	})
}

func TestSessionReported(t *testing.T) {
	client := newRemote(t)
	session, err := client.Session()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session != "test" {
		t.Errorf("session = %q, want test", session)
	}
}

func TestSentinelErrorsCrossTheWire(t *testing.T) {
	client := newRemote(t)
	model, err := compile.Compile(harktest.Prog(
		harktest.Fn("g", nil, harktest.Int(7))))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := client.SeedCode(model); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, fid, err := client.NewThread("g", nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}
	if _, err := client.Resolve(fid, vals.Int(1)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := client.Resolve(fid, vals.Int(2)); !errors.Is(err, ctrl.ErrDoubleResolve) {
		t.Errorf("double resolve over RPC: err = %v, want ErrDoubleResolve", err)
	}
	if _, _, err := client.NewThread("nope", nil); !errors.Is(err, ctrl.ErrUndefinedFunction) {
		t.Errorf("unknown function over RPC: err = %v, want ErrUndefinedFunction", err)
	}
	if _, err := client.Code(); err != nil {
		t.Errorf("code over RPC: %v", err)
	}
}

func TestDistributedRunOverBolt(t *testing.T) {
	// The full distributed path: a bolt-backed controller served on a unix
	// socket, with the driver and two extra workers attached as clients.
	dir := testutil.TempDir(t)
	sock := filepath.Join(dir, "hark.sock")

	boltc, err := boltctrl.Open(filepath.Join(dir, "hark.db"), "e2e",
		boltctrl.Options{})
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	listener, err := service.Listen(sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ready := make(chan struct{})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		service.NewServer("e2e", boltc).Serve(listener, service.ServeOpts{
			Ready: ready, Stop: stop})
		close(done)
	}()
	<-ready
	defer func() {
		close(stop)
		<-done
		boltc.Close()
	}()

	driver, err := service.Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer driver.Close()

	// Extra workers race the driver's own workers for leases.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	for i := 0; i < 2; i++ {
		worker, err := service.Dial(sock)
		if err != nil {
			t.Fatalf("dial worker: %v", err)
		}
		defer worker.Close()
		go func(w *service.Client) {
			if err := waitForCode(workerCtx, w); err != nil {
				return
			}
			s, err := sched.New(w, harktest.NewRegistry(), sched.Config{
				Workers: 2, PollInterval: sched.Duration(time.Millisecond),
			}, nil)
			if err != nil {
				return
			}
			s.Work(workerCtx)
		}(worker)
	}

	res := harktest.RunProgram(t, driver, harktest.Prog(
		harktest.Fn("b", []string{"x"}, harktest.Mul(harktest.V("x"), harktest.Int(1000))),
		harktest.Fn("d", []string{"x"}, harktest.Mul(harktest.V("x"), harktest.Int(10))),
		harktest.Fn("main", nil,
			harktest.Let("p", harktest.Async("b", harktest.Int(5)),
				harktest.Let("q", harktest.Async("d", harktest.Int(5)),
					harktest.Add(harktest.Await(harktest.V("p")),
						harktest.Await(harktest.V("q")))))),
	), harktest.RunOpts{Workers: 2})
	if res.Err != nil {
		t.Fatalf("errored: %v", res.Err)
	}
	if !vals.Equal(res.Value, vals.Int(5050)) {
		t.Errorf("result = %s, want 5050", vals.Repr(res.Value))
	}
}

func waitForCode(ctx context.Context, client *service.Client) error {
	for {
		_, err := client.Code()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ctrl.ErrNoCode) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServeOverUnixSocket(t *testing.T) {
	sock := filepath.Join(testutil.TempDir(t), "hark.sock")
	listener, err := service.Listen(sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := service.NewServer("sock-test", ctrl.NewMem(ctrl.MemOptions{}))
	ready := make(chan struct{})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		server.Serve(listener, service.ServeOpts{Ready: ready, Stop: stop})
		close(done)
	}()
	<-ready

	client, err := service.Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	session, err := client.Session()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session != "sock-test" {
		t.Errorf("session = %q", session)
	}
	client.Close()

	close(stop)
	select {
	case <-done:
	case <-time.After(testutil.Scaled(5 * time.Second)):
		t.Fatalf("server did not stop")
	}
}
