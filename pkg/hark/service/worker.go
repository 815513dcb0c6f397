package service

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/hostfns"
	"github.com/hark-lang/hark/pkg/hark/sched"
	"github.com/hark-lang/hark/pkg/prog"
)

// WorkerProgram is the remote worker subprogram: it attaches executors to a
// controller daemon and steps whatever threads become ready there.
type WorkerProgram struct {
	run    bool
	paths  *prog.DaemonPaths
	config *string
}

func (p *WorkerProgram) RegisterFlags(fs *prog.FlagSet) {
	fs.BoolVar(&p.run, "worker", false,
		"Attach a worker to a controller daemon instead of running a program")
	p.paths = fs.DaemonPaths()
	p.config = fs.ConfigPath()
}

func (p *WorkerProgram) Run(fds [3]*os.File, args []string) error {
	if !p.run {
		return prog.ErrNextProgram
	}
	if len(args) > 0 {
		return prog.BadUsage("arguments are not allowed with -worker")
	}
	if p.paths.Sock == "" {
		return prog.BadUsage("-worker requires -sock")
	}
	cfg, err := sched.LoadConfig(*p.config)
	if err != nil {
		return err
	}

	client, err := Dial(p.paths.Sock)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Printf("received signal %v", sig)
		case <-client.DisconnectNotify():
			logger.Println("controller connection closed")
		case <-ctx.Done():
		}
		cancel()
	}()

	// The daemon may come up before a driver seeds the program; wait for
	// code to appear.
	for {
		_, err := client.Code()
		if err == nil {
			break
		}
		if !errors.Is(err, ctrl.ErrNoCode) {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}

	reg := cfg.NewRegistry()
	hostfns.RegisterAll(reg)
	s, err := sched.New(client, reg, cfg, nil)
	if err != nil {
		return err
	}
	logger.Println("worker attached, stepping")
	s.Work(ctx)
	return nil
}
