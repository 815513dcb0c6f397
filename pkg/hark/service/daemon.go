package service

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hark-lang/hark/pkg/hark/boltctrl"
	"github.com/hark-lang/hark/pkg/hark/sched"
	"github.com/hark-lang/hark/pkg/prog"
)

// DaemonProgram is the controller daemon subprogram: it serves a bolt-backed
// controller on a socket for remote schedulers and workers.
type DaemonProgram struct {
	run     bool
	session *string
	paths   *prog.DaemonPaths
	config  *string
	// Used in tests.
	serveOpts ServeOpts
}

func (p *DaemonProgram) RegisterFlags(fs *prog.FlagSet) {
	fs.BoolVar(&p.run, "daemon", false,
		"Serve the controller daemon instead of running a program")
	p.session = fs.Session()
	p.paths = fs.DaemonPaths()
	p.config = fs.ConfigPath()
}

func (p *DaemonProgram) Run(fds [3]*os.File, args []string) error {
	if !p.run {
		return prog.ErrNextProgram
	}
	if len(args) > 0 {
		return prog.BadUsage("arguments are not allowed with -daemon")
	}
	if p.paths.DB == "" || p.paths.Sock == "" {
		return prog.BadUsage("-daemon requires -db and -sock")
	}
	cfg, err := sched.LoadConfig(*p.config)
	if err != nil {
		return err
	}
	setUmaskForDaemon()

	ctrl, err := boltctrl.Open(p.paths.DB, *p.session, boltctrl.Options{
		LeaseTimeout: time.Duration(cfg.LeaseTimeout),
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	listener, err := Listen(p.paths.Sock)
	if err != nil {
		return err
	}
	logger.Println("pid is", os.Getpid())
	logger.Println("listening on", p.paths.Sock)

	opts := p.serveOpts
	if opts.Stop == nil {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		stop := make(chan struct{})
		go func() {
			sig := <-sigCh
			logger.Printf("received signal %v", sig)
			close(stop)
		}()
		opts.Stop = stop
	}

	NewServer(*p.session, ctrl).Serve(listener, opts)
	return nil
}
