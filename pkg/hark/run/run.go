// Package run implements the default subprogram: compile a program tree and
// run it to completion, locally or against a remote controller.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/hark-lang/hark/pkg/hark/ast"
	"github.com/hark-lang/hark/pkg/hark/boltctrl"
	"github.com/hark-lang/hark/pkg/hark/compile"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/hostfns"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/sched"
	"github.com/hark-lang/hark/pkg/hark/service"
	"github.com/hark-lang/hark/pkg/hark/vals"
	"github.com/hark-lang/hark/pkg/prog"
)

// Program is the run subprogram. The positional argument is a program tree
// in JSON form, as emitted by an external parser; "-" reads standard input.
type Program struct {
	compileOnly bool
	entry       string
	session     *string
	paths       *prog.DaemonPaths
	config      *string
}

func (p *Program) RegisterFlags(fs *prog.FlagSet) {
	fs.BoolVar(&p.compileOnly, "compileonly", false,
		"Compile the program and print its instruction listing, but do not run it")
	fs.StringVar(&p.entry, "entry", "main", "Entry function")
	p.session = fs.Session()
	p.paths = fs.DaemonPaths()
	p.config = fs.ConfigPath()
}

func (p *Program) Run(fds [3]*os.File, args []string) error {
	if len(args) != 1 {
		return prog.BadUsage("exactly one program file is required")
	}

	tree, err := readProgram(fds[0], args[0])
	if err != nil {
		return err
	}
	model, err := compile.Compile(tree)
	if err != nil {
		return err
	}
	if p.compileOnly {
		fmt.Fprint(fds[1], model.Listing())
		return nil
	}

	cfg, err := sched.LoadConfig(*p.config)
	if err != nil {
		return err
	}

	controller, err := p.openController(cfg)
	if err != nil {
		return err
	}
	defer controller.Close()
	if err := controller.SeedCode(model); err != nil {
		return err
	}

	reg := cfg.NewRegistry()
	hostfns.RegisterAll(reg)
	s, err := sched.New(controller, reg, cfg, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	value, runErr := s.Run(ctx, p.entry, nil)

	// Partial output is preserved even when the program errors.
	if entries, err := s.Outputs(); err == nil {
		for _, e := range entries {
			fmt.Fprint(fds[1], e.Text)
		}
	}

	var perr *machine.Error
	switch {
	case runErr == nil:
		printResult(fds[1], value)
		return nil
	case errors.As(runErr, &perr):
		fmt.Fprintln(fds[2], "error:", formatProgramError(perr))
		return prog.Exit(1)
	default:
		return runErr
	}
}

func (p *Program) openController(cfg sched.Config) (ctrl.Controller, error) {
	switch {
	case p.paths.Sock != "":
		return service.Dial(p.paths.Sock)
	case p.paths.DB != "":
		return boltctrl.Open(p.paths.DB, *p.session, boltctrl.Options{
			LeaseTimeout: time.Duration(cfg.LeaseTimeout),
		})
	default:
		return ctrl.NewMem(ctrl.MemOptions{
			LeaseTimeout: time.Duration(cfg.LeaseTimeout),
		}), nil
	}
}

func readProgram(stdin *os.File, name string) (*ast.Program, error) {
	if name == "-" {
		return ast.DecodeProgram(stdin)
	}
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ast.DecodeProgram(file)
}

func printResult(out *os.File, v vals.Value) {
	if isatty.IsTerminal(out.Fd()) {
		fmt.Fprintf(out, "result: %s\n", vals.Repr(v))
	} else {
		fmt.Fprintln(out, vals.Repr(v))
	}
}

// formatProgramError renders the first-origin error reason with the chain of
// threads that propagated it.
func formatProgramError(e *machine.Error) string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	fmt.Fprintf(&sb, " (origin thread %d", e.Origin)
	if len(e.Trail) > 0 {
		parts := make([]string, len(e.Trail))
		for i, t := range e.Trail {
			parts[i] = fmt.Sprint(t)
		}
		sb.WriteString(", via " + strings.Join(parts, ", "))
	}
	sb.WriteString(")")
	return sb.String()
}
