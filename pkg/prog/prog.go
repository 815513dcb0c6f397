// Package prog provides the entry point to the hark command. Subprograms
// correspond to the different roles the binary can play: running a program
// locally, serving the controller daemon, or attaching a worker to a remote
// controller.
package prog

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hark-lang/hark/pkg/logutil"
)

// FlagSet wraps flag.FlagSet with methods for flags shared between
// subprograms.
type FlagSet struct {
	*flag.FlagSet
	daemonPaths *DaemonPaths
	configPath  *string
	session     *string
}

// DaemonPaths stores the -db and -sock flags shared by subprograms that talk
// to (or serve) the controller daemon.
type DaemonPaths struct {
	DB, Sock string
}

// DaemonPaths returns a struct with the -db and -sock flags, defining the
// flags on first use.
func (fs *FlagSet) DaemonPaths() *DaemonPaths {
	if fs.daemonPaths == nil {
		var dp DaemonPaths
		fs.StringVar(&dp.DB, "db", "",
			"Path to the controller database file")
		fs.StringVar(&dp.Sock, "sock", "",
			"Path to the controller daemon's UNIX socket")
		fs.daemonPaths = &dp
	}
	return fs.daemonPaths
}

// ConfigPath returns a pointer to the -config flag, defining the flag on
// first use.
func (fs *FlagSet) ConfigPath() *string {
	if fs.configPath == nil {
		var path string
		fs.StringVar(&path, "config", "",
			"Path to a YAML file with scheduler settings")
		fs.configPath = &path
	}
	return fs.configPath
}

// Session returns a pointer to the -session flag, defining the flag on first
// use.
func (fs *FlagSet) Session() *string {
	if fs.session == nil {
		var session string
		fs.StringVar(&session, "session", "default",
			"Session name under which runtime state is stored")
		fs.session = &session
	}
	return fs.session
}

// Program represents a subprogram.
type Program interface {
	// RegisterFlags registers flags relevant to this subprogram.
	RegisterFlags(fs *FlagSet)
	// Run runs the subprogram. It should return ErrNextProgram if the
	// subprogram should not be run.
	Run(fds [3]*os.File, args []string) error
}

// Run parses command-line flags and runs the first applicable subprogram. It
// returns the exit status of the program.
func Run(fds [3]*os.File, args []string, programs ...Program) int {
	fs := flag.NewFlagSet("hark", flag.ContinueOnError)
	// Error and usage will be printed explicitly.
	fs.SetOutput(io.Discard)

	var logFlag string
	fs.StringVar(&logFlag, "log", "", "Path to a file to write debug logs")

	wrappedFS := &FlagSet{FlagSet: fs}
	for _, program := range programs {
		program.RegisterFlags(wrappedFS)
	}

	err := fs.Parse(args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			// (*flag.FlagSet).Parse returns ErrHelp when -h or -help was
			// requested but *not* defined. Print usage on stdout in that case.
			usage(fds[1], fs)
			return 0
		}
		fmt.Fprintln(fds[2], err)
		usage(fds[2], fs)
		return 2
	}

	if logFlag != "" {
		err = logutil.SetOutputFile(logFlag)
		if err != nil {
			fmt.Fprintln(fds[2], err)
		}
	}

	err = NextProgram(programs...).Run(fds, fs.Args())
	if err == nil {
		return 0
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(fds[2], msg)
	}
	switch err := err.(type) {
	case badUsageError:
		usage(fds[2], fs)
		return 2
	case exitError:
		return err.exit
	}
	return 2
}

func usage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(out, "Usage: hark [flags] [program.json]")
	fmt.Fprintln(out, "Supported flags:")
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// NextProgram returns a Program that tries each of the given programs,
// terminating at the first one that doesn't return ErrNextProgram.
func NextProgram(programs ...Program) Program { return nextProgram(programs) }

type nextProgram []Program

func (np nextProgram) RegisterFlags(f *FlagSet) {
	for _, p := range np {
		p.RegisterFlags(f)
	}
}

func (np nextProgram) Run(fds [3]*os.File, args []string) error {
	for _, p := range np {
		err := p.Run(fds, args)
		if err != ErrNextProgram {
			return err
		}
	}
	// If we have reached here, all subprograms have returned ErrNextProgram.
	return ErrNextProgram
}

// ErrNextProgram is a special error that may be returned by Program.Run, to
// signify that the next program should be tried.
var ErrNextProgram = errors.New("internal error: no suitable subprogram")

// BadUsage returns a special error that may be returned by Program.Run. It
// causes the main function to print out a message, the usage information and
// exit with 2.
func BadUsage(msg string) error { return badUsageError{msg} }

type badUsageError struct{ msg string }

func (e badUsageError) Error() string { return e.msg }

// Exit returns a special error that may be returned by Program.Run. It causes
// the main function to exit with the given code without printing any error
// messages. Exit(0) returns nil.
func Exit(exit int) error {
	if exit == 0 {
		return nil
	}
	return exitError{exit}
}

type exitError struct{ exit int }

func (e exitError) Error() string { return "" }
