// Hark runs programs for the Hark abstract machine. The same binary plays
// three roles: running a compiled program to completion, serving the
// controller daemon that holds runtime state, and attaching a worker to a
// remote controller.
package main

import (
	"os"

	"github.com/hark-lang/hark/pkg/hark/run"
	"github.com/hark-lang/hark/pkg/hark/service"
	"github.com/hark-lang/hark/pkg/prog"
)

func main() {
	os.Exit(prog.Run(
		[3]*os.File{os.Stdin, os.Stdout, os.Stderr}, os.Args,
		&service.DaemonProgram{}, &service.WorkerProgram{}, &run.Program{}))
}
