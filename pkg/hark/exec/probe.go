package exec

import (
	"fmt"
	"sync"

	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/machine"
)

// Probe observes the execution of threads. The executor calls it at each
// instruction, at call entries and returns, and when a thread stops.
type Probe interface {
	OnStep(t *machine.Thread, ip int, instr code.Instr)
	OnEnter(t *machine.Thread, fn string)
	OnReturn(t *machine.Thread)
	OnStopped(t *machine.Thread)
	Logf(format string, args ...any)
}

// NopProbe is a Probe that does nothing.
type NopProbe struct{}

func (NopProbe) OnStep(*machine.Thread, int, code.Instr) {}
func (NopProbe) OnEnter(*machine.Thread, string)         {}
func (NopProbe) OnReturn(*machine.Thread)                {}
func (NopProbe) OnStopped(*machine.Thread)               {}
func (NopProbe) Logf(string, ...any)                     {}

// RecordingProbe records one line per event. It is safe for concurrent use,
// since multiple executors may share one probe.
type RecordingProbe struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns the recorded lines in order.
func (p *RecordingProbe) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

func (p *RecordingProbe) record(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, line)
}

func (p *RecordingProbe) OnStep(t *machine.Thread, ip int, instr code.Instr) {
	p.record(fmt.Sprintf("%d @%d %s", t.ID, ip, instr))
}

func (p *RecordingProbe) OnEnter(t *machine.Thread, fn string) {
	p.record(fmt.Sprintf("%d enter %s", t.ID, fn))
}

func (p *RecordingProbe) OnReturn(t *machine.Thread) {
	p.record(fmt.Sprintf("%d return", t.ID))
}

func (p *RecordingProbe) OnStopped(t *machine.Thread) {
	p.record(fmt.Sprintf("%d stopped", t.ID))
}

func (p *RecordingProbe) Logf(format string, args ...any) {
	p.record(fmt.Sprintf(format, args...))
}
