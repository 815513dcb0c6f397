// Package sched drives executors over the ready threads of a controller.
//
// The same loop serves both modes: in a single process the workers are
// goroutines over an in-memory controller; in distributed mode they are
// remote processes attached to a shared controller through its service. The
// controller's leases plus idempotent commits turn the scheduler's
// at-least-once dispatch into exactly-once state transitions.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/exec"
	"github.com/hark-lang/hark/pkg/hark/foreign"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
	"github.com/hark-lang/hark/pkg/logutil"
)

var logger = logutil.GetLogger("[sched] ")

// Scheduler runs executors against one controller.
type Scheduler struct {
	ctrl ctrl.Controller
	exec *exec.Executor
	cfg  Config
}

// New creates a scheduler. The controller must already be seeded with code.
func New(c ctrl.Controller, reg *foreign.Registry, cfg Config, probe exec.Probe) (*Scheduler, error) {
	cfg = cfg.WithDefaults()
	model, err := c.Code()
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	ex := exec.New(c, model, reg, exec.Options{
		StepBudget: cfg.StepBudget,
		SleepScale: cfg.SleepScale,
		Probe:      probe,
	})
	return &Scheduler{ctrl: c, exec: ex, cfg: cfg}, nil
}

// Run creates the root thread for the named function, works until its
// terminal future resolves, and returns the result. A *machine.Error return
// means the program errored; other errors are infrastructure failures.
func (s *Scheduler) Run(ctx context.Context, fn string, args []vals.Value) (vals.Value, error) {
	tid, fid, err := s.ctrl.NewThread(fn, args)
	if err != nil {
		return nil, fmt.Errorf("create root thread: %w", err)
	}
	logger.Printf("root thread %d, terminal future %d", tid, fid)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(workCtx)
		}()
	}

	value, err := s.awaitFuture(ctx, fid)
	cancel()
	wg.Wait()
	return value, err
}

// awaitFuture polls a future until it resolves.
func (s *Scheduler) awaitFuture(ctx context.Context, fid machine.FutureID) (vals.Value, error) {
	ticker := time.NewTicker(time.Duration(s.cfg.PollInterval))
	defer ticker.Stop()
	for {
		f, err := s.ctrl.ReadFuture(fid)
		if err != nil {
			return nil, fmt.Errorf("read terminal future: %w", err)
		}
		if f.Resolved {
			if e, isErr := machine.ErrorFromValue(f.Value.V); isErr {
				return nil, e
			}
			return f.Value.V, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Work runs the lease/step/commit/wake loop until the context is cancelled.
// It is the whole life of a remote worker process.
func (s *Scheduler) Work(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) work(ctx context.Context) {
	idle := time.Duration(s.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lease, err := s.ctrl.LeaseReady()
		if err != nil {
			logger.Printf("lease: %v", err)
			sleepCtx(ctx, idle)
			continue
		}
		if lease == nil {
			sleepCtx(ctx, idle)
			continue
		}

		cm, err := s.exec.Step(lease)
		if err != nil {
			// Controller unavailable mid-step. The lease expires on its own
			// and the thread will be re-leased.
			logger.Printf("step thread %d: %v", lease.Thread.ID, err)
			sleepCtx(ctx, idle)
			continue
		}

		woken, err := s.ctrl.CommitStep(cm)
		if err != nil {
			if errors.Is(err, ctrl.ErrLeaseLost) {
				// Another worker reclaimed the thread; the step's work is
				// discarded and will be redone under the new lease.
				logger.Printf("commit thread %d: lease lost", cm.Thread)
				continue
			}
			logger.Printf("commit thread %d: %v", cm.Thread, err)
			sleepCtx(ctx, idle)
			continue
		}
		if len(woken) > 0 {
			if err := s.ctrl.Wake(woken); err != nil {
				logger.Printf("wake %v: %v", woken, err)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Outputs returns the captured program output.
func (s *Scheduler) Outputs() ([]machine.OutputEntry, error) {
	return s.ctrl.Outputs()
}

// NewRegistry builds a foreign registry with the configured call ceiling.
func (c Config) NewRegistry() *foreign.Registry {
	return foreign.NewRegistry(time.Duration(c.ForeignCeiling))
}
