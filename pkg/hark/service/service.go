// Package service exposes a controller over JSON-RPC 2.0, and provides the
// client through which executors and schedulers use a remote controller
// unmodified.
package service

import (
	"errors"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
	"github.com/hark-lang/hark/pkg/logutil"
)

var logger = logutil.GetLogger("[service] ")

// Method names.
const (
	methodSession    = "hark/session"
	methodSeedCode   = "hark/seedCode"
	methodCode       = "hark/code"
	methodNewThread  = "hark/newThread"
	methodReserveIDs = "hark/reserveIDs"
	methodLeaseReady = "hark/leaseReady"
	methodCommitStep = "hark/commitStep"
	methodResolve    = "hark/resolve"
	methodWake       = "hark/wake"
	methodReadFuture = "hark/readFuture"
	methodThread     = "hark/thread"
	methodOutputs    = "hark/outputs"
)

// Error codes for the controller's sentinel errors, so that errors.Is works
// on the client side of the wire.
const (
	codeLeaseLost         = 1001
	codeDoubleResolve     = 1002
	codeNoSuchThread      = 1003
	codeNoSuchFuture      = 1004
	codeNoCode            = 1005
	codeUndefinedFunction = 1006
	codeArity             = 1007
	codeCorruptState      = 1008
)

var sentinelCodes = []struct {
	err  error
	code int64
}{
	{ctrl.ErrLeaseLost, codeLeaseLost},
	{ctrl.ErrDoubleResolve, codeDoubleResolve},
	{ctrl.ErrNoSuchThread, codeNoSuchThread},
	{ctrl.ErrNoSuchFuture, codeNoSuchFuture},
	{ctrl.ErrNoCode, codeNoCode},
	{ctrl.ErrUndefinedFunction, codeUndefinedFunction},
	{ctrl.ErrArity, codeArity},
	{ctrl.ErrCorruptState, codeCorruptState},
}

func toWireError(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return &jsonrpc2.Error{Code: s.code, Message: err.Error()}
		}
	}
	return err
}

func fromWireError(err error) error {
	var rpcErr *jsonrpc2.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	for _, s := range sentinelCodes {
		if rpcErr.Code == s.code {
			return s.err
		}
	}
	return err
}

// Wire types shared by the server and the client.

type sessionResult struct {
	Session string `json:"session"`
}

type seedCodeParams struct {
	Model *code.Model `json:"model"`
}

type codeResult struct {
	Model *code.Model `json:"model"`
}

type newThreadParams struct {
	Fn   string        `json:"fn"`
	Args machine.Stack `json:"args"`
}

type idsResult struct {
	Thread machine.ThreadID `json:"thread"`
	Future machine.FutureID `json:"future"`
}

type leaseResult struct {
	Lease *wireLease `json:"lease,omitempty"`
}

type wireLease struct {
	Thread   *machine.Thread `json:"thread"`
	Token    uint64          `json:"token"`
	Deadline int64           `json:"deadline"`
}

type commitResult struct {
	Woken []machine.ThreadID `json:"woken,omitempty"`
}

type resolveParams struct {
	Future machine.FutureID `json:"future"`
	Value  vals.Box         `json:"value"`
}

type wakeParams struct {
	Threads []machine.ThreadID `json:"threads"`
}

type futureParams struct {
	Future machine.FutureID `json:"future"`
}

type threadParams struct {
	Thread machine.ThreadID `json:"thread"`
}

type outputsResult struct {
	Entries []machine.OutputEntry `json:"entries,omitempty"`
}
