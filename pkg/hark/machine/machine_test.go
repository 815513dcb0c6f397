package machine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hark-lang/hark/pkg/hark/vals"
)

func sampleThread() *Thread {
	return &Thread{
		ID: 3, State: Waiting, WaitingOn: 9,
		Fn: "worker", IP: 17,
		Stack:  Stack{vals.Int(1), vals.FutureRef{ID: 9}},
		Locals: Bindings{"x": vals.Str("hi"), "xs": vals.List{vals.Int(2)}},
		Frames: []Frame{{
			Fn: "main", IP: 4,
			Stack:  Stack{vals.Null{}},
			Locals: Bindings{"n": vals.Int(5)},
		}},
		Terminal:      4,
		LeaseToken:    11,
		LeaseDeadline: time.Unix(2000, 0).UTC(),
		LastToken:     10,
		Version:       6,
	}
}

func TestThreadJSONRoundTrip(t *testing.T) {
	orig := sampleThread()
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Thread
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(orig, &back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestFutureJSONRoundTrip(t *testing.T) {
	orig := &Future{ID: 9, Resolved: true,
		Value:   vals.Box{V: vals.List{vals.Int(1), vals.Str("a")}},
		Version: 2}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Future
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(orig, &back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestThreadCloneIsDeep(t *testing.T) {
	orig := sampleThread()
	clone := orig.Clone()
	clone.Stack[0] = vals.Int(99)
	clone.Locals["x"] = vals.Str("changed")
	clone.Frames[0].Stack[0] = vals.Int(7)
	if !vals.Equal(orig.Stack[0], vals.Int(1)) {
		t.Errorf("clone shares stack")
	}
	if !vals.Equal(orig.Locals["x"], vals.Str("hi")) {
		t.Errorf("clone shares locals")
	}
	if !vals.Equal(orig.Frames[0].Stack[0], vals.Null{}) {
		t.Errorf("clone shares frame stack")
	}
}

func TestErrorValueRoundTrip(t *testing.T) {
	orig := &Error{Kind: DivisionByZero, Message: "division by zero",
		Origin: 2, Trail: []ThreadID{5, 1}}
	back, ok := ErrorFromValue(orig.Value())
	if !ok {
		t.Fatalf("error value not recognized")
	}
	if diff := cmp.Diff(orig, back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestPropagatedExtendsTrail(t *testing.T) {
	orig := &Error{Kind: DivisionByZero, Message: "division by zero", Origin: 2}
	p := orig.Propagated(7)
	if len(orig.Trail) != 0 {
		t.Errorf("Propagated mutated the original")
	}
	if len(p.Trail) != 1 || p.Trail[0] != 7 {
		t.Errorf("trail = %v, want [7]", p.Trail)
	}
}
