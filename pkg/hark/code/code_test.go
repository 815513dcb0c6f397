package code

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hark-lang/hark/pkg/hark/vals"
)

func sampleModel() *Model {
	return &Model{
		Instrs: []Instr{
			{Op: PushV, Sym: "x"},
			{Op: PushL, Val: vals.Int(2)},
			{Op: Mul},
			{Op: Return},
			{Op: PushL, Val: vals.List{vals.Int(1), vals.Str("a")}},
			{Op: Jump, Num: -2},
		},
		Funcs: map[string]FuncInfo{
			"double": {Name: "double", Entry: 0, Arity: 1, Params: []string{"x"}},
			"weird":  {Name: "weird", Entry: 4, Arity: 0, Params: []string{}, Free: []string{"double"}},
		},
		Foreigns: map[string]ForeignInfo{
			"rs": {Target: "test/rs", Arity: 2},
		},
	}
}

// The model survives the wire: function names, arities and entry points come
// back exactly, which is what seeding a remote controller relies on.
func TestModelJSONRoundTrip(t *testing.T) {
	orig := sampleModel()
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Model
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(orig, &back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestInstrString(t *testing.T) {
	cases := []struct {
		instr Instr
		want  string
	}{
		{Instr{Op: PushV, Sym: "x"}, "pushv x"},
		{Instr{Op: PushL, Val: vals.Int(2)}, "pushl 2"},
		{Instr{Op: Jump, Num: 3}, "jump 3"},
		{Instr{Op: Call, Num: 2}, "call 2"},
		{Instr{Op: Return}, "return"},
		{Instr{Op: ListNew, Num: 0}, "listnew 0"},
	}
	for _, c := range cases {
		if got := c.instr.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestListingLabelsEntries(t *testing.T) {
	listing := sampleModel().Listing()
	for _, want := range []string{"double:", "weird:", "  mul", "  return"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing %q missing %q", listing, want)
		}
	}
}
