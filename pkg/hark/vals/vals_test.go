package vals

import (
	"testing"

	"github.com/hark-lang/hark/pkg/tt"
)

func TestEqual(t *testing.T) {
	tt.Test(t, tt.Fn("Equal", Equal), tt.Table{
		tt.Args(Int(1), Int(1)).Rets(true),
		tt.Args(Int(1), Int(2)).Rets(false),
		tt.Args(Int(1), Float(1)).Rets(false),
		tt.Args(Str("a"), Str("a")).Rets(true),
		tt.Args(Str("a"), Sym("a")).Rets(false),
		tt.Args(Null{}, Null{}).Rets(true),
		tt.Args(Bool(true), Bool(true)).Rets(true),
		tt.Args(List{Int(1), Str("x")}, List{Int(1), Str("x")}).Rets(true),
		tt.Args(List{Int(1)}, List{Int(1), Int(2)}).Rets(false),
		tt.Args(Record{"a": Int(1)}, Record{"a": Int(1)}).Rets(true),
		tt.Args(Record{"a": Int(1)}, Record{"b": Int(1)}).Rets(false),
		tt.Args(FutureRef{ID: 3}, FutureRef{ID: 3}).Rets(true),
		tt.Args(FuncRef{Name: "f", Arity: 1}, FuncRef{Name: "f", Arity: 1}).Rets(true),
		tt.Args(FuncRef{Name: "f", Arity: 1}, ForeignRef{Name: "f", Arity: 1}).Rets(false),
	})
}

func TestTruth(t *testing.T) {
	tt.Test(t, tt.Fn("Truth", Truth), tt.Table{
		tt.Args(Bool(false)).Rets(false),
		tt.Args(Null{}).Rets(false),
		tt.Args(Bool(true)).Rets(true),
		tt.Args(Int(0)).Rets(true),
		tt.Args(Str("")).Rets(true),
		tt.Args(List{}).Rets(true),
	})
}

func TestRepr(t *testing.T) {
	tt.Test(t, tt.Fn("Repr", Repr), tt.Table{
		tt.Args(Int(42)).Rets("42"),
		tt.Args(Int(-1)).Rets("-1"),
		tt.Args(Float(2.5)).Rets("2.5"),
		tt.Args(Float(3)).Rets("3.0"),
		tt.Args(Bool(true)).Rets("true"),
		tt.Args(Str("hi")).Rets(`"hi"`),
		tt.Args(Sym("name")).Rets("name"),
		tt.Args(Null{}).Rets("null"),
		tt.Args(List{Int(1), Int(2), Int(3)}).Rets("[1 2 3]"),
		tt.Args(Record{"b": Int(2), "a": Int(1)}).Rets("[&a=1 &b=2]"),
		tt.Args(FuncRef{Name: "add1", Arity: 1}).Rets("<fn add1/1>"),
		tt.Args(FutureRef{ID: 7}).Rets("<future 7>"),
	})
}

func TestToString(t *testing.T) {
	tt.Test(t, tt.Fn("ToString", ToString), tt.Table{
		tt.Args(Str("hi")).Rets("hi"),
		tt.Args(Int(5)).Rets("5"),
		tt.Args(List{Str("a")}).Rets(`["a"]`),
	})
}

func TestValueCodecRoundTrip(t *testing.T) {
	values := []Value{
		Int(-7),
		Float(1.25),
		Bool(true),
		Str("hello"),
		Sym("key"),
		Null{},
		FuncRef{Name: "f", Arity: 2},
		ForeignRef{Name: "mod/fn", Arity: 1},
		FutureRef{ID: 12},
		List{Int(1), List{Str("nested")}, Null{}},
		Record{"xs": List{Int(1), Int(2)}, "n": Int(3)},
		Err{ErrKind: "division-by-zero", Message: "division by zero",
			Origin: 2, Trail: []uint64{1}},
	}
	for _, v := range values {
		data, err := MarshalValue(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", Repr(v), err)
		}
		back, err := UnmarshalValue(data)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", Repr(v), err)
		}
		if !Equal(v, back) {
			t.Errorf("round trip %s -> %s", Repr(v), Repr(back))
		}
	}
}

func TestUnmarshalValueRejectsUnknownTag(t *testing.T) {
	if _, err := UnmarshalValue([]byte(`{"t":"widget"}`)); err == nil {
		t.Errorf("unknown tag accepted")
	}
}
