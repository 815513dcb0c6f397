package vals

import (
	"encoding/json"
	"fmt"
)

// Values cross two wire boundaries: bbolt record payloads and JSON-RPC
// parameters. Both are JSON, so values marshal to a small tagged union.
type wireValue struct {
	T     string               `json:"t"`
	Int   int64                `json:"i,omitempty"`
	Float float64              `json:"f,omitempty"`
	Bool  bool                 `json:"b,omitempty"`
	Str   string               `json:"s,omitempty"`
	List  []wireValue          `json:"l,omitempty"`
	Rec   map[string]wireValue `json:"r,omitempty"`
	Name  string               `json:"n,omitempty"`
	Arity int                  `json:"a,omitempty"`
	ID    uint64               `json:"id,omitempty"`
	Kind  string               `json:"k,omitempty"`
	Msg   string               `json:"m,omitempty"`
	Trail []uint64             `json:"tr,omitempty"`
}

// MarshalValue encodes a value to JSON. A nil Value encodes as Null.
func MarshalValue(v Value) ([]byte, error) {
	return json.Marshal(toWire(v))
}

// UnmarshalValue decodes a value encoded by MarshalValue.
func UnmarshalValue(data []byte) (Value, error) {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return fromWire(w)
}

func toWire(v Value) wireValue {
	switch v := v.(type) {
	case nil:
		return wireValue{T: "null"}
	case Int:
		return wireValue{T: "int", Int: int64(v)}
	case Float:
		return wireValue{T: "float", Float: float64(v)}
	case Bool:
		return wireValue{T: "bool", Bool: bool(v)}
	case Str:
		return wireValue{T: "str", Str: string(v)}
	case Sym:
		return wireValue{T: "sym", Str: string(v)}
	case List:
		elems := make([]wireValue, len(v))
		for i, elem := range v {
			elems[i] = toWire(elem)
		}
		return wireValue{T: "list", List: elems}
	case Record:
		fields := make(map[string]wireValue, len(v))
		for k, f := range v {
			fields[k] = toWire(f)
		}
		return wireValue{T: "record", Rec: fields}
	case FuncRef:
		return wireValue{T: "fn", Name: v.Name, Arity: v.Arity}
	case ForeignRef:
		return wireValue{T: "foreign", Name: v.Name, Arity: v.Arity}
	case FutureRef:
		return wireValue{T: "future", ID: v.ID}
	case Null:
		return wireValue{T: "null"}
	case Err:
		return wireValue{T: "error", Kind: v.ErrKind, Msg: v.Message,
			ID: v.Origin, Trail: v.Trail}
	default:
		// Unreachable for values built by the runtime.
		return wireValue{T: "null"}
	}
}

func fromWire(w wireValue) (Value, error) {
	switch w.T {
	case "int":
		return Int(w.Int), nil
	case "float":
		return Float(w.Float), nil
	case "bool":
		return Bool(w.Bool), nil
	case "str":
		return Str(w.Str), nil
	case "sym":
		return Sym(w.Str), nil
	case "list":
		elems := make(List, len(w.List))
		for i, elem := range w.List {
			v, err := fromWire(elem)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return elems, nil
	case "record":
		fields := make(Record, len(w.Rec))
		for k, f := range w.Rec {
			v, err := fromWire(f)
			if err != nil {
				return nil, err
			}
			fields[k] = v
		}
		return fields, nil
	case "fn":
		return FuncRef{Name: w.Name, Arity: w.Arity}, nil
	case "foreign":
		return ForeignRef{Name: w.Name, Arity: w.Arity}, nil
	case "future":
		return FutureRef{ID: w.ID}, nil
	case "null", "":
		return Null{}, nil
	case "error":
		return Err{ErrKind: w.Kind, Message: w.Msg, Origin: w.ID, Trail: w.Trail}, nil
	default:
		return nil, fmt.Errorf("unknown value tag %q", w.T)
	}
}

// Box wraps a Value so that it can be embedded in JSON-encoded records.
type Box struct{ V Value }

// MarshalJSON encodes the boxed value; a zero Box encodes as Null.
func (b Box) MarshalJSON() ([]byte, error) { return MarshalValue(b.V) }

// UnmarshalJSON decodes into the boxed value.
func (b *Box) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	b.V = v
	return nil
}
