package vals

import (
	"sort"
	"strconv"
	"strings"
)

// Repr returns the canonical textual form of a value. The form is used by
// diagnostic traces and, for most variants, by print.
func Repr(v Value) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case Int:
		return strconv.FormatInt(int64(v), 10)
	case Float:
		return formatFloat(float64(v))
	case Bool:
		if v {
			return "true"
		}
		return "false"
	case Str:
		return strconv.Quote(string(v))
	case Sym:
		return string(v)
	case List:
		elems := make([]string, len(v))
		for i, elem := range v {
			elems[i] = Repr(elem)
		}
		return "[" + strings.Join(elems, " ") + "]"
	case Record:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		// Sorted so that the form is deterministic.
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("[")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString("&" + k + "=" + Repr(v[k]))
		}
		sb.WriteString("]")
		return sb.String()
	case FuncRef:
		return "<fn " + v.Name + "/" + strconv.Itoa(v.Arity) + ">"
	case ForeignRef:
		return "<foreign " + v.Name + "/" + strconv.Itoa(v.Arity) + ">"
	case FutureRef:
		return "<future " + strconv.FormatUint(v.ID, 10) + ">"
	case Null:
		return "null"
	case Err:
		return "<error " + v.ErrKind + ": " + v.Message + ">"
	default:
		return "<unknown " + v.Kind() + ">"
	}
}

// ToString converts a value to a string for print: strings are unquoted,
// everything else uses the canonical form.
func ToString(v Value) string {
	if s, ok := v.(Str); ok {
		return string(s)
	}
	return Repr(v)
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// Keep a trailing ".0" so that the form is unambiguous with integers.
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "Inf") && !strings.Contains(s, "NaN") {
		s += ".0"
	}
	return s
}
