package vals

// Equal returns whether two values are structurally equal. Lists and records
// are compared element-wise; reference values are equal when they refer to
// the same identifier.
func Equal(x, y Value) bool {
	switch x := x.(type) {
	case nil:
		return y == nil
	case Int:
		return x == y
	case Float:
		return x == y
	case Bool:
		return x == y
	case Str:
		return x == y
	case Sym:
		return x == y
	case List:
		yy, ok := y.(List)
		if !ok || len(x) != len(yy) {
			return false
		}
		for i, elem := range x {
			if !Equal(elem, yy[i]) {
				return false
			}
		}
		return true
	case Record:
		yy, ok := y.(Record)
		if !ok || len(x) != len(yy) {
			return false
		}
		for k, v := range x {
			w, ok := yy[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case FuncRef:
		return x == y
	case ForeignRef:
		return x == y
	case FutureRef:
		return x == y
	case Null:
		_, ok := y.(Null)
		return ok
	case Err:
		yy, ok := y.(Err)
		return ok && x.ErrKind == yy.ErrKind && x.Message == yy.Message &&
			x.Origin == yy.Origin
	default:
		return false
	}
}
