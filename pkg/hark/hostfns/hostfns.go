// Package hostfns registers the host procedures that ship with the hark
// binary. Embedding programs register their own procedures directly on a
// foreign.Registry instead.
package hostfns

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/hark-lang/hark/pkg/hark/foreign"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// RegisterAll adds all built-in host procedures to the registry.
func RegisterAll(reg *foreign.Registry) {
	reg.Register("pysrc.main/random_sleep", 2, randomSleep)
}

// randomSleep sleeps between min and max seconds and returns 0.
func randomSleep(call foreign.Call) (vals.Value, error) {
	min, ok1 := asSeconds(call.Args[0])
	max, ok2 := asSeconds(call.Args[1])
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("random_sleep wants two numbers")
	}
	if max > min {
		min += rand.Float64() * (max - min)
	}
	time.Sleep(time.Duration(min * float64(time.Second)))
	return vals.Int(0), nil
}

func asSeconds(v vals.Value) (float64, bool) {
	switch v := v.(type) {
	case vals.Int:
		return float64(v), true
	case vals.Float:
		return float64(v), true
	}
	return 0, false
}
