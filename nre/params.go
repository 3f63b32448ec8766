package nre

import (
	"fmt"
	"sort"
)

type selectorKind int

const (
	selectAll selectorKind = iota
	selectByIndex
	selectByName
)

// ParamSelector picks a subset of parameters either by index or by name.
// The zero value selects every parameter. Resolve turns it into indices once;
// nothing downstream inspects the selector again.
type ParamSelector struct {
	kind    selectorKind
	indices []int
	names   []string
}

// AllParams selects every parameter.
func AllParams() ParamSelector {
	return ParamSelector{}
}

// ByIndex selects parameters by position.
func ByIndex(indices ...int) ParamSelector {
	return ParamSelector{kind: selectByIndex, indices: append([]int(nil), indices...)}
}

// ByName selects parameters by name.
func ByName(names ...string) ParamSelector {
	return ParamSelector{kind: selectByName, names: append([]string(nil), names...)}
}

// Resolve returns the ascending, de-duplicated indices the selector names.
// paramNames may be nil when the selector is not name-based.
func (s ParamSelector) Resolve(dim int, paramNames []string) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	add := func(i int) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	switch s.kind {
	case selectByIndex:
		for _, i := range s.indices {
			if i < 0 || i >= dim {
				return nil, fmt.Errorf("parameter index %d out of range [0, %d)", i, dim)
			}
			add(i)
		}
	case selectByName:
		lookup := make(map[string]int, len(paramNames))
		for i, n := range paramNames {
			lookup[n] = i
		}
		for _, n := range s.names {
			i, ok := lookup[n]
			if !ok {
				return nil, fmt.Errorf("unknown parameter name %q; known: %v", n, paramNames)
			}
			if i >= dim {
				return nil, fmt.Errorf("parameter %q has index %d beyond dim %d", n, i, dim)
			}
			add(i)
		}
	default:
		for i := 0; i < dim; i++ {
			add(i)
		}
	}
	sort.Ints(out)
	return out, nil
}

// String describes the selector.
func (s ParamSelector) String() string {
	switch s.kind {
	case selectByIndex:
		return fmt.Sprintf("index%v", s.indices)
	case selectByName:
		return fmt.Sprintf("name%v", s.names)
	default:
		return "all"
	}
}
