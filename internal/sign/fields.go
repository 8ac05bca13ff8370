package sign

import (
	"errors"
	"sort"
)

// DefaultMaxDepth bounds recursion when flattening nested fields.
const DefaultMaxDepth = 2

var ErrTooDeep = errors.New("field nesting too deep")

// Fields is a named set of values taken from or destined for the wire.
type Fields map[string]Value

// Value is either a Scalar or a Nested sub-map.
type Value interface {
	fieldValue()
}

type Scalar string

func (Scalar) fieldValue() {}

type Nested Fields

func (Nested) fieldValue() {}

// Pair is one flattened (key, value) entry in canonical order.
type Pair struct {
	Key   string
	Value string
}

// FromMap wraps a plain string map as scalar fields.
func FromMap(m map[string]string) Fields {
	f := make(Fields, len(m))
	for k, v := range m {
		f[k] = Scalar(v)
	}
	return f
}

// Clone returns a shallow copy. Adapters use it to drop the signature
// field from a payload before recomputing the digest.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Scalar returns the scalar value under key, or empty string when the
// key is absent or holds a nested map.
func (f Fields) Scalar(key string) string {
	if v, ok := f[key]; ok {
		if s, ok := v.(Scalar); ok {
			return string(s)
		}
	}
	return ""
}

// Flatten produces the canonical ordered sequence of (key, value) pairs.
//
// Keys sort lexicographically byte-wise. A nested map is flattened
// recursively and its ordered keys are spliced into the position its
// parent key occupied, without re-sorting across levels. This order
// must match the gateway's own canonicalization exactly.
func Flatten(f Fields, maxDepth int) ([]Pair, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	flat, order, err := flatten(f, 1, maxDepth)
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(order))
	for _, k := range order {
		pairs = append(pairs, Pair{Key: k, Value: flat[k]})
	}
	return pairs, nil
}

func flatten(f Fields, depth, maxDepth int) (map[string]string, []string, error) {
	order := make([]string, 0, len(f))
	for k := range f {
		order = append(order, k)
	}
	sort.Strings(order)

	flat := make(map[string]string, len(f))
	for k, v := range f {
		switch v := v.(type) {
		case Nested:
			if depth >= maxDepth {
				return nil, nil, ErrTooDeep
			}
			deepFlat, deepOrder, err := flatten(Fields(v), depth+1, maxDepth)
			if err != nil {
				return nil, nil, err
			}
			for dk, dv := range deepFlat {
				flat[dk] = dv
			}
			i := indexOf(order, k)
			spliced := make([]string, 0, len(order)-1+len(deepOrder))
			spliced = append(spliced, order[:i]...)
			spliced = append(spliced, deepOrder...)
			spliced = append(spliced, order[i+1:]...)
			order = spliced
		case Scalar:
			flat[k] = string(v)
		}
	}
	return flat, order, nil
}

func indexOf(s []string, key string) int {
	for i, v := range s {
		if v == key {
			return i
		}
	}
	return -1
}
