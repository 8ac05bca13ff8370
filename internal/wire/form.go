package wire

import (
	"fmt"
	"net/url"

	"github.com/hoongun/getpaid/internal/sign"
)

// Schema declares the keys a flat form body may carry. Anything outside
// the declared set is rejected rather than silently accepted.
type Schema struct {
	Required []string
	Optional []string
}

func (s Schema) allows(key string) bool {
	for _, k := range s.Required {
		if k == key {
			return true
		}
	}
	for _, k := range s.Optional {
		if k == key {
			return true
		}
	}
	return false
}

// ParseForm validates form values against the schema and returns them as
// canonical fields. Multi-valued keys keep their first value.
func ParseForm(values url.Values, s Schema) (sign.Fields, error) {
	for _, k := range s.Required {
		if _, ok := values[k]; !ok {
			return nil, fmt.Errorf("%w: missing required key %q", ErrMalformed, k)
		}
	}
	for k := range values {
		if !s.allows(k) {
			return nil, fmt.Errorf("%w: unexpected key %q", ErrMalformed, k)
		}
	}

	f := make(sign.Fields, len(values))
	for k, vs := range values {
		f[k] = sign.Scalar(vs[0])
	}
	return f, nil
}

// EncodeForm serializes flat fields back into form values. Nested fields
// have no flat form representation.
func EncodeForm(f sign.Fields) (url.Values, error) {
	values := make(url.Values, len(f))
	for k, v := range f {
		s, ok := v.(sign.Scalar)
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not a scalar", ErrMalformed, k)
		}
		values.Set(k, string(s))
	}
	return values, nil
}
