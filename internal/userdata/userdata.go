// Package userdata supplies optional payer fields for outbound pay
// forms. The gateway adapters filter what they forward through their
// own allowlists, so a provider may return anything it knows about the
// order.
package userdata

import "context"

// Provider looks up payer fields for an order. Implementations return
// an empty map when nothing is known; an error aborts the initiation.
type Provider interface {
	ProvideUserFields(ctx context.Context, orderID int64) (map[string]string, error)
}

// Static serves the same fields for every order. Useful for fixed
// deployment-wide values and in tests.
type Static map[string]string

func (s Static) ProvideUserFields(ctx context.Context, orderID int64) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// None never supplies any fields.
type None struct{}

func (None) ProvideUserFields(ctx context.Context, orderID int64) (map[string]string, error) {
	return map[string]string{}, nil
}
