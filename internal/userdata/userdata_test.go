package userdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	p := Static{"email": "payer@example.com"}

	fields, err := p.ProvideUserFields(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "payer@example.com", fields["email"])

	// Mutating the result must not leak back into the provider.
	fields["email"] = "other@example.com"
	again, err := p.ProvideUserFields(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "payer@example.com", again["email"])
}

func TestNone(t *testing.T) {
	fields, err := None{}.ProvideUserFields(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, fields)
}
