package sign

import (
	"crypto/sha256"
	"hash"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenDeterministic(t *testing.T) {
	f := Fields{
		"pg_salt":   Scalar("qwertyuiop"),
		"pg_amount": Scalar("100.00"),
		"pg_ps_additional_data": Nested{
			"inner_b": Scalar("2"),
			"inner_a": Scalar("1"),
		},
	}

	first, err := Flatten(f, DefaultMaxDepth)
	require.NoError(t, err)
	second, err := Flatten(f, DefaultMaxDepth)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFlattenNestedSplice(t *testing.T) {
	f := Fields{
		"b": Scalar("2"),
		"a": Nested{
			"y": Scalar("9"),
			"x": Scalar("8"),
		},
		"c": Scalar("3"),
	}

	pairs, err := Flatten(f, DefaultMaxDepth)
	require.NoError(t, err)

	// Nested keys replace the parent key's slot in sorted order and are
	// not re-sorted against the outer level.
	expected := []Pair{
		{Key: "x", Value: "8"},
		{Key: "y", Value: "9"},
		{Key: "b", Value: "2"},
		{Key: "c", Value: "3"},
	}
	assert.Equal(t, expected, pairs)
}

func TestFlattenDepthLimit(t *testing.T) {
	f := Fields{
		"outer": Nested{
			"middle": Nested{
				"leaf": Scalar("v"),
			},
		},
	}

	_, err := Flatten(f, 2)
	assert.ErrorIs(t, err, ErrTooDeep)

	pairs, err := Flatten(f, 3)
	require.NoError(t, err)
	assert.Equal(t, []Pair{{Key: "leaf", Value: "v"}}, pairs)
}

// Digests below were produced by gateways already in production; the
// recipes must reproduce them exactly.
func TestComputeKnownDigests(t *testing.T) {
	t.Run("ScriptPrefixedCanonicalOrder", func(t *testing.T) {
		f := Fields{
			"pg_salt":           Scalar("qwertyuiop"),
			"pg_order_id":       Scalar("1234"),
			"pg_payment_id":     Scalar("567890"),
			"pg_payment_system": Scalar("WEBMONEYR"),
			"pg_amount":         Scalar("100.00"),
			"pg_currency":       Scalar("RUR"),
			"pg_ps_currency":    Scalar("RUR"),
			"pg_ps_amount":      Scalar("100.00"),
			"pg_ps_full_amount": Scalar("100.00"),
			"uservar1":          Scalar("121212"),
		}
		r := Recipe{Separator: ";", Prefix: "check"}

		digest, err := Compute(f, r, "AAAAAAAA")
		require.NoError(t, err)
		assert.Equal(t, "ed57bad3c1b30649033bb7b3e3d33b86", digest)
	})

	t.Run("NamedFieldList", func(t *testing.T) {
		f := FromMap(map[string]string{
			"command":        "CHECK",
			"id":             "1234",
			"transaction_id": "1234",
			"operation_id":   "5678",
			"amount":         "123.00",
			"currency_code":  "RUB",
			"test_mode":      "0",
		})
		r := Recipe{Fields: []string{
			"command", "id", "transaction_id", "operation_id",
			"amount", "currency_code", "test_mode",
		}}

		digest, err := Compute(f, r, "AAAAAAAA")
		require.NoError(t, err)
		assert.Equal(t, "102153d9e5b8e97e7f0d608448e3e18f", digest)
	})

	t.Run("ConcatenatedNamedFields", func(t *testing.T) {
		f := FromMap(map[string]string{
			"id":        "1234",
			"tr_id":     "1",
			"tr_amount": "123.45",
			"crc":       "1",
		})
		r := Recipe{Fields: []string{"id", "tr_id", "tr_amount", "crc"}}

		digest, err := Compute(f, r, "AAAAAAAA")
		require.NoError(t, err)
		assert.Equal(t, "21b028c2dbdcb9ca272d1cc67ed0574e", digest)
	})
}

func TestNamedFieldsMissingBecomeEmpty(t *testing.T) {
	r := Recipe{Fields: []string{"a", "b", "c"}}

	withEmpty, err := Compute(FromMap(map[string]string{"a": "1", "b": "", "c": "3"}), r, "key")
	require.NoError(t, err)
	withMissing, err := Compute(FromMap(map[string]string{"a": "1", "c": "3"}), r, "key")
	require.NoError(t, err)

	assert.Equal(t, withEmpty, withMissing)
}

func TestVerifyRoundTrip(t *testing.T) {
	recipes := map[string]Recipe{
		"canonical":  {Separator: ";", Prefix: "result"},
		"named":      {Fields: []string{"id", "amount", "currency"}},
		"sha256": {
			Fields: []string{"id", "amount"},
			New:    func() hash.Hash { return sha256.New() },
		},
	}
	f := FromMap(map[string]string{
		"id":       "42",
		"amount":   "99.90",
		"currency": "PLN",
	})

	for name, r := range recipes {
		t.Run(name, func(t *testing.T) {
			digest, err := Compute(f, r, "s3cret")
			require.NoError(t, err)

			ok, err := Verify(f, r, "s3cret", digest)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestVerifyTamper(t *testing.T) {
	r := Recipe{Separator: ";"}
	f := FromMap(map[string]string{"order": "17", "amount": "55.00"})

	digest, err := Compute(f, r, "s3cret")
	require.NoError(t, err)

	t.Run("TamperedField", func(t *testing.T) {
		tampered := f.Clone()
		tampered["amount"] = Scalar("56.00")

		ok, err := Verify(tampered, r, "s3cret", digest)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TamperedDigest", func(t *testing.T) {
		for i := range digest {
			flipped := []byte(digest)
			flipped[i] ^= 1

			ok, err := Verify(f, r, "s3cret", string(flipped))
			require.NoError(t, err)
			assert.False(t, ok)
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		ok, err := Verify(f, r, "other", digest)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
