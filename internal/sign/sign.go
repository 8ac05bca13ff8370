package sign

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// Recipe describes how a backend feeds fields into its digest.
//
// The zero recipe signs every present field in canonical order with no
// separator and the legacy md5 primitive. Deployed gateways validate
// these digests byte-for-byte, so a recipe must never change once a
// backend is live; stronger hashes go in as new recipes via New.
type Recipe struct {
	// Fields is the explicit ordered field list. A named field absent
	// from the payload contributes an empty string. Empty list means
	// canonical order over all present fields.
	Fields []string

	// Separator is written after the prefix and after every field value.
	Separator string

	// Prefix is a leading token, e.g. the gateway script name.
	Prefix string

	// New returns the digest primitive. Defaults to md5 for legacy
	// compatibility.
	New func() hash.Hash

	// MaxDepth bounds nested-field recursion during canonicalization.
	MaxDepth int
}

func (r Recipe) newHash() hash.Hash {
	if r.New != nil {
		return r.New()
	}
	return md5.New()
}

// Compute returns the hex digest over the canonicalized fields plus secret.
func Compute(f Fields, r Recipe, secret string) (string, error) {
	var b strings.Builder

	if r.Prefix != "" {
		b.WriteString(r.Prefix)
		b.WriteString(r.Separator)
	}

	if len(r.Fields) == 0 {
		pairs, err := Flatten(f, r.MaxDepth)
		if err != nil {
			return "", err
		}
		for _, p := range pairs {
			b.WriteString(p.Value)
			b.WriteString(r.Separator)
		}
	} else {
		for _, name := range r.Fields {
			b.WriteString(f.Scalar(name))
			b.WriteString(r.Separator)
		}
	}

	b.WriteString(secret)

	h := r.newHash()
	h.Write([]byte(b.String()))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the digest and compares it against the claimed one.
// The comparison is constant-time; a mismatch must not leak how many
// leading bytes matched.
func Verify(f Fields, r Recipe, secret, claimed string) (bool, error) {
	expected, err := Compute(f, r, secret)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(claimed)) == 1, nil
}
