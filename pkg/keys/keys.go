// Package keys normalizes secp256k1 public key identities. External sources
// report the same validator key in compressed (33-byte) or uncompressed
// (64/65-byte) hex, with or without 0x/04 prefixes; comparing for identity
// must not depend on which form a source happens to emit.
package keys

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const (
	compressedHexLen         = 66
	uncompressedBodyHexLen   = 128
	uncompressedPrefixHexLen = 130
)

// Normalize parses a public key in any accepted hex form and returns its
// canonical compressed hex representation (33 bytes, 02/03 prefix).
func Normalize(key string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "0x")

	switch {
	case len(k) == compressedHexLen && (strings.HasPrefix(k, "02") || strings.HasPrefix(k, "03")):
		raw, err := hex.DecodeString(k)
		if err != nil {
			return "", errors.Wrap(err, "invalid compressed key hex")
		}
		pub, err := crypto.DecompressPubkey(raw)
		if err != nil {
			return "", errors.Wrap(err, "invalid compressed key")
		}
		return hex.EncodeToString(crypto.CompressPubkey(pub)), nil

	case len(k) == uncompressedPrefixHexLen && strings.HasPrefix(k, "04"),
		len(k) == uncompressedBodyHexLen:
		if len(k) == uncompressedBodyHexLen {
			k = "04" + k
		}
		raw, err := hex.DecodeString(k)
		if err != nil {
			return "", errors.Wrap(err, "invalid uncompressed key hex")
		}
		pub, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return "", errors.Wrap(err, "invalid uncompressed key")
		}
		return hex.EncodeToString(crypto.CompressPubkey(pub)), nil
	}

	return "", errors.Errorf("unrecognized public key format (%d hex chars)", len(k))
}

// Match reports whether two keys identify the same secp256k1 point,
// tolerating format differences between them. When either side cannot be
// parsed as a curve point, it falls back to prefix-stripped string equality
// so a malformed source entry can still match itself exactly.
func Match(a, b string) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA == nil && errB == nil {
		return na == nb
	}

	sa := stripPrefixes(a)
	sb := stripPrefixes(b)
	return sa != "" && sa == sb
}

func stripPrefixes(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "0x")
	if len(k) == uncompressedPrefixHexLen && strings.HasPrefix(k, "04") {
		k = k[2:]
	}
	return k
}
