package keys

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// Deterministic keypair so the compressed/uncompressed fixtures are stable.
func testKeyForms(t *testing.T) (compressed, uncompressed, uncompressedBody string) {
	t.Helper()
	priv, err := crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)

	compressed = hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey))
	uncompressed = hex.EncodeToString(crypto.FromECDSAPub(&priv.PublicKey))
	uncompressedBody = uncompressed[2:]
	return
}

func TestNormalizeAcceptsAllForms(t *testing.T) {
	compressed, uncompressed, body := testKeyForms(t)

	for _, input := range []string{
		compressed,
		"0x" + compressed,
		uncompressed,
		"0x" + uncompressed,
		body,
	} {
		normalized, err := Normalize(input)
		require.NoError(t, err, "input %s", input)
		require.Equal(t, compressed, normalized)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "0x", "deadbeef", "02zz"} {
		_, err := Normalize(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestMatchAcrossFormats(t *testing.T) {
	compressed, uncompressed, body := testKeyForms(t)

	require.True(t, Match(compressed, uncompressed))
	require.True(t, Match(uncompressed, compressed))
	require.True(t, Match("0x"+compressed, body))
	require.True(t, Match(body, "0x04"+body))
	require.True(t, Match(compressed, compressed))
}

func TestMatchDistinctKeys(t *testing.T) {
	compressed, _, _ := testKeyForms(t)

	other, err := crypto.HexToECDSA("8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a")
	require.NoError(t, err)
	otherCompressed := hex.EncodeToString(crypto.CompressPubkey(&other.PublicKey))

	require.False(t, Match(compressed, otherCompressed))
}

func TestMatchFallbackForUnparseableKeys(t *testing.T) {
	// Identical malformed entries still match themselves, but format alone
	// never makes two different strings equal.
	require.True(t, Match("not-a-key", "not-a-key"))
	require.False(t, Match("not-a-key", "also-not-a-key"))
	require.False(t, Match("", ""))
}
