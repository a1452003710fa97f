package types

import "strings"

// Network identifies which chain deployment a validator belongs to. Caches
// and circuit breakers are tracked independently per network.
type Network string

const (
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

// ParseNetwork normalizes a network name, defaulting to testnet for
// unknown or missing values.
func ParseNetwork(s string) Network {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NetworkMainnet):
		return NetworkMainnet
	default:
		return NetworkTestnet
	}
}

func (n Network) String() string {
	return string(n)
}

// Confidence describes how trustworthy a computed status is, based on data
// freshness and source agreement.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// Provenance records whether a cached value was computed this cycle or
// retained from a prior, possibly stale, one.
type Provenance string

const (
	ProvenanceFresh  Provenance = "fresh"
	ProvenanceCached Provenance = "cached"
)
