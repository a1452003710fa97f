// Package uptime implements the client for the primary validator telemetry
// source: a per-network REST API reporting each validator's consensus
// participation record. It owns the network round reference and the
// per-validator active-set status determination.
package uptime

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/monad-tools/activeset-monitor/pkg/resilient"
	"github.com/monad-tools/activeset-monitor/pkg/types"
)

// DefaultActiveSetRoundThreshold is the number of rounds a validator may lag
// the network reference before it is considered out of the active set
// (~3 hours of rounds).
const DefaultActiveSetRoundThreshold int64 = 10000

const (
	defaultStatusCacheTTL = time.Hour
	defaultRoundCacheTTL  = 5 * time.Minute
	defaultReferenceCount = 5
	statusCacheSize       = 512
)

var DefaultEndpoints = map[types.Network]string{
	types.NetworkTestnet: "https://validator-api-testnet.huginn.tech/monad-api",
	types.NetworkMainnet: "https://validator-api.huginn.tech/monad-api",
}

// Reference participants queried for the network round when neither config
// nor the hinter provides a list: the top entries by stake.
var defaultReferenceIndices = []int{1, 2, 3, 4, 5}

// Config tunes the client. Enabled is a pointer so a config section that
// sets other fields but omits `enabled` still defaults to enabled.
type Config struct {
	Endpoints        map[types.Network]string `yaml:"endpoints"`
	Enabled          *bool                    `yaml:"enabled"`
	CacheTTL         time.Duration            `yaml:"cache_ttl"`
	RoundCacheTTL    time.Duration            `yaml:"round_cache_ttl"`
	RoundThreshold   int64                    `yaml:"round_threshold"`
	ReferenceIndices map[types.Network][]int  `yaml:"reference_indices"`
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Enabled == nil {
		enabled := true
		out.Enabled = &enabled
	}
	if out.Endpoints == nil {
		out.Endpoints = DefaultEndpoints
	}
	if out.CacheTTL == 0 {
		out.CacheTTL = defaultStatusCacheTTL
	}
	if out.RoundCacheTTL == 0 {
		out.RoundCacheTTL = defaultRoundCacheTTL
	}
	if out.RoundThreshold == 0 {
		out.RoundThreshold = DefaultActiveSetRoundThreshold
	}
	return out
}

// Endpoint returns the API base URL for a network, defaulting to the testnet
// endpoint for unknown networks.
func (c Config) Endpoint(network types.Network) string {
	if endpoint, ok := c.Endpoints[network]; ok {
		return endpoint
	}
	if endpoint, ok := c.Endpoints[types.NetworkTestnet]; ok {
		return endpoint
	}
	return DefaultEndpoints[types.NetworkTestnet]
}

type caller interface {
	Get(ctx context.Context, key string, url string) (*resilient.Response, error)
}

// StatusRecord is the computed active-set status of one validator on one
// network, cached per (network, validator key).
type StatusRecord struct {
	Network      types.Network
	ValidatorKey string

	ValidatorID   *int
	ValidatorName string

	IsActive     bool
	IsEverActive bool

	UptimePercent   float64
	FinalizedCount  int64
	TimeoutCount    int64
	TotalEvents     int64
	LastRound       *int64
	LastBlockHeight *int64
	SinceUTC        string

	RoundDiff    *int64
	NetworkRound *int64
	Confidence   types.Confidence
	FetchedAt    time.Time
}

type statusKey struct {
	network      types.Network
	validatorKey string
}

// Client resolves per-validator active-set status from the primary source,
// guarded by the resilient caller and backed by a TTL cache keyed on
// (network, validator key).
type Client struct {
	config Config
	logger *zap.Logger
	caller caller
	rounds *RoundResolver

	statusCache *lru.Cache
}

func NewClient(config *Config, apiCaller *resilient.Caller, hinter ActiveHinter, logger *zap.Logger) *Client {
	cfg := config.withDefaults()
	cache, _ := lru.New(statusCacheSize)
	return &Client{
		config:      cfg,
		logger:      logger,
		caller:      apiCaller,
		rounds:      NewRoundResolver(cfg, apiCaller, hinter, logger),
		statusCache: cache,
	}
}

// Rounds exposes the round resolver for status reporting.
func (c *Client) Rounds() *RoundResolver {
	return c.rounds
}

// GetStatus returns the validator's status record, served from cache inside
// the TTL. On total failure of the validator's own query it degrades to the
// previous cached record if any, else nil. It never returns an error: every
// failure path resolves to stale data or nil.
func (c *Client) GetStatus(ctx context.Context, validatorKey string, network types.Network) *StatusRecord {
	logger := c.logger.Sugar()

	if !*c.config.Enabled || validatorKey == "" {
		return nil
	}

	key := statusKey{network: network, validatorKey: strings.ToLower(validatorKey)}
	if record, ok := c.cachedStatus(key); ok && time.Since(record.FetchedAt) < c.config.CacheTTL {
		return record
	}

	networkRound, provenance, haveRound := c.rounds.Current(ctx, network)

	payload, err := fetchUptime(ctx, c.caller, c.config, network, validatorKey)
	if err != nil {
		logger.Warnw("could not fetch validator uptime",
			"network", network, "validator", abbreviate(validatorKey), "error", err)
		if record, ok := c.cachedStatus(key); ok {
			return record
		}
		return nil
	}

	record := c.buildRecord(validatorKey, network, payload, networkRound, provenance, haveRound)
	c.statusCache.Add(key, record)
	return record
}

func (c *Client) cachedStatus(key statusKey) (*StatusRecord, bool) {
	value, ok := c.statusCache.Get(key)
	if !ok {
		return nil, false
	}
	record, ok := value.(*StatusRecord)
	return record, ok
}

func (c *Client) buildRecord(validatorKey string, network types.Network, payload *uptimePayload, networkRound int64, provenance types.Provenance, haveRound bool) *StatusRecord {
	logger := c.logger.Sugar()

	record := &StatusRecord{
		Network:         network,
		ValidatorKey:    validatorKey,
		ValidatorID:     payload.ValidatorID,
		ValidatorName:   payload.ValidatorName,
		IsEverActive:    payload.TotalEvents > 0,
		FinalizedCount:  payload.FinalizedCount,
		TimeoutCount:    payload.TimeoutCount,
		TotalEvents:     payload.TotalEvents,
		LastRound:       payload.LastRound,
		LastBlockHeight: payload.LastBlockHeight,
		SinceUTC:        payload.SinceUTC,
		Confidence:      types.ConfidenceHigh,
		FetchedAt:       time.Now(),
	}
	if payload.TotalEvents > 0 {
		record.UptimePercent = roundTwoPlaces(float64(payload.FinalizedCount) / float64(payload.TotalEvents) * 100)
	}

	switch {
	case haveRound && payload.LastRound != nil:
		diff := networkRound - *payload.LastRound
		record.RoundDiff = &diff
		record.NetworkRound = &networkRound
		record.IsActive = diff <= c.config.RoundThreshold
		if provenance == types.ProvenanceCached {
			record.Confidence = types.ConfidenceMedium
		}
	case record.IsEverActive:
		// No yardstick to compare against: never assume active. The status
		// is genuinely indeterminate for a validator that has participated.
		record.IsActive = false
		record.Confidence = types.ConfidenceUnknown
		logger.Debugw("cannot determine active status without a network round",
			"network", network, "validator", abbreviate(validatorKey))
	default:
		// Never participated: a plain negative with whatever confidence the
		// round lookup implies.
		record.IsActive = false
		if haveRound && provenance == types.ProvenanceCached {
			record.Confidence = types.ConfidenceMedium
		}
	}
	return record
}

// BreakerState reports the circuit breaker state for a network's endpoint,
// for metrics and the status surface.
func (c *Client) BreakerState(network types.Network) (resilient.BreakerState, int) {
	apiCaller, ok := c.caller.(*resilient.Caller)
	if !ok {
		return resilient.StateClosed, 0
	}
	breaker := apiCaller.Breaker(network.String())
	return breaker.State(), breaker.FailureCount()
}

type uptimePayload struct {
	ValidatorID     *int   `json:"validator_id"`
	ValidatorName   string `json:"validator_name"`
	LastRound       *int64 `json:"last_round"`
	FinalizedCount  int64  `json:"finalized_count"`
	TimeoutCount    int64  `json:"timeout_count"`
	TotalEvents     int64  `json:"total_events"`
	LastBlockHeight *int64 `json:"last_block_height"`
	SinceUTC        string `json:"since_utc"`
}

type uptimeResponse struct {
	Success bool           `json:"success"`
	Uptime  *uptimePayload `json:"uptime"`
}

// fetchUptime queries one validator's uptime record by id or address. The
// circuit breaker key is the network, so testnet and mainnet trip
// independently.
func fetchUptime(ctx context.Context, apiCaller caller, config Config, network types.Network, idOrAddress string) (*uptimePayload, error) {
	url := config.Endpoint(network) + "/validator/uptime/" + idOrAddress

	response, err := apiCaller.Get(ctx, network.String(), url)
	if err != nil {
		return nil, err
	}
	if response.StatusCode == http.StatusTooManyRequests {
		return nil, errors.New("rate limited")
	}
	if response.StatusCode != http.StatusOK {
		return nil, errors.Errorf("uptime endpoint returned HTTP %d", response.StatusCode)
	}

	var payload uptimeResponse
	if err := json.Unmarshal(response.Body, &payload); err != nil {
		return nil, errors.Wrap(err, "could not decode uptime response")
	}
	if !payload.Success || payload.Uptime == nil {
		return nil, errors.New("uptime response missing data")
	}
	return payload.Uptime, nil
}

func itoa(index int) string {
	return strconv.Itoa(index)
}

func roundTwoPlaces(value float64) float64 {
	return math.Round(value*100) / 100
}

func abbreviate(key string) string {
	if len(key) <= 16 {
		return key
	}
	return key[:16] + "..."
}
