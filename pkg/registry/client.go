// Package registry implements the client for the secondary validator-set
// source: a public API that reports the epoch validator set per network.
// It is used to cross-validate the primary uptime source and to hint the
// round reference resolver with a known-active validator.
package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/monad-tools/activeset-monitor/pkg/keys"
	"github.com/monad-tools/activeset-monitor/pkg/types"
)

const DefaultBaseURL = "https://www.gmonads.com/api/v1/public"

const epochCacheSize = 8

// Config tunes the client. Enabled is a pointer so a config section that
// sets other fields but omits `enabled` still defaults to enabled.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	Enabled  *bool         `yaml:"enabled"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
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
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	if out.CacheTTL == 0 {
		out.CacheTTL = 2 * time.Minute
	}
	if out.Timeout == 0 {
		out.Timeout = 10 * time.Second
	}
	return out
}

// EpochValidator is one entry of the epoch validator set.
type EpochValidator struct {
	NodeID     string
	ValIndex   int
	Stake      float64
	Commission float64
	SetType    string
	FetchedAt  time.Time
}

// Active reports whether this entry belongs to the active consensus set.
func (v *EpochValidator) Active() bool {
	return v.SetType == "active"
}

type epochEntry struct {
	validators []EpochValidator
	fetchedAt  time.Time
}

type Client struct {
	config Config
	logger *zap.Logger
	client *http.Client

	epochCache *lru.Cache
}

func NewClient(config *Config, logger *zap.Logger) *Client {
	cache, _ := lru.New(epochCacheSize)
	cfg := config.withDefaults()
	return &Client{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},

		epochCache: cache,
	}
}

// Enabled reports whether the secondary source is configured for use.
func (c *Client) Enabled() bool {
	return *c.config.Enabled
}

// EpochValidators returns the validator set for the network's current epoch,
// served from a TTL cache. On fetch or parse failure it degrades to the last
// cached set (possibly stale) and returns an error only when no cache exists.
func (c *Client) EpochValidators(ctx context.Context, network types.Network) ([]EpochValidator, error) {
	logger := c.logger.Sugar()

	if !*c.config.Enabled {
		return nil, errors.New("registry source disabled")
	}

	if entry, ok := c.cached(network); ok && time.Since(entry.fetchedAt) < c.config.CacheTTL {
		return entry.validators, nil
	}

	validators, err := c.fetchEpochValidators(ctx, network)
	if err != nil {
		logger.Warnw("could not fetch epoch validators", "network", network, "error", err)
		if entry, ok := c.cached(network); ok {
			return entry.validators, nil
		}
		return nil, err
	}

	c.epochCache.Add(network, epochEntry{validators: validators, fetchedAt: time.Now()})
	return validators, nil
}

func (c *Client) cached(network types.Network) (epochEntry, bool) {
	value, ok := c.epochCache.Get(network)
	if !ok {
		return epochEntry{}, false
	}
	entry, ok := value.(epochEntry)
	return entry, ok
}

type epochResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		NodeID     string      `json:"node_id"`
		ValIndex   int         `json:"val_index"`
		Stake      json.Number `json:"stake"`
		Commission json.Number `json:"commission"`
		SetType    string      `json:"validator_set_type"`
	} `json:"data"`
}

func (c *Client) fetchEpochValidators(ctx context.Context, network types.Network) ([]EpochValidator, error) {
	endpoint := c.config.BaseURL + "/validators/epoch?" + url.Values{"network": {network.String()}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("epoch endpoint returned HTTP %d", res.StatusCode)
	}

	var payload epochResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "could not decode epoch response")
	}

	now := time.Now()
	validators := make([]EpochValidator, 0, len(payload.Data))
	for _, item := range payload.Data {
		// Stake and commission arrive as either strings or numbers
		// depending on API version; a value that parses as neither is
		// treated as zero rather than discarding the entry.
		stake, _ := item.Stake.Float64()
		commission, _ := item.Commission.Float64()
		validators = append(validators, EpochValidator{
			NodeID:     item.NodeID,
			ValIndex:   item.ValIndex,
			Stake:      stake,
			Commission: commission,
			SetType:    item.SetType,
			FetchedAt:  now,
		})
	}
	return validators, nil
}

// IsValidatorActive looks up the validator's membership in the active set.
// The second return is false when the verdict is unknowable: the epoch set
// could not be fetched, or the key matches no entry. Key comparison is
// format-normalizing, so a compressed configured key still matches an
// uncompressed node_id.
func (c *Client) IsValidatorActive(ctx context.Context, validatorKey string, network types.Network) (bool, bool) {
	validators, err := c.EpochValidators(ctx, network)
	if err != nil {
		return false, false
	}

	for i := range validators {
		if keys.Match(validatorKey, validators[i].NodeID) {
			return validators[i].Active(), true
		}
	}
	return false, false
}

// ActiveValidatorIndex names one currently-active validator's index, used as
// a hint to resolve the network round with a single uptime query.
func (c *Client) ActiveValidatorIndex(ctx context.Context, network types.Network) (int, bool) {
	validators, err := c.EpochValidators(ctx, network)
	if err != nil {
		return 0, false
	}
	for i := range validators {
		if validators[i].Active() {
			return validators[i].ValIndex, true
		}
	}
	return 0, false
}

// ActiveValidatorCount returns the size of the active set, or 0 when the
// epoch set is unavailable.
func (c *Client) ActiveValidatorCount(ctx context.Context, network types.Network) int {
	validators, err := c.EpochValidators(ctx, network)
	if err != nil {
		return 0
	}
	count := 0
	for i := range validators {
		if validators[i].Active() {
			count++
		}
	}
	return count
}

// TopStakeIndices returns up to n active validator indices ordered by stake,
// highest first. The round resolver uses these as reference participants
// when no fixed list is configured.
func (c *Client) TopStakeIndices(ctx context.Context, network types.Network, n int) []int {
	validators, err := c.EpochValidators(ctx, network)
	if err != nil {
		return nil
	}

	active := make([]EpochValidator, 0, len(validators))
	for i := range validators {
		if validators[i].Active() {
			active = append(active, validators[i])
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Stake > active[j].Stake
	})

	if n > len(active) {
		n = len(active)
	}
	indices := make([]int, 0, n)
	for i := 0; i < n; i++ {
		indices = append(indices, active[i].ValIndex)
	}
	return indices
}
