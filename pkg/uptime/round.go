package uptime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/monad-tools/activeset-monitor/pkg/types"
)

// RoundReference is the best-estimate current consensus round for a network,
// used as the yardstick for active-set membership.
type RoundReference struct {
	Network    types.Network
	Round      int64
	ObservedAt time.Time
	Provenance types.Provenance
}

// ActiveHinter names currently-active participants on an independent source,
// letting the resolver answer with a single uptime query instead of probing
// the full reference list on a rate-limited endpoint.
type ActiveHinter interface {
	ActiveValidatorIndex(ctx context.Context, network types.Network) (int, bool)
	TopStakeIndices(ctx context.Context, network types.Network, n int) []int
}

// RoundResolver produces the network round reference, caching one entry per
// network. Resolution order: fresh cache, hinted single-validator query,
// reference-set query (max of successes), stale cache.
type RoundResolver struct {
	config Config
	logger *zap.Logger
	caller caller
	hinter ActiveHinter

	mu     sync.Mutex
	rounds map[types.Network]RoundReference
}

func NewRoundResolver(config Config, caller caller, hinter ActiveHinter, logger *zap.Logger) *RoundResolver {
	return &RoundResolver{
		config: config,
		logger: logger,
		caller: caller,
		hinter: hinter,
		rounds: make(map[types.Network]RoundReference),
	}
}

// Current resolves the round reference for a network. ok is false only when
// every strategy failed and the cache has never been populated.
func (r *RoundResolver) Current(ctx context.Context, network types.Network) (round int64, provenance types.Provenance, ok bool) {
	logger := r.logger.Sugar()

	if ref, hit := r.cached(network); hit && time.Since(ref.ObservedAt) < r.config.RoundCacheTTL {
		return ref.Round, types.ProvenanceCached, true
	}

	if round, ok := r.resolveViaHint(ctx, network); ok {
		r.store(network, round)
		return round, types.ProvenanceFresh, true
	}

	if round, ok := r.resolveViaReferences(ctx, network); ok {
		r.store(network, round)
		return round, types.ProvenanceFresh, true
	}

	// Every query failed: fall back to whatever the cache holds, however
	// stale, before giving up.
	if ref, hit := r.cached(network); hit {
		logger.Warnw("all round reference queries failed, using stale cached round",
			"network", network, "round", ref.Round, "age", time.Since(ref.ObservedAt))
		return ref.Round, types.ProvenanceCached, true
	}
	return 0, "", false
}

// CachedReference exposes the stored reference for status reporting.
func (r *RoundResolver) CachedReference(network types.Network) (RoundReference, bool) {
	return r.cached(network)
}

func (r *RoundResolver) cached(network types.Network) (RoundReference, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.rounds[network]
	return ref, ok
}

func (r *RoundResolver) store(network types.Network, round int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.rounds[network]; ok && round < previous.Round {
		// Tolerated: a stale fallback may have primed the cache ahead of a
		// laggy fresh observation. Overwrite rather than correct.
		r.logger.Sugar().Debugw("network round regressed",
			"network", network, "previous", previous.Round, "round", round)
	}
	r.rounds[network] = RoundReference{
		Network:    network,
		Round:      round,
		ObservedAt: time.Now(),
		Provenance: types.ProvenanceFresh,
	}
}

func (r *RoundResolver) resolveViaHint(ctx context.Context, network types.Network) (int64, bool) {
	if r.hinter == nil {
		return 0, false
	}
	index, ok := r.hinter.ActiveValidatorIndex(ctx, network)
	if !ok {
		return 0, false
	}

	logger := r.logger.Sugar()
	payload, err := fetchUptime(ctx, r.caller, r.config, network, itoa(index))
	if err != nil {
		logger.Debugw("hinted round query failed, falling back to reference set",
			"network", network, "index", index, "error", err)
		return 0, false
	}
	if payload.LastRound == nil {
		return 0, false
	}
	logger.Debugw("resolved network round from hinted validator",
		"network", network, "index", index, "round", *payload.LastRound)
	return *payload.LastRound, true
}

func (r *RoundResolver) resolveViaReferences(ctx context.Context, network types.Network) (int64, bool) {
	logger := r.logger.Sugar()

	references := r.referenceIndices(ctx, network)
	var rounds []int64
	for _, index := range references {
		payload, err := fetchUptime(ctx, r.caller, r.config, network, itoa(index))
		if err != nil {
			logger.Debugw("reference validator query failed",
				"network", network, "index", index, "error", err)
			continue
		}
		if payload.LastRound != nil {
			rounds = append(rounds, *payload.LastRound)
		}
	}
	if len(rounds) == 0 {
		return 0, false
	}

	// The most advanced honest observer dominates: laggards under-report.
	max := rounds[0]
	for _, round := range rounds[1:] {
		if round > max {
			max = round
		}
	}
	logger.Debugw("resolved network round from reference set",
		"network", network, "round", max, "responses", len(rounds), "queried", len(references))
	return max, true
}

func (r *RoundResolver) referenceIndices(ctx context.Context, network types.Network) []int {
	if configured := r.config.ReferenceIndices[network]; len(configured) > 0 {
		return configured
	}
	if r.hinter != nil {
		if ranked := r.hinter.TopStakeIndices(ctx, network, defaultReferenceCount); len(ranked) > 0 {
			return ranked
		}
	}
	return defaultReferenceIndices
}
