package uptime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/monad-tools/activeset-monitor/pkg/resilient"
	"github.com/monad-tools/activeset-monitor/pkg/types"
)

const testValidatorKey = "02a1b2c3d4e5f60718293a4b5c6d7e8f9102a1b2c3d4e5f60718293a4b5c6d7e8f"

func uptimeBody(lastRound int64, totalEvents int64) string {
	return fmt.Sprintf(
		`{"success":true,"uptime":{"validator_id":42,"validator_name":"node","last_round":%d,"finalized_count":%d,"timeout_count":1,"total_events":%d,"last_block_height":900,"since_utc":"2026-01-01T00:00:00Z"}}`,
		lastRound, totalEvents-1, totalEvents)
}

// uptimeHandler serves /validator/uptime/{id}; ids absent from the table get
// a 503 so the resilient caller treats them as failed references.
func uptimeHandler(responses map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/validator/uptime/"):]
		body, ok := responses[id]
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(body))
	})
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	apiCaller := resilient.NewCaller(&resilient.Config{
		Timeout:          time.Second,
		RetryAttempts:    2,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    2 * time.Millisecond,
		FailureThreshold: 100,
		RecoveryTime:     time.Minute,
	}, zap.NewNop())

	return NewClient(&Config{
		Endpoints: map[types.Network]string{
			types.NetworkTestnet: server.URL,
			types.NetworkMainnet: server.URL,
		},
		CacheTTL:       time.Hour,
		RoundCacheTTL:  5 * time.Minute,
		RoundThreshold: 10,
		ReferenceIndices: map[types.Network][]int{
			types.NetworkTestnet: {1, 2, 3, 4, 5},
		},
	}, apiCaller, nil, zap.NewNop())
}

func TestRoundResolutionTakesMaxOfSuccesses(t *testing.T) {
	client := newTestClient(t, uptimeHandler(map[string]string{
		"1": uptimeBody(100, 10),
		"2": uptimeBody(150, 10),
		"3": uptimeBody(120, 10),
		// 4 and 5 fail
	}))

	round, provenance, ok := client.Rounds().Current(context.Background(), types.NetworkTestnet)
	require.True(t, ok)
	require.Equal(t, int64(150), round)
	require.Equal(t, types.ProvenanceFresh, provenance)

	// Second resolution is served from the round cache.
	round, provenance, ok = client.Rounds().Current(context.Background(), types.NetworkTestnet)
	require.True(t, ok)
	require.Equal(t, int64(150), round)
	require.Equal(t, types.ProvenanceCached, provenance)
}

func TestRoundResolutionStaleFallback(t *testing.T) {
	client := newTestClient(t, uptimeHandler(nil))

	resolver := client.Rounds()
	resolver.rounds[types.NetworkTestnet] = RoundReference{
		Network:    types.NetworkTestnet,
		Round:      500,
		ObservedAt: time.Now().Add(-time.Hour),
		Provenance: types.ProvenanceFresh,
	}

	round, provenance, ok := resolver.Current(context.Background(), types.NetworkTestnet)
	require.True(t, ok)
	require.Equal(t, int64(500), round)
	require.Equal(t, types.ProvenanceCached, provenance)
}

func TestRoundResolutionNoDataAtAll(t *testing.T) {
	client := newTestClient(t, uptimeHandler(nil))

	_, _, ok := client.Rounds().Current(context.Background(), types.NetworkTestnet)
	require.False(t, ok)
}

type stubHinter struct {
	index int
	calls int32
}

func (s *stubHinter) ActiveValidatorIndex(ctx context.Context, network types.Network) (int, bool) {
	atomic.AddInt32(&s.calls, 1)
	return s.index, true
}

func (s *stubHinter) TopStakeIndices(ctx context.Context, network types.Network, n int) []int {
	return nil
}

func TestRoundResolutionPrefersHint(t *testing.T) {
	var requests int32
	inner := uptimeHandler(map[string]string{
		"7": uptimeBody(999, 10),
		"1": uptimeBody(100, 10),
	})
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		inner.ServeHTTP(w, r)
	})

	client := newTestClient(t, counted)
	hinter := &stubHinter{index: 7}
	client.rounds.hinter = hinter

	round, provenance, ok := client.Rounds().Current(context.Background(), types.NetworkTestnet)
	require.True(t, ok)
	require.Equal(t, int64(999), round)
	require.Equal(t, types.ProvenanceFresh, provenance)
	// One hinted query instead of the full reference sweep.
	require.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestGetStatusActiveWithFreshRound(t *testing.T) {
	client := newTestClient(t, uptimeHandler(map[string]string{
		"1":              uptimeBody(150, 10),
		testValidatorKey: uptimeBody(145, 100),
	}))

	record := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.NotNil(t, record)
	require.True(t, record.IsActive)
	require.True(t, record.IsEverActive)
	require.NotNil(t, record.RoundDiff)
	require.Equal(t, int64(5), *record.RoundDiff)
	require.Equal(t, types.ConfidenceHigh, record.Confidence)
	require.Equal(t, 99.0, record.UptimePercent)
}

func TestGetStatusMediumConfidenceWithCachedRound(t *testing.T) {
	client := newTestClient(t, uptimeHandler(map[string]string{
		testValidatorKey: uptimeBody(145, 100),
	}))

	client.rounds.rounds[types.NetworkTestnet] = RoundReference{
		Network:    types.NetworkTestnet,
		Round:      150,
		ObservedAt: time.Now(),
		Provenance: types.ProvenanceFresh,
	}

	record := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.NotNil(t, record)
	require.True(t, record.IsActive)
	require.Equal(t, types.ConfidenceMedium, record.Confidence)
}

func TestGetStatusNeverAssumesActiveWithoutRound(t *testing.T) {
	client := newTestClient(t, uptimeHandler(map[string]string{
		testValidatorKey: uptimeBody(145, 100),
	}))

	record := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.NotNil(t, record)
	require.False(t, record.IsActive)
	require.True(t, record.IsEverActive)
	require.Nil(t, record.RoundDiff)
	require.Equal(t, types.ConfidenceUnknown, record.Confidence)
}

func TestGetStatusLaggingValidatorInactive(t *testing.T) {
	client := newTestClient(t, uptimeHandler(map[string]string{
		"1":              uptimeBody(20150, 10),
		testValidatorKey: uptimeBody(100, 100),
	}))

	record := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.NotNil(t, record)
	require.False(t, record.IsActive)
	require.NotNil(t, record.RoundDiff)
	require.Equal(t, int64(20050), *record.RoundDiff)
	require.Equal(t, types.ConfidenceHigh, record.Confidence)
}

func TestGetStatusFallsBackToStaleRecord(t *testing.T) {
	var failing int32
	inner := uptimeHandler(map[string]string{
		"1":              uptimeBody(150, 10),
		testValidatorKey: uptimeBody(145, 100),
	})
	flaky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&failing) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		inner.ServeHTTP(w, r)
	})

	client := newTestClient(t, flaky)
	first := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.NotNil(t, first)

	// Expire the status cache and break the source: the stale record is
	// still returned rather than nil.
	client.config.CacheTTL = 0
	atomic.StoreInt32(&failing, 1)
	stale := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.NotNil(t, stale)
	require.Equal(t, first.FetchedAt, stale.FetchedAt)
}

func TestGetStatusRateLimitedServesStaleWithoutBreakerFailure(t *testing.T) {
	var limited int32
	inner := uptimeHandler(map[string]string{
		"1":              uptimeBody(150, 10),
		testValidatorKey: uptimeBody(145, 100),
	})
	throttled := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&limited) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		inner.ServeHTTP(w, r)
	})

	client := newTestClient(t, throttled)
	first := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.NotNil(t, first)

	// Rate limiting falls back to the cached record and is not an endpoint
	// failure: the circuit breaker must stay closed with a clean count.
	client.config.CacheTTL = 0
	atomic.StoreInt32(&limited, 1)
	stale := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.NotNil(t, stale)
	require.Equal(t, first.FetchedAt, stale.FetchedAt)

	state, failures := client.BreakerState(types.NetworkTestnet)
	require.Equal(t, resilient.StateClosed, state)
	require.Zero(t, failures)
}

func TestConfigSectionOmittingEnabledStaysEnabled(t *testing.T) {
	server := httptest.NewServer(uptimeHandler(map[string]string{
		"1":              uptimeBody(150, 10),
		testValidatorKey: uptimeBody(145, 100),
	}))
	t.Cleanup(server.Close)

	// A config section that tunes other fields without mentioning `enabled`
	// must not silently disable the source.
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte("cache_ttl: 2h"), &cfg))
	cfg.Endpoints = map[types.Network]string{types.NetworkTestnet: server.URL}
	cfg.ReferenceIndices = map[types.Network][]int{types.NetworkTestnet: {1}}

	apiCaller := resilient.NewCaller(&resilient.Config{
		Timeout:        time.Second,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
	}, zap.NewNop())
	client := NewClient(&cfg, apiCaller, nil, zap.NewNop())

	require.Equal(t, 2*time.Hour, client.config.CacheTTL)
	record := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.NotNil(t, record)
	require.True(t, record.IsActive)
}

func TestGetStatusDisabledReturnsNil(t *testing.T) {
	client := newTestClient(t, uptimeHandler(map[string]string{
		"1":              uptimeBody(150, 10),
		testValidatorKey: uptimeBody(145, 100),
	}))
	disabled := false
	client.config.Enabled = &disabled

	require.Nil(t, client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet))
}

func TestGetStatusTotalFailureReturnsNil(t *testing.T) {
	client := newTestClient(t, uptimeHandler(nil))

	record := client.GetStatus(context.Background(), testValidatorKey, types.NetworkTestnet)
	require.Nil(t, record)
}
