package registry

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/monad-tools/activeset-monitor/pkg/types"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(&Config{
		BaseURL:  server.URL,
		CacheTTL: time.Minute,
		Timeout:  time.Second,
	}, zap.NewNop())
	return client, server
}

func epochPayload(entries string) string {
	return fmt.Sprintf(`{"success":true,"data":[%s]}`, entries)
}

func TestEpochValidatorsParsesStakeFormats(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/validators/epoch", r.URL.Path)
		require.Equal(t, "testnet", r.URL.Query().Get("network"))
		_, _ = w.Write([]byte(epochPayload(
			`{"node_id":"aa","val_index":1,"stake":"1000.5","commission":5,"validator_set_type":"active"},
			 {"node_id":"bb","val_index":2,"stake":2000,"commission":"2.5","validator_set_type":"pending"}`,
		)))
	}))

	validators, err := client.EpochValidators(context.Background(), types.NetworkTestnet)
	require.NoError(t, err)
	require.Len(t, validators, 2)
	require.Equal(t, 1000.5, validators[0].Stake)
	require.Equal(t, 5.0, validators[0].Commission)
	require.True(t, validators[0].Active())
	require.Equal(t, 2000.0, validators[1].Stake)
	require.False(t, validators[1].Active())
}

func TestEpochValidatorsCachesAndFallsBack(t *testing.T) {
	var calls, failing int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if atomic.LoadInt32(&failing) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(epochPayload(`{"node_id":"aa","val_index":7,"stake":"1","commission":0,"validator_set_type":"active"}`)))
	}))

	first, err := client.EpochValidators(context.Background(), types.NetworkTestnet)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Served from cache, no second call.
	_, err = client.EpochValidators(context.Background(), types.NetworkTestnet)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Expire the cache, break the server: the stale set is still returned.
	client.config.CacheTTL = 0
	atomic.StoreInt32(&failing, 1)
	stale, err := client.EpochValidators(context.Background(), types.NetworkTestnet)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, 7, stale[0].ValIndex)
}

func TestIsValidatorActiveNormalizesKeyFormats(t *testing.T) {
	priv, err := crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)
	compressed := hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey))
	uncompressed := hex.EncodeToString(crypto.FromECDSAPub(&priv.PublicKey))

	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(epochPayload(fmt.Sprintf(
			`{"node_id":"%s","val_index":3,"stake":"1","commission":0,"validator_set_type":"active"}`, uncompressed))))
	}))

	// Configured compressed key vs. uncompressed node_id must still match.
	active, known := client.IsValidatorActive(context.Background(), "0x"+compressed, types.NetworkTestnet)
	require.True(t, known)
	require.True(t, active)

	_, known = client.IsValidatorActive(context.Background(), "deadbeef", types.NetworkTestnet)
	require.False(t, known)
}

func TestIsValidatorActiveUnknownWhenUnavailable(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, known := client.IsValidatorActive(context.Background(), "aabb", types.NetworkTestnet)
	require.False(t, known)
}

func TestActiveValidatorIndexAndTopStake(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(epochPayload(
			`{"node_id":"aa","val_index":1,"stake":"100","commission":0,"validator_set_type":"pending"},
			 {"node_id":"bb","val_index":2,"stake":"500","commission":0,"validator_set_type":"active"},
			 {"node_id":"cc","val_index":3,"stake":"900","commission":0,"validator_set_type":"active"},
			 {"node_id":"dd","val_index":4,"stake":"300","commission":0,"validator_set_type":"active"}`,
		)))
	}))

	index, ok := client.ActiveValidatorIndex(context.Background(), types.NetworkTestnet)
	require.True(t, ok)
	require.Equal(t, 2, index)

	require.Equal(t, 3, client.ActiveValidatorCount(context.Background(), types.NetworkTestnet))
	require.Equal(t, []int{3, 2}, client.TopStakeIndices(context.Background(), types.NetworkTestnet, 2))
	require.Equal(t, []int{3, 2, 4}, client.TopStakeIndices(context.Background(), types.NetworkTestnet, 10))
}

func TestConfigSectionOmittingEnabledStaysEnabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(epochPayload(`{"node_id":"aa","val_index":1,"stake":"1","commission":0,"validator_set_type":"active"}`)))
	}))
	t.Cleanup(server.Close)

	// A config section that tunes other fields without mentioning `enabled`
	// must not silently disable the source.
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte("cache_ttl: 1m"), &cfg))
	cfg.BaseURL = server.URL
	client := NewClient(&cfg, zap.NewNop())

	require.True(t, client.Enabled())
	require.Equal(t, time.Minute, client.config.CacheTTL)
	validators, err := client.EpochValidators(context.Background(), types.NetworkTestnet)
	require.NoError(t, err)
	require.Len(t, validators, 1)
}

func TestEpochValidatorsDisabledReturnsError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(epochPayload(`{"node_id":"aa","val_index":1,"stake":"1","commission":0,"validator_set_type":"active"}`)))
	}))
	disabled := false
	client.config.Enabled = &disabled

	require.False(t, client.Enabled())
	_, err := client.EpochValidators(context.Background(), types.NetworkTestnet)
	require.Error(t, err)
}
