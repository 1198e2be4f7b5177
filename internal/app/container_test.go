package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geofix/internal/cache"
	"geofix/internal/config"
	"geofix/internal/locerr"
	"geofix/internal/model"
	"geofix/internal/permission"
	"geofix/internal/platform"
)

func baseConfig() config.Config {
	return config.Config{
		CacheMaxSize:           16,
		CacheTTL:               time.Minute,
		CacheSweepInterval:     time.Hour,
		CacheBackend:           config.BackendMemory,
		PermissionPollInterval: time.Hour,
	}
}

func staticProvider(lat, lng float64, ct model.CoordType) platform.LocationProvider {
	return platform.ProviderFunc(func(context.Context, platform.Options) (platform.RawFix, error) {
		return platform.RawFix{Latitude: lat, Longitude: lng, AccuracyMeters: 10, CoordType: ct}, nil
	})
}

func TestContainerLocateAndCache(t *testing.T) {
	c := New(baseConfig(), Deps{Provider: staticProvider(40.7128, -74.006, model.WGS84)})
	defer c.Close()
	c.Start(context.Background())

	fix, err := c.Locate(context.Background(), model.Balanced)
	require.NoError(t, err)
	assert.Equal(t, 40.7128, fix.Point.Latitude)
	assert.Equal(t, permission.Granted, c.Permission.Current())

	cached, err := c.Locate(context.Background(), model.CacheFirst)
	require.NoError(t, err)
	assert.Equal(t, fix, cached)
}

func TestContainerStrategyTimeoutOverride(t *testing.T) {
	cfg := baseConfig()
	cfg.StrategyTimeouts = map[model.Strategy]time.Duration{model.LowPower: 30 * time.Millisecond}
	block := make(chan struct{})
	defer close(block)
	p := platform.ProviderFunc(func(context.Context, platform.Options) (platform.RawFix, error) {
		<-block
		return platform.RawFix{}, nil
	})
	c := New(cfg, Deps{Provider: p})
	defer c.Close()

	got, ok := c.Engine.Config(model.LowPower)
	require.True(t, ok)
	assert.Equal(t, 30*time.Millisecond, got.Timeout)

	_, err := c.Locate(context.Background(), model.LowPower)
	assert.ErrorIs(t, err, locerr.ErrTimeout)
}

func TestContainerDeniedByStaticPermission(t *testing.T) {
	c := New(baseConfig(), Deps{
		Provider:      staticProvider(1, 1, model.WGS84),
		PermissionAPI: platform.StaticPermission{State: platform.AuthDenied},
	})
	defer c.Close()
	_, err := c.Locate(context.Background(), model.HighAccuracy)
	assert.ErrorIs(t, err, locerr.ErrPermissionDenied)
}

func TestRouterPrefersCoarseForLowPower(t *testing.T) {
	var hits []string
	bridgeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "bridge")
		_ = json.NewEncoder(w).Encode(platform.RawFix{Latitude: 1, Longitude: 1, CoordType: model.WGS84})
	}))
	defer bridgeSrv.Close()
	bridge := platform.NewBridge(bridgeSrv.URL, bridgeSrv.Client())
	coarse := platform.ProviderFunc(func(context.Context, platform.Options) (platform.RawFix, error) {
		hits = append(hits, "coarse")
		return platform.RawFix{Latitude: 2, Longitude: 2, CoordType: model.WGS84}, nil
	})

	r := Router(bridge, coarse)
	fix, err := r.GetLocation(context.Background(), platform.Options{Power: platform.PowerLow})
	require.NoError(t, err)
	assert.Equal(t, 2.0, fix.Latitude)
	fix, err = r.GetLocation(context.Background(), platform.Options{Power: platform.PowerHigh})
	require.NoError(t, err)
	assert.Equal(t, 1.0, fix.Latitude)
	assert.Equal(t, []string{"coarse", "bridge"}, hits)

	assert.Nil(t, Router(nil))
	assert.Same(t, bridge, Router(bridge))
	only := Router(nil, coarse)
	fix, err = only.GetLocation(context.Background(), platform.Options{Power: platform.PowerHigh})
	require.NoError(t, err)
	assert.Equal(t, 2.0, fix.Latitude)
}

func TestBuildWithFileBackendRestoresAcrossRestarts(t *testing.T) {
	cfg := baseConfig()
	cfg.CacheBackend = config.BackendFile
	cfg.CacheFile = filepath.Join(t.TempDir(), "cache.json")

	first, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	first.Cache.Put(cache.LastKnownKey, model.LocationFix{Point: model.GeoPoint{Latitude: 22.54, Longitude: 114.05}})
	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer second.Close()
	second.Start(context.Background())
	fix, err := second.Locate(context.Background(), model.CacheFirst)
	require.NoError(t, err)
	assert.Equal(t, 22.54, fix.Point.Latitude)

	// 无任何提供方：缓存未命中时报告服务不可用
	second.Cache.Clear()
	_, err = second.Locate(context.Background(), model.Balanced)
	assert.ErrorIs(t, err, locerr.ErrServiceDisabled)
}

func TestBuildWithRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_HOST", mr.Host())
	t.Setenv("REDIS_PORT", mr.Port())
	cfg := baseConfig()
	cfg.CacheBackend = config.BackendRedis

	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	c.Cache.Put(cache.LastKnownKey, model.LocationFix{Point: model.GeoPoint{Latitude: 1, Longitude: 2}})
	assert.Len(t, mr.Keys(), 1)
	require.NoError(t, c.Close())
}

func TestBuildFailsWhenRedisUnreachable(t *testing.T) {
	t.Setenv("REDIS_HOST", "127.0.0.1")
	t.Setenv("REDIS_PORT", "1")
	cfg := baseConfig()
	cfg.CacheBackend = config.BackendRedis
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildWithBridgeSkipsUnhealthyDevice(t *testing.T) {
	var down atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("/permission", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"authorized"}`))
	})
	mux.HandleFunc("/location", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(platform.RawFix{Latitude: 39.9087, Longitude: 116.3975, AccuracyMeters: 8})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := baseConfig()
	cfg.BridgeEndpoint = srv.URL
	cfg.BridgeHeartbeatInterval = 20 * time.Millisecond
	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	fix, err := c.Locate(context.Background(), model.HighAccuracy)
	require.NoError(t, err)
	// 设备返回 GCJ02，输出为 WGS84
	assert.InDelta(t, 39.9073, fix.Point.Latitude, 0.001)

	down.Store(true)
	assert.Eventually(t, func() bool {
		_, err := c.Locate(context.Background(), model.Balanced)
		return errors.Is(err, locerr.ErrNetwork)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBuildWithBridgeEmptyFixIsNotCached(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/permission", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"authorized"}`))
	})
	mux.HandleFunc("/location", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := baseConfig()
	cfg.BridgeEndpoint = srv.URL
	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Locate(context.Background(), model.Balanced)
	require.Error(t, err)
	assert.Equal(t, 0, c.Cache.Stats().Size)

	_, err = c.Locate(context.Background(), model.CacheFirst)
	assert.Error(t, err)
	assert.Equal(t, 0, c.Cache.Stats().Size)
}
