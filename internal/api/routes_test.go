package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geofix/internal/cache"
	"geofix/internal/locerr"
	"geofix/internal/middleware"
	"geofix/internal/model"
	"geofix/internal/permission"
)

type fakeLocator struct {
	fix  model.LocationFix
	err  error
	seen []model.Strategy
}

func (f *fakeLocator) Locate(_ context.Context, s model.Strategy) (model.LocationFix, error) {
	f.seen = append(f.seen, s)
	return f.fix, f.err
}

type fakePerms struct {
	current, checked, requested permission.Status
	lastOpts                    permission.RequestOptions
}

func (f *fakePerms) Current() permission.Status { return f.current }
func (f *fakePerms) CheckPermission(context.Context) permission.Status { return f.checked }
func (f *fakePerms) RequestPermission(_ context.Context, o permission.RequestOptions) permission.Status {
	f.lastOpts = o
	return f.requested
}

func newDeps() (Deps, *fakeLocator, *fakePerms, *cache.LRU) {
	loc := &fakeLocator{fix: model.LocationFix{
		Point:             model.GeoPoint{Latitude: 39.9087, Longitude: 116.3975},
		AccuracyMeters:    15,
		CapturedAtEpochMs: 1_700_000_000_000,
		Source:            model.Balanced,
	}}
	perms := &fakePerms{current: permission.NotDetermined, checked: permission.Granted, requested: permission.Denied}
	lru := cache.New(cache.Options{MaxSize: 4, TTL: time.Minute})
	return Deps{Locator: loc, Permissions: perms, Cache: lru}, loc, perms, lru
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var body map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr, body
}

func TestLocationRoute(t *testing.T) {
	d, loc, _, _ := newDeps()
	h := BuildRoutes(d)

	rr, body := do(t, h, http.MethodGet, "/location?strategy=highAccuracy")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("cache-control"))
	assert.Equal(t, "balanced", body["source"])
	assert.Equal(t, "wgs84", body["coord_type"])
	assert.Equal(t, 39.9087, body["point"].(map[string]any)["latitude"])
	assert.Equal(t, []model.Strategy{model.HighAccuracy}, loc.seen)

	rr, body = do(t, h, http.MethodGet, "/location?to=gcj02")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gcj02", body["coord_type"])
	assert.NotEqual(t, 39.9087, body["point"].(map[string]any)["latitude"])

	rr, _ = do(t, h, http.MethodGet, "/location?strategy=warp")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = do(t, h, http.MethodPost, "/location")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodGet, rr.Header().Get("Allow"))
}

func TestLocationErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
		remedy string
	}{
		{locerr.New(locerr.PermissionDenied, "denied"), http.StatusForbidden, "PERMISSION_DENIED", "settings"},
		{locerr.New(locerr.ServiceDisabled, "off"), http.StatusServiceUnavailable, "SERVICE_DISABLED", "settings"},
		{locerr.New(locerr.Timeout, ""), http.StatusGatewayTimeout, "TIMEOUT", "retry"},
		{locerr.New(locerr.NetworkError, "offline"), http.StatusBadGateway, "NETWORK_ERROR", "retry"},
		{locerr.New(locerr.InvalidCoordinates, "nan"), http.StatusUnprocessableEntity, "INVALID_COORDINATES", "generic"},
		{context.Canceled, http.StatusInternalServerError, "UNKNOWN_ERROR", "generic"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			d, loc, _, _ := newDeps()
			loc.err = tc.err
			rr, body := do(t, BuildRoutes(d), http.MethodGet, "/location")
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.kind, body["kind"])
			assert.Equal(t, tc.remedy, body["remediation"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestLocationRetryAfter(t *testing.T) {
	d, loc, _, _ := newDeps()
	loc.err = &locerr.Error{Kind: locerr.Timeout, Message: "slow", RetryAfter: 1500 * time.Millisecond}
	rr, _ := do(t, BuildRoutes(d), http.MethodGet, "/location")
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}

func TestLocationRateLimited(t *testing.T) {
	d, _, _, _ := newDeps()
	d.Limiter = middleware.NewLimiter(0.001, 1)
	h := BuildRoutes(d)
	rr, _ := do(t, h, http.MethodGet, "/location")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = do(t, h, http.MethodGet, "/location")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	// 其余路由不限流
	rr, _ = do(t, h, http.MethodGet, "/permission")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPermissionRoutes(t *testing.T) {
	d, _, perms, _ := newDeps()
	h := BuildRoutes(d)

	_, body := do(t, h, http.MethodGet, "/permission")
	assert.Equal(t, "not_determined", body["status"])
	_, body = do(t, h, http.MethodGet, "/permission?refresh=true")
	assert.Equal(t, "granted", body["status"])

	rr, body := do(t, h, http.MethodPost, "/permission/request?force=1&guide=true")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "denied", body["status"])
	assert.Equal(t, false, body["granted"])
	assert.Equal(t, permission.RequestOptions{ForceRequest: true, ShowGuide: true}, perms.lastOpts)

	rr, _ = do(t, h, http.MethodGet, "/permission/request")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCacheRoutes(t *testing.T) {
	d, _, _, lru := newDeps()
	h := BuildRoutes(d)
	lru.Put(cache.LastKnownKey, model.LocationFix{Point: model.GeoPoint{Latitude: 1, Longitude: 1}})

	_, body := do(t, h, http.MethodGet, "/cache/stats")
	assert.Equal(t, float64(1), body["size"])
	assert.Equal(t, float64(4), body["max_size"])
	assert.Equal(t, float64(60000), body["ttl_ms"])
	assert.Equal(t, []any{cache.LastKnownKey}, body["keys"])

	rr, _ := do(t, h, http.MethodDelete, "/cache")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Zero(t, lru.Stats().Size)
}

func TestTransformRoute(t *testing.T) {
	h := BuildRoutes(Deps{})

	rr, body := do(t, h, http.MethodGet, "/transform?lat=39.9087&lng=116.3975&from=gcj02&to=wgs84")
	require.Equal(t, http.StatusOK, rr.Code)
	p := body["point"].(map[string]any)
	assert.InDelta(t, 39.9073, p["latitude"], 0.001)
	assert.InDelta(t, 116.3913, p["longitude"], 0.001)
	assert.Equal(t, "wgs84", body["coord_type"])
	assert.Equal(t, false, body["out_of_cn"])

	// 境外坐标原样返回
	_, body = do(t, h, http.MethodGet, "/transform?lat=40.7128&lng=-74.006")
	p = body["point"].(map[string]any)
	assert.Equal(t, 40.7128, p["latitude"])
	assert.Equal(t, true, body["out_of_cn"])

	rr, body = do(t, h, http.MethodGet, "/transform?lat=91&lng=0")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "INVALID_COORDINATES", body["kind"])

	rr, _ = do(t, h, http.MethodGet, "/transform?lat=1&lng=1&from=utm")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDistanceAndHealth(t *testing.T) {
	h := BuildRoutes(Deps{})
	rr, body := do(t, h, http.MethodGet, "/distance?lat1=39.9087&lng1=116.3975&lat2=31.2304&lng2=121.4737")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.InDelta(t, 1_067_000, body["meters"], 5_000)

	rr, _ = do(t, h, http.MethodGet, "/distance?lat1=NaN&lng1=0&lat2=0&lng2=0")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	_, body = do(t, h, http.MethodGet, "/health")
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(locerr.GeocodingFailed))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(locerr.CacheExpired))
}
