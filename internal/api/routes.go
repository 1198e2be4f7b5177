// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"geofix/internal/cache"
	"geofix/internal/coord"
	"geofix/internal/locerr"
	"geofix/internal/logger"
	"geofix/internal/middleware"
	"geofix/internal/model"
	"geofix/internal/permission"
	"geofix/internal/version"
)

// Locator：按策略获取一次定位
type Locator interface {
	Locate(ctx context.Context, s model.Strategy) (model.LocationFix, error)
}

// Permissions：授权状态查询与申请
type Permissions interface {
	Current() permission.Status
	CheckPermission(ctx context.Context) permission.Status
	RequestPermission(ctx context.Context, opts permission.RequestOptions) permission.Status
}

// CacheAdmin：缓存观测与清理
type CacheAdmin interface {
	Stats() cache.Stats
	Keys() []string
	Clear()
}

// Deps：路由依赖；Limiter 为空时不限流
type Deps struct {
	Locator     Locator
	Permissions Permissions
	Cache       CacheAdmin
	Limiter     *middleware.Limiter
}

type locationResult struct {
	model.LocationFix
	CoordType model.CoordType `json:"coord_type"`
}

type errorBody struct {
	Kind        locerr.Kind        `json:"kind"`
	Message     string             `json:"message"`
	Remediation locerr.Remediation `json:"remediation"`
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	apiMux := http.NewServeMux()

	var loc http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		s, err := model.ParseStrategy(q.Get("strategy"))
		if err != nil {
			writeError(w, locerr.Wrap(locerr.UnknownError, err.Error(), err), http.StatusBadRequest)
			return
		}
		to := model.WGS84
		if v := q.Get("to"); v != "" {
			if to, err = model.ParseCoordType(v); err != nil {
				writeError(w, locerr.Wrap(locerr.UnknownError, err.Error(), err), http.StatusBadRequest)
				return
			}
		}
		fix, err := d.Locator.Locate(r.Context(), s)
		if err != nil {
			writeLocErr(w, err)
			return
		}
		fix.Point = coord.Convert(fix.Point, model.WGS84, to)
		writeJSON(w, http.StatusOK, locationResult{LocationFix: fix, CoordType: to})
	})
	if d.Limiter != nil {
		loc = d.Limiter.Wrap(loc)
	}
	apiMux.Handle("/location", loc)

	apiMux.HandleFunc("/permission", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		st := d.Permissions.Current()
		if truthy(r.URL.Query().Get("refresh")) {
			st = d.Permissions.CheckPermission(r.Context())
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": st})
	})

	apiMux.HandleFunc("/permission/request", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		q := r.URL.Query()
		opts := permission.RequestOptions{ForceRequest: truthy(q.Get("force")), ShowGuide: truthy(q.Get("guide"))}
		st := d.Permissions.RequestPermission(r.Context(), opts)
		writeJSON(w, http.StatusOK, map[string]any{"status": st, "granted": st == permission.Granted})
	})

	apiMux.HandleFunc("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		s := d.Cache.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"size":     s.Size,
			"max_size": s.MaxSize,
			"ttl_ms":   s.TTL.Milliseconds(),
			"keys":     d.Cache.Keys(),
		})
	})

	apiMux.HandleFunc("/cache", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodDelete) {
			return
		}
		d.Cache.Clear()
		logger.L().Info("cache_cleared", "by", middleware.ClientIP(r, false))
		w.Header().Set("cache-control", "no-store")
		w.WriteHeader(http.StatusNoContent)
	})

	apiMux.HandleFunc("/transform", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		p, ok := pointParam(q.Get("lat"), q.Get("lng"))
		if !ok {
			writeLocErr(w, locerr.New(locerr.InvalidCoordinates, "lat/lng must be finite and in range"))
			return
		}
		from, to := model.WGS84, model.GCJ02
		var err error
		if v := q.Get("from"); v != "" {
			from, err = model.ParseCoordType(v)
		}
		if v := q.Get("to"); v != "" && err == nil {
			to, err = model.ParseCoordType(v)
		}
		if err != nil {
			writeError(w, locerr.Wrap(locerr.UnknownError, err.Error(), err), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"point":      coord.Convert(p, from, to),
			"coord_type": to,
			"out_of_cn":  coord.OutOfChina(p.Latitude, p.Longitude),
		})
	})

	apiMux.HandleFunc("/distance", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		a, okA := pointParam(q.Get("lat1"), q.Get("lng1"))
		b, okB := pointParam(q.Get("lat2"), q.Get("lng2"))
		if !okA || !okB {
			writeLocErr(w, locerr.New(locerr.InvalidCoordinates, "lat/lng must be finite and in range"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"meters": math.Round(coord.HaversineMeters(a, b)*100) / 100})
	})

	apiMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.String()})
	})

	return apiMux
}

// StatusFor：错误种类到 HTTP 状态码
func StatusFor(k locerr.Kind) int {
	switch k {
	case locerr.PermissionDenied:
		return http.StatusForbidden
	case locerr.ServiceDisabled:
		return http.StatusServiceUnavailable
	case locerr.Timeout:
		return http.StatusGatewayTimeout
	case locerr.NetworkError:
		return http.StatusBadGateway
	case locerr.InvalidCoordinates:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeLocErr(w http.ResponseWriter, err error) {
	e := locerr.Classify(err)
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
	}
	writeError(w, e, StatusFor(e.Kind))
}

func writeError(w http.ResponseWriter, e *locerr.Error, status int) {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	writeJSON(w, status, errorBody{Kind: e.Kind, Message: msg, Remediation: e.Kind.Remediation()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Debug("response_write_error", "err", err)
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	w.Header().Set("Allow", method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

func pointParam(lat, lng string) (model.GeoPoint, bool) {
	la, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	ln, err2 := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err1 != nil || err2 != nil {
		return model.GeoPoint{}, false
	}
	p := model.GeoPoint{Latitude: la, Longitude: ln}
	return p, p.Valid()
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
