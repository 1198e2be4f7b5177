// 包 strategy：定位策略引擎
// 背景：同一个“获取位置”请求在不同场景下对精度、耗时与功耗的取舍不同，四种策略各自组合
// 授权闸门、缓存读取、提供方调用、超时、坐标转换与缓存写入
// 约束：超时与提供方竞速只有一个赢家，输家的结果被丢弃且不写缓存；非法坐标绝不入缓存
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"geofix/internal/cache"
	"geofix/internal/coord"
	"geofix/internal/locerr"
	"geofix/internal/logger"
	"geofix/internal/metrics"
	"geofix/internal/model"
	"geofix/internal/permission"
	"geofix/internal/platform"
)

const (
	DefaultTimeout      = 10 * time.Second
	HighAccuracyTimeout = 15 * time.Second
	HighAccuracyExpire  = 3 * time.Second

	// RetryAfterHint：超时与网络类失败建议的重试等待
	RetryAfterHint = 3 * time.Second
)

// Config：单个策略的参数；引擎构造后不可变
type Config struct {
	Timeout            time.Duration
	WantsAltitude      bool
	HighAccuracyExpire time.Duration
	Power              platform.Power
}

// DefaultConfigs：四种策略的默认参数
func DefaultConfigs() map[model.Strategy]Config {
	return map[model.Strategy]Config{
		model.HighAccuracy: {Timeout: HighAccuracyTimeout, WantsAltitude: true, HighAccuracyExpire: HighAccuracyExpire, Power: platform.PowerHigh},
		model.Balanced:     {Timeout: DefaultTimeout, Power: platform.PowerBalanced},
		model.LowPower:     {Timeout: DefaultTimeout, Power: platform.PowerLow},
		model.CacheFirst:   {Timeout: DefaultTimeout, Power: platform.PowerBalanced},
	}
}

// PermissionGate：引擎对授权管理器的最小依赖
type PermissionGate interface {
	EnsurePermission(ctx context.Context, opts permission.RequestOptions) bool
}

type Options struct {
	Provider   platform.LocationProvider
	Permission PermissionGate
	Cache      *cache.LRU
	// Configs 中缺失的策略使用默认值
	Configs        map[model.Strategy]Config
	KeyPerStrategy bool
	Request        permission.RequestOptions
	Clock          cache.Clock
}

type Engine struct {
	provider       platform.LocationProvider
	perm           PermissionGate
	cache          *cache.LRU
	configs        map[model.Strategy]Config
	keyPerStrategy bool
	request        permission.RequestOptions
	now            func() time.Time
	group          singleflight.Group
}

func New(opts Options) *Engine {
	cfgs := DefaultConfigs()
	for s, c := range opts.Configs {
		if c.Timeout <= 0 {
			c.Timeout = cfgs[s].Timeout
		}
		cfgs[s] = c
	}
	now := time.Now
	if opts.Clock != nil {
		now = opts.Clock.Now
	}
	return &Engine{
		provider:       opts.Provider,
		perm:           opts.Permission,
		cache:          opts.Cache,
		configs:        cfgs,
		keyPerStrategy: opts.KeyPerStrategy,
		request:        opts.Request,
		now:            now,
	}
}

// Config：返回策略参数的副本
func (e *Engine) Config(s model.Strategy) (Config, bool) {
	c, ok := e.configs[s]
	return c, ok
}

// Locate：按策略获取一次定位
// 约束：失败一律返回 *locerr.Error；cacheFirst 命中时不触碰授权与提供方
func (e *Engine) Locate(ctx context.Context, s model.Strategy) (model.LocationFix, error) {
	id := uuid.NewString()
	l := logger.L().With("acq_id", id, "strategy", s.String())
	start := time.Now()
	l.Debug("acquire_begin")

	fix, result, err := e.locate(ctx, s, l)
	err = withRetryHint(err)
	dur := time.Since(start)
	metrics.AcquireDurationMs.WithLabelValues(s.String()).Observe(float64(dur.Milliseconds()))
	metrics.AcquireTotal.WithLabelValues(s.String(), result).Inc()
	if err != nil {
		l.Warn("acquire_fail", "kind", result, "err", err, "duration_ms", dur.Milliseconds())
		return model.LocationFix{}, err
	}
	l.Debug("acquire_ok", "source", result, "lat", fix.Point.Latitude, "lng", fix.Point.Longitude, "accuracy_m", fix.AccuracyMeters, "duration_ms", dur.Milliseconds())
	return fix, nil
}

func (e *Engine) locate(ctx context.Context, s model.Strategy, l *slog.Logger) (model.LocationFix, string, error) {
	cfg, ok := e.configs[s]
	if !ok {
		err := locerr.New(locerr.UnknownError, fmt.Sprintf("unknown strategy %s", s))
		return model.LocationFix{}, err.Kind.String(), err
	}
	if s == model.CacheFirst && e.cache != nil {
		if fix, ok := e.cache.Get(cache.LastKnownKey); ok {
			return fix, "cache_hit", nil
		}
		l.Debug("acquire_cache_miss")
	}
	if e.perm != nil && !e.perm.EnsurePermission(ctx, e.request) {
		err := locerr.New(locerr.PermissionDenied, "location permission not granted")
		return model.LocationFix{}, err.Kind.String(), err
	}
	if e.provider == nil {
		err := locerr.New(locerr.ServiceDisabled, "no location provider configured")
		return model.LocationFix{}, err.Kind.String(), err
	}

	ch := e.group.DoChan(s.String(), func() (any, error) {
		return e.fetch(context.WithoutCancel(ctx), s, cfg, l)
	})
	select {
	case r := <-ch:
		if r.Shared {
			metrics.AcquireCoalescedTotal.WithLabelValues(s.String()).Inc()
		}
		if r.Err != nil {
			le := locerr.Classify(r.Err)
			return model.LocationFix{}, le.Kind.String(), le
		}
		return r.Val.(model.LocationFix), "provider", nil
	case <-ctx.Done():
		kind := locerr.UnknownError
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = locerr.Timeout
		}
		err := locerr.Wrap(kind, "acquisition abandoned by caller", ctx.Err())
		return model.LocationFix{}, kind.String(), err
	}
}

type rawResult struct {
	fix platform.RawFix
	err error
}

// fetch：提供方调用与超时竞速；只有赢家路径会写缓存
func (e *Engine) fetch(base context.Context, s model.Strategy, cfg Config, l *slog.Logger) (model.LocationFix, error) {
	ctx, cancel := context.WithTimeout(base, cfg.Timeout)
	defer cancel()

	opts := platform.Options{
		CoordType:          model.GCJ02,
		WantAltitude:       cfg.WantsAltitude,
		HighAccuracyExpire: cfg.HighAccuracyExpire,
		Power:              cfg.Power,
	}
	ch := make(chan rawResult, 1)
	go func() {
		fix, err := e.provider.GetLocation(ctx, opts)
		ch <- rawResult{fix: fix, err: err}
	}()

	var r rawResult
	select {
	case r = <-ch:
	case <-ctx.Done():
		l.Warn("acquire_timeout", "timeout_ms", cfg.Timeout.Milliseconds())
		return model.LocationFix{}, locerr.New(locerr.Timeout, fmt.Sprintf("location request timed out after %s", cfg.Timeout))
	}
	if r.err != nil {
		return model.LocationFix{}, locerr.Classify(r.err)
	}
	if err := validate(r.fix); err != nil {
		return model.LocationFix{}, err
	}
	fix := e.toFix(r.fix, s)
	if !fix.Point.Valid() {
		return model.LocationFix{}, locerr.New(locerr.InvalidCoordinates, fmt.Sprintf("coordinates out of range after %s conversion lat=%v lng=%v", coordTypeOf(r.fix), fix.Point.Latitude, fix.Point.Longitude))
	}
	e.store(s, fix)
	return fix, nil
}

// validate：坐标有限且在范围内，精度非负
func validate(raw platform.RawFix) error {
	p := model.GeoPoint{Latitude: raw.Latitude, Longitude: raw.Longitude}
	if !p.Valid() {
		return locerr.New(locerr.InvalidCoordinates, fmt.Sprintf("invalid coordinates lat=%v lng=%v", raw.Latitude, raw.Longitude))
	}
	if math.IsNaN(raw.AccuracyMeters) || math.IsInf(raw.AccuracyMeters, 0) || raw.AccuracyMeters < 0 {
		return locerr.New(locerr.InvalidCoordinates, fmt.Sprintf("invalid accuracy %v", raw.AccuracyMeters))
	}
	return nil
}

// withRetryHint：给可重试的失败补上重试等待；副本修改，合并请求的调用方共享同一个错误值
func withRetryHint(err error) error {
	var le *locerr.Error
	if !errors.As(err, &le) || le.RetryAfter > 0 || le.Kind.Remediation() != locerr.RemedyRetry {
		return err
	}
	cp := *le
	cp.RetryAfter = RetryAfterHint
	return &cp
}

func coordTypeOf(raw platform.RawFix) model.CoordType {
	if raw.CoordType == "" {
		return model.GCJ02
	}
	return raw.CoordType
}

func (e *Engine) toFix(raw platform.RawFix, s model.Strategy) model.LocationFix {
	fix := model.LocationFix{
		Point:             coord.ToWGS84(model.GeoPoint{Latitude: raw.Latitude, Longitude: raw.Longitude}, coordTypeOf(raw)),
		AccuracyMeters:    raw.AccuracyMeters,
		CapturedAtEpochMs: e.now().UnixMilli(),
		Source:            s,
	}
	if raw.HasAltitude {
		fix.Altitude, fix.HasAltitude = raw.Altitude, true
	}
	if raw.HasSpeed {
		fix.Speed, fix.HasSpeed = raw.Speed, true
	}
	return fix
}

func (e *Engine) store(s model.Strategy, fix model.LocationFix) {
	if e.cache == nil {
		return
	}
	e.cache.Put(cache.LastKnownKey, fix)
	if e.keyPerStrategy {
		e.cache.Put(cache.StrategyKey(s), fix)
	}
}
