// 包 app：应用容器，持有一个会话内唯一的缓存、授权管理器与策略引擎
// 背景：缓存与授权状态是仅有的共享可变状态，显式实例化并由容器管理生命周期，避免包级全局变量
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"geofix/internal/cache"
	"geofix/internal/config"
	"geofix/internal/logger"
	"geofix/internal/migrate"
	"geofix/internal/model"
	"geofix/internal/permission"
	"geofix/internal/platform"
	"geofix/internal/store"
	"geofix/internal/strategy"
	"geofix/internal/utils"
)

// Deps：外部协作者；Build 从配置构造，测试中直接注入
type Deps struct {
	Provider      platform.LocationProvider
	PermissionAPI platform.PermissionAPI
	Store         cache.Store
	Clock         cache.Clock
}

type Container struct {
	Config     config.Config
	Cache      *cache.LRU
	Permission *permission.Manager
	Engine     *strategy.Engine

	closers []func() error
	monitor *platform.Monitor
}

// New：按配置与依赖组装；PermissionAPI 为空时视为始终已授权
func New(cfg config.Config, d Deps) *Container {
	if d.PermissionAPI == nil {
		d.PermissionAPI = platform.StaticPermission{State: platform.AuthAuthorized}
	}
	lru := cache.New(cache.Options{
		MaxSize:       cfg.CacheMaxSize,
		TTL:           cfg.CacheTTL,
		SweepInterval: cfg.CacheSweepInterval,
		Clock:         d.Clock,
		Store:         d.Store,
	})
	pm := permission.NewManager(d.PermissionAPI, permission.Options{PollInterval: cfg.PermissionPollInterval})
	cfgs := strategy.DefaultConfigs()
	for s, to := range cfg.StrategyTimeouts {
		c := cfgs[s]
		c.Timeout = to
		cfgs[s] = c
	}
	eng := strategy.New(strategy.Options{
		Provider:       d.Provider,
		Permission:     pm,
		Cache:          lru,
		Configs:        cfgs,
		KeyPerStrategy: cfg.CacheKeyPerStrategy,
		Request:        permission.RequestOptions{ShowGuide: true},
		Clock:          d.Clock,
	})
	return &Container{Config: cfg, Cache: lru, Permission: pm, Engine: eng}
}

// Build：从配置构造真实依赖（设备桥接、IP 粗定位、缓存持久层）并组装容器
func Build(ctx context.Context, cfg config.Config) (*Container, error) {
	var (
		d       Deps
		closers []func() error
		device  platform.LocationProvider
		monitor *platform.Monitor
	)
	l := logger.L()
	if cfg.BridgeEndpoint != "" {
		bridge := platform.NewBridge(cfg.BridgeEndpoint, nil)
		d.PermissionAPI = bridge
		device = bridge
		if cfg.BridgeHeartbeatInterval > 0 {
			monitor = platform.NewMonitor(cfg.BridgeHeartbeatInterval)
			monitor.Register(bridge.Name(), bridge)
			device = monitor.Guard(bridge.Name(), bridge)
		}
		l.Info("provider_register", "name", bridge.Name(), "endpoint", cfg.BridgeEndpoint)
	}

	var coarse []platform.LocationProvider
	if cfg.AMapServerKey != "" {
		coarse = append(coarse, platform.NewAMapLocator(cfg.AMapServerKey, cfg.GeoIPClientIP, &http.Client{Timeout: 4 * time.Second}))
		l.Info("provider_register", "name", "amap")
	}
	if cfg.GeoIPPath != "" {
		g, err := platform.OpenGeoIP(cfg.GeoIPPath, cfg.GeoIPClientIP)
		if err != nil {
			l.Error("geoip_open_error", "path", cfg.GeoIPPath, "err", err)
		} else {
			coarse = append(coarse, g)
			closers = append(closers, g.Close)
			l.Info("provider_register", "name", "geoip", "path", cfg.GeoIPPath)
		}
	}
	d.Provider = Router(device, coarse...)

	st, stClose, err := openStore(ctx, cfg)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	d.Store = st
	if stClose != nil {
		closers = append(closers, stClose)
	}

	c := New(cfg, d)
	c.closers = closers
	c.monitor = monitor
	return c, nil
}

// Router：高精度与均衡档走设备；低功耗档先走 IP 粗定位，失败再回退到设备
func Router(device platform.LocationProvider, coarse ...platform.LocationProvider) platform.LocationProvider {
	if len(coarse) == 0 {
		return device
	}
	low := append([]platform.LocationProvider{}, coarse...)
	if device != nil {
		low = append(low, device)
	}
	lowChain := platform.NewChain(low...)
	if device == nil {
		// 无设备时所有档位都只能使用粗定位
		return platform.NewRouter(lowChain)
	}
	return platform.NewRouter(device).Route(platform.PowerLow, lowChain)
}

func openStore(ctx context.Context, cfg config.Config) (cache.Store, func() error, error) {
	switch cfg.CacheBackend {
	case config.BackendRedis:
		rc, err := utils.OpenRedisFromEnv(ctx)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(rc, "", cfg.CacheTTL), rc.Close, nil
	case config.BackendPostgres:
		db, err := utils.OpenPostgresFromEnv(ctx)
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store.AttachPG(db), db.Close, nil
	case config.BackendFile:
		return store.NewFileStore(cfg.CacheFile), nil, nil
	}
	return nil, nil, nil
}

// Start：恢复持久化缓存，启动缓存清扫、授权轮询与设备心跳
func (c *Container) Start(ctx context.Context) {
	if c.monitor != nil {
		c.monitor.Start(ctx)
	}
	if n, err := c.Cache.Restore(ctx); err != nil {
		logger.L().Warn("cache_restore_error", "err", err)
	} else if n > 0 {
		logger.L().Info("cache_restored", "entries", n)
	}
	c.Cache.StartSweeper(ctx)
	c.Permission.Start(ctx)
}

// Locate：Engine.Locate 的便捷入口
func (c *Container) Locate(ctx context.Context, s model.Strategy) (model.LocationFix, error) {
	return c.Engine.Locate(ctx, s)
}

// Close：停止后台任务并释放外部连接；可重复调用
func (c *Container) Close() error {
	c.Permission.Destroy()
	c.Cache.Close()
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
