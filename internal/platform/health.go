package platform

import (
	"context"
	"sync"
	"time"

	"geofix/internal/logger"
	"geofix/internal/metrics"
)

// Pinger：支持心跳探测的提供方
type Pinger interface {
	Heartbeat(ctx context.Context) error
}

type health struct {
	healthy bool
	last    time.Time
	err     error
}

// 文档注释：提供方健康监视器
// 背景：设备桥接进程可能重启或失联；周期性心跳标记不健康的提供方，链式回退时直接跳过，避免每次定位都等到超时
// 约束：注册时默认健康；心跳失败即判定不健康，下一次成功即恢复；线程安全读写
type Monitor struct {
	mu       sync.RWMutex
	targets  map[string]Pinger
	st       map[string]health
	interval time.Duration
	timeout  time.Duration
}

const DefaultHeartbeatInterval = 10 * time.Second

func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Monitor{
		targets:  make(map[string]Pinger),
		st:       make(map[string]health),
		interval: interval,
		timeout:  interval / 2,
	}
}

// Register：登记心跳目标
func (m *Monitor) Register(name string, p Pinger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[name] = p
	m.st[name] = health{healthy: true, last: time.Now()}
}

// Healthy：未登记的名称视为健康
func (m *Monitor) Healthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.st[name]
	return !ok || s.healthy
}

// Start：周期性心跳直到 ctx 取消
func (m *Monitor) Start(ctx context.Context) {
	t := time.NewTicker(m.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Beat(ctx)
			}
		}
	}()
}

// Beat：对所有目标执行一次心跳；探测在锁外并发进行
func (m *Monitor) Beat(ctx context.Context) {
	m.mu.RLock()
	targets := make(map[string]Pinger, len(m.targets))
	for k, p := range m.targets {
		targets[k] = p
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	res := make(map[string]error, len(targets))
	for name, p := range targets {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			hctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			err := p.Heartbeat(hctx)
			mu.Lock()
			res[name] = err
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, err := range res {
		prev := m.st[name]
		m.st[name] = health{healthy: err == nil, last: now, err: err}
		status := "ok"
		if err != nil {
			status = "fail"
			logger.L().Debug("provider_heartbeat_fail", "name", name, "err", err)
		}
		if prev.healthy != (err == nil) {
			logger.L().Info("provider_health_change", "name", name, "healthy", err == nil)
		}
		metrics.ProviderHeartbeatTotal.WithLabelValues(name, status).Inc()
	}
}

// Guard：不健康时快速失败的提供方包装
func (m *Monitor) Guard(name string, p LocationProvider) LocationProvider {
	return &guarded{name: name, p: p, m: m}
}

type guarded struct {
	name string
	p    LocationProvider
	m    *Monitor
}

func (g *guarded) Name() string { return g.name }

func (g *guarded) GetLocation(ctx context.Context, opts Options) (RawFix, error) {
	if !g.m.Healthy(g.name) {
		return RawFix{}, &Error{Code: "UNHEALTHY", Message: g.name + " unreachable: network heartbeat failing"}
	}
	return g.p.GetLocation(ctx, opts)
}
