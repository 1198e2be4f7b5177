// 包 permission：定位授权状态机与后台轮询
// 背景：用户可随时在系统设置中改变授权，进程内只能通过周期性查询感知；授权弹窗被拒后系统通常会静默屏蔽再次弹窗
// 约束：当前状态是唯一事实来源，在管理器互斥锁内原子更新；监听回调在锁外执行
package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"geofix/internal/logger"
	"geofix/internal/metrics"
	"geofix/internal/platform"
)

// Status：授权状态；没有终态，系统设置可以在任意两个状态之间切换
type Status int

const (
	NotDetermined Status = iota
	Granted
	Denied
	Restricted
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Restricted:
		return "restricted"
	}
	return "not_determined"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseStatus：解析 String 的输出（大小写不敏感）
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "granted":
		return Granted, nil
	case "denied":
		return Denied, nil
	case "restricted":
		return Restricted, nil
	case "not_determined", "notdetermined":
		return NotDetermined, nil
	}
	return NotDetermined, fmt.Errorf("unknown permission status %q", v)
}

func fromAuth(a platform.AuthState) Status {
	switch a {
	case platform.AuthAuthorized:
		return Granted
	case platform.AuthDenied:
		return Denied
	case platform.AuthRestricted:
		return Restricted
	}
	return NotDetermined
}

// RequestOptions：ForceRequest 在已拒绝时仍弹窗；ShowGuide 在失败后引导用户前往系统设置
type RequestOptions struct {
	ForceRequest bool
	ShowGuide    bool
}

// Guide：引导对话框文案
type Guide struct {
	Title string
	Body  string
}

var DefaultGuide = Guide{
	Title: "需要定位权限",
	Body:  "定位权限已关闭，是否前往系统设置开启？",
}

const DefaultPollInterval = 5 * time.Second

type Options struct {
	PollInterval time.Duration
	Guide        Guide
}

// Manager：授权状态机
type Manager struct {
	api   platform.PermissionAPI
	poll  time.Duration
	guide Guide

	// notifyMu：串行化状态写入与监听回调，保证监听者最后收到的值与 Current 一致
	notifyMu  sync.Mutex
	mu        sync.Mutex
	status    Status
	listeners map[int]func(Status)
	nextID    int
	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
}

func NewManager(api platform.PermissionAPI, opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Guide.Title == "" && opts.Guide.Body == "" {
		opts.Guide = DefaultGuide
	}
	return &Manager{api: api, poll: opts.PollInterval, guide: opts.Guide, listeners: make(map[int]func(Status))}
}

// Current：返回当前缓存的状态，不查询平台
func (m *Manager) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// set：原子更新状态；变化时在状态锁外按写入顺序通知监听者
// 约束：监听回调内不得再触发 set（CheckPermission / RequestPermission）
func (m *Manager) set(s Status) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	prev := m.status
	m.status = s
	var fns []func(Status)
	if prev != s {
		fns = make([]func(Status), 0, len(m.listeners))
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()
	if prev == s {
		return
	}
	metrics.PermissionChangesTotal.Inc()
	logger.L().Info("permission_changed", "from", prev.String(), "to", s.String())
	for _, fn := range fns {
		fn(s)
	}
}

// CheckPermission：查询一次平台授权状态；查询失败视为 NotDetermined，不返回错误
// 约束：ctx 已取消导致的失败不是平台答复，保留当前状态不变
func (m *Manager) CheckPermission(ctx context.Context) Status {
	a, err := m.api.AuthorizationState(ctx)
	if err != nil && ctx.Err() != nil {
		logger.L().Debug("permission_check_abandoned", "err", err)
		return m.Current()
	}
	s := fromAuth(a)
	if err != nil {
		logger.L().Warn("permission_check_error", "err", err)
		s = NotDetermined
	}
	metrics.PermissionChecksTotal.WithLabelValues(s.String()).Inc()
	m.set(s)
	return s
}

// RequestPermission：已授权时直接返回；已拒绝或受限且未强制时不弹窗；否则弹出系统授权
func (m *Manager) RequestPermission(ctx context.Context, opts RequestOptions) Status {
	s, _ := m.request(ctx, opts)
	return s
}

func (m *Manager) request(ctx context.Context, opts RequestOptions) (Status, bool) {
	cur := m.Current()
	if cur == Granted {
		return Granted, false
	}
	if (cur == Denied || cur == Restricted) && !opts.ForceRequest {
		metrics.PermissionPromptsTotal.WithLabelValues("suppressed").Inc()
		logger.L().Debug("permission_prompt_suppressed", "status", cur.String())
		return cur, false
	}
	if err := m.api.RequestAuthorization(ctx); err != nil {
		metrics.PermissionPromptsTotal.WithLabelValues("denied").Inc()
		logger.L().Info("permission_prompt_denied", "err", err)
		m.set(Denied)
		if opts.ShowGuide {
			return m.runGuide(ctx), true
		}
		return Denied, false
	}
	metrics.PermissionPromptsTotal.WithLabelValues("granted").Inc()
	m.set(Granted)
	return Granted, false
}

// runGuide：确认对话框 → 跳转系统设置 → 返回后重新查询
func (m *Manager) runGuide(ctx context.Context) Status {
	ok, err := m.api.ConfirmDialog(ctx, m.guide.Title, m.guide.Body)
	if err != nil || !ok {
		logger.L().Debug("permission_guide_dismissed", "err", err)
		return m.Current()
	}
	if err := m.api.OpenAppSettings(ctx); err != nil {
		logger.L().Warn("permission_open_settings_error", "err", err)
		return m.Current()
	}
	return m.CheckPermission(ctx)
}

// EnsurePermission：查询 → 请求 → （可选）引导，返回最终是否已授权
func (m *Manager) EnsurePermission(ctx context.Context, opts RequestOptions) bool {
	if m.CheckPermission(ctx) == Granted {
		return true
	}
	s, guided := m.request(ctx, opts)
	if s == Granted {
		return true
	}
	if opts.ShowGuide && !guided {
		s = m.runGuide(ctx)
	}
	return s == Granted
}

// AddListener：注册状态监听；注册时立即以当前状态回调一次，返回取消函数
func (m *Manager) AddListener(fn func(Status)) func() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	cur := m.status
	m.mu.Unlock()
	fn(cur)
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Start：启动后台轮询；重复调用或 Destroy 之后调用无副作用
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.destroyed || m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	t := time.NewTicker(m.poll)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.CheckPermission(ctx)
			}
		}
	}()
	logger.L().Debug("permission_poll_started", "interval_ms", m.poll.Milliseconds())
}

// Destroy：停止轮询并等待循环退出，清空监听者；可重复调用
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.listeners = make(map[int]func(Status))
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	logger.L().Debug("permission_destroyed")
}
