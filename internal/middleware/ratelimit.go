package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"geofix/internal/logger"
	"geofix/internal/metrics"
)

// 文档注释：按客户端的定位请求限流
// 背景：每次定位可能唤醒卫星定位硬件，客户端轮询过快会显著耗电；对超出速率的请求直接返回 429
// 约束：客户端由 ClientIP 区分；长时间空闲的桶由 Sweep 回收
type Limiter struct {
	// TrustProxy：为真时按代理头识别客户端
	TrustProxy bool

	qps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	lim  *rate.Limiter
	last time.Time
}

func NewLimiter(qps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(qps)))
	}
	return &Limiter{qps: rate.Limit(qps), burst: burst, clients: make(map[string]*client), now: time.Now}
}

// Reserve：判定该客户端此刻是否放行；拒绝时返回建议的重试等待
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(l.qps, l.burst)}
		l.clients[key] = c
	}
	c.last = now
	l.mu.Unlock()

	res := c.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Sweep：回收空闲超过 idle 的客户端桶，返回回收数量
func (l *Limiter) Sweep(idle time.Duration) int {
	cut := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, c := range l.clients {
		if c.last.Before(cut) {
			delete(l.clients, k)
			n++
		}
	}
	return n
}

// Wrap：限流中间件
func (l *Limiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIP(r, l.TrustProxy)
		ok, wait := l.Reserve(key)
		if !ok {
			metrics.RateLimitedTotal.Inc()
			logger.L().Debug("rate_limited", "client", key, "retry_after_ms", wait.Milliseconds())
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
