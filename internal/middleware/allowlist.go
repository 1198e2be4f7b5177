package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"geofix/internal/logger"
)

// 文档注释：来源地址白名单
// 背景：定位结果属于敏感数据，服务通常只对本机或内网的上层应用开放；白名单之外的请求统一返回 403
// 约束：支持 IPv4/IPv6 单地址与 CIDR；来源地址由 ClientIP 解析，TrustProxy 含义与限流一致
type Allowlist struct {
	TrustProxy bool

	mu    sync.RWMutex
	ips   map[string]struct{}
	cidrs []*net.IPNet
}

// NewAllowlist：entries 可混合单地址与 CIDR；allowLocal 额外放行回环地址
func NewAllowlist(entries []string, allowLocal bool) (*Allowlist, error) {
	a := &Allowlist{ips: map[string]struct{}{}}
	if allowLocal {
		entries = append(entries, "127.0.0.0/8", "::1")
	}
	if err := a.Add(entries...); err != nil {
		return nil, err
	}
	return a, nil
}

// Add：追加条目，重复的 CIDR 会合并
func (a *Allowlist) Add(entries ...string) error {
	var ips []string
	var nets []*net.IPNet
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			_, n, err := net.ParseCIDR(e)
			if err != nil {
				return fmt.Errorf("allowlist: %w", err)
			}
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(e)
		if ip == nil {
			return fmt.Errorf("allowlist: invalid address %q", e)
		}
		ips = append(ips, ip.String())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ip := range ips {
		a.ips[ip] = struct{}{}
	}
	a.cidrs = mergeCIDRs(a.cidrs, nets)
	return nil
}

// Allowed：判断地址是否在允许集合
func (a *Allowlist) Allowed(ip net.IP) bool {
	if ip == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.ips[ip.String()]; ok {
		return true
	}
	for _, n := range a.cidrs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Wrap：白名单中间件
func (a *Allowlist) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := ClientIP(r, a.TrustProxy)
		if !a.Allowed(net.ParseIP(raw)) {
			logger.L().Debug("allowlist_block", "ip", raw)
			w.Header().Set("content-type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// mergeCIDRs：合并并去重，保持首次出现的顺序
func mergeCIDRs(old, add []*net.IPNet) []*net.IPNet {
	seen := make(map[string]struct{}, len(old)+len(add))
	out := make([]*net.IPNet, 0, len(old)+len(add))
	for _, n := range append(append([]*net.IPNet{}, old...), add...) {
		if _, ok := seen[n.String()]; ok {
			continue
		}
		seen[n.String()] = struct{}{}
		out = append(out, n)
	}
	return out
}
