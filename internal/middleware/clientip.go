package middleware

import (
	"net"
	"net/http"
	"strings"
)

// 反向代理常见的来源地址头，按优先级排列
var proxyHeaders = []string{
	"x-forwarded-for",
	"cf-connecting-ip",
	"x-real-ip",
	"x-client-ip",
	"x-edge-client-ip",
	"x-edgeone-ip",
}

// ClientIP：获取访问者地址（限流分桶与白名单共用）
// 背景：部署在网关之后时 RemoteAddr 是网关地址，需要从代理头取真实来源
// 约束：trustProxy 为假时只看 RemoteAddr；代理头可被伪造，仅在受信网关之后开启
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		h := r.Header
		for _, k := range proxyHeaders {
			if x := h.Get(k); x != "" {
				return strings.TrimSpace(strings.Split(x, ",")[0])
			}
		}
		if x := h.Get("forwarded"); x != "" {
			if y, ok := forwardedFor(x); ok {
				return y
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedFor：解析 RFC 7239 Forwarded 头的第一个 for= 值
func forwardedFor(v string) (string, bool) {
	i := strings.Index(strings.ToLower(v), "for=")
	if i < 0 {
		return "", false
	}
	y := v[i+4:]
	if p := strings.IndexByte(y, ';'); p >= 0 {
		y = y[:p]
	}
	if p := strings.IndexByte(y, ','); p >= 0 {
		y = y[:p]
	}
	y = strings.Trim(y, "\" ")
	if strings.HasPrefix(y, "[") {
		if p := strings.IndexByte(y, ']'); p > 0 {
			return y[1:p], true
		}
	}
	return y, y != ""
}
