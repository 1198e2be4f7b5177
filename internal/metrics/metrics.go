package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofix_acquire_total",
		Help: "Location acquisitions by strategy and result kind",
	}, []string{"strategy", "result"})
	AcquireDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geofix_acquire_duration_ms",
		Help:    "Acquisition duration in milliseconds",
		Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
	}, []string{"strategy"})
	AcquireCoalescedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofix_acquire_coalesced_total",
		Help: "Acquisitions that joined an in-flight provider call",
	}, []string{"strategy"})
	ProviderCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofix_provider_calls_total",
		Help: "Platform provider calls by provider and status",
	}, []string{"provider", "status"})
	ProviderHeartbeatTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofix_provider_heartbeat_total",
		Help: "Provider heartbeats by provider and status",
	}, []string{"provider", "status"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geofix_cache_hits_total",
		Help: "Location cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geofix_cache_misses_total",
		Help: "Location cache misses (absent or expired)",
	})
	CacheExpiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofix_cache_expired_total",
		Help: "Entries removed because their TTL elapsed, by path",
	}, []string{"path"})
	CacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geofix_cache_evictions_total",
		Help: "Entries evicted by the capacity bound",
	})
	CacheStoreErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofix_cache_store_errors_total",
		Help: "Durable cache store failures by operation",
	}, []string{"op"})
	PermissionChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofix_permission_checks_total",
		Help: "Permission status checks by resulting status",
	}, []string{"status"})
	PermissionChangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geofix_permission_changes_total",
		Help: "Observed permission status transitions",
	})
	PermissionPromptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofix_permission_prompts_total",
		Help: "Native authorization prompts by outcome",
	}, []string{"outcome"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geofix_rate_limited_total",
		Help: "Location requests rejected by the acquisition limiter",
	})
)

func init() {
	prometheus.MustRegister(AcquireTotal)
	prometheus.MustRegister(AcquireDurationMs)
	prometheus.MustRegister(AcquireCoalescedTotal)
	prometheus.MustRegister(ProviderCallsTotal)
	prometheus.MustRegister(ProviderHeartbeatTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheExpiredTotal)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(CacheStoreErrorsTotal)
	prometheus.MustRegister(PermissionChecksTotal)
	prometheus.MustRegister(PermissionChangesTotal)
	prometheus.MustRegister(PermissionPromptsTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
