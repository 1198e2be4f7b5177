// 包 config：服务配置；先加载 .env 文件，再从环境变量读取并套用默认值
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"geofix/internal/model"
)

// 缓存持久层
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

type Config struct {
	Addr    string
	APIBase string

	CacheMaxSize        int
	CacheTTL            time.Duration
	CacheSweepInterval  time.Duration
	CacheBackend        string
	CacheFile           string
	CacheKeyPerStrategy bool

	PermissionPollInterval time.Duration
	// 仅包含显式配置的策略
	StrategyTimeouts map[model.Strategy]time.Duration

	BridgeEndpoint          string
	// BridgeHeartbeatInterval：设备桥接心跳周期；0 关闭心跳
	BridgeHeartbeatInterval time.Duration

	AMapServerKey string
	GeoIPPath     string
	GeoIPClientIP string

	RateLimitEnabled bool
	RateLimitQPS     float64
	RateLimitBurst   int

	// RateLimitTrustProxy：为真时按反向代理头识别客户端
	RateLimitTrustProxy bool

	// AllowlistEnabled：开启后只放行 Allowlist 中的来源地址（单地址或 CIDR）
	AllowlistEnabled bool
	Allowlist        []string
	AllowLocal       bool

	TLSEnable   bool
	TLSCertPath string
	TLSKeyPath  string
}

// EnvFiles：按顺序尝试加载的 env 文件；已存在的环境变量不会被覆盖
var EnvFiles = []string{".env", filepath.Join("data", "env", ".env")}

// LoadEnvFiles：加载存在的 env 文件，返回成功加载的文件列表
func LoadEnvFiles() []string {
	var loaded []string
	for _, f := range EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	return loaded
}

// Load：LoadEnvFiles + FromEnv
func Load() (Config, error) {
	LoadEnvFiles()
	return FromEnv()
}

// FromEnv：读取环境变量；数值解析失败回退默认值，枚举值非法时返回错误
func FromEnv() (Config, error) {
	c := Config{
		Addr:                   GetEnv("ADDR", ":8080"),
		APIBase:                strings.TrimRight(GetEnv("API_BASE", "/api"), "/"),
		CacheMaxSize:           GetEnvInt("CACHE_MAX_SIZE", 64),
		CacheTTL:               time.Duration(GetEnvInt("CACHE_TTL_S", 300)) * time.Second,
		CacheSweepInterval:     time.Duration(GetEnvInt("CACHE_SWEEP_INTERVAL_S", 3600)) * time.Second,
		CacheBackend:           strings.ToLower(GetEnv("CACHE_BACKEND", BackendMemory)),
		CacheFile:              GetEnv("CACHE_FILE", filepath.Join("data", "cache", "location.json")),
		CacheKeyPerStrategy:    GetEnvBool("CACHE_KEY_PER_STRATEGY", false),
		PermissionPollInterval: time.Duration(GetEnvInt("PERMISSION_POLL_INTERVAL_MS", 5000)) * time.Millisecond,
		StrategyTimeouts:       map[model.Strategy]time.Duration{},
		BridgeEndpoint:         os.Getenv("BRIDGE_ENDPOINT"),
		AMapServerKey:          os.Getenv("AMAP_SERVER_KEY"),
		GeoIPPath:              os.Getenv("GEOIP_PATH"),
		GeoIPClientIP:          os.Getenv("GEOIP_CLIENT_IP"),
		RateLimitEnabled:       GetEnvBool("RATE_LIMIT_ENABLED", false),
		RateLimitQPS:           GetEnvFloat("RATE_LIMIT_QPS", 5),
		RateLimitBurst:         GetEnvInt("RATE_LIMIT_BURST", 10),
		RateLimitTrustProxy:    GetEnvBool("RATE_LIMIT_TRUST_PROXY", false),
		TLSEnable:              GetEnvBool("TLS_ENABLE", true),
		TLSCertPath:            GetEnv("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:             GetEnv("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
	}
	c.AllowlistEnabled = GetEnvBool("ALLOWLIST_ENABLE", false)
	c.Allowlist = splitList(os.Getenv("ALLOWLIST"))
	c.AllowLocal = GetEnvBool("ALLOWLIST_LOCAL", true)
	c.BridgeHeartbeatInterval = time.Duration(GetEnvInt("BRIDGE_HEARTBEAT_INTERVAL_S", 10)) * time.Second
	if c.APIBase == "" {
		c.APIBase = "/api"
	}
	for _, s := range model.Strategies {
		key := "STRATEGY_" + envName(s) + "_TIMEOUT_MS"
		if ms := GetEnvInt(key, 0); ms > 0 {
			c.StrategyTimeouts[s] = time.Duration(ms) * time.Millisecond
		}
	}
	switch c.CacheBackend {
	case BackendMemory, BackendRedis, BackendPostgres, BackendFile:
	default:
		return c, fmt.Errorf("CACHE_BACKEND: unknown backend %q", c.CacheBackend)
	}
	return c, nil
}

// splitList：逗号分隔，去掉空白项
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envName：highAccuracy → HIGH_ACCURACY
func envName(s model.Strategy) string {
	var b strings.Builder
	for i, r := range s.String() {
		if r >= 'A' && r <= 'Z' && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func GetEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func GetEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func GetEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return n
		}
	}
	return def
}

func GetEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}
