// 包 utils：外部依赖的连接工具（Redis / PostgreSQL）与自签证书
package utils

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"geofix/internal/config"
	"geofix/internal/logger"
)

// RedisOptionsFromEnv：REDIS_HOST / REDIS_PORT / REDIS_PASS / REDIS_DB
// 约束：REDIS_DB 非法或为负时回退到 0
func RedisOptionsFromEnv() *redis.Options {
	addr := net.JoinHostPort(config.GetEnv("REDIS_HOST", "127.0.0.1"), config.GetEnv("REDIS_PORT", "6379"))
	db := config.GetEnvInt("REDIS_DB", 0)
	if db < 0 {
		db = 0
	}
	return &redis.Options{Addr: addr, Password: config.GetEnv("REDIS_PASS", ""), DB: db}
}

// OpenRedisFromEnv：打开客户端并 PING 一次；PING 失败时关闭客户端并返回错误
func OpenRedisFromEnv(ctx context.Context) (*redis.Client, error) {
	opts := RedisOptionsFromEnv()
	logger.L().Debug("redis_env", "addr", opts.Addr, "db", opts.DB)
	rc := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return rc, nil
}
