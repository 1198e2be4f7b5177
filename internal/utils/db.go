package utils

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"

	"geofix/internal/config"
)

// BuildPostgresDSNFromEnv：PG_HOST / PG_PORT / PG_USER / PG_PASSWORD / PG_DB / PG_SSLMODE
func BuildPostgresDSNFromEnv() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   config.GetEnv("PG_HOST", "localhost") + ":" + config.GetEnv("PG_PORT", "5432"),
		Path:   "/" + config.GetEnv("PG_DB", "geofix"),
	}
	user := config.GetEnv("PG_USER", "postgres")
	if pass := config.GetEnv("PG_PASSWORD", ""); pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	q := url.Values{}
	q.Set("sslmode", config.GetEnv("PG_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenPostgresFromEnv：打开连接池并 Ping；缓存镜像写入量小，连接池默认偏小
func OpenPostgresFromEnv(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(config.GetEnvInt("PG_MAX_OPEN_CONNS", 8))
	db.SetMaxIdleConns(config.GetEnvInt("PG_MAX_IDLE_CONNS", 4))
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
