// 包 store：定位缓存的持久层实现（PostgreSQL / Redis / 本地文件快照）
// 背景：进程重启后恢复最近一次定位，避免冷启动时每个请求都唤醒定位硬件
// 约束：持久层只做尽力而为的镜像，内存 LRU 始终是权威副本
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"geofix/internal/cache"
	"geofix/internal/logger"

	_ "github.com/lib/pq"
)

// PGStore：以 _geofix_cache 表镜像缓存项
type PGStore struct {
	db *sql.DB
}

// AttachPG：复用已打开的连接池；表结构由 migrate.EnsureSchema 负责
func AttachPG(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Save(ctx context.Context, key string, e cache.Entry) error {
	payload, err := json.Marshal(e.Fix)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO _geofix_cache(cache_key, payload, inserted_at_ms) VALUES($1,$2,$3)
		 ON CONFLICT (cache_key) DO UPDATE SET payload=EXCLUDED.payload, inserted_at_ms=EXCLUDED.inserted_at_ms`,
		key, payload, e.InsertedAtEpochMs)
	return err
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM _geofix_cache WHERE cache_key=$1`, key)
	return err
}

func (s *PGStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM _geofix_cache`)
	return err
}

// LoadAll：读取全部镜像项；单行反序列化失败时跳过该行
func (s *PGStore) LoadAll(ctx context.Context) (map[string]cache.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cache_key, payload, inserted_at_ms FROM _geofix_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]cache.Entry)
	for rows.Next() {
		var (
			key     string
			payload []byte
			at      int64
		)
		if err := rows.Scan(&key, &payload, &at); err != nil {
			return nil, err
		}
		var e cache.Entry
		if err := json.Unmarshal(payload, &e.Fix); err != nil {
			logger.L().Warn("pg_cache_row_corrupt", "key", key, "err", err)
			continue
		}
		e.InsertedAtEpochMs = at
		out[key] = e
	}
	return out, rows.Err()
}
