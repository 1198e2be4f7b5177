package migrate

import (
	"context"
	"database/sql"

	"geofix/internal/logger"
)

// 背景：选择 postgres 作为缓存持久层时，首次运行自动建表
// 约束：使用 IF NOT EXISTS，可重复执行
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _geofix_cache (
            cache_key TEXT PRIMARY KEY,
            payload JSONB NOT NULL,
            inserted_at_ms BIGINT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_geofix_cache_inserted ON _geofix_cache(inserted_at_ms)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
