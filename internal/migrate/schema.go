package migrate

import (
	"database/sql"

	"fpagent/internal/logger"
)

// 背景：首次运行自动创建识别事件与统计表
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；可重复执行
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _fp_events (
            request_id TEXT PRIMARY KEY,
            visitor_id TEXT NOT NULL,
            token TEXT NOT NULL DEFAULT '',
            shape TEXT NOT NULL,
            ip TEXT NOT NULL DEFAULT '',
            linked_id TEXT NOT NULL DEFAULT '',
            tag JSONB,
            confidence DOUBLE PRECISION NOT NULL,
            visitor_found BOOLEAN NOT NULL DEFAULT FALSE,
            incognito BOOLEAN NOT NULL DEFAULT FALSE,
            browser_name TEXT NOT NULL DEFAULT '',
            os TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_fp_events_visitor ON _fp_events(visitor_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS _fp_stats_total (
            id INT PRIMARY KEY,
            total_requests BIGINT NOT NULL DEFAULT 0,
            total_visitors BIGINT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS _fp_stats_daily (
            day DATE PRIMARY KEY,
            requests BIGINT NOT NULL DEFAULT 0,
            visitors BIGINT NOT NULL DEFAULT 0
        )`,
		`INSERT INTO _fp_stats_total(id, total_requests, total_visitors)
         VALUES(1, 0, 0)
         ON CONFLICT (id) DO NOTHING`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
