// 包 utils：PostgreSQL/Redis 连接与自签证书工具，统一环境变量读取
package utils

import (
	"database/sql"
	"os"
	"strconv"

	_ "github.com/lib/pq"
)

// OpenPostgres：使用 DSN 打开连接池
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(envInt("PG_MAX_OPEN_CONNS", 20))
	db.SetMaxIdleConns(envInt("PG_MAX_IDLE_CONNS", 10))
	return db, nil
}

// BuildPostgresDSNFromEnv：按 PG_* 环境变量拼接 DSN；PG_DSN 存在时直接使用
func BuildPostgresDSNFromEnv() string {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		return dsn
	}
	host := envOr("PG_HOST", "localhost")
	port := envOr("PG_PORT", "5432")
	user := envOr("PG_USER", "postgres")
	pass := os.Getenv("PG_PASSWORD")
	db := envOr("PG_DB", "fpagent")
	ssl := envOr("PG_SSLMODE", "disable")
	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

// OpenPostgresFromEnv：事件库为可选依赖
// 约束：PG_DSN 与 PG_HOST 均未配置时返回 (nil, nil)，调用方据此关闭事件持久化。
func OpenPostgresFromEnv() (*sql.DB, error) {
	if os.Getenv("PG_DSN") == "" && os.Getenv("PG_HOST") == "" {
		return nil, nil
	}
	return OpenPostgres(BuildPostgresDSNFromEnv())
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// envInt：解析失败或非正数时回退默认值
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
