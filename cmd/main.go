// 程序入口：本地识别服务；仅负责读取配置、初始化依赖并启动服务，接口实现在 internal/emulator
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fpagent/internal/emulator"
	"fpagent/internal/geo"
	"fpagent/internal/logger"
	"fpagent/internal/middleware"
	"fpagent/internal/migrate"
	"fpagent/internal/store"
	"fpagent/internal/utils"
	"fpagent/internal/version"
	"fpagent/internal/visitordb"
	"fpagent/pkg/origindefense"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Info("fpagent_start", "version", version.String())

	cfg, err := emulator.ConfigFromEnv()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_tokens", "count", len(cfg.Tokens), "region", string(cfg.Region))

	deps := emulator.Deps{
		Guard:   origindefense.NewFromEnv(l),
		Limiter: middleware.NewLimiterFromEnv(0),
		Logger:  l,
	}
	if n, err := strconv.Atoi(os.Getenv("ADMIN_RATE_LIMIT_QPS")); err == nil && n > 0 {
		deps.AdminLimiter = middleware.NewLimiter(n)
	}

	// 事件库可选：未配置 PG 时只做内存统计
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	if db == nil {
		l.Info("db_disabled")
	} else {
		defer db.Close()
		if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
			os.Exit(1)
		}
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		deps.Store = store.AttachDB(db)
		l.Info("db_ready")
	}

	// 进程内索引有上限：VISITOR_CACHE_SIZE 条，本地缓存保留 VISITOR_CACHE_TTL
	ttl := envDuration("VISITOR_TTL", visitordb.DefaultTTL)
	cacheSize := 100000
	if n, err := strconv.Atoi(os.Getenv("VISITOR_CACHE_SIZE")); err == nil && n > 0 {
		cacheSize = n
	}
	if rc := utils.OpenRedisFromEnv(); rc == nil {
		deps.Index = visitordb.NewMemLRU(cacheSize, ttl)
		l.Info("redis_disabled", "index", "memory", "size", cacheSize)
	} else {
		defer rc.Close()
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
			os.Exit(1)
		}
		shared := visitordb.NewRedis(rc, os.Getenv("REDIS_PREFIX"), ttl)
		if os.Getenv("VISITOR_LOCAL_CACHE") == "true" {
			local := visitordb.NewMemLRU(cacheSize, envDuration("VISITOR_CACHE_TTL", 10*time.Minute))
			deps.Index = visitordb.NewChain(local, shared)
			l.Info("redis_ready", "index", "memory+redis", "size", cacheSize)
		} else {
			deps.Index = shared
			l.Info("redis_ready", "index", "redis")
		}
	}

	geoRes, err := geo.Open(os.Getenv("GEOIP_CITY_PATH"), os.Getenv("GEOIP_ORG_PATH"), os.Getenv("GEOIP_LANG"))
	if err != nil {
		l.Error("geo_open_error", "err", err)
		os.Exit(1)
	}
	defer geoRes.Close()
	deps.Geo = geoRes

	srv := emulator.New(cfg, deps)
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	s := &http.Server{
		Addr:              addr,
		Handler:           logger.AccessMiddleware(l)(srv.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdown)
	}()

	if os.Getenv("TLS_ENABLE") == "true" {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "fpagent.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		err = s.ListenAndServeTLS(certPath, keyPath)
	} else {
		l.Info("listening", "addr", addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("fpagent_stopped")
}

func envDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(k)); err == nil && d > 0 {
		return d
	}
	return def
}
