package middleware

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"fpagent/internal/metrics"
)

// 文档注释：令牌桶限流（每秒）
// 背景：模拟后端按订阅令牌限速；每个键独立计数，秒切换时补满。
// 约束：简化实现，不做队列排队，仅拒绝；capacity<=0 表示不限流。
type TokenBucket struct {
	capacity int
	tokens   int
	lastSec  int64
	mu       sync.Mutex
}

func (tb *TokenBucket) allow(nowSec int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.lastSec != nowSec {
		tb.lastSec = nowSec
		tb.tokens = tb.capacity
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Limiter：按键（令牌、来源 IP）分桶的限流器，空闲桶在秒切换后惰性清理
type Limiter struct {
	qps     int
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	swept   int64
	now     func() time.Time
}

func NewLimiter(qps int) *Limiter {
	return &Limiter{qps: qps, buckets: map[string]*TokenBucket{}, now: time.Now}
}

// NewLimiterFromEnv：RATE_LIMIT_QPS 未配置或非法时使用 def
func NewLimiterFromEnv(def int) *Limiter {
	qps := def
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_QPS")); err == nil && n >= 0 {
		qps = n
	}
	return NewLimiter(qps)
}

func (l *Limiter) Allow(key string) bool {
	if l == nil || l.qps <= 0 {
		return true
	}
	sec := l.now().Unix()
	l.mu.Lock()
	if sec-l.swept > 60 {
		for k, b := range l.buckets {
			if sec-b.lastSec > 60 {
				delete(l.buckets, k)
			}
		}
		l.swept = sec
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &TokenBucket{capacity: l.qps}
		l.buckets[key] = b
	}
	l.mu.Unlock()
	if b.allow(sec) {
		return true
	}
	metrics.RateLimitedTotal.Inc()
	return false
}

// Wrap：按 key(r) 限流，超限返回 429
func (l *Limiter) Wrap(key func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(key(r)) {
			w.Header().Set("content-type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
