package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedLimiter(qps int, t *time.Time) *Limiter {
	l := NewLimiter(qps)
	l.now = func() time.Time { return *t }
	return l
}

func TestLimiterPerKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := fixedLimiter(2, &now)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k"))
	}
	var nl *Limiter
	assert.True(t, nl.Allow("k"))
}

func TestLimiterSweepsIdleBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := fixedLimiter(1, &now)
	l.Allow("old")
	now = now.Add(2 * time.Minute)
	l.Allow("new")
	_, ok := l.buckets["old"]
	assert.False(t, ok)
}

func TestLimiterFromEnv(t *testing.T) {
	t.Setenv("RATE_LIMIT_QPS", "7")
	assert.Equal(t, 7, NewLimiterFromEnv(1).qps)
	t.Setenv("RATE_LIMIT_QPS", "x")
	assert.Equal(t, 1, NewLimiterFromEnv(1).qps)
}

func TestWrap(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := fixedLimiter(1, &now)
	h := l.Wrap(func(r *http.Request) string { return r.RemoteAddr }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":{"message":"rate limited"}}`, rec.Body.String())
}
