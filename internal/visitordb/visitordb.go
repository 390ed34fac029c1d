// 包 visitordb：访客索引，维护组件指纹到访客标识的映射与已知访客集合
package visitordb

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"fpagent/internal/metrics"
)

// DefaultTTL：访客记录保留时长
const DefaultTTL = 90 * 24 * time.Hour

// Index：访客索引
// 约束：实现需并发安全；未命中返回 ("", false, nil)，错误仅表示存储不可用。
type Index interface {
	LookupHash(ctx context.Context, hash string) (string, bool, error)
	Known(ctx context.Context, visitorID string) (bool, error)
	Remember(ctx context.Context, hash, visitorID string) error
}

// Mem：进程内实现，底层为带过期的 LRU
// 约束：NewMem 不限容量、不过期，仅用于本地开发与测试；长期运行的服务使用 NewMemLRU。
type Mem struct {
	hashes *expirable.LRU[string, string]
	known  *expirable.LRU[string, struct{}]
}

func NewMem() *Mem { return NewMemLRU(0, 0) }

// NewMemLRU：size 为每类记录的上限（0 不限），ttl 为写入后的保留时长（0 不过期）
func NewMemLRU(size int, ttl time.Duration) *Mem {
	return &Mem{
		hashes: expirable.NewLRU[string, string](size, nil, ttl),
		known:  expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

func (m *Mem) LookupHash(_ context.Context, hash string) (string, bool, error) {
	v, ok := m.hashes.Get(hash)
	return v, ok, nil
}

func (m *Mem) Known(_ context.Context, visitorID string) (bool, error) {
	if visitorID == "" {
		return false, nil
	}
	return m.known.Contains(visitorID), nil
}

func (m *Mem) Remember(_ context.Context, hash, visitorID string) error {
	if visitorID == "" {
		return errors.New("visitordb: empty visitor id")
	}
	if hash != "" {
		m.hashes.Add(hash, visitorID)
	}
	m.known.Add(visitorID, struct{}{})
	return nil
}

// Len：当前缓存的指纹记录数
func (m *Mem) Len() int { return m.hashes.Len() }

// Redis：基于 go-redis 的实现，键带前缀并设置过期时间
// 键：{prefix}h:{hash} -> visitorId；{prefix}v:{visitorId} -> 1
type Redis struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rc *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "fp:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rc: rc, prefix: prefix, ttl: ttl}
}

func (r *Redis) LookupHash(ctx context.Context, hash string) (string, bool, error) {
	v, err := r.rc.Get(ctx, r.prefix+"h:"+hash).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Known(ctx context.Context, visitorID string) (bool, error) {
	if visitorID == "" {
		return false, nil
	}
	n, err := r.rc.Exists(ctx, r.prefix+"v:"+visitorID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember：同一事务内写入两条记录并刷新过期时间
func (r *Redis) Remember(ctx context.Context, hash, visitorID string) error {
	if visitorID == "" {
		return errors.New("visitordb: empty visitor id")
	}
	_, err := r.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if hash != "" {
			p.Set(ctx, r.prefix+"h:"+hash, visitorID, r.ttl)
		}
		p.Set(ctx, r.prefix+"v:"+visitorID, 1, r.ttl)
		return nil
	})
	return err
}

// Instrumented：按整次查询统计命中/未命中，多级索引只计一次
func Instrumented(idx Index) Index {
	if _, ok := idx.(instrumented); ok {
		return idx
	}
	return instrumented{idx}
}

type instrumented struct{ Index }

func (i instrumented) LookupHash(ctx context.Context, hash string) (string, bool, error) {
	id, ok, err := i.Index.LookupHash(ctx, hash)
	if err != nil {
		return id, ok, err
	}
	if ok {
		metrics.VisitorIndexHitsTotal.Inc()
	} else {
		metrics.VisitorIndexMissesTotal.Inc()
	}
	return id, ok, nil
}
