package emulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"fpagent/pkg/fingerprint"
)

// NewRequestID：形如 "1700000000000.a1b2c3" 的请求标识
func NewRequestID(now time.Time) string {
	return fmt.Sprintf("%d.%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

func newVisitorID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// componentsHash：组件与 UA 的稳定摘要
// 约束：map 键在 json 编码时已排序，同样的组件总得到同样的摘要。
func componentsHash(components map[string]any, ua string) string {
	b, _ := json.Marshal(components)
	return fmt.Sprintf("%016x", xxh3.HashString(string(b)+"|"+ua))
}

// lookups：一次识别中并行查询的结果，每个字段只由一个 goroutine 写入
type lookups struct {
	hashVisitor string
	hashHit     bool
	storedKnown bool
	loc         fingerprint.IPLocation
	org         *fingerprint.Organization
}

func (s *Server) lookup(ctx context.Context, hash, stored string, ip net.IP, shape fingerprint.ResultShape) (*lookups, error) {
	var out lookups
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, ok, err := s.d.Index.LookupHash(gctx, hash)
		out.hashVisitor, out.hashHit = v, ok
		return err
	})
	if stored != "" {
		g.Go(func() error {
			k, err := s.d.Index.Known(gctx, stored)
			out.storedKnown = k
			return err
		})
	}
	if shape != fingerprint.ShapeBase {
		g.Go(func() error {
			loc, err := s.d.Geo.Location(ip)
			if err != nil {
				s.l.Debug("geo_city_error", "ip", ip.String(), "err", err)
				return nil
			}
			out.loc = loc
			return nil
		})
	}
	if shape == fingerprint.ShapeFullIPExtended {
		g.Go(func() error {
			org, err := s.d.Geo.Organization(ip)
			if err != nil {
				s.l.Debug("geo_org_error", "ip", ip.String(), "err", err)
				return nil
			}
			out.org = org
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &out, nil
}

// visitorMatch：访客判定结果
type visitorMatch struct {
	id    string
	found bool
	score float64
}

// matchVisitor：已知的存储标识优先；与摘要一致时置信度 1，仅一方命中 0.9，新访客 0.5
func matchVisitor(stored string, lk *lookups) visitorMatch {
	switch {
	case lk.storedKnown && lk.hashHit && lk.hashVisitor == stored:
		return visitorMatch{id: stored, found: true, score: 1}
	case lk.storedKnown:
		return visitorMatch{id: stored, found: true, score: 0.9}
	case lk.hashHit:
		return visitorMatch{id: lk.hashVisitor, found: true, score: 0.9}
	default:
		return visitorMatch{id: newVisitorID(), score: 0.5}
	}
}
