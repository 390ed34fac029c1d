package visitordb

import (
	"context"

	"go.uber.org/multierr"
)

// 文档注释：多级访客索引
// 背景：进程内索引在前、共享索引（Redis）在后；按顺序查询，后级命中时回填前级，减少跨网络查询。
// 约束：写入作用于所有层级，任一层失败时返回汇总错误；nil 层级被跳过。
type Chain struct {
	list []Index
}

func NewChain(list ...Index) *Chain {
	c := &Chain{}
	for _, idx := range list {
		if idx != nil {
			c.list = append(c.list, idx)
		}
	}
	return c
}

func (c *Chain) LookupHash(ctx context.Context, hash string) (string, bool, error) {
	for i, idx := range c.list {
		id, ok, err := idx.LookupHash(ctx, hash)
		if err != nil {
			return "", false, err
		}
		if ok {
			for _, front := range c.list[:i] {
				_ = front.Remember(ctx, hash, id)
			}
			return id, true, nil
		}
	}
	return "", false, nil
}

func (c *Chain) Known(ctx context.Context, visitorID string) (bool, error) {
	for _, idx := range c.list {
		ok, err := idx.Known(ctx, visitorID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (c *Chain) Remember(ctx context.Context, hash, visitorID string) error {
	var err error
	for _, idx := range c.list {
		err = multierr.Append(err, idx.Remember(ctx, hash, visitorID))
	}
	return err
}
