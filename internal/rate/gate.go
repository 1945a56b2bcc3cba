// Package rate 提供跨 worker 共享的请求节拍闸门。
package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"ssmlaudio/pkg/contract"
)

// Limits: 闸门配置。RPS<=0 表示不限速。
// 突发固定为 1：相邻两次派发间隔不小于 1/RPS。
type Limits struct {
	RPS float64 // 每秒最大请求数
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到本次派发的时间槽到达或 ctx 取消。
	Wait(ctx context.Context) error
	// Try: 非阻塞尝试；时间槽未到返回 false。
	Try() bool
}

// NewGate: 所有调用方共享同一个 Limiter；clk 为空则使用 time.Now。
func NewGate(lim Limits, clk func() time.Time) Gate {
	if lim.RPS <= 0 {
		return unlimited{}
	}
	if clk == nil {
		clk = time.Now
	}
	return &gate{clk: clk, lim: xrate.NewLimiter(xrate.Limit(lim.RPS), 1)}
}

// Unlimited: 不限速闸门。
func Unlimited() Gate { return unlimited{} }

type unlimited struct{}

func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (unlimited) Try() bool                      { return true }

type gate struct {
	mu  sync.Mutex
	clk func() time.Time
	lim *xrate.Limiter
}

// reserve: 读时钟、预留时间槽、计算等待在同一临界区内完成。
func (g *gate) reserve() (*xrate.Reservation, time.Time, time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clk()
	r := g.lim.ReserveN(now, 1)
	if !r.OK() {
		return nil, now, 0, contract.ErrInvalidInput
	}
	return r, now, r.DelayFrom(now), nil
}

func (g *gate) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, now, d, err := g.reserve()
	if err != nil {
		return err
	}
	if err := sleepCtx(ctx, d); err != nil {
		// 归还未使用的时间槽
		g.mu.Lock()
		r.CancelAt(now)
		g.mu.Unlock()
		return err
	}
	return nil
}

func (g *gate) Try() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lim.AllowN(g.clk(), 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Gate = (*gate)(nil)
