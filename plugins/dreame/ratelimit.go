package dreame

import (
	"context"
	"io"

	"github.com/joshp123/dreamehome/internal/rate"
)

// limitedCaller refuses calls once the device's budget is spent.
type limitedCaller struct {
	next  Caller
	guard *rate.Guard
}

func withRateLimit(next Caller, target string, perMinute int) Caller {
	if perMinute <= 0 {
		return next
	}
	return &limitedCaller{
		next:  next,
		guard: rate.NewGuard(rate.Target(target).MaxRequestsPer(rate.Minute, perMinute)),
	}
}

func (c *limitedCaller) Call(ctx context.Context, method string, params any) (any, error) {
	if err := c.guard.Allow(); err != nil {
		return nil, err
	}
	return c.next.Call(ctx, method, params)
}

func (c *limitedCaller) Close() error {
	if closer, ok := c.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
