package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace-checkout/pkg/httpmiddleware"
)

const rateLimitPrefix = "ratelimit:"

// FixedWindow is a Limiter shared by every API instance. Each client gets one
// counter per window; the counter expires with the window.
type FixedWindow struct {
	rdb    *goredis.Client
	limit  int
	window time.Duration
}

var _ httpmiddleware.Limiter = (*FixedWindow)(nil)

// NewFixedWindow admits limit requests per window and client.
func NewFixedWindow(rdb *goredis.Client, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{rdb: rdb, limit: limit, window: window}
}

func (f *FixedWindow) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(f.window)
	reset := start.Add(f.window)
	redisKey := rateLimitPrefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *goredis.IntCmd
	_, err := f.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.ExpireAt(ctx, redisKey, reset.Add(time.Second))
		return nil
	})
	if err != nil {
		return httpmiddleware.Decision{}, fmt.Errorf("counting request: %w", err)
	}

	count := int(incr.Val())
	return httpmiddleware.Decision{
		Allowed:   count <= f.limit,
		Remaining: max(f.limit-count, 0),
		ResetAt:   reset,
	}, nil
}
