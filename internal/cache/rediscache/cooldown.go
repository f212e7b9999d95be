package rediscache

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const cooldownKeyPrefix = "sentrybox:cooldown:"

// Cooldown ограничивает число алертов на пару (пользователь, VIN) в фиксированном окне.
type Cooldown struct {
	c      *Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewCooldown(c *Client, limit int64, window time.Duration) *Cooldown {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Cooldown{c: c, limit: limit, window: window, now: time.Now}
}

// Allow делает INCR по ключу текущего окна и ставит TTL.
// Возвращает (allowed, currentCount).
func (cd *Cooldown) Allow(ctx context.Context, userID, vin string) (bool, int64, error) {
	bucket := cd.now().UnixNano() / int64(cd.window)
	key := cooldownKeyPrefix + userID + ":" + vin + ":" + strconv.FormatInt(bucket, 10)

	pipe := cd.c.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, cd.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis cooldown")
	}
	n := incr.Val()
	return n <= cd.limit, n, nil
}
