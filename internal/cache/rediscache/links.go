package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/SentryBox/internal/models"
	"github.com/pkg/errors"
)

const (
	linksKeyPrefix = "sentrybox:links:"
	// emptyLinksTTL ограничивает, сколько новая связка может оставаться невидимой.
	emptyLinksTTL = 30 * time.Second
)

// LinkCache хранит список связок по VIN как JSON.
// Пустой список тоже кэшируется, но коротко: VIN без подписчиков не должен
// бить в БД на каждое сообщение, а только что привязанный VIN должен быстро
// начать получать алерты.
type LinkCache struct {
	c        *Client
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewLinkCache(c *Client, ttl time.Duration) *LinkCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	emptyTTL := emptyLinksTTL
	if ttl < emptyTTL {
		emptyTTL = ttl
	}
	return &LinkCache{c: c, ttl: ttl, emptyTTL: emptyTTL}
}

func linksKey(vin string) string { return linksKeyPrefix + vin }

func (lc *LinkCache) Get(ctx context.Context, vin string) ([]models.Link, bool, error) {
	b, ok, err := lc.c.Get(ctx, linksKey(vin))
	if err != nil || !ok {
		return nil, false, err
	}
	var links []models.Link
	if err := json.Unmarshal(b, &links); err != nil {
		return nil, false, errors.Wrap(err, "decode cached links")
	}
	return links, true, nil
}

func (lc *LinkCache) Put(ctx context.Context, vin string, links []models.Link) error {
	if links == nil {
		links = []models.Link{}
	}
	b, err := json.Marshal(links)
	if err != nil {
		return errors.Wrap(err, "encode links")
	}
	ttl := lc.ttl
	if len(links) == 0 {
		ttl = lc.emptyTTL
	}
	return lc.c.Set(ctx, linksKey(vin), b, ttl)
}

func (lc *LinkCache) Invalidate(ctx context.Context, vins ...string) error {
	keys := make([]string, 0, len(vins))
	for _, v := range vins {
		keys = append(keys, linksKey(v))
	}
	return lc.c.Del(ctx, keys...)
}
