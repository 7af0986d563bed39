package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache.
//
// Key schema (under the client prefix):
//
//	market:{address}   - JSON MarketView
//	market:id:{id}     - base58 address of the market with that id
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache. A zero ttl uses five minutes.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) viewKey(addr domain.PublicKey) string {
	return mc.c.Key("market", addr.String())
}

func (mc *MarketCache) idKey(id uint64) string {
	return mc.c.Key("market", "id", strconv.FormatUint(id, 10))
}

// Set stores the view and its market-id index entry in one transaction.
func (mc *MarketCache) Set(ctx context.Context, view domain.MarketView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", view.Address, err)
	}
	pipe := mc.c.rdb.TxPipeline()
	pipe.Set(ctx, mc.viewKey(view.Address), data, mc.ttl)
	pipe.Set(ctx, mc.idKey(view.MarketID), view.Address.String(), mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", view.Address, err)
	}
	return nil
}

// Get returns the cached view or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, addr domain.PublicKey) (domain.MarketView, error) {
	data, err := mc.c.rdb.Get(ctx, mc.viewKey(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketView{}, fmt.Errorf("redis: market %s: %w", addr, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("redis: get market %s: %w", addr, err)
	}
	var view domain.MarketView
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.MarketView{}, fmt.Errorf("redis: unmarshal market %s: %w", addr, err)
	}
	return view, nil
}

// GetByMarketID resolves the id index and then the view.
func (mc *MarketCache) GetByMarketID(ctx context.Context, marketID uint64) (domain.MarketView, error) {
	s, err := mc.c.rdb.Get(ctx, mc.idKey(marketID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.MarketView{}, fmt.Errorf("redis: market id %d: %w", marketID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("redis: get market id %d: %w", marketID, err)
	}
	addr, err := domain.ParsePublicKey(s)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("redis: market id %d index: %w", marketID, err)
	}
	return mc.Get(ctx, addr)
}

// Invalidate removes the view and, when it can still be read, its id index.
func (mc *MarketCache) Invalidate(ctx context.Context, addr domain.PublicKey) error {
	view, err := mc.Get(ctx, addr)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", addr, err)
	}
	pipe := mc.c.rdb.TxPipeline()
	pipe.Del(ctx, mc.viewKey(addr))
	if err == nil {
		pipe.Del(ctx, mc.idKey(view.MarketID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", addr, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
