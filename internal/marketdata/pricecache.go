package marketdata

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const priceKeyPrefix = "lapinex:last_price:"

// PriceCache keeps the last trade price per bunny in redis so snapshot reads
// skip a trades-table query. The cache is advisory: a miss falls back to the
// store, and the engine works with a nil cache.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewPriceCache connects to redis; returns nil when the address is empty or
// redis is unreachable, and callers treat nil as "no cache".
func NewPriceCache(address, password string, db int, logger *zap.Logger) *PriceCache {
	if address == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: address, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, proceeding without price cache", zap.Error(err))
		return nil
	}
	logger.Info("redis price cache initialized")
	return &PriceCache{client: client, ttl: time.Hour, logger: logger}
}

// Set records the last trade price for a symbol.
func (c *PriceCache) Set(ctx context.Context, symbol string, price decimal.Decimal) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, priceKeyPrefix+symbol, price.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache last price", zap.String("symbol", symbol), zap.Error(err))
	}
}

// Get returns the cached last price; ok is false on miss or error.
func (c *PriceCache) Get(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if c == nil {
		return decimal.Zero, false
	}
	val, err := c.client.Get(ctx, priceKeyPrefix+symbol).Result()
	if err != nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}
