// Package redisstore backs the current-price and active-candle ports
// with Redis. Both hold snapshots, not logs, so every write is a plain
// SET of the serialized value.
package redisstore

import (
	"context"
	"time"

	"main/internal/model"
	"main/internal/store"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
	"github.com/yanun0323/errors"
)

const (
	priceKeyPrefix  = "price:current:"
	activeKeyPrefix = "candle:active:"
)

// Prices implements store.CurrentPriceStore on Redis.
type Prices struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPrices creates the store. A zero ttl keeps snapshots forever.
func NewPrices(rdb *redis.Client, ttl time.Duration) *Prices {
	return &Prices{rdb: rdb, ttl: ttl}
}

func (s *Prices) SetPrice(ctx context.Context, instrumentID string, tick model.PriceTick) error {
	payload, err := sonic.Marshal(tick)
	if err != nil {
		return errors.Wrap(err, "marshal tick")
	}
	return s.rdb.Set(ctx, priceKeyPrefix+instrumentID, payload, s.ttl).Err()
}

func (s *Prices) Price(ctx context.Context, instrumentID string) (model.PriceTick, error) {
	payload, err := s.rdb.Get(ctx, priceKeyPrefix+instrumentID).Bytes()
	if err == redis.Nil {
		return model.PriceTick{}, store.ErrNotFound
	}
	if err != nil {
		return model.PriceTick{}, errors.Wrap(err, "get current price")
	}
	var tick model.PriceTick
	if err := sonic.Unmarshal(payload, &tick); err != nil {
		return model.PriceTick{}, errors.Wrap(err, "unmarshal tick")
	}
	return tick, nil
}

// ActiveCandles implements store.ActiveCandleStore on Redis, one key
// per (instrument, timeframe).
type ActiveCandles struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewActiveCandles(rdb *redis.Client, ttl time.Duration) *ActiveCandles {
	return &ActiveCandles{rdb: rdb, ttl: ttl}
}

func activeKey(instrumentID string, tf model.Timeframe) string {
	return activeKeyPrefix + instrumentID + ":" + string(tf)
}

func (s *ActiveCandles) SetActive(ctx context.Context, instrumentID string, candle model.Candle) error {
	payload, err := sonic.Marshal(candle)
	if err != nil {
		return errors.Wrap(err, "marshal candle")
	}
	return s.rdb.Set(ctx, activeKey(instrumentID, candle.Timeframe), payload, s.ttl).Err()
}

func (s *ActiveCandles) Active(ctx context.Context, instrumentID string, tf model.Timeframe) (model.Candle, error) {
	payload, err := s.rdb.Get(ctx, activeKey(instrumentID, tf)).Bytes()
	if err == redis.Nil {
		return model.Candle{}, store.ErrNotFound
	}
	if err != nil {
		return model.Candle{}, errors.Wrap(err, "get active candle")
	}
	var candle model.Candle
	if err := sonic.Unmarshal(payload, &candle); err != nil {
		return model.Candle{}, errors.Wrap(err, "unmarshal candle")
	}
	return candle, nil
}

func (s *ActiveCandles) ActiveAll(ctx context.Context, instrumentID string) ([]model.Candle, error) {
	keys, err := s.rdb.Keys(ctx, activeKeyPrefix+instrumentID+":*").Result()
	if err != nil {
		return nil, errors.Wrap(err, "list active candle keys")
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "mget active candles")
	}
	out := make([]model.Candle, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var candle model.Candle
		if err := sonic.Unmarshal([]byte(raw), &candle); err != nil {
			continue
		}
		out = append(out, candle)
	}
	return out, nil
}
