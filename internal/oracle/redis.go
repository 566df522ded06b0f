package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ltpKey is the Redis hash the market-data feeders write into: one field per
// symbol, each value a JSON-encoded tick.
const ltpKey = "ltp_data"

// RedisOracle reads ticks from the shared Redis price cache.
type RedisOracle struct {
	rdb *redis.Client
}

// NewRedisOracle creates an oracle backed by rdb.
func NewRedisOracle(rdb *redis.Client) *RedisOracle {
	return &RedisOracle{rdb: rdb}
}

func (o *RedisOracle) Get(ctx context.Context, symbol string) (Tick, bool, error) {
	data, err := o.rdb.HGet(ctx, ltpKey, symbol).Bytes()
	if err == redis.Nil {
		return Tick{}, false, nil
	}
	if err != nil {
		return Tick{}, false, fmt.Errorf("oracle: read %s: %w", symbol, err)
	}

	var t Tick
	if err := json.Unmarshal(data, &t); err != nil {
		return Tick{}, false, fmt.Errorf("oracle: decode tick for %s: %w", symbol, err)
	}
	t.Symbol = symbol
	return t, true, nil
}

func (o *RedisOracle) GetAll(ctx context.Context) (map[string]Tick, error) {
	fields, err := o.rdb.HGetAll(ctx, ltpKey).Result()
	if err != nil {
		return nil, fmt.Errorf("oracle: read all ticks: %w", err)
	}

	ticks := make(map[string]Tick, len(fields))
	for symbol, raw := range fields {
		var t Tick
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			// A malformed entry from a feeder must not poison the snapshot.
			continue
		}
		t.Symbol = symbol
		ticks[symbol] = t
	}
	return ticks, nil
}
