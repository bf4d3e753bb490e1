package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mixlab/mixlab/sdk/go/auth"
)

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("session: redis unavailable")

// RedisPersister stores each record as a single string value, so a record is
// replaced whole by one SET.
type RedisPersister struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisPersister returns a persister writing keys as prefix+":"+key.
// A ttl <= 0 defaults to the refresh token lifetime; once the refresh token
// is dead the record has no value.
func NewRedisPersister(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisPersister {
	if ttl <= 0 {
		ttl = auth.RefreshTokenTTL
	}
	return &RedisPersister{redis: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisPersister) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisPersister) Load(ctx context.Context, key string) (Record, bool, error) {
	data, err := r.redis.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.Join(ErrRedisUnavailable, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("session: decode record: %w", err)
	}
	return rec, true, nil
}

func (r *RedisPersister) Save(ctx context.Context, key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}
	if err := r.redis.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return errors.Join(ErrRedisUnavailable, err)
	}
	return nil
}
