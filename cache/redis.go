package cache

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores each generation as a hash,
// and keeps the set of generation names in a separate set.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a provider using the given client.
// All keys written to redis start with the prefix.
func NewRedisCache(client *redis.Client, prefix string) RedisCache {
	return RedisCache{
		client: client,
		prefix: prefix,
	}
}

func (r RedisCache) generationsKey() string {
	return r.prefix + "generations"
}

func (r RedisCache) entriesKey(generation string) string {
	return r.prefix + "generation:" + generation
}

func (r RedisCache) Create(ctx context.Context, generation string) error {
	return r.client.SAdd(ctx, r.generationsKey(), generation).Err()
}

func (r RedisCache) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	bytes, err := r.client.HGet(ctx, r.entriesKey(generation), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (r RedisCache) Put(ctx context.Context, generation, key string, bytes []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.generationsKey(), generation)
		pipe.HSet(ctx, r.entriesKey(generation), key, bytes)
		return nil
	})
	return err
}

func (r RedisCache) Generations(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.generationsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (r RedisCache) Delete(ctx context.Context, generation string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.entriesKey(generation))
		pipe.SRem(ctx, r.generationsKey(), generation)
		return nil
	})
	return err
}

func (r RedisCache) Keys(ctx context.Context, generation string, cb func(string)) error {
	var cursor uint64
	for {
		keys, next, err := r.client.HScan(ctx, r.entriesKey(generation), cursor, "*", 100).Result()
		if err != nil {
			return err
		}
		// HSCAN returns field/value pairs
		for i := 0; i < len(keys); i += 2 {
			cb(keys[i])
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
