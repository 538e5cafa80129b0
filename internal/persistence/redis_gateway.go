package persistence

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters for the Redis gateway.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// redisGateway stores every node as a plain string key named after its path.
type redisGateway struct {
	rdb *redis.Client
}

// NewRedisGateway connects and pings Redis before returning the gateway.
func NewRedisGateway(ctx context.Context, cfg RedisConfig) (Gateway, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis: ping")
	}
	return &redisGateway{rdb: rdb}, nil
}

func (g *redisGateway) Put(ctx context.Context, path string, value []byte) error {
	key := Clean(path)
	return errors.Wrapf(g.rdb.Set(ctx, key, value, 0).Err(), "redis: put %s", key)
}

func (g *redisGateway) Delete(ctx context.Context, path string) error {
	node := Clean(path)
	keys, err := g.scan(ctx, node+"/")
	if err != nil {
		return err
	}
	keys = append(keys, node)

	const batch = 500
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		if err := g.rdb.Del(ctx, keys[start:end]...).Err(); err != nil {
			return errors.Wrapf(err, "redis: delete %s", node)
		}
	}
	return nil
}

func (g *redisGateway) ListChildren(ctx context.Context, path string) ([][]byte, error) {
	prefix := Clean(path) + "/"
	all, err := g.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(all))
	for _, k := range all {
		if _, ok := childName(prefix, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, 0, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	res, err := g.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis: mget %s", prefix)
	}
	for _, v := range res {
		// 键可能在 SCAN 与 MGET 之间被删除
		if s, ok := v.(string); ok {
			values = append(values, []byte(s))
		}
	}
	return values, nil
}

// scan collects every key starting with prefix.
func (g *redisGateway) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := g.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "redis: scan %s", prefix)
	}
	return keys, nil
}

func (g *redisGateway) Close() error {
	return g.rdb.Close()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob makes a literal string safe to use inside a SCAN MATCH pattern.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
