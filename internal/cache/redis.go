package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/models"
)

const (
	scanBatch    = 200
	redisTimeout = 2 * time.Second
)

// Redis shares cached decisions between replicas. Every Redis failure is
// logged and treated as a miss.
type Redis struct {
	rdb *goredis.Client
	log *logger.Logger

	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
}

// NewRedis connects and pings the server
func NewRedis(ctx context.Context, addr, password string, db int, log *logger.Logger) (*Redis, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisFromClient(rdb, log), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(rdb *goredis.Client, log *logger.Logger) *Redis {
	if log == nil {
		log = logger.Nop()
	}
	return &Redis{rdb: rdb, log: log.Component("RedisCache")}
}

func (c *Redis) Get(ctx context.Context, f Fingerprint) (models.Decision, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	raw, err := c.rdb.Get(ctx, f.Key()).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.log.Warn("Redis get failed", "key", f.Key(), "error", err)
		}
		c.misses.Add(1)
		return models.Decision{}, false
	}

	d, err := decodeDecision(raw)
	if err != nil {
		c.log.Warn("Dropping undecodable cache entry", "key", f.Key(), "error", err)
		_ = c.rdb.Del(ctx, f.Key()).Err()
		c.misses.Add(1)
		return models.Decision{}, false
	}
	c.hits.Add(1)
	return d, true
}

func (c *Redis) Put(ctx context.Context, f Fingerprint, d models.Decision, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := encodeDecision(d)
	if err != nil {
		c.log.Error("Failed to encode decision", "key", f.Key(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := c.rdb.Set(ctx, f.Key(), raw, ttl).Err(); err != nil {
		c.log.Warn("Redis set failed", "key", f.Key(), "error", err)
		return
	}
	c.sets.Add(1)
}

// InvalidatePlant scans the plant's key prefix and deletes every match
func (c *Redis) InvalidatePlant(ctx context.Context, plantID int) int {
	return c.deleteMatching(ctx, PlantPrefix(plantID)+"*")
}

// InvalidateAll deletes every prediction key; other keys in the database are left alone
func (c *Redis) InvalidateAll(ctx context.Context) int {
	return c.deleteMatching(ctx, keyPrefix+":*")
}

func (c *Redis) deleteMatching(ctx context.Context, match string) int {
	keys, err := c.scan(ctx, match)
	if err != nil {
		c.log.Warn("Redis scan failed", "match", match, "error", err)
	}
	if len(keys) == 0 {
		return 0
	}

	removed := 0
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		n, err := c.rdb.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			c.log.Warn("Redis delete failed", "match", match, "error", err)
			continue
		}
		removed += int(n)
	}
	c.deletes.Add(uint64(removed))
	return removed
}

// Len counts prediction keys; it scans the keyspace so keep it off hot paths
func (c *Redis) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	keys, err := c.scan(ctx, keyPrefix+":*")
	if err != nil {
		c.log.Warn("Redis scan failed", "error", err)
	}
	return len(keys)
}

func (c *Redis) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		HitRate: hitRate(hits, misses),
	}
}

func (c *Redis) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Redis) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func encodeDecision(d models.Decision) ([]byte, error) {
	return json.Marshal(d)
}

func decodeDecision(raw []byte) (models.Decision, error) {
	var d models.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return models.Decision{}, err
	}
	return d, nil
}
