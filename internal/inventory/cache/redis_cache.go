package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/expiry"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "branchpos:expiry"

// RedisReportCache shares reports across service instances
type RedisReportCache struct {
	client *redis.Client
}

// NewRedisReportCache connects a client with the given options
func NewRedisReportCache(addr, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

// Health reports redis reachability for the health endpoint
func (c *RedisReportCache) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return map[string]string{"status": "down", "error": err.Error()}
	}
	return map[string]string{"status": "up"}
}

func (c *RedisReportCache) Get(ctx context.Context, branchID, date string) (Lookup, error) {
	scope := scopeOf(branchID)
	gen, err := c.generation(ctx, scope)
	if err != nil {
		return Lookup{}, err
	}

	val, err := c.client.Get(ctx, reportKey(scope, date, gen)).Result()
	if errors.Is(err, redis.Nil) {
		return Lookup{Generation: gen}, nil
	}
	if err != nil {
		return Lookup{}, err
	}

	var report expiry.Report
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return Lookup{}, err
	}
	return Lookup{Report: &report, Generation: gen}, nil
}

// Set writes under the generation the caller read. After an invalidation
// that key is never read again and ages out with its TTL.
func (c *RedisReportCache) Set(ctx context.Context, branchID, date string, generation int64, report *expiry.Report, ttl time.Duration) error {
	if report == nil {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, reportKey(scopeOf(branchID), date, generation), payload, ttl).Err()
}

// Invalidate bumps the generation of the branch and of the all-branch scope.
// Invalidating every branch moves the shared epoch instead.
func (c *RedisReportCache) Invalidate(ctx context.Context, branchID string) error {
	pipe := c.client.TxPipeline()
	if scope := scopeOf(branchID); scope == allScope {
		pipe.Incr(ctx, epochKey)
	} else {
		pipe.Incr(ctx, generationKey(scope))
		pipe.Incr(ctx, generationKey(allScope))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// generation is the scope counter plus the epoch; both only grow
func (c *RedisReportCache) generation(ctx context.Context, scope string) (int64, error) {
	vals, err := c.client.MGet(ctx, generationKey(scope), epochKey).Result()
	if err != nil {
		return 0, err
	}
	var gen int64
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt generation counter: %w", err)
		}
		gen += n
	}
	return gen, nil
}

const epochKey = keyPrefix + ":epoch"

func reportKey(scope, date string, gen int64) string {
	return fmt.Sprintf("%s:report:%s:%s:%d", keyPrefix, scope, date, gen)
}

func generationKey(scope string) string {
	return keyPrefix + ":gen:" + scope
}
