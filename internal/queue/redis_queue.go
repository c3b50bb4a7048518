// Package queue keeps the sweep schedule in Redis: every owner/product
// target waits in a sorted set scored by its next generation time, moves to
// a ready list when due, and is leased with a visibility timeout while a
// worker generates for it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/models"
)

// ErrUnknownTarget is returned when a leased key has no metadata.
var ErrUnknownTarget = errors.New("unknown sweep target")

// RedisQueue coordinates scheduled, ready, and in-flight sweep targets in Redis.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	metaPrefix    string
	visibilityTTL time.Duration
	dlqKey        string
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg.VisibilityTimeout)
}

// NewRedisQueueWithClient builds a queue on an existing client.
func NewRedisQueueWithClient(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 10 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "sweep:ready",
		inflightKey:   "sweep:inflight",
		scheduledKey:  "sweep:scheduled",
		metaPrefix:    "sweep:meta:",
		visibilityTTL: visibility,
		dlqKey:        "sweep:dlq",
	}
}

func (q *RedisQueue) metaKey(key string) string {
	return q.metaPrefix + key
}

// Close releases the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Seed adds targets that are not tracked yet, scheduled at runAt. Targets
// already scheduled, ready, or leased keep their position. Each target is
// registered and scheduled in one script so a failure never leaves metadata
// without a schedule entry. It returns how many were added.
func (q *RedisQueue) Seed(ctx context.Context, targets []models.SweepTarget, runAt time.Time) (int, error) {
	added := 0
	score := runAt.UnixMilli()
	for _, t := range targets {
		key := t.Key()
		fresh, err := seedScript.Run(ctx, q.client, []string{q.metaKey(key), q.scheduledKey},
			t.OwnerID, t.ProductID, score, key).Int()
		if err != nil {
			return added, fmt.Errorf("seed %s: %w", key, err)
		}
		added += fresh
	}
	return added, nil
}

// Schedule (re)places a tracked target in the scheduled set.
func (q *RedisQueue) Schedule(ctx context.Context, t models.SweepTarget, runAt time.Time) error {
	key := t.Key()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(key), "owner_id", t.OwnerID, "product_id", t.ProductID)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: key})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteDue moves due targets into the ready list. It returns how many were promoted.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	keys, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, key := range keys {
		pipe.ZRem(ctx, q.scheduledKey, key)
		pipe.RPush(ctx, q.readyKey, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DequeueWithLease pops a ready target and places it into in-flight with a
// visibility deadline of now plus the visibility timeout. It returns "" when
// nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context, now time.Time) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, now.Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	key, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return key, nil
}

// Target reads the metadata of a tracked key.
func (q *RedisQueue) Target(ctx context.Context, key string) (models.SweepTarget, int, error) {
	vals, err := q.client.HGetAll(ctx, q.metaKey(key)).Result()
	if err != nil {
		return models.SweepTarget{}, 0, err
	}
	if vals["owner_id"] == "" || vals["product_id"] == "" {
		return models.SweepTarget{}, 0, fmt.Errorf("%s: %w", key, ErrUnknownTarget)
	}
	attempts, _ := strconv.Atoi(vals["attempts"])
	return models.SweepTarget{OwnerID: vals["owner_id"], ProductID: vals["product_id"]}, attempts, nil
}

// Ack ends the lease after a successful run, clears the failure count, and
// schedules the next run.
func (q *RedisQueue) Ack(ctx context.Context, key string, next time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, key)
	pipe.HSet(ctx, q.metaKey(key), "attempts", 0)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(next.UnixMilli()), Member: key})
	_, err := pipe.Exec(ctx)
	return err
}

// IncrAttempts records a failed run and returns the consecutive failure count.
func (q *RedisQueue) IncrAttempts(ctx context.Context, key string) (int, error) {
	n, err := q.client.HIncrBy(ctx, q.metaKey(key), "attempts", 1).Result()
	return int(n), err
}

// Retry ends the lease of a failed run and schedules it again at runAt.
func (q *RedisQueue) Retry(ctx context.Context, key string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, key)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: key})
	_, err := pipe.Exec(ctx)
	return err
}

// DeadLetter records a target that exhausted its retries and puts it back on
// the regular cadence at next.
func (q *RedisQueue) DeadLetter(ctx context.Context, key string, next time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.dlqKey, key)
	pipe.ZRem(ctx, q.inflightKey, key)
	pipe.HSet(ctx, q.metaKey(key), "attempts", 0)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(next.UnixMilli()), Member: key})
	_, err := pipe.Exec(ctx)
	return err
}

// ExtendLease moves the visibility deadline of an in-flight target to until.
// Targets no longer in flight are left alone.
func (q *RedisQueue) ExtendLease(ctx context.Context, key string, until time.Time) error {
	return q.client.ZAddXX(ctx, q.inflightKey, redis.Z{
		Score:  float64(until.UnixMilli()),
		Member: key,
	}).Err()
}

// RequeueExpired reclaims leases that timed out, moving them back to ready.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	keys, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, key := range keys {
		pipe.ZRem(ctx, q.inflightKey, key)
		pipe.RPush(ctx, q.readyKey, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return keys, nil
}

// Remove drops a target from every set and deletes its metadata.
func (q *RedisQueue) Remove(ctx context.Context, key string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.readyKey, 0, key)
	pipe.ZRem(ctx, q.inflightKey, key)
	pipe.ZRem(ctx, q.scheduledKey, key)
	pipe.Del(ctx, q.metaKey(key))
	_, err := pipe.Exec(ctx)
	return err
}

// DLQPeek reads the oldest dead-lettered target keys.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the number of targets waiting for a worker.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InFlight returns the number of leased targets.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

// seedScript treats a target as tracked once its product_id is recorded, so
// a half-written hash is completed instead of blocking the target forever.
var seedScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], 'product_id') == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'owner_id', ARGV[1], 'product_id', ARGV[2], 'attempts', 0)
redis.call('ZADD', KEYS[2], 'NX', ARGV[3], ARGV[4])
return 1
`)

var dequeueScript = redis.NewScript(`
local target = redis.call('LPOP', KEYS[1])
if target then
  redis.call('ZADD', KEYS[2], ARGV[1], target)
  return target
end
return nil
`)
