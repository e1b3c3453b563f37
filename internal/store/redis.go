package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"docflow/internal/model"
)

const (
	redisJobPrefix   = "docflow:job:"
	redisCreatedZSet = "docflow:jobs:created"
	maxTxRetries     = 10
)

// Redis stores each job as one JSON string with a TTL equal to the
// retention window. A sorted set of creation times lets DeleteExpired
// clean up records whose TTL was removed or never applied.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	now Clock
}

func NewRedis(rdb *redis.Client, ttl time.Duration, now Clock) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, now: clockOrDefault(now)}
}

func jobKey(id string) string { return redisJobPrefix + id }

func (r *Redis) Create(ctx context.Context, job *model.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	key := jobKey(job.ID)
	ok, err := r.rdb.SetNX(ctx, key, payload, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	score := float64(job.CreatedAt.Unix())
	if err := r.rdb.ZAdd(ctx, redisCreatedZSet, redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		_ = r.rdb.Del(ctx, key).Err()
		return fmt.Errorf("redis zadd: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*model.Job, error) {
	raw, err := r.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	job, err := r.decode(raw)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Redis) decode(raw []byte) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.Expired(r.ttl, r.now()) {
		return nil, ErrNotFound
	}
	return &job, nil
}

// Update runs fn inside WATCH/MULTI and retries when another client
// touched the key between the read and the write.
func (r *Redis) Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	key := jobKey(id)
	var out *model.Job

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		job, err := r.decode(raw)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		if err == nil {
			out = job
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("redis update %s: too much contention", id)
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, jobKey(id))
		pipe.ZRem(ctx, redisCreatedZSet, id)
		return nil
	})
	return err
}

func (r *Redis) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, redisCreatedZSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
		members[i] = id
	}
	var del *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, redisCreatedZSet, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis delete expired: %w", err)
	}
	return del.Val(), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
