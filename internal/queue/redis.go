package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLeaseTTL is how long a worker's claim on its in-flight messages
// survives without a heartbeat.
const DefaultLeaseTTL = 30 * time.Second

// Redis is a reliable list queue. Dequeue atomically moves a message onto a
// processing list owned by this worker; Ack removes it from there and Nack
// pushes it back. Each worker holds a lease key while it runs. Only the
// processing lists of workers whose lease lapsed are reclaimed, so a live
// worker never loses a message it is still working on.
type Redis struct {
	rdb      *redis.Client
	prefix   string
	key      string
	workers  string
	id       string
	poll     time.Duration
	leaseTTL time.Duration
}

func NewRedis(rdb *redis.Client, name string) *Redis {
	if name == "" {
		name = "embedding"
	}
	prefix := "docflow:queue:" + name
	return &Redis{
		rdb:      rdb,
		prefix:   prefix,
		key:      prefix,
		workers:  prefix + ":workers",
		id:       uuid.NewString(),
		poll:     5 * time.Second,
		leaseTTL: DefaultLeaseTTL,
	}
}

// WorkerID identifies this queue consumer in redis.
func (r *Redis) WorkerID() string { return r.id }

func (r *Redis) processingKey(id string) string { return r.prefix + ":processing:" + id }
func (r *Redis) leaseKey(id string) string      { return r.prefix + ":lease:" + id }

// renewLease registers this worker and extends its lease.
func (r *Redis) renewLease(ctx context.Context) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.workers, r.id)
		pipe.Set(ctx, r.leaseKey(r.id), time.Now().UTC().Format(time.RFC3339), r.leaseTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis lease: %w", err)
	}
	return nil
}

func (r *Redis) Enqueue(ctx context.Context, ref WorkRef) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal work ref: %w", err)
	}
	if err := r.rdb.LPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context) (*Delivery, error) {
	processing := r.processingKey(r.id)
	for {
		// The lease must exist before a message lands on our list.
		if err := r.renewLease(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		raw, err := r.rdb.BLMove(ctx, r.key, processing, "RIGHT", "LEFT", r.poll).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis blmove: %w", err)
		}

		var ref WorkRef
		if err := json.Unmarshal([]byte(raw), &ref); err != nil {
			// Poison message: drop it so it does not block the queue.
			_ = r.rdb.LRem(ctx, processing, 1, raw).Err()
			continue
		}
		return &Delivery{
			Ref: ref,
			ack: func(ctx context.Context) error {
				return r.rdb.LRem(ctx, processing, 1, raw).Err()
			},
			nack: func(ctx context.Context) error {
				_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.LRem(ctx, processing, 1, raw)
					pipe.RPush(ctx, r.key, raw)
					return nil
				})
				return err
			},
		}, nil
	}
}

// Recover moves messages held by workers whose lease expired back onto the
// main list and forgets those workers. It returns how many were moved.
func (r *Redis) Recover(ctx context.Context) (int, error) {
	ids, err := r.rdb.SMembers(ctx, r.workers).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers: %w", err)
	}
	n := 0
	for _, id := range ids {
		if id == r.id {
			continue
		}
		alive, err := r.rdb.Exists(ctx, r.leaseKey(id)).Result()
		if err != nil {
			return n, fmt.Errorf("redis exists: %w", err)
		}
		if alive > 0 {
			continue
		}
		for {
			_, err := r.rdb.LMove(ctx, r.processingKey(id), r.key, "RIGHT", "RIGHT").Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return n, fmt.Errorf("redis lmove: %w", err)
			}
			n++
		}
		if err := r.rdb.SRem(ctx, r.workers, id).Err(); err != nil {
			return n, fmt.Errorf("redis srem: %w", err)
		}
	}
	return n, nil
}

// KeepAlive renews this worker's lease and reclaims lapsed workers' messages
// every third of the lease TTL until ctx is done. report, if set, receives
// the result of each reclaim pass.
func (r *Redis) KeepAlive(ctx context.Context, report func(moved int, err error)) error {
	ticker := time.NewTicker(r.leaseTTL / 3)
	defer ticker.Stop()
	for {
		if err := r.renewLease(ctx); err != nil && report != nil && ctx.Err() == nil {
			report(0, err)
		}
		moved, err := r.Recover(ctx)
		if report != nil && ctx.Err() == nil && (moved > 0 || err != nil) {
			report(moved, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close drops this worker's lease. Messages still on its processing list
// are reclaimed by the next worker that runs Recover.
func (r *Redis) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.rdb.Del(ctx, r.leaseKey(r.id)).Err()
}
