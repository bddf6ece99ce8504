package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RepriceQueue is a redis list of challenge ids waiting to be re-priced.
// A companion set keeps a challenge queued at most once.
type RepriceQueue struct {
	rdb     redis.Cmdable
	name    string
	lockKey string
}

func NewRepriceQueue(rdb redis.Cmdable, name, lockKey string) *RepriceQueue {
	return &RepriceQueue{rdb: rdb, name: name, lockKey: lockKey}
}

func (q *RepriceQueue) pendingKey() string { return q.name + ":pending" }

// LockKey is the per-challenge lock guarding a re-pricing pass.
func (q *RepriceQueue) LockKey(challengeID int64) string {
	return q.lockKey + ":" + strconv.FormatInt(challengeID, 10)
}

// Enqueue schedules challengeID unless it is already waiting.
func (q *RepriceQueue) Enqueue(ctx context.Context, challengeID int64) error {
	id := strconv.FormatInt(challengeID, 10)
	added, err := q.rdb.SAdd(ctx, q.pendingKey(), id).Result()
	if err != nil {
		return fmt.Errorf("RepriceQueue.Enqueue: %w", err)
	}
	if added == 0 {
		return nil
	}
	if err := q.rdb.LPush(ctx, q.name, id).Err(); err != nil {
		q.rdb.SRem(ctx, q.pendingKey(), id)
		return fmt.Errorf("RepriceQueue.Enqueue: %w", err)
	}
	return nil
}

// Requeue puts a challenge back at the tail, used when its lock is busy.
func (q *RepriceQueue) Requeue(ctx context.Context, challengeID int64) error {
	return q.Enqueue(ctx, challengeID)
}

// Pop blocks up to timeout for the next challenge id. It returns redis.Nil on timeout.
func (q *RepriceQueue) Pop(ctx context.Context, timeout time.Duration) (int64, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		return 0, err
	}
	// BRPop returns [queueName, value]
	if len(res) < 2 || res[1] == "" {
		return 0, redis.Nil
	}
	if err := q.rdb.SRem(ctx, q.pendingKey(), res[1]).Err(); err != nil {
		return 0, fmt.Errorf("RepriceQueue.Pop: %w", err)
	}
	id, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("RepriceQueue.Pop: bad challenge id %q: %w", res[1], err)
	}
	return id, nil
}

// Lock takes the per-challenge lock. ok is false if another worker holds it.
func (q *RepriceQueue) Lock(ctx context.Context, challengeID int64, owner string, ttl time.Duration) (bool, error) {
	ok, err := q.rdb.SetNX(ctx, q.LockKey(challengeID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("RepriceQueue.Lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock if owner still holds it. released is false when it
// had already expired or been taken over.
func (q *RepriceQueue) Unlock(ctx context.Context, challengeID int64, owner string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, q.rdb, []string{q.LockKey(challengeID)}, owner).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("RepriceQueue.Unlock: %w", err)
	}
	return deleted == 1, nil
}
