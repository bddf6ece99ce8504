// Package cache keeps per-team challenge listings in redis.
package cache

import (
	"context"
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ctf:challenges:"

type ChallengeViews struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewChallengeViews(rdb redis.Cmdable, ttl time.Duration) *ChallengeViews {
	return &ChallengeViews{rdb: rdb, ttl: ttl}
}

// Key is the cache key for an owner's listing.
func Key(owner model.Owner) string {
	return keyPrefix + owner.String()
}

// Get returns ok=false on a cache miss.
func (c *ChallengeViews) Get(ctx context.Context, owner model.Owner) ([]model.ChallengeView, bool, error) {
	raw, err := c.rdb.Get(ctx, Key(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ChallengeViews.Get: %w", err)
	}
	var views []model.ChallengeView
	if err := json.Unmarshal(raw, &views); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next Set.
		return nil, false, nil
	}
	return views, true, nil
}

func (c *ChallengeViews) Set(ctx context.Context, owner model.Owner, views []model.ChallengeView) error {
	raw, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("ChallengeViews.Set: %w", err)
	}
	if err := c.rdb.Set(ctx, Key(owner), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("ChallengeViews.Set: %w", err)
	}
	return nil
}

func (c *ChallengeViews) Invalidate(ctx context.Context, owners ...model.Owner) error {
	if len(owners) == 0 {
		return nil
	}
	keys := make([]string, len(owners))
	for i, o := range owners {
		keys[i] = Key(o)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ChallengeViews.Invalidate: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached listing, used after challenge edits.
func (c *ChallengeViews) InvalidateAll(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("ChallengeViews.InvalidateAll: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ChallengeViews.InvalidateAll: %w", err)
	}
	return nil
}
