package settings

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const snapshotCacheKey = "snapshot"

// Redis reads toggles from a hash (HGETALL <key>) and keeps the parsed result
// for a short TTL. Missing or unparsable fields fall back to the defaults, and
// so does the whole snapshot when redis cannot be reached.
type Redis struct {
	rdb      redis.Cmdable
	hashKey  string
	defaults Snapshot
	cache    *cache.Cache
}

func NewRedis(rdb redis.Cmdable, hashKey string, defaults Snapshot, ttl time.Duration) *Redis {
	return &Redis{
		rdb:      rdb,
		hashKey:  hashKey,
		defaults: defaults,
		cache:    cache.New(ttl, 2*ttl),
	}
}

func (r *Redis) Snapshot(ctx context.Context) (Snapshot, error) {
	if v, ok := r.cache.Get(snapshotCacheKey); ok {
		return v.(Snapshot), nil
	}
	fields, err := r.rdb.HGetAll(ctx, r.hashKey).Result()
	if err != nil {
		if ctx.Err() != nil {
			return Snapshot{}, fmt.Errorf("settings.Redis.Snapshot: %w", err)
		}
		// The fallback is cached for the TTL like a real read.
		log.Printf("WARN: Failed to read settings hash %s, using defaults: %v", r.hashKey, err)
		fields = nil
	}
	snap := Merge(r.defaults, fields)
	r.cache.SetDefault(snapshotCacheKey, snap)
	return snap, nil
}

// Invalidate drops the cached snapshot so the next read goes to redis.
func (r *Redis) Invalidate() {
	r.cache.Delete(snapshotCacheKey)
}

// Merge overlays raw hash fields onto defaults.
func Merge(defaults Snapshot, fields map[string]string) Snapshot {
	s := defaults
	setBool := func(key string, target *bool) {
		raw, ok := fields[key]
		if !ok {
			return
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			log.Printf("WARN: settings key %s has non-boolean value %q, using default", key, raw)
			return
		}
		*target = v
	}
	setInt := func(key string, target *int64) {
		raw, ok := fields[key]
		if !ok {
			return
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Printf("WARN: settings key %s has non-integer value %q, using default", key, raw)
			return
		}
		*target = v
	}

	setBool(KeyEnableFlagSubmission, &s.EnableFlagSubmission)
	setBool(KeyEnableFlagSubmissionAfterCompetition, &s.EnableFlagSubmissionAfterCompetition)
	setBool(KeyEnableScoring, &s.EnableScoring)
	setBool(KeyEnableTrackIncorrectSubmissions, &s.EnableTrackIncorrectSubmissions)
	setBool(KeyEnableTeams, &s.EnableTeams)
	setInt(KeyStartTime, &s.StartTime)
	setInt(KeyEndTime, &s.EndTime)
	if prefix, ok := fields[KeyFlagPrefix]; ok {
		s.FlagPrefix = prefix
	}
	return s
}
