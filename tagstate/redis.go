package tagstate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors per-device online tag sets and per-tag last-seen times.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "intellikeeper"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) onlineKey(deviceID int64) string {
	return fmt.Sprintf("%s:device:%d:online", r.prefix, deviceID)
}

func (r *RedisStore) lastSeenKey(tagID int64) string {
	return fmt.Sprintf("%s:tag:%d:last_seen", r.prefix, tagID)
}

// devicesKey lists the devices whose online set is mirrored. A device
// missing from it has no trustworthy mirror.
func (r *RedisStore) devicesKey() string {
	return r.prefix + ":devices"
}

func (r *RedisStore) ApplyBatch(ctx context.Context, deviceID int64, observed, lost []int64, at time.Time) error {
	pipe := r.client.TxPipeline()
	if len(observed) > 0 {
		pipe.SAdd(ctx, r.onlineKey(deviceID), toMembers(observed)...)
		for _, id := range observed {
			pipe.Set(ctx, r.lastSeenKey(id), at.UTC().Format(time.RFC3339Nano), 0)
		}
	}
	if len(lost) > 0 {
		pipe.SRem(ctx, r.onlineKey(deviceID), toMembers(lost)...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ReplaceOnline overwrites the device's online set and marks it mirrored.
func (r *RedisStore) ReplaceOnline(ctx context.Context, deviceID int64, online []int64) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.onlineKey(deviceID))
	if len(online) > 0 {
		pipe.SAdd(ctx, r.onlineKey(deviceID), toMembers(online)...)
	}
	pipe.SAdd(ctx, r.devicesKey(), deviceID)
	_, err := pipe.Exec(ctx)
	return err
}

// Online returns the mirrored online set. ok is false when the device is
// not mirrored.
func (r *RedisStore) Online(ctx context.Context, deviceID int64) ([]int64, bool, error) {
	mirrored, err := r.client.SIsMember(ctx, r.devicesKey(), deviceID).Result()
	if err != nil || !mirrored {
		return nil, false, err
	}
	members, err := r.client.SMembers(ctx, r.onlineKey(deviceID)).Result()
	if err != nil {
		return nil, false, err
	}
	return parseIDs(members), true, nil
}

func (r *RedisStore) Invalidate(ctx context.Context, deviceID int64) error {
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, r.devicesKey(), deviceID)
	pipe.Del(ctx, r.onlineKey(deviceID))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) LastSeen(ctx context.Context, tagID int64) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, r.lastSeenKey(tagID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last seen of tag %d: %w", tagID, err)
	}
	return t, true, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func toMembers(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func parseIDs(members []string) []int64 {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
