package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"edu-tracker/internal/timer"
)

// SnapshotKeyPrefix namespaces timer snapshots away from anything else in Redis.
const SnapshotKeyPrefix = "edu-tracker:timer:"

// RedisSnapshotStore keeps one JSON snapshot per task under SnapshotKeyPrefix.
type RedisSnapshotStore struct {
	client *redis.Client
}

var _ timer.SnapshotStore = (*RedisSnapshotStore)(nil)

func NewRedisSnapshotStore(client *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client}
}

func snapshotKey(taskID string) string {
	return SnapshotKeyPrefix + taskID
}

func (s *RedisSnapshotStore) Get(ctx context.Context, taskID string) (timer.Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, snapshotKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return timer.Snapshot{}, false, nil
	}
	if err != nil {
		return timer.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return timer.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *RedisSnapshotStore) Set(ctx context.Context, taskID string, snap timer.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(taskID), raw, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *RedisSnapshotStore) Delete(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, snapshotKey(taskID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// List scans the snapshot namespace. Undecodable entries are returned
// with a zero snapshot so they can still be purged.
func (s *RedisSnapshotStore) List(ctx context.Context) (map[string]timer.Snapshot, error) {
	out := make(map[string]timer.Snapshot)
	iter := s.client.Scan(ctx, 0, SnapshotKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		taskID := strings.TrimPrefix(key, SnapshotKeyPrefix)
		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get snapshot: %w", err)
		}
		snap, _ := decodeSnapshot(raw)
		out[taskID] = snap
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	return out, nil
}

func decodeSnapshot(raw []byte) (timer.Snapshot, error) {
	var snap timer.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return timer.Snapshot{}, fmt.Errorf("%w: %v", timer.ErrInvalidSnapshot, err)
	}
	if err := snap.Validate(); err != nil {
		return timer.Snapshot{}, err
	}
	return snap, nil
}
