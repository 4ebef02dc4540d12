package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session's checkpoint chain in a Redis list, newest
// at the head. With a TTL set, every write refreshes the session's expiry,
// so idle sessions age out on their own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis using a standard redis:// URL.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis store URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis store: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	raw, err := r.client.LIndex(ctx, sessionKey(sessionID), 0).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	return decodeSnapshot(raw)
}

func (r *RedisStore) Save(ctx context.Context, sessionID string, snap *Snapshot) (string, error) {
	key := sessionKey(sessionID)

	parentID := ""
	if raw, err := r.client.LIndex(ctx, key, 0).Result(); err == nil {
		if latest, derr := decodeSnapshot(raw); derr == nil {
			parentID = latest.CheckpointID
		}
	} else if err != redis.Nil {
		return "", fmt.Errorf("reading latest checkpoint: %w", err)
	}

	stamp(snap, sessionID, parentID)
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, raw)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("writing checkpoint: %w", err)
	}
	return snap.CheckpointID, nil
}

func (r *RedisStore) List(ctx context.Context, sessionID string) ([]*Snapshot, error) {
	raws, err := r.client.LRange(ctx, sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	out := make([]*Snapshot, 0, len(raws))
	for _, raw := range raws {
		snap, err := decodeSnapshot(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (r *RedisStore) Rewind(ctx context.Context, sessionID, checkpointID string) (*Snapshot, error) {
	key := sessionKey(sessionID)
	raws, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	for i, raw := range raws {
		snap, err := decodeSnapshot(raw)
		if err != nil {
			return nil, err
		}
		if snap.CheckpointID != checkpointID {
			continue
		}
		// Drop everything newer (indexes 0..i-1).
		if err := r.client.LTrim(ctx, key, int64(i), -1).Err(); err != nil {
			return nil, fmt.Errorf("discarding newer checkpoints: %w", err)
		}
		return snap, nil
	}
	return nil, fmt.Errorf("%w: checkpoint %s", ErrNotFound, checkpointID)
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session checkpoints: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

// Health reports connectivity for the health endpoint.
func (r *RedisStore) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Sessions returns the ids of every stored session, for retention sweeps.
func (r *RedisStore) Sessions(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), sessionKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning sessions: %w", err)
	}
	return ids, nil
}

func decodeSnapshot(raw string) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &snap, nil
}
