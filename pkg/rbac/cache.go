package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// SnapshotKey identifies one cache entry.
type SnapshotKey struct {
	CompanyID int64
	UserID    int64
}

func (k SnapshotKey) String() string {
	return fmt.Sprintf("perm:%d:%d", k.CompanyID, k.UserID)
}

// SnapshotCache stores resolved effective-permission snapshots. Entries are
// advisory: a Get miss or backend failure always degrades to recomputation
// from the stores, never to a wrong answer. Entries are replaced on
// invalidation, not mutated in place.
type SnapshotCache interface {
	// Get returns the snapshot for a key, or (nil, nil) on a miss.
	Get(ctx context.Context, companyID, userID int64) (*PermissionSnapshot, error)

	// Put stores a snapshot until its ExpiresAt.
	Put(ctx context.Context, snapshot *PermissionSnapshot) error

	// Invalidate drops a single key.
	Invalidate(ctx context.Context, companyID, userID int64) error

	// InvalidateMany drops a batch of keys; used by template fan-out.
	InvalidateMany(ctx context.Context, keys []SnapshotKey) error
}

// NopCache never stores anything. Every lookup is a miss.
type NopCache struct{}

func (NopCache) Get(ctx context.Context, companyID, userID int64) (*PermissionSnapshot, error) {
	return nil, nil
}
func (NopCache) Put(ctx context.Context, snapshot *PermissionSnapshot) error { return nil }
func (NopCache) Invalidate(ctx context.Context, companyID, userID int64) error {
	return nil
}
func (NopCache) InvalidateMany(ctx context.Context, keys []SnapshotKey) error { return nil }

// RedisCache is the shared snapshot cache. An optional in-process L1 (short
// TTL) sits in front of Redis to absorb hot-key reads; the L1 TTL is kept
// well below the snapshot TTL so explicit invalidation on another node is
// bounded by seconds, not minutes.
type RedisCache struct {
	client *redis.Client
	l1     *lru.LRU[string, *PermissionSnapshot]
}

// RedisCacheOptions configures the snapshot cache.
type RedisCacheOptions struct {
	// L1Size enables the in-process cache when > 0.
	L1Size int
	// L1TTL bounds L1 staleness. Defaults to 5 seconds when L1 is enabled.
	L1TTL time.Duration
}

// NewRedisCache creates a snapshot cache on an existing Redis client.
func NewRedisCache(client *redis.Client, opts RedisCacheOptions) *RedisCache {
	c := &RedisCache{client: client}
	if opts.L1Size > 0 {
		ttl := opts.L1TTL
		if ttl <= 0 {
			ttl = 5 * time.Second
		}
		c.l1 = lru.NewLRU[string, *PermissionSnapshot](opts.L1Size, nil, ttl)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, companyID, userID int64) (*PermissionSnapshot, error) {
	key := SnapshotKey{CompanyID: companyID, UserID: userID}.String()

	if c.l1 != nil {
		if snap, ok := c.l1.Get(key); ok {
			return snap, nil
		}
	}

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot cache: %w", err)
	}

	var snap PermissionSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		// A corrupt entry is treated as a miss; the next Put replaces it.
		return nil, nil
	}

	if c.l1 != nil {
		c.l1.Add(key, &snap)
	}
	return &snap, nil
}

func (c *RedisCache) Put(ctx context.Context, snapshot *PermissionSnapshot) error {
	key := SnapshotKey{CompanyID: snapshot.CompanyID, UserID: snapshot.UserID}.String()
	ttl := time.Until(snapshot.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot cache: %w", err)
	}
	if c.l1 != nil {
		c.l1.Add(key, snapshot)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, companyID, userID int64) error {
	key := SnapshotKey{CompanyID: companyID, UserID: userID}.String()
	if c.l1 != nil {
		c.l1.Remove(key)
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshot: %w", err)
	}
	return nil
}

// invalidationBatchSize bounds one DEL command during fan-out.
const invalidationBatchSize = 512

func (c *RedisCache) InvalidateMany(ctx context.Context, keys []SnapshotKey) error {
	for start := 0; start < len(keys); start += invalidationBatchSize {
		end := start + invalidationBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := make([]string, 0, end-start)
		for _, k := range keys[start:end] {
			key := k.String()
			if c.l1 != nil {
				c.l1.Remove(key)
			}
			batch = append(batch, key)
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to invalidate snapshot batch: %w", err)
		}
	}
	return nil
}
