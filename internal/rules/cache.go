package rules

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MemoryCache is an in-process LRU cache with a per-entry time to live.
type MemoryCache struct {
	mu      sync.Mutex
	size    int
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*list.Element
	order   *list.List
}

type memoryEntry struct {
	key       string
	policyID  string
	expiresAt time.Time
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryCache{
		size:    size,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if c.expired(entry) {
		c.remove(elem)
		return "", false, nil
	}
	c.order.MoveToFront(elem)
	return entry.policyID, true, nil
}

func (c *MemoryCache) Add(_ context.Context, key, policyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Time{}
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.policyID = policyID
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, policyID: policyID, expiresAt: expiresAt})
	if c.order.Len() > c.size {
		c.remove(c.order.Back())
	}
	return nil
}

func (c *MemoryCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *MemoryCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*memoryEntry)) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (c *MemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) expired(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt)
}

func (c *MemoryCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*memoryEntry).key)
}

const redisKeyPrefix = "circulus:loan-policy:"

// RedisCache shares resolved policy ids between service instances.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	id, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cached loan policy: %w", err)
	}
	return id, true, nil
}

func (c *RedisCache) Add(ctx context.Context, key, policyID string) error {
	if err := c.client.Set(ctx, redisKeyPrefix+key, policyID, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache loan policy: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached loan policies: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached loan policies: %w", err)
	}
	return nil
}
