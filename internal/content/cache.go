package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keys live in two disjoint namespaces so an entry generated from a
// full job description can never collide with a role-based fallback entry
// for the same company and title.

// JDKey derives the cache key for content generated from a job description.
func JDKey(company, title, jobText string) string {
	return "content:jd:" + digest(company, title, jobText)
}

// RoleKey derives the cache key for role-based fallback content, used when
// no job description is available.
func RoleKey(company, title string) string {
	return "content:role:" + digest(company, title)
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // field separator, prevents boundary collisions
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cache stores bundles in redis with a TTL that outlives the send sequence.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache returns a Cache with the given entry TTL.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get returns the cached bundle for key, or nil when absent or expired.
func (c *Cache) Get(ctx context.Context, key string) (*Bundle, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("content cache get: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("content cache decode: %w", err)
	}
	return &b, nil
}

// Put stores the bundle under key, refreshing the TTL.
func (c *Cache) Put(ctx context.Context, key string, b Bundle) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("content cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("content cache set: %w", err)
	}
	return nil
}
