package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// JobTextKey derives the cache key under which the scraping pipeline
// stores an application's raw job description, keyed by job URL.
func JobTextKey(jobURL string) string {
	return "content:jobtext:" + digest(jobURL)
}

// GetText returns the cached raw text for key, or nil when absent.
func (c *Cache) GetText(ctx context.Context, key string) (*string, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("text cache get: %w", err)
	}
	return &raw, nil
}

// PutText stores raw text under key with the cache TTL.
func (c *Cache) PutText(ctx context.Context, key, text string) error {
	if err := c.rdb.Set(ctx, key, text, c.ttl).Err(); err != nil {
		return fmt.Errorf("text cache set: %w", err)
	}
	return nil
}

// Resolver answers the send cycle's content lookups. It re-derives the
// bundle key the generator used at discovery time: if the application's
// job text is still cached the entry lives under the jd namespace,
// otherwise under the role fallback namespace.
type Resolver struct {
	cache *Cache
}

// NewResolver returns a Resolver over the shared cache.
func NewResolver(cache *Cache) *Resolver {
	return &Resolver{cache: cache}
}

// BundleFor returns the cached bundle for the application, or nil when no
// unexpired entry exists under either namespace.
func (r *Resolver) BundleFor(ctx context.Context, company, jobTitle, jobURL string) (*Bundle, error) {
	text, err := r.cache.GetText(ctx, JobTextKey(jobURL))
	if err != nil {
		return nil, err
	}
	if text != nil {
		b, err := r.cache.Get(ctx, JDKey(company, jobTitle, *text))
		if err != nil || b != nil {
			return b, err
		}
		// Job text outlived the bundle; the role entry may still exist.
	}
	return r.cache.Get(ctx, RoleKey(company, jobTitle))
}
