package validator

import (
	"context"
	"time"

	"github.com/unilink/unilink-go/cacher"
)

// Cache memoizes the boolean outcome of validating a given string, so a
// process that repeatedly validates the same fleet of hostnames or device
// paths (e.g. a supervisor re-checking configuration on every reload) does
// not re-run the regex/parse path each time. The zero value is not usable;
// construct one with NewCache.
type Cache struct {
	backend cacher.Cacher[bool]
	ttl     time.Duration
}

// NewCache wraps backend (typically cacher.NewMemoryCacher[bool], or
// cacher.NewRedisCacher[bool] when several processes validate the same
// configuration and should share one cache) with a fixed ttl for memoized
// entries.
func NewCache(backend cacher.Cacher[bool], ttl time.Duration) *Cache {
	return &Cache{backend: backend, ttl: ttl}
}

// NewMemoryCache returns a Cache backed by an in-process cacher.MemoryCacher.
func NewMemoryCache(ttl, cleanupInterval time.Duration) *Cache {
	return NewCache(cacher.NewMemoryCacher[bool](ttl, cleanupInterval), ttl)
}

// Validate runs fn if the result for key is not cached, memoizes the
// outcome (true for nil error, false otherwise), and returns fn's error the
// first time it is computed. On a cache hit for a previously-invalid value,
// Validate reconstructs a generic Configuration-category error rather than
// replaying the original message, since only the boolean outcome is cached.
func (c *Cache) Validate(ctx context.Context, key string, fn func() error) error {
	var fnErr error
	ok, err := c.backend.GetOrFetch(ctx, key, c.ttl, func(ctx context.Context) (bool, error) {
		fnErr = fn()
		return fnErr == nil, nil
	})
	if err != nil {
		return err
	}

	if ok {
		return nil
	}

	if fnErr != nil {
		return fnErr
	}

	return configErr("Validate", "cached validation failure for "+key)
}
