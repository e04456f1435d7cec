package veloxdb

import (
	"context"

	"github.com/veloxdb/veloxdb/internal/cache"
	"github.com/veloxdb/veloxdb/internal/memory"
)

// sqliteMemoryCache adapts the SQLite auxiliary store's response cache to
// memory.Cache so the memory manager can size it and evict from it under
// pressure the same way it would any other registered cache. bytes passed
// to Evict are advisory: a row-granularity cache can't target an exact byte
// count, so it evicts everything already past its TTL and reports the row
// count freed.
type sqliteMemoryCache struct {
	store *cache.Store
}

var _ memory.Cache = (*sqliteMemoryCache)(nil)

func newSQLiteMemoryCache(store *cache.Store) *sqliteMemoryCache {
	return &sqliteMemoryCache{store: store}
}

func (c *sqliteMemoryCache) Evict(bytes int64) int64 {
	freed, err := c.store.EvictExpiredCache(context.Background())
	if err != nil {
		return 0
	}
	return freed
}

func (c *sqliteMemoryCache) Size() int64 {
	n, err := c.store.CacheSize(context.Background())
	if err != nil {
		return 0
	}
	return int64(n)
}

func (c *sqliteMemoryCache) Clear() {
	_ = c.store.CacheClear(context.Background())
}

func (c *sqliteMemoryCache) Name() string {
	return "sqlite-cache"
}
