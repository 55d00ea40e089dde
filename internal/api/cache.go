package api

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheConfig contains cache configuration.
type CacheConfig struct {
	FigureCacheSizeMB int
	FigureTTL         time.Duration
	QueryCacheSize    int
}

// CacheManager holds rendered figure bytes and serialized query responses.
type CacheManager struct {
	figureCache *bigcache.BigCache
	queryCache  *lru.Cache[string, []byte]
}

// NewCacheManager creates a cache manager.
func NewCacheManager(cfg CacheConfig) (*CacheManager, error) {
	figureConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.FigureTTL,
		CleanWindow:        cfg.FigureTTL / 2,
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       2 * 1024 * 1024, // 2MB per figure
		HardMaxCacheSize:   cfg.FigureCacheSizeMB,
		Verbose:            false,
	}

	figureCache, err := bigcache.New(context.Background(), figureConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create figure cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &CacheManager{
		figureCache: figureCache,
		queryCache:  queryCache,
	}, nil
}

// GetFigure retrieves a rendered figure from cache.
func (m *CacheManager) GetFigure(key string) ([]byte, bool) {
	data, err := m.figureCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFigure stores a rendered figure in cache.
func (m *CacheManager) SetFigure(key string, data []byte) error {
	return m.figureCache.Set(key, data)
}

// GetQuery retrieves a serialized query response from cache.
func (m *CacheManager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a serialized query response in cache.
func (m *CacheManager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// FigureKey generates a cache key for a run figure.
func FigureKey(runID, name string) string {
	return fmt.Sprintf("fig:%s:%s", runID, name)
}

// QueryKey generates a cache key for a paged table query.
func QueryKey(runID, orderBy string, offset, limit int) string {
	return fmt.Sprintf("de:%s:%s:%d:%d", runID, orderBy, offset, limit)
}

// Stats returns cache statistics.
func (m *CacheManager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"figure_cache_len": m.figureCache.Len(),
		"figure_cache_cap": m.figureCache.Capacity(),
		"query_cache_len":  m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *CacheManager) Close() error {
	return m.figureCache.Close()
}
