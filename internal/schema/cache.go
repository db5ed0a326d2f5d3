package schema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/casewizard/model"
)

// CacheObserver receives cache hit/miss notifications. kind is "schema" or
// "procedures".
type CacheObserver interface {
	RecordSchemaCacheHit(kind string)
	RecordSchemaCacheMiss(kind string)
}

// Cache resolves procedure schemas and the procedure catalogue through the
// case service, keeping results for a bounded time. Indexed schemas are
// shared between sessions; an Index is immutable so sharing is safe.
type Cache struct {
	api        model.CaseAPI
	ttl        time.Duration
	maxEntries int
	observer   CacheObserver
	now        func() time.Time

	mu         sync.RWMutex
	schemas    map[string]schemaEntry
	procedures *proceduresEntry
}

type schemaEntry struct {
	index     *Index
	expiresAt time.Time
}

type proceduresEntry struct {
	list      []model.ProcedureSummary
	expiresAt time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithObserver sets the hit/miss observer.
func WithObserver(o CacheObserver) CacheOption {
	return func(c *Cache) { c.observer = o }
}

// WithNow overrides the time source used for expiry.
func WithNow(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache in front of api.
func NewCache(api model.CaseAPI, ttl time.Duration, maxEntries int, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	c := &Cache{
		api:        api,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		schemas:    make(map[string]schemaEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schema returns the indexed schema for the procedure code.
func (c *Cache) Schema(ctx context.Context, rctx *model.RequestContext, code string) (*Index, error) {
	c.mu.RLock()
	entry, ok := c.schemas[code]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		c.hit("schema")
		return entry.index, nil
	}
	c.miss("schema")

	raw, err := c.api.GetProcedureSchema(ctx, rctx, code)
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", code, err)
	}
	idx := New(raw)

	c.mu.Lock()
	if len(c.schemas) >= c.maxEntries {
		c.evictExpired()
	}
	c.schemas[code] = schemaEntry{index: idx, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return idx, nil
}

// Procedures returns the procedure catalogue.
func (c *Cache) Procedures(ctx context.Context, rctx *model.RequestContext) ([]model.ProcedureSummary, error) {
	c.mu.RLock()
	entry := c.procedures
	c.mu.RUnlock()
	if entry != nil && c.now().Before(entry.expiresAt) {
		c.hit("procedures")
		return entry.list, nil
	}
	c.miss("procedures")

	list, err := c.api.ListProcedures(ctx, rctx)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}

	c.mu.Lock()
	c.procedures = &proceduresEntry{list: list, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return list, nil
}

// Invalidate drops the cached schema for code, or everything when code is
// empty.
func (c *Cache) Invalidate(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == "" {
		c.schemas = make(map[string]schemaEntry)
		c.procedures = nil
		return
	}
	delete(c.schemas, code)
}

// Len returns the number of cached schemas. For testing.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.schemas)
}

// evictExpired removes expired entries. Must be called with mu held.
func (c *Cache) evictExpired() {
	now := c.now()
	for k, v := range c.schemas {
		if now.After(v.expiresAt) {
			delete(c.schemas, k)
		}
	}
}

func (c *Cache) hit(kind string) {
	if c.observer != nil {
		c.observer.RecordSchemaCacheHit(kind)
	}
}

func (c *Cache) miss(kind string) {
	if c.observer != nil {
		c.observer.RecordSchemaCacheMiss(kind)
	}
}
