package sqlstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"gomatter/domain/material"
	"gomatter/ports"
)

// CachedRepository keeps recently found records in memory. Misses and errors
// are never cached; Upsert evicts the formula.
type CachedRepository struct {
	next  ports.MaterialsRepository
	cache *lru.Cache[string, material.PropertyRecord]
}

var _ ports.MaterialsRepository = (*CachedRepository)(nil)

// NewCachedRepository wraps next with an LRU of the given size
func NewCachedRepository(next ports.MaterialsRepository, size int) (*CachedRepository, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, material.PropertyRecord](size)
	if err != nil {
		return nil, err
	}
	return &CachedRepository{next: next, cache: cache}, nil
}

// Lookup serves from the cache when possible
func (c *CachedRepository) Lookup(ctx context.Context, formula string) (material.PropertyRecord, error) {
	key := formulaKey(formula)
	if rec, ok := c.cache.Get(key); ok {
		return rec.Clone(), nil
	}
	rec, err := c.next.Lookup(ctx, formula)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, rec.Clone())
	return rec, nil
}

func (c *CachedRepository) Upsert(ctx context.Context, formula string, props material.PropertyRecord) error {
	c.cache.Remove(formulaKey(formula))
	return c.next.Upsert(ctx, formula, props)
}

func (c *CachedRepository) Count(ctx context.Context) (int, error) {
	return c.next.Count(ctx)
}

// Len is the number of cached records
func (c *CachedRepository) Len() int {
	return c.cache.Len()
}
