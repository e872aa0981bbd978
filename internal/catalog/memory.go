package catalog

import (
	"context"
	"sync"

	"github.com/gwon-omega/server/internal/domain"
)

// MemoryCatalog is an in-memory ProductCatalog for local runs and tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: make(map[int64]domain.Product)}
}

func (c *MemoryCatalog) Put(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *MemoryCatalog) Delete(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

func (c *MemoryCatalog) Product(_ context.Context, id int64) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (c *MemoryCatalog) Products(_ context.Context, ids []int64) (map[int64]*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			cp := p
			out[id] = &cp
		}
	}
	return out, nil
}
