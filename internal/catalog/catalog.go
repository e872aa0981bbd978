package catalog

import (
	"context"
	"errors"

	"github.com/gwon-omega/server/internal/domain"
)

var ErrProductNotFound = errors.New("product not found")

// ProductCatalog is the read-only view of the product service this pipeline
// consumes. A product may vanish between two reads.
type ProductCatalog interface {
	Product(ctx context.Context, id int64) (*domain.Product, error)

	// Products returns the subset of ids that still exist, keyed by id.
	// Missing ids are simply absent from the map.
	Products(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)
}
