package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/gwon-omega/server/internal/domain"
)

// BreakerCatalog wraps a ProductCatalog with a circuit breaker so a
// struggling catalog database fails cart reads fast instead of piling up.
// ErrProductNotFound is a valid answer, not a failure, and does not trip
// the breaker.
type BreakerCatalog struct {
	inner  ProductCatalog
	single *gobreaker.CircuitBreaker[*domain.Product]
	batch  *gobreaker.CircuitBreaker[map[int64]*domain.Product]
}

func NewBreakerCatalog(inner ProductCatalog) *BreakerCatalog {
	settings := gobreaker.Settings{
		Name:    "product-catalog",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProductNotFound)
		},
	}
	return &BreakerCatalog{
		inner:  inner,
		single: gobreaker.NewCircuitBreaker[*domain.Product](settings),
		batch:  gobreaker.NewCircuitBreaker[map[int64]*domain.Product](settings),
	}
}

func (b *BreakerCatalog) Product(ctx context.Context, id int64) (*domain.Product, error) {
	return b.single.Execute(func() (*domain.Product, error) {
		return b.inner.Product(ctx, id)
	})
}

func (b *BreakerCatalog) Products(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	return b.batch.Execute(func() (map[int64]*domain.Product, error) {
		return b.inner.Products(ctx, ids)
	})
}
