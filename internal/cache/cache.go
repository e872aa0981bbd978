package cache

import (
	"context"
	"errors"

	"github.com/gwon-omega/server/internal/domain"
)

// CartCache holds raw cart snapshots (header + lines, cached prices) used as
// the base for optimistic projections. Authoritative reads never trust it;
// every authoritative write invalidates it.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
