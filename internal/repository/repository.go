package repository

import (
	"context"
	"errors"

	"github.com/gwon-omega/server/internal/domain"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrLineNotFound = errors.New("line not found in cart")
)

// CartRepository defines the authoritative store operations the pipeline
// needs. Consumers define this interface, not the MongoDB implementation.
type CartRepository interface {
	// GetCart returns the cart header plus all lines, or ErrCartNotFound.
	// It never creates a cart.
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)

	// UpsertLine merges deltaQty into an existing (cart, product) line or
	// inserts a new one, creating the cart lazily. The stored quantity is
	// clamped to [MinQuantity, MaxQuantity] and the cached unit price is
	// replaced with price. Never produces a duplicate line.
	UpsertLine(ctx context.Context, userID string, productID int64, deltaQty int, price float64) error

	// SetLineQuantity replaces a line's quantity (clamped) and price.
	// qty <= 0 deletes the line. ErrCartNotFound / ErrLineNotFound when the
	// target is absent.
	SetLineQuantity(ctx context.Context, userID string, productID int64, qty int, price float64) error

	// RemoveLine deletes a single line. Missing cart or line is not an error.
	RemoveLine(ctx context.Context, userID string, productID int64) error

	// ClearLines removes every line and the applied discount. A missing cart
	// is not an error: clearing twice is idempotent.
	ClearLines(ctx context.Context, userID string) error

	// ReplaceLines deletes all existing lines and stores the given
	// pre-normalized list, creating the cart lazily.
	ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine) error

	// SetDiscount attaches (or with nil detaches) the discount snapshot,
	// creating the cart lazily when attaching. Detaching a missing cart
	// returns ErrCartNotFound.
	SetDiscount(ctx context.Context, userID string, d *domain.DiscountSnapshot) error

	// SaveRefreshedPrices writes back unit prices recomputed on read, plus
	// the cached grand total. Each price targets its line by product id, so
	// lines added or removed concurrently are left untouched. ErrCartNotFound
	// when the cart is absent.
	SaveRefreshedPrices(ctx context.Context, userID string, prices map[int64]float64, total float64) error
}
