package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gwon-omega/server/internal/domain"
	"github.com/gwon-omega/server/internal/pricing"
)

var (
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrCouponInactive    = errors.New("coupon is not active")
	ErrCouponExpired     = errors.New("coupon has expired")
	ErrCouponNotStarted  = errors.New("coupon is not yet valid")
	ErrCouponAlreadyUsed = errors.New("coupon already used by this user")
	ErrCouponExhausted   = errors.New("coupon usage limit reached")
	ErrMinOrderNotMet    = errors.New("order total below coupon minimum")
)

// CouponStore is the persistence the ledger needs. The service is the only
// writer of used_count / users_used / expiry-triggered status flips.
type CouponStore interface {
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// Deactivate flips a coupon to inactive (expiry side effect of Validate).
	Deactivate(ctx context.Context, couponID string) error

	// MarkUsed adds userID to the usage set and increments used_count by one,
	// both guarded on the user not being in the set already. Returns false
	// when the user had already redeemed, in which case nothing changed.
	MarkUsed(ctx context.Context, couponID, userID string) (bool, error)
}

// Quote is the outcome of a successful validation. Counters are untouched.
type Quote struct {
	Coupon         *domain.Coupon
	DiscountAmount float64
	FinalTotal     float64
}

// Ledger validates and redeems discount codes against the coupon store.
type Ledger struct {
	store CouponStore
	now   func() time.Time
}

func NewLedger(store CouponStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Validate runs every redemption check in order and computes the would-be
// discount. Its only permitted side effect is flipping an expired coupon to
// inactive.
func (l *Ledger) Validate(ctx context.Context, code string, orderTotal float64, userID string) (*Quote, error) {
	coupon, err := l.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := l.now()

	if coupon.Status != domain.CouponActive {
		return nil, ErrCouponInactive
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		if deactErr := l.store.Deactivate(ctx, coupon.ID); deactErr != nil {
			return nil, fmt.Errorf("deactivate expired coupon: %w", deactErr)
		}
		return nil, ErrCouponExpired
	}
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return nil, ErrCouponNotStarted
	}
	if coupon.UsedBy(userID) {
		return nil, ErrCouponAlreadyUsed
	}
	if coupon.MaxUses != nil && coupon.UsedCount >= *coupon.MaxUses {
		return nil, ErrCouponExhausted
	}
	if coupon.MinOrderAmount != nil && orderTotal < *coupon.MinOrderAmount {
		return nil, ErrMinOrderNotMet
	}

	var discountAmount float64
	if coupon.Type == domain.DiscountPercent {
		discountAmount = (orderTotal * coupon.Value) / 100
	} else {
		discountAmount = coupon.Value
	}
	if discountAmount > orderTotal {
		discountAmount = orderTotal
	}

	return &Quote{
		Coupon:         coupon,
		DiscountAmount: pricing.Round2(discountAmount),
		FinalTotal:     pricing.Round2(orderTotal - discountAmount),
	}, nil
}

// Redeem records the redemption. Returns false when userID had already
// redeemed this coupon: a retried apply cannot double-count. Redemption is
// permanent; removing the code from a cart never rolls counters back.
func (l *Ledger) Redeem(ctx context.Context, couponID, userID string) (bool, error) {
	return l.store.MarkUsed(ctx, couponID, userID)
}
