package domain

import "time"

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// DiscountSnapshot is the coupon state frozen onto a cart when a code is
// applied. A cart carries at most one.
type DiscountSnapshot struct {
	CouponID string       `bson:"coupon_id" json:"couponId"`
	Code     string       `bson:"code" json:"code"`
	Type     DiscountType `bson:"type" json:"type"`
	Value    float64      `bson:"value" json:"value"`
}

type CouponStatus string

const (
	CouponActive   CouponStatus = "active"
	CouponInactive CouponStatus = "inactive"
)

type Coupon struct {
	ID             string
	Code           string
	Type           DiscountType
	Value          float64
	MaxUses        *int
	UsedCount      int
	UsersUsed      []string
	StartsAt       *time.Time
	ExpiresAt      *time.Time
	Status         CouponStatus
	MinOrderAmount *float64
}

// UsedBy reports whether userID has already redeemed the coupon.
func (c *Coupon) UsedBy(userID string) bool {
	for _, u := range c.UsersUsed {
		if u == userID {
			return true
		}
	}
	return false
}

func (c *Coupon) Snapshot() *DiscountSnapshot {
	return &DiscountSnapshot{
		CouponID: c.ID,
		Code:     c.Code,
		Type:     c.Type,
		Value:    c.Value,
	}
}
