package pricing

import (
	"math"

	"github.com/gwon-omega/server/internal/domain"
)

const (
	// DefaultTaxRate applies to carts created without an explicit rate.
	DefaultTaxRate = 0.13

	// DefaultShipping is the flat shipping amount for new carts.
	DefaultShipping = 0.0
)

// UnitPrice computes the discounted per-unit price, rounded to 2 decimals.
// The discount percentage is clamped to [0, 100]; non-finite results
// collapse to 0.
func UnitPrice(p domain.Priced) float64 {
	base := p.BasePrice()
	pct := p.DiscountPct()
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	price := base - (base*pct)/100
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	return Round2(price)
}

// Options carries the cart-level inputs to Summarize.
type Options struct {
	TaxRate  float64
	Shipping float64
	Discount *domain.DiscountSnapshot
}

// Summary is a fully computed cart total breakdown.
type Summary struct {
	Subtotal       float64
	TaxRate        float64
	Tax            float64
	Shipping       float64
	Discount       *domain.DiscountSnapshot
	DiscountAmount float64
	Total          float64
}

// Summarize computes subtotal, discount, tax and total for a set of lines.
// Pure: no I/O, no mutation of its inputs. Unit prices are already rounded;
// only the summary-level figures are rounded here.
func Summarize(lines []domain.CartLine, opts Options) Summary {
	var subtotal float64
	for _, l := range lines {
		subtotal += l.Price * float64(l.Quantity)
	}
	// Unit prices carry 2 decimals, so the sum is 2-decimal money modulo
	// float noise; normalizing here keeps every later figure derivable
	// from the reported subtotal.
	subtotal = Round2(subtotal)

	var discountAmount float64
	if d := opts.Discount; d != nil {
		if d.Type == domain.DiscountPercent {
			discountAmount = (subtotal * d.Value) / 100
		} else {
			discountAmount = d.Value
		}
		if discountAmount > subtotal {
			discountAmount = subtotal
		}
		if discountAmount < 0 {
			discountAmount = 0
		}
		discountAmount = Round2(discountAmount)
	}

	taxable := subtotal - discountAmount
	if taxable < 0 {
		taxable = 0
	}
	tax := Round2(taxable * opts.TaxRate)
	total := Round2(taxable + tax + opts.Shipping)

	return Summary{
		Subtotal:       subtotal,
		TaxRate:        opts.TaxRate,
		Tax:            tax,
		Shipping:       opts.Shipping,
		Discount:       opts.Discount,
		DiscountAmount: discountAmount,
		Total:          total,
	}
}

// Round2 rounds to 2 decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
