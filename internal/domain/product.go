package domain

// Product is the read-only view of a catalog entry this pipeline consumes.
// It may disappear between an optimistic projection and the authoritative
// apply of the corresponding job.
type Product struct {
	ID              int64
	Name            string
	Price           float64
	DiscountPercent float64
}

// Priced is what the pricing engine needs from any product representation.
type Priced interface {
	BasePrice() float64
	DiscountPct() float64
}

func (p *Product) BasePrice() float64   { return p.Price }
func (p *Product) DiscountPct() float64 { return p.DiscountPercent }
