package domain

import "time"

const (
	// MinQuantity and MaxQuantity bound a stored cart line quantity.
	// A requested quantity <= 0 means "remove the line" and is never stored.
	MinQuantity = 1
	MaxQuantity = 99
)

type Cart struct {
	ID        string            `bson:"_id,omitempty" json:"cartId"`
	UserID    string            `bson:"user_id" json:"userId"`
	Items     []CartLine        `bson:"items" json:"items"`
	Discount  *DiscountSnapshot `bson:"discount,omitempty" json:"discount,omitempty"`
	TaxRate   float64           `bson:"tax_rate" json:"taxRate"`
	Shipping  float64           `bson:"shipping" json:"shipping"`
	Total     float64           `bson:"total" json:"total"`
	CreatedAt time.Time         `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time         `bson:"updated_at" json:"updatedAt"`
}

// CartLine is one (cart, product) entry. Price is the discounted unit price
// cached at the last authoritative write; display reads refresh it against
// current product state.
type CartLine struct {
	ProductID int64     `bson:"product_id" json:"productId"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	Price     float64   `bson:"price" json:"price"`
	AddedAt   time.Time `bson:"added_at" json:"addedAt"`
}

// Line returns the index of the line holding productID, or -1.
func (c *Cart) Line(productID int64) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// ClampQuantity forces q into [MinQuantity, MaxQuantity].
func ClampQuantity(q int) int {
	if q < MinQuantity {
		return MinQuantity
	}
	if q > MaxQuantity {
		return MaxQuantity
	}
	return q
}
