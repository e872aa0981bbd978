package domain

// CartView is the response shape every cart operation returns and the
// payload of cart.updated events.
type CartView struct {
	CartID         string            `json:"cartId"`
	UserID         string            `json:"userId"`
	Items          []ViewItem        `json:"items"`
	Subtotal       float64           `json:"subtotal"`
	TaxRate        float64           `json:"taxRate"`
	Tax            float64           `json:"tax"`
	Shipping       float64           `json:"shipping"`
	Discount       *DiscountSnapshot `json:"discount"`
	DiscountAmount float64           `json:"discountAmount"`
	Total          float64           `json:"total"`
	Optimistic     bool              `json:"optimistic,omitempty"`
	MutationID     string            `json:"mutationId,omitempty"`
}

type ViewItem struct {
	ProductID   int64   `json:"productId"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	ProductName string  `json:"productName,omitempty"`
}
