package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/gwon-omega/server/internal/domain"
)

type postgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) ProductCatalog {
	return &postgresCatalog{db: db}
}

func (c *postgresCatalog) Product(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT product_id, name, price, discount_percent FROM products WHERE product_id = $1`

	var p domain.Product
	err := c.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.DiscountPercent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (c *postgresCatalog) Products(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	if len(ids) == 0 {
		return map[int64]*domain.Product{}, nil
	}

	query := `SELECT product_id, name, price, discount_percent FROM products WHERE product_id = ANY($1)`

	rows, err := c.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if scanErr := rows.Scan(&p.ID, &p.Name, &p.Price, &p.DiscountPercent); scanErr != nil {
			return nil, fmt.Errorf("scan product: %w", scanErr)
		}
		out[p.ID] = &p
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate products: %w", rowsErr)
	}
	return out, nil
}
