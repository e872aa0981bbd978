package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/gwon-omega/server/internal/domain"
)

type postgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) CouponStore {
	return &postgresStore{db: db}
}

// Codes are stored uppercase; lookups normalize the same way.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *postgresStore) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `SELECT coupon_id, code, discount_type, value, max_uses, used_count, users_used,
	                 starts_at, expires_at, status, min_order_amount
	          FROM coupons WHERE code = $1`

	var (
		c         domain.Coupon
		maxUses   sql.NullInt64
		minOrder  sql.NullFloat64
		startsAt  sql.NullTime
		expiresAt sql.NullTime
		usersUsed pq.StringArray
		status    string
		dtype     string
	)

	err := s.db.QueryRowContext(ctx, query, normalizeCode(code)).Scan(
		&c.ID, &c.Code, &dtype, &c.Value, &maxUses, &c.UsedCount, &usersUsed,
		&startsAt, &expiresAt, &status, &minOrder)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("query coupon: %w", err)
	}

	c.Type = domain.DiscountType(dtype)
	c.Status = domain.CouponStatus(status)
	c.UsersUsed = usersUsed
	if maxUses.Valid {
		v := int(maxUses.Int64)
		c.MaxUses = &v
	}
	if minOrder.Valid {
		v := minOrder.Float64
		c.MinOrderAmount = &v
	}
	if startsAt.Valid {
		t := startsAt.Time
		c.StartsAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

func (s *postgresStore) Deactivate(ctx context.Context, couponID string) error {
	query := `UPDATE coupons SET status = 'inactive', updated_at = NOW() WHERE coupon_id = $1`

	if _, err := s.db.ExecContext(ctx, query, couponID); err != nil {
		return fmt.Errorf("deactivate coupon: %w", err)
	}
	return nil
}

func (s *postgresStore) MarkUsed(ctx context.Context, couponID, userID string) (bool, error) {
	// Guarded in one statement: the increment and the membership insert
	// happen only when the user is not in the set yet, so a retried apply
	// cannot bump used_count twice.
	query := `UPDATE coupons
	          SET used_count = used_count + 1,
	              users_used = array_append(users_used, $2),
	              updated_at = NOW()
	          WHERE coupon_id = $1 AND NOT ($2 = ANY(users_used))`

	result, err := s.db.ExecContext(ctx, query, couponID, userID)
	if err != nil {
		return false, fmt.Errorf("mark coupon used: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark coupon used: %w", err)
	}
	return affected == 1, nil
}
