package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gwon-omega/server/internal/domain"
	"github.com/gwon-omega/server/internal/pricing"
)

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *mongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&cart)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

// newCart builds a cart document with default tax/shipping policy.
func newCart(userID string) *domain.Cart {
	now := time.Now()
	return &domain.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     []domain.CartLine{},
		TaxRate:   pricing.DefaultTaxRate,
		Shipping:  pricing.DefaultShipping,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (m *mongoRepository) UpsertLine(ctx context.Context, userID string, productID int64, deltaQty int, price float64) error {
	now := time.Now()
	filter := bson.M{"user_id": userID}

	var existing domain.Cart
	err := m.collection.FindOne(ctx, filter).Decode(&existing)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("failed to check existing cart: %w", err)
		}
		cart := newCart(userID)
		cart.Items = []domain.CartLine{{
			ProductID: productID,
			Quantity:  domain.ClampQuantity(deltaQty),
			Price:     price,
			AddedAt:   now,
		}}
		if _, insErr := m.collection.InsertOne(ctx, cart); insErr != nil {
			return fmt.Errorf("failed to create cart with line: %w", insErr)
		}
		return nil
	}

	if idx := existing.Line(productID); idx >= 0 {
		qty := domain.ClampQuantity(existing.Items[idx].Quantity + deltaQty)
		update := bson.M{
			"$set": bson.M{
				"items.$[elem].quantity": qty,
				"items.$[elem].price":    price,
				"updated_at":             now,
			},
		}
		arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{
				bson.M{"elem.product_id": productID},
			},
		})
		if _, updErr := m.collection.UpdateOne(ctx, filter, update, arrayFilters); updErr != nil {
			return fmt.Errorf("failed to merge line: %w", updErr)
		}
		return nil
	}

	line := domain.CartLine{
		ProductID: productID,
		Quantity:  domain.ClampQuantity(deltaQty),
		Price:     price,
		AddedAt:   now,
	}
	update := bson.M{
		"$push": bson.M{"items": line},
		"$set":  bson.M{"updated_at": now},
	}
	if _, pushErr := m.collection.UpdateOne(ctx, filter, update); pushErr != nil {
		return fmt.Errorf("failed to add line: %w", pushErr)
	}
	return nil
}

func (m *mongoRepository) SetLineQuantity(ctx context.Context, userID string, productID int64, qty int, price float64) error {
	if qty <= 0 {
		return m.removeExistingLine(ctx, userID, productID)
	}

	filter := bson.M{
		"user_id":          userID,
		"items.product_id": productID,
	}
	update := bson.M{
		"$set": bson.M{
			"items.$[elem].quantity": domain.ClampQuantity(qty),
			"items.$[elem].price":    price,
			"updated_at":             time.Now(),
		},
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.product_id": productID},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return fmt.Errorf("failed to set line quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (m *mongoRepository) removeExistingLine(ctx context.Context, userID string, productID int64) error {
	filter := bson.M{
		"user_id":          userID,
		"items.product_id": productID,
	}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID}},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove line: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (m *mongoRepository) RemoveLine(ctx context.Context, userID string, productID int64) error {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID}},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to remove line: %w", err)
	}
	return nil
}

func (m *mongoRepository) ClearLines(ctx context.Context, userID string) error {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"items":      []domain.CartLine{},
			"total":      0.0,
			"updated_at": time.Now(),
		},
		"$unset": bson.M{"discount": ""},
	}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func (m *mongoRepository) ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine) error {
	now := time.Now()
	if lines == nil {
		lines = []domain.CartLine{}
	}

	var existing domain.Cart
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&existing)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("failed to check existing cart: %w", err)
		}
		cart := newCart(userID)
		cart.Items = lines
		if _, insErr := m.collection.InsertOne(ctx, cart); insErr != nil {
			return fmt.Errorf("failed to create cart: %w", insErr)
		}
		return nil
	}

	update := bson.M{
		"$set": bson.M{
			"items":      lines,
			"updated_at": now,
		},
	}
	if _, updErr := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update); updErr != nil {
		return fmt.Errorf("failed to replace lines: %w", updErr)
	}
	return nil
}

func (m *mongoRepository) SetDiscount(ctx context.Context, userID string, d *domain.DiscountSnapshot) error {
	now := time.Now()
	filter := bson.M{"user_id": userID}

	if d == nil {
		update := bson.M{
			"$unset": bson.M{"discount": ""},
			"$set":   bson.M{"updated_at": now},
		}
		result, err := m.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return fmt.Errorf("failed to remove discount: %w", err)
		}
		if result.MatchedCount == 0 {
			return ErrCartNotFound
		}
		return nil
	}

	var existing domain.Cart
	err := m.collection.FindOne(ctx, filter).Decode(&existing)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("failed to check existing cart: %w", err)
		}
		cart := newCart(userID)
		cart.Discount = d
		if _, insErr := m.collection.InsertOne(ctx, cart); insErr != nil {
			return fmt.Errorf("failed to create cart with discount: %w", insErr)
		}
		return nil
	}

	update := bson.M{
		"$set": bson.M{
			"discount":   d,
			"updated_at": now,
		},
	}
	if _, updErr := m.collection.UpdateOne(ctx, filter, update); updErr != nil {
		return fmt.Errorf("failed to set discount: %w", updErr)
	}
	return nil
}

// SaveRefreshedPrices never rewrites the items array wholesale; each price
// lands on its line through an array filter keyed by product id. A mutation
// committed between the triggering read and this write keeps its lines.
func (m *mongoRepository) SaveRefreshedPrices(ctx context.Context, userID string, prices map[int64]float64, total float64) error {
	set := bson.M{
		"total":      total,
		"updated_at": time.Now(),
	}
	filters := make([]interface{}, 0, len(prices))
	i := 0
	for productID, price := range prices {
		ident := fmt.Sprintf("l%d", i)
		set[fmt.Sprintf("items.$[%s].price", ident)] = price
		filters = append(filters, bson.M{ident + ".product_id": productID})
		i++
	}

	opts := options.Update()
	if len(filters) > 0 {
		opts.SetArrayFilters(options.ArrayFilters{Filters: filters})
	}

	result, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": set}, opts)
	if err != nil {
		return fmt.Errorf("failed to save refreshed prices: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
