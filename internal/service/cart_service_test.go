package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwon-omega/server/internal/cache"
	"github.com/gwon-omega/server/internal/catalog"
	"github.com/gwon-omega/server/internal/coupon"
	"github.com/gwon-omega/server/internal/domain"
	"github.com/gwon-omega/server/internal/notify"
	"github.com/gwon-omega/server/internal/repository"
)

// ------------------------------------------------------------------
// hand-written mocks
// ------------------------------------------------------------------

type mockRepository struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
}

func newMockRepository() *mockRepository {
	return &mockRepository{carts: make(map[string]*domain.Cart)}
}

func (m *mockRepository) getOrCreate(userID string) *domain.Cart {
	c, ok := m.carts[userID]
	if !ok {
		c = &domain.Cart{
			ID:       fmt.Sprintf("cart-%s", userID),
			UserID:   userID,
			Items:    []domain.CartLine{},
			TaxRate:  0.13,
			Shipping: 0,
		}
		m.carts[userID] = c
	}
	return c
}

func (m *mockRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (m *mockRepository) UpsertLine(_ context.Context, userID string, productID int64, deltaQty int, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.getOrCreate(userID)
	if idx := c.Line(productID); idx >= 0 {
		c.Items[idx].Quantity = domain.ClampQuantity(c.Items[idx].Quantity + deltaQty)
		c.Items[idx].Price = price
		return nil
	}
	c.Items = append(c.Items, domain.CartLine{
		ProductID: productID,
		Quantity:  domain.ClampQuantity(deltaQty),
		Price:     price,
		AddedAt:   time.Now(),
	})
	return nil
}

func (m *mockRepository) SetLineQuantity(_ context.Context, userID string, productID int64, qty int, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return repository.ErrCartNotFound
	}
	idx := c.Line(productID)
	if idx < 0 {
		return repository.ErrLineNotFound
	}
	if qty <= 0 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		return nil
	}
	c.Items[idx].Quantity = domain.ClampQuantity(qty)
	c.Items[idx].Price = price
	return nil
}

func (m *mockRepository) RemoveLine(_ context.Context, userID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil
	}
	if idx := c.Line(productID); idx >= 0 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	}
	return nil
}

func (m *mockRepository) ClearLines(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil
	}
	c.Items = []domain.CartLine{}
	c.Discount = nil
	c.Total = 0
	return nil
}

func (m *mockRepository) ReplaceLines(_ context.Context, userID string, lines []domain.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.getOrCreate(userID)
	c.Items = make([]domain.CartLine, len(lines))
	copy(c.Items, lines)
	return nil
}

func (m *mockRepository) SetDiscount(_ context.Context, userID string, d *domain.DiscountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d == nil {
		c, ok := m.carts[userID]
		if !ok {
			return repository.ErrCartNotFound
		}
		c.Discount = nil
		return nil
	}
	c := m.getOrCreate(userID)
	cp := *d
	c.Discount = &cp
	return nil
}

func (m *mockRepository) SaveRefreshedPrices(_ context.Context, userID string, prices map[int64]float64, total float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return repository.ErrCartNotFound
	}
	for i := range c.Items {
		if p, ok := prices[c.Items[i].ProductID]; ok {
			c.Items[i].Price = p
		}
	}
	c.Total = total
	return nil
}

type mockCache struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cloneCart(c), nil
}

func (m *mockCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = cloneCart(cart)
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	return nil
}

type mockCoupons struct {
	mu          sync.Mutex
	quote       *coupon.Quote
	validateErr error
	redeemOK    bool
	redeemErr   error
	redeemCalls []string
}

func (m *mockCoupons) Validate(_ context.Context, code string, orderTotal float64, userID string) (*coupon.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validateErr != nil {
		return nil, m.validateErr
	}
	return m.quote, nil
}

func (m *mockCoupons) Redeem(_ context.Context, couponID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redeemCalls = append(m.redeemCalls, couponID+"/"+userID)
	if m.redeemErr != nil {
		return false, m.redeemErr
	}
	return m.redeemOK, nil
}

// flakyCatalog serves a bounded number of single-product lookups and then
// reports every product as gone. Batch lookups are unaffected.
type flakyCatalog struct {
	inner     *catalog.MemoryCatalog
	mu        sync.Mutex
	remaining int
}

func (f *flakyCatalog) Product(ctx context.Context, id int64) (*domain.Product, error) {
	f.mu.Lock()
	ok := f.remaining > 0
	if ok {
		f.remaining--
	}
	f.mu.Unlock()
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return f.inner.Product(ctx, id)
}

func (f *flakyCatalog) Products(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	return f.inner.Products(ctx, ids)
}

// gatedCatalog blocks one armed batch lookup until released, which holds a
// read open right in the middle of its price refresh.
type gatedCatalog struct {
	inner   *catalog.MemoryCatalog
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCatalog) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedCatalog) Product(ctx context.Context, id int64) (*domain.Product, error) {
	return g.inner.Product(ctx, id)
}

func (g *gatedCatalog) Products(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	g.mu.Lock()
	fire := g.armed
	g.armed = false
	g.mu.Unlock()
	if fire {
		close(g.entered)
		<-g.release
	}
	return g.inner.Products(ctx, ids)
}

// ------------------------------------------------------------------
// fixture
// ------------------------------------------------------------------

type fixture struct {
	svc      *CartService
	repo     *mockRepository
	catalog  *catalog.MemoryCatalog
	coupons  *mockCoupons
	notifier *notify.Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat := catalog.NewMemoryCatalog()
	cat.Put(domain.Product{ID: 1, Name: "Desk Lamp", Price: 100})
	cat.Put(domain.Product{ID: 2, Name: "Mouse Pad", Price: 19.99, DiscountPercent: 25})

	f := &fixture{
		repo:     newMockRepository(),
		catalog:  cat,
		coupons:  &mockCoupons{redeemOK: true},
		notifier: notify.NewNotifier(),
	}
	f.svc = NewCartService(f.repo, f.catalog, newMockCache(), f.coupons, f.notifier)
	t.Cleanup(f.svc.Close)
	return f
}

func waitEvent(t *testing.T, ch <-chan notify.Event, want notify.EventType) notify.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

// ------------------------------------------------------------------
// reads
// ------------------------------------------------------------------

func TestGetCart_MissingCartIsEmptyView(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.Equal(t, 0.0, view.Subtotal)
	assert.Equal(t, 0.13, view.TaxRate)
	assert.Equal(t, 0.0, view.Total)
	assert.False(t, view.Optimistic)
}

func TestGetCart_RefreshesPricesFromCatalog(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddItem(context.Background(), "u1", 1, 2, false)
	require.NoError(t, err)

	// Price change lands on the next read.
	f.catalog.Put(domain.Product{ID: 1, Name: "Desk Lamp", Price: 80})

	view, err := f.svc.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 80.0, view.Items[0].Price)
	assert.Equal(t, 160.0, view.Subtotal)
	assert.Equal(t, 180.80, view.Total)

	// And is persisted back onto the stored lines.
	stored, err := f.repo.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 80.0, stored.Items[0].Price)
	assert.Equal(t, 180.80, stored.Total)
}

func TestGetCart_DeletedProductKeepsLastKnownPrice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddItem(context.Background(), "u1", 1, 1, false)
	require.NoError(t, err)

	f.catalog.Delete(1)

	view, err := f.svc.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 100.0, view.Items[0].Price)
	assert.Empty(t, view.Items[0].ProductName)
}

func TestGetCart_RefreshWriteBackKeepsConcurrentMutations(t *testing.T) {
	cat := catalog.NewMemoryCatalog()
	cat.Put(domain.Product{ID: 1, Name: "Desk Lamp", Price: 80})
	cat.Put(domain.Product{ID: 2, Name: "Mouse Pad", Price: 5})
	gated := &gatedCatalog{inner: cat, entered: make(chan struct{}), release: make(chan struct{})}

	repo := newMockRepository()
	svc := NewCartService(repo, gated, newMockCache(), &mockCoupons{redeemOK: true}, notify.NewNotifier())
	t.Cleanup(svc.Close)

	ctx := context.Background()

	// Stored price is stale, so the read has a write-back to perform.
	require.NoError(t, repo.UpsertLine(ctx, "u1", 1, 1, 100))

	gated.arm()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.GetCart(ctx, "u1")
		assert.NoError(t, err)
	}()
	<-gated.entered

	// Lands between the read and its write-back.
	_, err := svc.AddItem(ctx, "u1", 2, 1, false)
	require.NoError(t, err)

	close(gated.release)
	<-done

	// The write-back refreshed the stale price without erasing the line the
	// concurrent add committed.
	stored, err := repo.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, int64(1), stored.Items[0].ProductID)
	assert.Equal(t, 80.0, stored.Items[0].Price)
	assert.Equal(t, int64(2), stored.Items[1].ProductID)
	assert.Equal(t, 1, stored.Items[1].Quantity)
}

// ------------------------------------------------------------------
// synchronous mutations
// ------------------------------------------------------------------

func TestAddItem_Sync(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.AddItem(context.Background(), "u1", 1, 2, false)
	require.NoError(t, err)

	require.Len(t, view.Items, 1)
	assert.Equal(t, int64(1), view.Items[0].ProductID)
	assert.Equal(t, 2, view.Items[0].Quantity)
	assert.Equal(t, "Desk Lamp", view.Items[0].ProductName)
	assert.Equal(t, 200.0, view.Subtotal)
	assert.Equal(t, 26.0, view.Tax)
	assert.Equal(t, 226.0, view.Total)
	assert.False(t, view.Optimistic)
	assert.Empty(t, view.MutationID)
}

func TestAddItem_MergesAndClamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "u1", 1, 98, false)
	require.NoError(t, err)
	view, err := f.svc.AddItem(ctx, "u1", 1, 5, false)
	require.NoError(t, err)

	require.Len(t, view.Items, 1)
	assert.Equal(t, 99, view.Items[0].Quantity)
}

func TestAddItem_DiscountedCatalogPrice(t *testing.T) {
	f := newFixture(t)

	// 19.99 at 25% off rounds to 14.99 per unit.
	view, err := f.svc.AddItem(context.Background(), "u1", 2, 1, false)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 14.99, view.Items[0].Price)
}

func TestAddItem_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddItem(context.Background(), "u1", 404, 1, false)
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestAddItem_InvalidProductID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddItem(context.Background(), "u1", 0, 1, false)
	assert.ErrorIs(t, err, ErrInvalidProduct)
}

func TestUpdateItem_SetAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "u1", 1, 2, false)
	require.NoError(t, err)

	view, err := f.svc.UpdateItem(ctx, "u1", 1, 5, false)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 5, view.Items[0].Quantity)

	// qty <= 0 removes the line.
	view, err = f.svc.UpdateItem(ctx, "u1", 1, 0, false)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.Equal(t, 0.0, view.Total)
}

func TestUpdateItem_MissingLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "u1", 1, 1, false)
	require.NoError(t, err)

	_, err = f.svc.UpdateItem(ctx, "u1", 2, 3, false)
	assert.ErrorIs(t, err, repository.ErrLineNotFound)
}

func TestRemoveItem_ToleratesMissing(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.RemoveItem(context.Background(), "u1", 1, false)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestClearCart_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "u1", 1, 2, false)
	require.NoError(t, err)

	first, err := f.svc.ClearCart(ctx, "u1", false)
	require.NoError(t, err)
	assert.Empty(t, first.Items)
	assert.Equal(t, 0.0, first.Total)

	second, err := f.svc.ClearCart(ctx, "u1", false)
	require.NoError(t, err)
	assert.Empty(t, second.Items)
	assert.Equal(t, 0.0, second.Total)

	// Clearing a user with no cart at all is also fine.
	third, err := f.svc.ClearCart(ctx, "nobody", false)
	require.NoError(t, err)
	assert.Empty(t, third.Items)
}

func TestClearCart_DropsDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coupons.quote = &coupon.Quote{
		Coupon: &domain.Coupon{ID: "c-1", Code: "SAVE10", Type: domain.DiscountPercent, Value: 10},
	}

	_, err := f.svc.AddItem(ctx, "u1", 1, 1, false)
	require.NoError(t, err)
	_, err = f.svc.ApplyDiscountCode(ctx, "u1", "SAVE10")
	require.NoError(t, err)

	view, err := f.svc.ClearCart(ctx, "u1", false)
	require.NoError(t, err)
	assert.Nil(t, view.Discount)
	assert.Equal(t, 0.0, view.DiscountAmount)
}

// ------------------------------------------------------------------
// replace
// ------------------------------------------------------------------

func TestReplaceCart_NormalizesInput(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.ReplaceCart(context.Background(), "u1", []ReplaceItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 0, Quantity: 4},    // invalid product id, dropped
		{ProductID: 2, Quantity: 150},  // clamped to 99
		{ProductID: 1, Quantity: 7},    // duplicate: qty wins, position stays
		{ProductID: 404, Quantity: 3},  // unknown product, dropped
		{ProductID: 2, Quantity: -1},   // non-positive qty, dropped
	})
	require.NoError(t, err)

	require.Len(t, view.Items, 2)
	assert.Equal(t, int64(1), view.Items[0].ProductID)
	assert.Equal(t, 7, view.Items[0].Quantity)
	assert.Equal(t, int64(2), view.Items[1].ProductID)
	assert.Equal(t, 99, view.Items[1].Quantity)
}

func TestReplaceCart_EmptyListEmptiesCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "u1", 1, 3, false)
	require.NoError(t, err)

	view, err := f.svc.ReplaceCart(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.Equal(t, 0.0, view.Total)
}

// ------------------------------------------------------------------
// discounts
// ------------------------------------------------------------------

func TestApplyDiscountCode_AttachesAndRedeems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coupons.quote = &coupon.Quote{
		Coupon: &domain.Coupon{ID: "c-1", Code: "SAVE15", Type: domain.DiscountPercent, Value: 15},
	}

	_, err := f.svc.AddItem(ctx, "u1", 1, 2, false)
	require.NoError(t, err)

	view, err := f.svc.ApplyDiscountCode(ctx, "u1", "SAVE15")
	require.NoError(t, err)

	require.NotNil(t, view.Discount)
	assert.Equal(t, "SAVE15", view.Discount.Code)
	assert.Equal(t, 200.0, view.Subtotal)
	assert.Equal(t, 30.0, view.DiscountAmount)
	assert.Equal(t, 22.10, view.Tax)
	assert.Equal(t, 192.10, view.Total)
	assert.Equal(t, []string{"c-1/u1"}, f.coupons.redeemCalls)
}

func TestApplyDiscountCode_ValidationFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.coupons.validateErr = coupon.ErrCouponExhausted

	_, err := f.svc.ApplyDiscountCode(context.Background(), "u1", "SAVE15")
	assert.ErrorIs(t, err, coupon.ErrCouponExhausted)
	assert.Empty(t, f.coupons.redeemCalls)
}

func TestApplyDiscountCode_RedeemErrorRollsBackSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coupons.quote = &coupon.Quote{
		Coupon: &domain.Coupon{ID: "c-1", Code: "SAVE15", Type: domain.DiscountPercent, Value: 15},
	}
	f.coupons.redeemErr = errors.New("ledger unavailable")

	_, err := f.svc.AddItem(ctx, "u1", 1, 1, false)
	require.NoError(t, err)

	_, err = f.svc.ApplyDiscountCode(ctx, "u1", "SAVE15")
	require.Error(t, err)

	stored, err := f.repo.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, stored.Discount)
}

func TestApplyDiscountCode_RetryAfterRedeemIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coupons.quote = &coupon.Quote{
		Coupon: &domain.Coupon{ID: "c-1", Code: "SAVE15", Type: domain.DiscountPercent, Value: 15},
	}
	f.coupons.redeemOK = false // ledger reports the user already redeemed

	_, err := f.svc.AddItem(ctx, "u1", 1, 1, false)
	require.NoError(t, err)

	view, err := f.svc.ApplyDiscountCode(ctx, "u1", "SAVE15")
	require.NoError(t, err)
	require.NotNil(t, view.Discount)
}

func TestRemoveDiscountCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coupons.quote = &coupon.Quote{
		Coupon: &domain.Coupon{ID: "c-1", Code: "SAVE15", Type: domain.DiscountPercent, Value: 15},
	}

	_, err := f.svc.AddItem(ctx, "u1", 1, 2, false)
	require.NoError(t, err)
	_, err = f.svc.ApplyDiscountCode(ctx, "u1", "SAVE15")
	require.NoError(t, err)

	view, err := f.svc.RemoveDiscountCode(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, view.Discount)
	assert.Equal(t, 226.0, view.Total)
}

// ------------------------------------------------------------------
// optimistic path
// ------------------------------------------------------------------

func TestAddItem_OptimisticProjectionAndConvergence(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.notifier.Subscribe(16)
	defer cancel()

	view, err := f.svc.AddItem(context.Background(), "u1", 1, 2, true)
	require.NoError(t, err)

	// The projection is immediate and advisory.
	assert.True(t, view.Optimistic)
	assert.NotEmpty(t, view.MutationID)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 2, view.Items[0].Quantity)
	assert.Equal(t, 226.0, view.Total)

	// The converged state is announced with the same mutation id.
	ev := waitEvent(t, events, notify.EventCartUpdated)
	assert.Equal(t, "u1", ev.UserID)
	require.NotNil(t, ev.View)
	assert.Equal(t, view.MutationID, ev.View.MutationID)
	assert.False(t, ev.View.Optimistic)
	assert.Equal(t, 226.0, ev.View.Total)

	stored, err := f.repo.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, stored.Items[0].Quantity)
}

func TestAddItem_ConcurrentOptimisticAddsConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "u1", 1, 1, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, addErr := f.svc.AddItem(ctx, "u1", 1, 1, true)
			assert.NoError(t, addErr)
		}()
	}
	wg.Wait()

	// Both deltas land regardless of what each projection showed.
	require.Eventually(t, func() bool {
		stored, getErr := f.repo.GetCart(ctx, "u1")
		if getErr != nil || len(stored.Items) != 1 {
			return false
		}
		return stored.Items[0].Quantity == 3
	}, 3*time.Second, 10*time.Millisecond)
}

func TestOptimistic_OrderedPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "u1", 1, 5, true)
	require.NoError(t, err)
	_, err = f.svc.UpdateItem(ctx, "u1", 1, 2, true)
	require.NoError(t, err)
	_, err = f.svc.RemoveItem(ctx, "u1", 1, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, getErr := f.repo.GetCart(ctx, "u1")
		return getErr == nil && len(stored.Items) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestOptimistic_StaleProductFailsJob(t *testing.T) {
	cat := catalog.NewMemoryCatalog()
	cat.Put(domain.Product{ID: 1, Name: "Desk Lamp", Price: 100})
	flaky := &flakyCatalog{inner: cat, remaining: 1}

	repo := newMockRepository()
	notifier := notify.NewNotifier()
	svc := NewCartService(repo, flaky, newMockCache(), &mockCoupons{redeemOK: true}, notifier)
	t.Cleanup(svc.Close)

	events, cancel := notifier.Subscribe(16)
	defer cancel()

	// The lookup at intent time succeeds; the re-resolve inside the worker
	// sees the product gone and the job is dropped, not retried.
	view, err := svc.AddItem(context.Background(), "u1", 1, 1, true)
	require.NoError(t, err)
	assert.True(t, view.Optimistic)

	ev := waitEvent(t, events, notify.EventCartFailed)
	assert.Equal(t, "u1", ev.UserID)
	assert.NotEmpty(t, ev.Reason)

	_, err = repo.GetCart(context.Background(), "u1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound)
}

func TestClearCart_OptimisticProjectionDropsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coupons.quote = &coupon.Quote{
		Coupon: &domain.Coupon{ID: "c-1", Code: "SAVE15", Type: domain.DiscountPercent, Value: 15},
	}

	_, err := f.svc.AddItem(ctx, "u1", 1, 2, false)
	require.NoError(t, err)
	_, err = f.svc.ApplyDiscountCode(ctx, "u1", "SAVE15")
	require.NoError(t, err)

	view, err := f.svc.ClearCart(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, view.Optimistic)
	assert.Empty(t, view.Items)
	assert.Nil(t, view.Discount)
	assert.Equal(t, 0.0, view.Total)

	require.Eventually(t, func() bool {
		stored, getErr := f.repo.GetCart(ctx, "u1")
		return getErr == nil && len(stored.Items) == 0 && stored.Discount == nil
	}, 3*time.Second, 10*time.Millisecond)
}
