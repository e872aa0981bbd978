package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gwon-omega/server/internal/cache"
	"github.com/gwon-omega/server/internal/catalog"
	"github.com/gwon-omega/server/internal/coupon"
	"github.com/gwon-omega/server/internal/domain"
	"github.com/gwon-omega/server/internal/notify"
	"github.com/gwon-omega/server/internal/pricing"
	"github.com/gwon-omega/server/internal/queue"
	"github.com/gwon-omega/server/internal/repository"
)

var ErrInvalidProduct = errors.New("invalid product reference")

// Coupons is the slice of the coupon ledger the pipeline consumes.
type Coupons interface {
	Validate(ctx context.Context, code string, orderTotal float64, userID string) (*coupon.Quote, error)
	Redeem(ctx context.Context, couponID, userID string) (bool, error)
}

// ReplaceItem is one entry of a full-cart replace request, pre-normalization.
type ReplaceItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// CartService is the mutation pipeline: the only component callers interact
// with. Mutations run either optimistically (instant advisory projection +
// queued authoritative apply) or synchronously against the store.
type CartService struct {
	repo     repository.CartRepository
	catalog  catalog.ProductCatalog
	cache    cache.CartCache
	coupons  Coupons
	notifier *notify.Notifier
	jobs     *queue.Queue
	sfg      singleflight.Group // prevents snapshot stampede per user

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewCartService(
	repo repository.CartRepository,
	cat catalog.ProductCatalog,
	cartCache cache.CartCache,
	coupons Coupons,
	notifier *notify.Notifier,
) *CartService {
	s := &CartService{
		repo:      repo,
		catalog:   cat,
		cache:     cartCache,
		coupons:   coupons,
		notifier:  notifier,
		userLocks: make(map[string]*sync.Mutex),
	}
	s.jobs = queue.New(s.applyJob)
	return s
}

// Close stops the background job workers.
func (s *CartService) Close() {
	s.jobs.Close()
}

// lockUser serializes synchronous mutations per user, closing the
// read-then-write gap the job partitioning alone does not cover.
func (s *CartService) lockUser(userID string) func() {
	s.mu.Lock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// GetCart returns the cart with every line price recomputed against current
// product state. A line whose product no longer exists is retained at its
// last-known price. The freshly computed total is cached back onto the cart.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.CartView, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrCartNotFound) {
			return emptyView(userID), nil
		}
		return nil, err
	}

	names := make(map[int64]string)
	refreshed := false
	changed := make(map[int64]float64)
	if len(cart.Items) > 0 {
		ids := make([]int64, 0, len(cart.Items))
		for _, l := range cart.Items {
			ids = append(ids, l.ProductID)
		}

		products, catErr := s.catalog.Products(ctx, ids)
		if catErr != nil {
			// Catalog down: serving last-known prices beats failing the read.
			log.Printf("catalog refresh for user %s failed: %v", userID, catErr)
		} else {
			refreshed = true
			for i := range cart.Items {
				p, ok := products[cart.Items[i].ProductID]
				if !ok {
					continue // product deleted; line retained at last-known price
				}
				names[p.ID] = p.Name
				if np := pricing.UnitPrice(p); np != cart.Items[i].Price {
					cart.Items[i].Price = np
					changed[p.ID] = np
				}
			}
		}
	}

	summary := pricing.Summarize(cart.Items, optsFrom(cart))
	if refreshed && (len(changed) > 0 || cart.Total != summary.Total) {
		// The write-back sets prices per line, keyed by product id; a
		// mutation landing between this read and the write keeps its lines.
		if saveErr := s.repo.SaveRefreshedPrices(ctx, userID, changed, summary.Total); saveErr != nil {
			log.Printf("persist refreshed prices for user %s failed: %v", userID, saveErr)
		}
		s.invalidate(userID)
	}

	return buildView(cart, summary, names, false, ""), nil
}

// AddItem merges qty of a product into the cart. Quantity is clamped to
// [1,99] before either path runs so both produce the same result.
func (s *CartService) AddItem(ctx context.Context, userID string, productID int64, qty int, optimistic bool) (*domain.CartView, error) {
	if productID <= 0 {
		return nil, ErrInvalidProduct
	}
	qty = domain.ClampQuantity(qty)

	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return nil, err
	}
	price := pricing.UnitPrice(product)

	if !optimistic {
		return s.addItemSync(ctx, userID, productID, qty, price)
	}

	job := queue.Job{
		Type:       queue.OpAdd,
		UserID:     userID,
		ProductID:  productID,
		Quantity:   qty,
		MutationID: newMutationID(),
	}
	return s.project(ctx, userID, job, func(cart *domain.Cart) {
		applyAdd(cart, productID, qty, price)
	})
}

// UpdateItem sets a line's quantity; qty <= 0 removes the line entirely.
func (s *CartService) UpdateItem(ctx context.Context, userID string, productID int64, qty int, optimistic bool) (*domain.CartView, error) {
	if productID <= 0 {
		return nil, ErrInvalidProduct
	}

	var price float64
	if qty > 0 {
		product, err := s.catalog.Product(ctx, productID)
		if err != nil {
			return nil, err
		}
		price = pricing.UnitPrice(product)
	}

	if !optimistic {
		return s.updateItemSync(ctx, userID, productID, qty, price)
	}

	job := queue.Job{
		Type:       queue.OpUpdate,
		UserID:     userID,
		ProductID:  productID,
		Quantity:   qty,
		MutationID: newMutationID(),
	}
	return s.project(ctx, userID, job, func(cart *domain.Cart) {
		applyUpdate(cart, productID, qty, price)
	})
}

// RemoveItem deletes a single line.
func (s *CartService) RemoveItem(ctx context.Context, userID string, productID int64, optimistic bool) (*domain.CartView, error) {
	if productID <= 0 {
		return nil, ErrInvalidProduct
	}

	if !optimistic {
		return s.removeItemSync(ctx, userID, productID)
	}

	job := queue.Job{
		Type:       queue.OpRemove,
		UserID:     userID,
		ProductID:  productID,
		MutationID: newMutationID(),
	}
	return s.project(ctx, userID, job, func(cart *domain.Cart) {
		applyRemove(cart, productID)
	})
}

// ClearCart drops every line and the applied discount. Idempotent: clearing
// an absent or already-empty cart yields the same zero state.
func (s *CartService) ClearCart(ctx context.Context, userID string, optimistic bool) (*domain.CartView, error) {
	if !optimistic {
		return s.clearCartSync(ctx, userID)
	}

	job := queue.Job{
		Type:       queue.OpClear,
		UserID:     userID,
		MutationID: newMutationID(),
	}
	return s.project(ctx, userID, job, func(cart *domain.Cart) {
		cart.Items = nil
		cart.Discount = nil
	})
}

// ReplaceCart overwrites the cart with a normalized snapshot of items.
// Always synchronous: a full replace is not an incremental delta worth
// projecting. Entries with unknown products are silently dropped.
func (s *CartService) ReplaceCart(ctx context.Context, userID string, items []ReplaceItem) (*domain.CartView, error) {
	normalized := normalizeReplace(items)

	ids := make([]int64, 0, len(normalized))
	for _, it := range normalized {
		ids = append(ids, it.ProductID)
	}
	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	lines := make([]domain.CartLine, 0, len(normalized))
	for _, it := range normalized {
		p, ok := products[it.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, domain.CartLine{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     pricing.UnitPrice(p),
			AddedAt:   now,
		})
	}

	unlock := s.lockUser(userID)
	replaceErr := s.repo.ReplaceLines(ctx, userID, lines)
	unlock()
	if replaceErr != nil {
		return nil, replaceErr
	}

	s.invalidate(userID)
	return s.GetCart(ctx, userID)
}

// ApplyDiscountCode validates code against the current refreshed subtotal,
// attaches the discount snapshot and records the redemption.
func (s *CartService) ApplyDiscountCode(ctx context.Context, userID, code string) (*domain.CartView, error) {
	current, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	quote, err := s.coupons.Validate(ctx, code, current.Subtotal, userID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(userID)
	setErr := s.repo.SetDiscount(ctx, userID, quote.Coupon.Snapshot())
	unlock()
	if setErr != nil {
		return nil, setErr
	}

	redeemed, redeemErr := s.coupons.Redeem(ctx, quote.Coupon.ID, userID)
	if redeemErr != nil {
		// Best-effort rollback of the snapshot; the counters were untouched.
		if rbErr := s.repo.SetDiscount(ctx, userID, nil); rbErr != nil {
			log.Printf("discount rollback for user %s failed: %v", userID, rbErr)
		}
		return nil, redeemErr
	}
	if !redeemed {
		// The usage set already held this user: a retried apply. The
		// snapshot is attached and the counter was bumped exactly once.
		log.Printf("coupon %s already redeemed by user %s, treating apply as retry", quote.Coupon.Code, userID)
	}

	s.invalidate(userID)
	return s.GetCart(ctx, userID)
}

// RemoveDiscountCode detaches the applied discount. Usage counters stay as
// they are: redemption is permanent.
func (s *CartService) RemoveDiscountCode(ctx context.Context, userID string) (*domain.CartView, error) {
	unlock := s.lockUser(userID)
	err := s.repo.SetDiscount(ctx, userID, nil)
	unlock()
	if err != nil {
		return nil, err
	}

	s.invalidate(userID)
	return s.GetCart(ctx, userID)
}

// ------------------------------------------------------------------
// optimistic path
// ------------------------------------------------------------------

// project returns an immediate advisory view computed from a snapshot and
// enqueues the authoritative job. If the queue rejects the job the operation
// falls back to the synchronous path so no mutation is silently lost.
func (s *CartService) project(ctx context.Context, userID string, job queue.Job, apply func(*domain.Cart)) (*domain.CartView, error) {
	cart, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	apply(cart)
	summary := pricing.Summarize(cart.Items, optsFrom(cart))
	view := buildView(cart, summary, nil, true, job.MutationID)

	if enqErr := s.jobs.Enqueue(job); enqErr != nil {
		log.Printf("enqueue %s for user %s failed (%v), applying synchronously", job.Type, userID, enqErr)
		return s.runJobSync(ctx, job)
	}
	return view, nil
}

// snapshot reads the lightweight projection base: cache first, store on
// miss, deliberately without any ordering token against the write path.
func (s *CartService) snapshot(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, cacheErr := s.cache.Get(ctx, userID)
		if cacheErr == nil {
			return cart, nil
		}
		if !errors.Is(cacheErr, cache.ErrCacheMiss) {
			log.Printf("cache get for user %s failed: %v", userID, cacheErr)
		}

		cart, repoErr := s.repo.GetCart(ctx, userID)
		if repoErr != nil {
			if errors.Is(repoErr, repository.ErrCartNotFound) {
				return emptyCart(userID), nil
			}
			return nil, repoErr
		}

		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if setErr := s.cache.Set(setCtx, userID, cart); setErr != nil {
				log.Printf("cache set for user %s failed: %v", userID, setErr)
			}
		}()
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// Concurrent projections share the singleflight result; each works on
	// its own copy.
	return cloneCart(v.(*domain.Cart)), nil
}

// ------------------------------------------------------------------
// synchronous path (also the authority the queue workers call)
// ------------------------------------------------------------------

func (s *CartService) addItemSync(ctx context.Context, userID string, productID int64, qty int, price float64) (*domain.CartView, error) {
	unlock := s.lockUser(userID)
	err := s.repo.UpsertLine(ctx, userID, productID, qty, price)
	unlock()
	if err != nil {
		return nil, err
	}

	s.invalidate(userID)
	return s.GetCart(ctx, userID)
}

func (s *CartService) updateItemSync(ctx context.Context, userID string, productID int64, qty int, price float64) (*domain.CartView, error) {
	unlock := s.lockUser(userID)
	err := s.repo.SetLineQuantity(ctx, userID, productID, qty, price)
	unlock()
	if err != nil {
		return nil, err
	}

	s.invalidate(userID)
	return s.GetCart(ctx, userID)
}

func (s *CartService) removeItemSync(ctx context.Context, userID string, productID int64) (*domain.CartView, error) {
	unlock := s.lockUser(userID)
	err := s.repo.RemoveLine(ctx, userID, productID)
	unlock()
	if err != nil {
		return nil, err
	}

	s.invalidate(userID)
	return s.GetCart(ctx, userID)
}

func (s *CartService) clearCartSync(ctx context.Context, userID string) (*domain.CartView, error) {
	unlock := s.lockUser(userID)
	err := s.repo.ClearLines(ctx, userID)
	unlock()
	if err != nil {
		return nil, err
	}

	s.invalidate(userID)
	return s.GetCart(ctx, userID)
}

// ------------------------------------------------------------------
// queue worker
// ------------------------------------------------------------------

// applyJob is the per-partition worker body: it re-resolves product state at
// apply time (the projection's inputs may be stale), runs the synchronous
// operation, and publishes the converged state or the failure. Failed jobs
// are never retried.
func (s *CartService) applyJob(ctx context.Context, job queue.Job) error {
	view, err := s.runJobSync(ctx, job)
	if err != nil {
		s.notifier.Publish(notify.Event{
			Type:   notify.EventCartFailed,
			UserID: job.UserID,
			Reason: err.Error(),
		})
		return err
	}

	view.MutationID = job.MutationID
	s.notifier.Publish(notify.Event{
		Type:   notify.EventCartUpdated,
		UserID: job.UserID,
		View:   view,
	})
	return nil
}

func (s *CartService) runJobSync(ctx context.Context, job queue.Job) (*domain.CartView, error) {
	switch job.Type {
	case queue.OpAdd:
		product, err := s.catalog.Product(ctx, job.ProductID)
		if err != nil {
			return nil, err
		}
		return s.addItemSync(ctx, job.UserID, job.ProductID, job.Quantity, pricing.UnitPrice(product))
	case queue.OpUpdate:
		var price float64
		if job.Quantity > 0 {
			product, err := s.catalog.Product(ctx, job.ProductID)
			if err != nil {
				return nil, err
			}
			price = pricing.UnitPrice(product)
		}
		return s.updateItemSync(ctx, job.UserID, job.ProductID, job.Quantity, price)
	case queue.OpRemove:
		return s.removeItemSync(ctx, job.UserID, job.ProductID)
	case queue.OpClear:
		return s.clearCartSync(ctx, job.UserID)
	default:
		return nil, fmt.Errorf("unknown job type %q", job.Type)
	}
}

// ------------------------------------------------------------------
// in-memory delta rules, shared verbatim by projection and intent
// ------------------------------------------------------------------

func applyAdd(cart *domain.Cart, productID int64, qty int, price float64) {
	if idx := cart.Line(productID); idx >= 0 {
		cart.Items[idx].Quantity = domain.ClampQuantity(cart.Items[idx].Quantity + qty)
		cart.Items[idx].Price = price
		return
	}
	cart.Items = append(cart.Items, domain.CartLine{
		ProductID: productID,
		Quantity:  domain.ClampQuantity(qty),
		Price:     price,
		AddedAt:   time.Now(),
	})
}

func applyUpdate(cart *domain.Cart, productID int64, qty int, price float64) {
	idx := cart.Line(productID)
	if idx < 0 {
		return // the queued job will surface the missing line
	}
	if qty <= 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return
	}
	cart.Items[idx].Quantity = domain.ClampQuantity(qty)
	cart.Items[idx].Price = price
}

func applyRemove(cart *domain.Cart, productID int64) {
	if idx := cart.Line(productID); idx >= 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	}
}

// normalizeReplace drops invalid entries, clamps quantities and dedupes by
// product. The first occurrence keeps its position, the last one wins the
// quantity.
func normalizeReplace(items []ReplaceItem) []ReplaceItem {
	out := make([]ReplaceItem, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, it := range items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			continue
		}
		qty := domain.ClampQuantity(it.Quantity)
		if pos, seen := index[it.ProductID]; seen {
			out[pos].Quantity = qty
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, ReplaceItem{ProductID: it.ProductID, Quantity: qty})
	}
	return out
}

// ------------------------------------------------------------------
// helpers
// ------------------------------------------------------------------

func (s *CartService) invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		log.Printf("cache invalidate for user %s failed: %v", userID, err)
	}
}

func newMutationID() string {
	return uuid.NewString()
}

func optsFrom(cart *domain.Cart) pricing.Options {
	return pricing.Options{
		TaxRate:  cart.TaxRate,
		Shipping: cart.Shipping,
		Discount: cart.Discount,
	}
}

func emptyCart(userID string) *domain.Cart {
	return &domain.Cart{
		UserID:   userID,
		Items:    []domain.CartLine{},
		TaxRate:  pricing.DefaultTaxRate,
		Shipping: pricing.DefaultShipping,
	}
}

func emptyView(userID string) *domain.CartView {
	return &domain.CartView{
		UserID:  userID,
		Items:   []domain.ViewItem{},
		TaxRate: pricing.DefaultTaxRate,
	}
}

func cloneCart(cart *domain.Cart) *domain.Cart {
	cp := *cart
	cp.Items = make([]domain.CartLine, len(cart.Items))
	copy(cp.Items, cart.Items)
	if cart.Discount != nil {
		d := *cart.Discount
		cp.Discount = &d
	}
	return &cp
}

func buildView(cart *domain.Cart, summary pricing.Summary, names map[int64]string, optimistic bool, mutationID string) *domain.CartView {
	items := make([]domain.ViewItem, 0, len(cart.Items))
	for _, l := range cart.Items {
		items = append(items, domain.ViewItem{
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			Price:       l.Price,
			ProductName: names[l.ProductID],
		})
	}
	return &domain.CartView{
		CartID:         cart.ID,
		UserID:         cart.UserID,
		Items:          items,
		Subtotal:       summary.Subtotal,
		TaxRate:        summary.TaxRate,
		Tax:            summary.Tax,
		Shipping:       summary.Shipping,
		Discount:       summary.Discount,
		DiscountAmount: summary.DiscountAmount,
		Total:          summary.Total,
		Optimistic:     optimistic,
		MutationID:     mutationID,
	}
}
