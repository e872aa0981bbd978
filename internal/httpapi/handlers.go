package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gwon-omega/server/internal/catalog"
	"github.com/gwon-omega/server/internal/coupon"
	"github.com/gwon-omega/server/internal/domain"
	"github.com/gwon-omega/server/internal/repository"
	"github.com/gwon-omega/server/internal/service"
)

// CartPipeline is the consumer-side view of the mutation pipeline.
type CartPipeline interface {
	GetCart(ctx context.Context, userID string) (*domain.CartView, error)
	AddItem(ctx context.Context, userID string, productID int64, qty int, optimistic bool) (*domain.CartView, error)
	UpdateItem(ctx context.Context, userID string, productID int64, qty int, optimistic bool) (*domain.CartView, error)
	RemoveItem(ctx context.Context, userID string, productID int64, optimistic bool) (*domain.CartView, error)
	ClearCart(ctx context.Context, userID string, optimistic bool) (*domain.CartView, error)
	ReplaceCart(ctx context.Context, userID string, items []service.ReplaceItem) (*domain.CartView, error)
	ApplyDiscountCode(ctx context.Context, userID, code string) (*domain.CartView, error)
	RemoveDiscountCode(ctx context.Context, userID string) (*domain.CartView, error)
}

type CartHandler struct {
	pipeline CartPipeline
	timeout  time.Duration
}

func NewCartHandler(pipeline CartPipeline, timeout time.Duration) *CartHandler {
	return &CartHandler{pipeline: pipeline, timeout: timeout}
}

type AddItemRequestDTO struct {
	ProductID  int64 `json:"productId"`
	Quantity   int   `json:"quantity"`
	Optimistic *bool `json:"optimistic,omitempty"`
}

type UpdateItemRequestDTO struct {
	Quantity   int   `json:"quantity"`
	Optimistic *bool `json:"optimistic,omitempty"`
}

type ReplaceCartRequestDTO struct {
	Items []service.ReplaceItem `json:"items"`
}

type DiscountRequestDTO struct {
	Code string `json:"code"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	view, err := h.pipeline.GetCart(ctx, userID)
	if err != nil {
		handlePipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > domain.MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	view, err := h.pipeline.AddItem(ctx, userID, req.ProductID, req.Quantity, optimisticFlag(req.Optimistic))
	if err != nil {
		handlePipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productID must be a positive integer")
		return
	}

	var req UpdateItemRequestDTO
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > domain.MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	view, pipeErr := h.pipeline.UpdateItem(ctx, userID, productID, req.Quantity, optimisticFlag(req.Optimistic))
	if pipeErr != nil {
		handlePipelineError(w, pipeErr)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productID must be a positive integer")
		return
	}

	view, pipeErr := h.pipeline.RemoveItem(ctx, userID, productID, optimisticQuery(r))
	if pipeErr != nil {
		handlePipelineError(w, pipeErr)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	view, err := h.pipeline.ClearCart(ctx, userID, optimisticQuery(r))
	if err != nil {
		handlePipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) ReplaceCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req ReplaceCartRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	view, err := h.pipeline.ReplaceCart(ctx, userID, req.Items)
	if err != nil {
		handlePipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req DiscountRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "code required")
		return
	}

	view, err := h.pipeline.ApplyDiscountCode(ctx, userID, req.Code)
	if err != nil {
		handlePipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	view, err := h.pipeline.RemoveDiscountCode(ctx, userID)
	if err != nil {
		handlePipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func optimisticFlag(v *bool) bool {
	if v == nil {
		return true // optimistic by default
	}
	return *v
}

func optimisticQuery(r *http.Request) bool {
	switch r.URL.Query().Get("optimistic") {
	case "false", "0":
		return false
	default:
		return true
	}
}

func handlePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidProduct):
		respondError(w, http.StatusBadRequest, "invalid_product", err.Error())
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, repository.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "cart_not_found", err.Error())
	case errors.Is(err, repository.ErrLineNotFound):
		respondError(w, http.StatusNotFound, "item_not_found", err.Error())
	case errors.Is(err, coupon.ErrCouponNotFound):
		respondError(w, http.StatusNotFound, "coupon_not_found", err.Error())
	case errors.Is(err, coupon.ErrCouponAlreadyUsed):
		respondError(w, http.StatusConflict, "coupon_already_used", err.Error())
	case errors.Is(err, coupon.ErrCouponInactive),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponNotStarted),
		errors.Is(err, coupon.ErrCouponExhausted),
		errors.Is(err, coupon.ErrMinOrderNotMet):
		respondError(w, http.StatusBadRequest, "coupon_rejected", err.Error())
	default:
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response failed: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, details string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Details: details,
	})
}
