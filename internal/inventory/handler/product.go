package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/repository"
	"github.com/branchpos/branchpos-backend/internal/inventory/service"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/httputil"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// ProductHandler handles catalog and stock mutation endpoints
type ProductHandler struct {
	service *service.InventoryService
	logger  *logger.Logger
}

// NewProductHandler creates a new product handler
func NewProductHandler(svc *service.InventoryService, log *logger.Logger) *ProductHandler {
	return &ProductHandler{
		service: svc,
		logger:  log,
	}
}

// List lists the products of the request's branch, or all branches
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context(), httputil.GetBranchID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, products, &httputil.Meta{Total: int64(len(products))})
}

// Get gets a product with its batches
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	product, err := h.product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, product)
}

// Create creates a product, optionally with a first batch
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	in, err := req.ToInput(httputil.GetBranchID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	product, err := h.service.CreateProduct(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, product)
}

// Update changes descriptive product fields
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	patch, err := req.ToPatch()
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if _, err := h.product(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	product, err := h.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, product)
}

// Movements lists the product's stock movements, newest first
func (h *ProductHandler) Movements(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = repository.DefaultMovementLimit
	}

	if _, err := h.product(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	movements, err := h.service.ListMovements(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, movements, &httputil.Meta{Total: int64(len(movements))})
}

// Receive adds delivered stock to a batch
func (h *ProductHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	in, err := req.ToInput()
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if _, err := h.product(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	m, err := h.service.Receive(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, m)
}

// Consume removes sold stock, earliest expiry first unless a batch is named
func (h *ProductHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	if _, err := h.product(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	m, err := h.service.Consume(r.Context(), chi.URLParam(r, "id"), service.ConsumeInput{
		BatchNumber: req.BatchNumber,
		Quantity:    req.Quantity,
		Reference:   req.Reference,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, m)
}

// Return returns or writes off part of one batch
func (h *ProductHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "write-off"
	}

	if _, err := h.product(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	m, err := h.service.ReturnOrWriteOff(r.Context(), chi.URLParam(r, "id"), req.BatchNumber, req.Quantity, reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.logger.WithRequestID(httputil.GetRequestID(r.Context())).Info().
		Str("product_id", m.Product.ID).
		Str("batch_number", req.BatchNumber).
		Int("quantity", -m.Applied()).
		Str("reason", reason).
		Str("user_id", httputil.GetUserID(r.Context())).
		Str("role", httputil.GetUserRole(r.Context())).
		Msg("stock returned or written off")

	httputil.JSON(w, http.StatusOK, m)
}

// product loads a product the caller may see. Branch-scoped callers get
// NotFound for another branch's products, the same answer as a missing ID.
func (h *ProductHandler) product(ctx context.Context, id string) (*domain.Product, error) {
	p, err := h.service.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if branch := httputil.GetBranchID(ctx); branch != "" && p.BranchID != branch {
		return nil, errors.NotFound("product")
	}
	return p, nil
}
