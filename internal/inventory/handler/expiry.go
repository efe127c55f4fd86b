package handler

import (
	"net/http"

	"github.com/branchpos/branchpos-backend/internal/inventory/rtv"
	"github.com/branchpos/branchpos-backend/internal/inventory/service"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/httputil"
	"github.com/branchpos/branchpos-backend/pkg/logger"
)

// ExpiryHandler serves the expiry risk report and vendor returns
type ExpiryHandler struct {
	service *service.InventoryService
	logger  *logger.Logger
}

// NewExpiryHandler creates a new expiry handler
func NewExpiryHandler(svc *service.InventoryService, log *logger.Logger) *ExpiryHandler {
	return &ExpiryHandler{
		service: svc,
		logger:  log,
	}
}

// Report classifies the branch's batches; ?status= narrows the item list
func (h *ExpiryHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ExpiryReport(r.Context(), httputil.GetBranchID(r.Context()), r.URL.Query().Get("status"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// Return sends part of a classified batch back to its vendor
func (h *ExpiryHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req VendorReturnRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	report, err := h.service.ExpiryReport(r.Context(), httputil.GetBranchID(r.Context()), "")
	if err != nil {
		httputil.Error(w, err)
		return
	}
	item, ok := report.Find(req.ProductID, req.BatchNumber)
	if !ok {
		httputil.Error(w, errors.NotFound("batch "+req.BatchNumber))
		return
	}

	// An omitted quantity returns everything on hand in the batch
	m, refund, err := rtv.Return(r.Context(), h.service, item, req.Quantity, h.logger)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, VendorReturnResponse{
		Product:       m.Product,
		Returned:      -m.Applied(),
		RefundPreview: refund,
	})
}
