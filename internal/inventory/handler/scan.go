package handler

import (
	"net/http"

	"github.com/branchpos/branchpos-backend/internal/inventory/scan"
	"github.com/branchpos/branchpos-backend/pkg/httputil"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// ScanHandler handles stock-entry scan sessions
type ScanHandler struct {
	registry *scan.Registry
	logger   *logger.Logger
}

// NewScanHandler creates a new scan handler
func NewScanHandler(registry *scan.Registry, log *logger.Logger) *ScanHandler {
	return &ScanHandler{
		registry: registry,
		logger:   log,
	}
}

// Create opens a session for the caller's branch
func (h *ScanHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.registry.Create(ctx, httputil.GetBranchID(ctx), httputil.GetUserID(ctx))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, sessionResponse(s))
}

// Get returns the session grid
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	httputil.JSON(w, http.StatusOK, sessionResponse(s))
}

// Delete discards the session and its uncommitted rows
func (h *ScanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := h.registry.Delete(s.ID); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Scan records one scan event
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ScanRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	rec, err := req.ToRecord()
	if err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.registry.Scan(r.Context(), s, rec)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, res)
}

// AddRow inserts a manual row
func (h *ScanHandler) AddRow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req RowRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	row, err := s.Buffer.AddRow(req.ToPatch())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, row)
}

// EditRow overwrites fields of a row
func (h *ScanHandler) EditRow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req RowRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	row, err := s.Buffer.EditRow(chi.URLParam(r, "rowID"), req.ToPatch())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, row)
}

// DeleteRow removes a row
func (h *ScanHandler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.Buffer.DeleteRow(chi.URLParam(r, "rowID")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Clear empties the grid
func (h *ScanHandler) Clear(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.Buffer.Clear(); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Save commits the grid. A partial failure answers with the error and the
// per-row report; the unprocessed rows stay in the session.
func (h *ScanHandler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	report, err := h.registry.Save(r.Context(), s)
	if err != nil {
		if report != nil {
			httputil.ErrorWithData(w, err, report)
			return
		}
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// session resolves the {sid} route parameter to a session the caller owns
func (h *ScanHandler) session(w http.ResponseWriter, r *http.Request) (*scan.Session, bool) {
	ctx := r.Context()
	s, err := h.registry.Owned(chi.URLParam(r, "sid"), httputil.GetUserID(ctx), httputil.GetBranchID(ctx))
	if err != nil {
		httputil.Error(w, err)
		return nil, false
	}
	return s, true
}
