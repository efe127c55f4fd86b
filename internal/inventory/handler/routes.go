// Package handler exposes the inventory service over HTTP.
package handler

import (
	"github.com/branchpos/branchpos-backend/internal/inventory/scan"
	"github.com/branchpos/branchpos-backend/internal/inventory/service"
	"github.com/branchpos/branchpos-backend/pkg/auth"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/branchpos/branchpos-backend/pkg/permissions"
	"github.com/go-chi/chi/v5"
)

// Handlers bundles the inventory route handlers
type Handlers struct {
	Products *ProductHandler
	Expiry   *ExpiryHandler
	Scans    *ScanHandler
}

// NewHandlers wires every handler to the service and session registry
func NewHandlers(svc *service.InventoryService, registry *scan.Registry, log *logger.Logger) *Handlers {
	return &Handlers{
		Products: NewProductHandler(svc, log.WithComponent("product-handler")),
		Expiry:   NewExpiryHandler(svc, log.WithComponent("expiry-handler")),
		Scans:    NewScanHandler(registry, log.WithComponent("scan-handler")),
	}
}

// Routes returns the /api/v1/inventory router. Authentication must run
// before it so permissions are on the request context.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	read := auth.RequirePermission(permissions.InventoryRead)
	manage := auth.RequirePermission(permissions.InventoryManage)

	r.Route("/products", func(r chi.Router) {
		r.With(read).Get("/", h.Products.List)
		r.With(manage).Post("/", h.Products.Create)
		r.With(read).Get("/{id}", h.Products.Get)
		r.With(manage).Patch("/{id}", h.Products.Update)
		r.With(read).Get("/{id}/movements", h.Products.Movements)
		r.With(auth.RequirePermission(permissions.InventoryReceive)).Post("/{id}/receive", h.Products.Receive)
		r.With(auth.RequirePermission(permissions.InventoryConsume)).Post("/{id}/consume", h.Products.Consume)
		r.With(auth.RequirePermission(permissions.InventoryReturn)).Post("/{id}/return", h.Products.Return)
	})

	r.Route("/expiry", func(r chi.Router) {
		r.With(read).Get("/", h.Expiry.Report)
		r.With(auth.RequirePermission(permissions.InventoryReturn)).Post("/returns", h.Expiry.Return)
	})

	r.Route("/scan-sessions", func(r chi.Router) {
		r.Use(auth.RequirePermission(permissions.InventoryScan))
		r.Post("/", h.Scans.Create)
		r.Route("/{sid}", func(r chi.Router) {
			r.Get("/", h.Scans.Get)
			r.Delete("/", h.Scans.Delete)
			r.Post("/scans", h.Scans.Scan)
			r.Post("/rows", h.Scans.AddRow)
			r.Patch("/rows/{rowID}", h.Scans.EditRow)
			r.Delete("/rows/{rowID}", h.Scans.DeleteRow)
			r.Post("/clear", h.Scans.Clear)
			r.Post("/save", h.Scans.Save)
		})
	})

	return r
}
