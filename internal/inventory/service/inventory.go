package service

import (
	"context"
	"strings"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/cache"
	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/events"
	"github.com/branchpos/branchpos-backend/internal/inventory/ledger"
	"github.com/branchpos/branchpos-backend/internal/inventory/repository"
	"github.com/branchpos/branchpos-backend/pkg/config"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/httputil"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/branchpos/branchpos-backend/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Config tunes the stock mutation rules
type Config struct {
	Policy           ledger.Policy
	DefaultShelfLife time.Duration
	StoreTimeout     time.Duration
	ReportCacheTTL   time.Duration

	// Now is the service clock; time.Now when nil
	Now func() time.Time
}

// ConfigFrom maps the loaded inventory settings
func ConfigFrom(cfg *config.InventoryConfig) Config {
	return Config{
		Policy:           ledger.ParsePolicy(cfg.UnderflowPolicy),
		DefaultShelfLife: cfg.DefaultShelfLife,
		StoreTimeout:     cfg.StoreTimeout,
		ReportCacheTTL:   cfg.ReportCacheTTL,
	}
}

// InventoryService is the only caller of the catalog's mutation path. It
// validates quantities, applies timeouts, and fans out events, metrics and
// cache invalidation after each committed change.
type InventoryService struct {
	catalog   repository.Catalog
	publisher *events.InventoryEventPublisher
	reports   cache.ReportCache
	metrics   *metrics.Metrics
	logger    *logger.Logger
	cfg       Config
}

// NewInventoryService creates a new inventory service
func NewInventoryService(
	catalog repository.Catalog,
	publisher *events.InventoryEventPublisher,
	reports cache.ReportCache,
	m *metrics.Metrics,
	cfg Config,
	log *logger.Logger,
) *InventoryService {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Policy == "" {
		cfg.Policy = ledger.Clamp
	}
	if cfg.DefaultShelfLife <= 0 {
		cfg.DefaultShelfLife = 365 * 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.ReportCacheTTL <= 0 {
		cfg.ReportCacheTTL = time.Minute
	}
	return &InventoryService{
		catalog:   catalog,
		publisher: publisher,
		reports:   reports,
		metrics:   m,
		logger:    log.WithComponent("inventory-service"),
		cfg:       cfg,
	}
}

// Policy returns the configured underflow policy
func (s *InventoryService) Policy() ledger.Policy {
	return s.cfg.Policy
}

// Now returns the service clock reading
func (s *InventoryService) Now() time.Time {
	return s.cfg.Now()
}

// Catalog operations

// ListProducts lists the products in a branch, or every branch when empty
func (s *InventoryService) ListProducts(ctx context.Context, branchID string) ([]*domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	products, err := s.catalog.ListProducts(ctx, branchID)
	if err != nil {
		return nil, classify(err)
	}
	return products, nil
}

// GetProduct gets a product with its batches
func (s *InventoryService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	p, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

// CreateProduct adds a product. An initial batch without an expiry gets the
// default shelf life; a missing batch number becomes DEFAULT.
func (s *InventoryService) CreateProduct(ctx context.Context, in domain.ProductInput) (*domain.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, errors.Validation(map[string]string{"name": "is required"})
	}
	prices := map[string]decimal.Decimal{"cost_price": in.CostPrice, "selling_price": in.SellingPrice}
	if in.InitialBatch != nil {
		prices["initial_batch.cost_price"] = in.InitialBatch.CostPrice
	}
	if err := validatePrices(prices); err != nil {
		return nil, err
	}
	if in.InitialBatch != nil {
		if in.InitialBatch.Quantity <= 0 {
			return nil, errors.InvalidQuantity("initial quantity must be positive")
		}
		if in.InitialBatch.ExpiryDate.IsZero() {
			in.InitialBatch.ExpiryDate = s.defaultExpiry()
		}
		if in.InitialBatch.CostPrice.IsZero() {
			in.InitialBatch.CostPrice = in.CostPrice
		}
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	p, err := s.catalog.CreateProduct(tctx, in, httputil.GetUserID(ctx))
	if err != nil {
		return nil, classify(err)
	}

	s.logger.Info().
		Str("product_id", p.ID).
		Str("branch_id", p.BranchID).
		Str("name", p.Name).
		Int("stock_level", p.StockLevel).
		Msg("product created")

	s.publisher.PublishProductCreated(ctx, p)
	s.invalidate(ctx, p.BranchID)
	return p, nil
}

// UpdateProduct changes descriptive fields only
func (s *InventoryService) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	if patch.Empty() {
		return nil, errors.BadRequest("nothing to update")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, errors.Validation(map[string]string{"name": "must not be empty"})
	}
	prices := map[string]decimal.Decimal{}
	if patch.CostPrice != nil {
		prices["cost_price"] = *patch.CostPrice
	}
	if patch.SellingPrice != nil {
		prices["selling_price"] = *patch.SellingPrice
	}
	if err := validatePrices(prices); err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	p, err := s.catalog.UpdateProduct(tctx, id, patch)
	if err != nil {
		return nil, classify(err)
	}
	s.invalidate(ctx, p.BranchID)
	return p, nil
}

// ListMovements returns the product's audit trail, newest first
func (s *InventoryService) ListMovements(ctx context.Context, productID string, limit int) ([]*domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	movements, err := s.catalog.ListMovements(ctx, productID, limit)
	if err != nil {
		return nil, classify(err)
	}
	return movements, nil
}

// PriceScale is the number of decimal places prices are stored with
const PriceScale = 2

// validatePrices rejects negative prices and prices the store would round
func validatePrices(prices map[string]decimal.Decimal) error {
	details := map[string]string{}
	for field, d := range prices {
		switch {
		case d.IsNegative():
			details[field] = "must not be negative"
		case !d.Equal(d.Round(PriceScale)):
			details[field] = "must have at most 2 decimal places"
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

func (s *InventoryService) defaultExpiry() time.Time {
	return s.cfg.Now().Add(s.cfg.DefaultShelfLife)
}

func (s *InventoryService) invalidate(ctx context.Context, branchID string) {
	if err := s.reports.Invalidate(ctx, branchID); err != nil {
		s.logger.Error().Err(err).Str("branch_id", branchID).Msg("failed to invalidate expiry report cache")
	}
}

// classify keeps typed failures and turns anything else into a retryable Transient
func classify(err error) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return errors.Transient(err)
}
