package service

import (
	"context"
	"strings"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/ledger"
	"github.com/branchpos/branchpos-backend/internal/inventory/repository"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/httputil"
	"github.com/branchpos/branchpos-backend/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReasonReturn tags a return-to-vendor; any other reason is a write-off
const ReasonReturn = "RETURN"

// ReceiveInput is an inbound stock delivery
type ReceiveInput struct {
	BatchNumber string
	Quantity    int
	Unit        string
	Location    string
	ExpiryDate  *time.Time
	CostPrice   *decimal.Decimal
	Reference   string
}

// ConsumeInput removes sold or used stock. An empty batch number consumes
// earliest-expiry first.
type ConsumeInput struct {
	BatchNumber string
	Quantity    int
	Reference   string
}

// Receive adds stock to a batch, creating it on first receipt
func (s *InventoryService) Receive(ctx context.Context, productID string, in ReceiveInput) (*repository.Mutation, error) {
	if in.Quantity <= 0 {
		return nil, errors.InvalidQuantity("quantity must be greater than 0")
	}

	batchNumber := strings.TrimSpace(in.BatchNumber)
	if batchNumber == "" {
		batchNumber = domain.DefaultBatchNumber
	}
	expiry := s.defaultExpiry()
	if in.ExpiryDate != nil && !in.ExpiryDate.IsZero() {
		expiry = *in.ExpiryDate
	}
	cost := decimal.Zero
	if in.CostPrice != nil {
		if err := validatePrices(map[string]decimal.Decimal{"cost_price": *in.CostPrice}); err != nil {
			return nil, err
		}
		cost = *in.CostPrice
	}

	req := repository.MutationRequest{
		Delta: ledger.Delta{
			BatchNumber: batchNumber,
			ExpiryDate:  expiry,
			CostPrice:   cost,
			Quantity:    in.Quantity,
		},
		Kind:      domain.MovementReceive,
		Reference: in.Reference,
	}
	if in.Unit != "" {
		req.Patch.Unit = &in.Unit
	}
	if in.Location != "" {
		req.Patch.Location = &in.Location
	}
	return s.mutate(ctx, "receive", productID, req)
}

// Consume removes stock for a sale
func (s *InventoryService) Consume(ctx context.Context, productID string, in ConsumeInput) (*repository.Mutation, error) {
	if in.Quantity <= 0 {
		return nil, errors.InvalidQuantity("quantity must be greater than 0")
	}

	req := repository.MutationRequest{
		Delta: ledger.Delta{
			BatchNumber: strings.TrimSpace(in.BatchNumber),
			Quantity:    -in.Quantity,
		},
		Kind:      domain.MovementConsume,
		Reason:    "sale",
		Reference: in.Reference,
	}
	return s.mutate(ctx, "consume", productID, req)
}

// ReturnOrWriteOff removes 1..on-hand units from a named batch. The reason
// only selects the audit movement kind.
func (s *InventoryService) ReturnOrWriteOff(ctx context.Context, productID, batchNumber string, quantity int, reason string) (*repository.Mutation, error) {
	if quantity < 1 {
		return nil, errors.InvalidQuantity("quantity must be at least 1")
	}

	batchNumber = strings.TrimSpace(batchNumber)
	if batchNumber == "" {
		batchNumber = domain.DefaultBatchNumber
	}
	kind := domain.MovementWriteOff
	if strings.EqualFold(reason, ReasonReturn) {
		kind = domain.MovementReturn
	}

	req := repository.MutationRequest{
		Delta: ledger.Delta{
			BatchNumber:   batchNumber,
			Quantity:      -quantity,
			RequireOnHand: true,
		},
		Kind:   kind,
		Reason: reason,
	}
	return s.mutate(ctx, strings.ToLower(kind), productID, req)
}

func (s *InventoryService) mutate(ctx context.Context, op, productID string, req repository.MutationRequest) (*repository.Mutation, error) {
	start := time.Now()
	req.Policy = s.cfg.Policy
	req.PerformedBy = httputil.GetUserID(ctx)

	tctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	m, err := s.catalog.Mutate(tctx, productID, req)
	if err != nil {
		err = classify(err)
		outcome := metrics.OutcomeRejected
		if errors.Is(err, errors.ErrTransient) {
			outcome = metrics.OutcomeFailed
			s.logger.Error().Err(err).Str("product_id", productID).Str("operation", op).Msg("stock mutation failed")
		} else {
			s.logger.Warn().Err(err).Str("product_id", productID).Str("operation", op).Msg("stock mutation rejected")
		}
		s.metrics.ObserveMutation(op, outcome, time.Since(start))
		return nil, err
	}

	outcome := metrics.OutcomeApplied
	for _, res := range m.Results {
		level := zerolog.InfoLevel
		if res.Clamped {
			level = zerolog.WarnLevel
			outcome = metrics.OutcomeClamped
		}
		s.logger.WithLevel(level).
			Str("product_id", productID).
			Str("batch_number", res.BatchNumber).
			Int("delta", res.Requested).
			Int("applied", res.Applied).
			Int("stock_level", m.Product.StockLevel).
			Str("reason", req.Reason).
			Bool("clamped", res.Clamped).
			Msg("stock " + op)
	}
	s.metrics.ObserveMutation(op, outcome, time.Since(start))

	s.publisher.PublishStockMutated(ctx, req, m)
	s.invalidate(ctx, m.Product.BranchID)
	return m, nil
}
