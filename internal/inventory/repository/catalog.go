// Package repository stores products, their batches and the stock movement
// audit trail. Every stock mutation runs the ledger against a product that is
// locked for the duration of the call.
package repository

import (
	"context"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/ledger"
)

// AllBranches scopes a listing to every branch
const AllBranches = ""

// Catalog is the system of record for products and batches
type Catalog interface {
	ListProducts(ctx context.Context, branchID string) ([]*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, in domain.ProductInput, performedBy string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error)
	Mutate(ctx context.Context, productID string, req MutationRequest) (*Mutation, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]*domain.StockMovement, error)
}

// MutationRequest is one ledger delta plus its audit metadata
type MutationRequest struct {
	Delta       ledger.Delta
	Policy      ledger.Policy
	Kind        string
	Reason      string
	Reference   string
	PerformedBy string

	// Patch updates descriptive fields in the same transaction
	Patch domain.ProductPatch
}

// Mutation is the outcome of a committed MutationRequest
type Mutation struct {
	Product *domain.Product `json:"product"`
	Results []ledger.Result `json:"results"`
}

// Clamped reports whether any part of the delta was floored at zero
func (m *Mutation) Clamped() bool {
	for _, r := range m.Results {
		if r.Clamped {
			return true
		}
	}
	return false
}

// Applied returns the net quantity change across all touched batches
func (m *Mutation) Applied() int {
	total := 0
	for _, r := range m.Results {
		total += r.Applied
	}
	return total
}

// DefaultMovementLimit caps ListMovements when no limit is given
const DefaultMovementLimit = 100

func movementsFor(p *domain.Product, req MutationRequest, results []ledger.Result, now time.Time, newID func() string) []*domain.StockMovement {
	out := make([]*domain.StockMovement, 0, len(results))
	for _, r := range results {
		m := &domain.StockMovement{
			ID:          newID(),
			ProductID:   p.ID,
			BatchNumber: r.BatchNumber,
			Kind:        req.Kind,
			Requested:   r.Requested,
			Applied:     r.Applied,
			PreviousQty: r.Previous,
			NewQty:      r.New,
			Reason:      req.Reason,
			Reference:   req.Reference,
			PerformedBy: req.PerformedBy,
			CreatedAt:   now,
		}
		if r.Batch != nil {
			id := r.Batch.ID
			m.BatchID = &id
		}
		out = append(out, m)
	}
	return out
}

func initialDelta(in *domain.BatchInput) ledger.Delta {
	number := in.BatchNumber
	if number == "" {
		number = domain.DefaultBatchNumber
	}
	return ledger.Delta{
		BatchNumber: number,
		ExpiryDate:  in.ExpiryDate,
		CostPrice:   in.CostPrice,
		Quantity:    in.Quantity,
	}
}

func newProduct(in domain.ProductInput, id string, now time.Time) *domain.Product {
	return &domain.Product{
		ID:            id,
		BranchID:      in.BranchID,
		GTIN:          in.GTIN,
		SKU:           in.SKU,
		Name:          in.Name,
		Category:      in.Category,
		Unit:          in.Unit,
		Location:      in.Location,
		MinStockLevel: in.MinStockLevel,
		CostPrice:     in.CostPrice,
		SellingPrice:  in.SellingPrice,
		CreatedAt:     now,
		UpdatedAt:     now,
		Batches:       []*domain.Batch{},
	}
}
