package testutil

import (
	"fmt"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FixtureFactory creates catalog fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
	Now      time.Time
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{Now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Product builds a product with no batches
func (f *FixtureFactory) Product(opts ...func(*domain.Product)) *domain.Product {
	seq := f.nextSeq()
	p := &domain.Product{
		ID:           uuid.New().String(),
		BranchID:     "branch-1",
		GTIN:         fmt.Sprintf("0880000%06d", seq),
		SKU:          fmt.Sprintf("SKU-%04d", seq),
		Name:         fmt.Sprintf("Product %d", seq),
		Category:     "grocery",
		Unit:         "pcs",
		CostPrice:    decimal.NewFromInt(100),
		SellingPrice: decimal.NewFromInt(150),
		CreatedAt:    f.Now,
		UpdatedAt:    f.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithBatch appends a batch and keeps StockLevel in step
func (f *FixtureFactory) WithBatch(number, expiry string, qty int, cost int64) func(*domain.Product) {
	return func(p *domain.Product) {
		d, err := domain.ParseDate(expiry)
		if err != nil {
			panic(err)
		}
		p.Batches = append(p.Batches, &domain.Batch{
			ID:          uuid.New().String(),
			ProductID:   p.ID,
			BatchNumber: number,
			ExpiryDate:  d,
			Quantity:    qty,
			CostPrice:   decimal.NewFromInt(cost),
			CreatedAt:   f.Now.Add(time.Duration(len(p.Batches)) * time.Minute),
			UpdatedAt:   f.Now,
		})
		p.StockLevel += qty
	}
}

// WithBranch sets the product branch
func WithBranch(branchID string) func(*domain.Product) {
	return func(p *domain.Product) {
		p.BranchID = branchID
	}
}

// WithGTIN sets the product GTIN
func WithGTIN(gtin string) func(*domain.Product) {
	return func(p *domain.Product) {
		p.GTIN = gtin
	}
}

// WithName sets the product name
func WithName(name string) func(*domain.Product) {
	return func(p *domain.Product) {
		p.Name = name
	}
}
