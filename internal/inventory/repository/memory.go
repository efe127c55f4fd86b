package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/ledger"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/google/uuid"
)

// MemoryCatalog keeps the catalog in process. Mutations on one product are
// serialized by a per-product lock; reads return deep copies.
type MemoryCatalog struct {
	mu        sync.RWMutex
	products  map[string]*domain.Product
	movements map[string][]*domain.StockMovement
	locks     map[string]*sync.Mutex

	logger *logger.Logger
	now    func() time.Time
}

// NewMemoryCatalog creates an empty in-memory catalog
func NewMemoryCatalog(log *logger.Logger) *MemoryCatalog {
	if log == nil {
		log = logger.Nop()
	}
	return &MemoryCatalog{
		products:  make(map[string]*domain.Product),
		movements: make(map[string][]*domain.StockMovement),
		locks:     make(map[string]*sync.Mutex),
		logger:    log,
		now:       time.Now,
	}
}

// Seed stores copies of the given products as-is
func (m *MemoryCatalog) Seed(products ...*domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range products {
		m.products[p.ID] = p.Clone()
		m.locks[p.ID] = &sync.Mutex{}
	}
}

// ListProducts lists products sorted by name. An empty branch lists every branch.
func (m *MemoryCatalog) ListProducts(ctx context.Context, branchID string) ([]*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Product, 0, len(m.products))
	for _, p := range m.products {
		if branchID == AllBranches || p.BranchID == branchID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetProduct returns a copy of the product
func (m *MemoryCatalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, errors.NotFound("product")
	}
	return p.Clone(), nil
}

// CreateProduct stores a new product, applying the initial batch through the ledger
func (m *MemoryCatalog) CreateProduct(ctx context.Context, in domain.ProductInput, performedBy string) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	p := newProduct(in, uuid.New().String(), now)

	var results []ledger.Result
	if in.InitialBatch != nil {
		res, err := ledger.ApplyDelta(p, initialDelta(in.InitialBatch), ledger.Clamp, now)
		if err != nil {
			return nil, err
		}
		results = []ledger.Result{res}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	m.locks[p.ID] = &sync.Mutex{}
	req := MutationRequest{Kind: domain.MovementReceive, Reason: "initial stock", PerformedBy: performedBy}
	m.movements[p.ID] = append(m.movements[p.ID], movementsFor(p, req, results, now, uuid.NewString)...)

	return p.Clone(), nil
}

// UpdateProduct applies a descriptive patch
func (m *MemoryCatalog) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id].Clone()
	patch.Apply(p)
	p.UpdatedAt = m.now().UTC()
	m.products[id] = p
	return p.Clone(), nil
}

// Mutate runs the ledger on a copy of the product and swaps it in on success
func (m *MemoryCatalog) Mutate(ctx context.Context, productID string, req MutationRequest) (*Mutation, error) {
	unlock, err := m.lock(ctx, productID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.RLock()
	p := m.products[productID].Clone()
	m.mu.RUnlock()

	now := m.now().UTC()
	req.Patch.Apply(p)
	results, err := ledger.Apply(p, req.Delta, req.Policy, now)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.products[productID] = p
	m.movements[productID] = append(m.movements[productID], movementsFor(p, req, results, now, uuid.NewString)...)
	m.mu.Unlock()

	return &Mutation{Product: p.Clone(), Results: results}, nil
}

// ListMovements lists the most recent movements first
func (m *MemoryCatalog) ListMovements(ctx context.Context, productID string, limit int) ([]*domain.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMovementLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.products[productID]; !ok {
		return nil, errors.NotFound("product")
	}
	src := m.movements[productID]
	out := make([]*domain.StockMovement, 0, min(limit, len(src)))
	for i := len(src) - 1; i >= 0 && len(out) < limit; i-- {
		mv := *src[i]
		out = append(out, &mv)
	}
	return out, nil
}

func (m *MemoryCatalog) lock(ctx context.Context, id string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	l, ok := m.locks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("product")
	}
	l.Lock()
	return l.Unlock, nil
}

var _ Catalog = (*MemoryCatalog)(nil)
