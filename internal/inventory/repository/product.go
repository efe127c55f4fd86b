package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/ledger"
	"github.com/branchpos/branchpos-backend/pkg/database"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const productColumns = `id, branch_id, gtin, sku, name, category, unit, location,
	min_stock_level, stock_level, cost_price, selling_price, created_at, updated_at`

const batchColumns = `id, product_id, batch_number, expiry_date, quantity, cost_price, created_at, updated_at`

const movementColumns = `id, product_id, batch_id, batch_number, kind, requested, applied,
	previous_qty, new_qty, reason, reference, performed_by, created_at`

// ProductRepository is the PostgreSQL catalog
type ProductRepository struct {
	db     *database.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB, log *logger.Logger) *ProductRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &ProductRepository{db: db, logger: log, now: time.Now}
}

// ListProducts lists products with their batches. An empty branch lists every branch.
func (r *ProductRepository) ListProducts(ctx context.Context, branchID string) ([]*domain.Product, error) {
	var products []*domain.Product
	query := `SELECT ` + productColumns + ` FROM products
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY name, id`
	if err := r.db.SelectContext(ctx, &products, query, branchID); err != nil {
		return nil, mapError(err)
	}

	var batches []*domain.Batch
	batchQuery := `SELECT b.id, b.product_id, b.batch_number, b.expiry_date, b.quantity, b.cost_price,
			b.created_at, b.updated_at
		FROM product_batches b
		JOIN products p ON p.id = b.product_id
		WHERE ($1 = '' OR p.branch_id = $1)
		ORDER BY b.product_id, b.created_at, b.batch_number`
	if err := r.db.SelectContext(ctx, &batches, batchQuery, branchID); err != nil {
		return nil, mapError(err)
	}

	byID := make(map[string]*domain.Product, len(products))
	for _, p := range products {
		p.Batches = []*domain.Batch{}
		byID[p.ID] = p
	}
	for _, b := range batches {
		if p, ok := byID[b.ProductID]; ok {
			b.ExpiryDate = domain.DateOf(b.ExpiryDate)
			p.Batches = append(p.Batches, b)
		}
	}

	if products == nil {
		products = []*domain.Product{}
	}
	return products, nil
}

// GetProduct gets a product and its batches by ID
func (r *ProductRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return r.load(ctx, r.db, id, false)
}

// CreateProduct inserts a product and, when given, its initial batch
func (r *ProductRepository) CreateProduct(ctx context.Context, in domain.ProductInput, performedBy string) (*domain.Product, error) {
	now := r.now().UTC()
	p := newProduct(in, uuid.New().String(), now)

	var results []ledger.Result
	if in.InitialBatch != nil {
		res, err := ledger.ApplyDelta(p, initialDelta(in.InitialBatch), ledger.Clamp, now)
		if err != nil {
			return nil, err
		}
		results = []ledger.Result{res}
	}

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO products (
				id, branch_id, gtin, sku, name, category, unit, location,
				min_stock_level, stock_level, cost_price, selling_price, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		if _, err := tx.ExecContext(ctx, query,
			p.ID, p.BranchID, p.GTIN, p.SKU, p.Name, p.Category, p.Unit, p.Location,
			p.MinStockLevel, p.StockLevel, p.CostPrice, p.SellingPrice, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return err
		}

		req := MutationRequest{Kind: domain.MovementReceive, Reason: "initial stock", PerformedBy: performedBy}
		return r.persist(ctx, tx, p, req, results, now)
	})
	if err != nil {
		return nil, mapError(err)
	}

	r.logger.Info().
		Str("product_id", p.ID).
		Str("branch_id", p.BranchID).
		Int("stock_level", p.StockLevel).
		Msg("product created")

	return p, nil
}

// UpdateProduct applies a descriptive patch under the product row lock
func (r *ProductRepository) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	var out *domain.Product
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		p, err := r.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		patch.Apply(p)
		p.UpdatedAt = r.now().UTC()
		if err := r.writeProduct(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// Mutate locks the product row, runs the ledger and writes the touched
// batches, the new stock level and one movement per batch in one transaction.
func (r *ProductRepository) Mutate(ctx context.Context, productID string, req MutationRequest) (*Mutation, error) {
	var out *Mutation
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		p, err := r.load(ctx, tx, productID, true)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		req.Patch.Apply(p)
		results, err := ledger.Apply(p, req.Delta, req.Policy, now)
		if err != nil {
			return err
		}

		if err := r.writeProduct(ctx, tx, p); err != nil {
			return err
		}
		if err := r.persist(ctx, tx, p, req, results, now); err != nil {
			return err
		}

		out = &Mutation{Product: p, Results: results}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// ListMovements lists the most recent movements for a product. An unknown or
// malformed product ID is NotFound, matching GetProduct.
func (r *ProductRepository) ListMovements(ctx context.Context, productID string, limit int) ([]*domain.StockMovement, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return nil, errors.NotFound("product")
	}
	if limit <= 0 {
		limit = DefaultMovementLimit
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID); err != nil {
		return nil, mapError(err)
	}
	if !exists {
		return nil, errors.NotFound("product")
	}

	movements := []*domain.StockMovement{}
	query := `SELECT ` + movementColumns + ` FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &movements, query, productID, limit); err != nil {
		return nil, mapError(err)
	}
	return movements, nil
}

func (r *ProductRepository) load(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*domain.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NotFound("product")
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var p domain.Product
	if err := sqlx.GetContext(ctx, q, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}

	batches := []*domain.Batch{}
	batchQuery := `SELECT ` + batchColumns + ` FROM product_batches
		WHERE product_id = $1
		ORDER BY created_at, batch_number`
	if err := sqlx.SelectContext(ctx, q, &batches, batchQuery, id); err != nil {
		return nil, err
	}
	for _, b := range batches {
		b.ExpiryDate = domain.DateOf(b.ExpiryDate)
	}
	p.Batches = batches

	return &p, nil
}

func (r *ProductRepository) writeProduct(ctx context.Context, tx *sqlx.Tx, p *domain.Product) error {
	query := `
		UPDATE products SET
			gtin = $2, sku = $3, name = $4, category = $5, unit = $6, location = $7,
			min_stock_level = $8, stock_level = $9, cost_price = $10, selling_price = $11,
			updated_at = $12
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query,
		p.ID, p.GTIN, p.SKU, p.Name, p.Category, p.Unit, p.Location,
		p.MinStockLevel, p.StockLevel, p.CostPrice, p.SellingPrice, p.UpdatedAt,
	)
	return err
}

func (r *ProductRepository) persist(ctx context.Context, tx *sqlx.Tx, p *domain.Product, req MutationRequest, results []ledger.Result, now time.Time) error {
	for _, res := range results {
		b := res.Batch
		switch {
		case b == nil:
		case res.Created:
			query := `
				INSERT INTO product_batches (
					id, product_id, batch_number, expiry_date, quantity, cost_price, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`
			if _, err := tx.ExecContext(ctx, query,
				b.ID, b.ProductID, b.BatchNumber, b.ExpiryDate, b.Quantity, b.CostPrice, b.CreatedAt, b.UpdatedAt,
			); err != nil {
				return err
			}
		default:
			query := `UPDATE product_batches SET quantity = $2, cost_price = $3, updated_at = $4 WHERE id = $1`
			if _, err := tx.ExecContext(ctx, query, b.ID, b.Quantity, b.CostPrice, b.UpdatedAt); err != nil {
				return err
			}
		}
	}

	for _, m := range movementsFor(p, req, results, now, uuid.NewString) {
		query := `
			INSERT INTO stock_movements (` + movementColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`
		if _, err := tx.ExecContext(ctx, query,
			m.ID, m.ProductID, m.BatchID, m.BatchNumber, m.Kind, m.Requested, m.Applied,
			m.PreviousQty, m.NewQty, m.Reason, m.Reference, m.PerformedBy, m.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// mapError keeps AppErrors and known PostgreSQL violations typed; anything
// else is returned unchanged for the service to classify.
func mapError(err error) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if mapped := database.MapPQError(err); mapped != nil {
		return mapped
	}
	return err
}

var _ Catalog = (*ProductRepository)(nil)
