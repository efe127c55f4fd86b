package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/ledger"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/branchpos/branchpos-backend/pkg/testutil"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testProductID = "5f0c1a52-5d7e-4d3a-9a38-2f9c2d1b7a11"
	testBatchID   = "a9e3b3c4-7b1f-4c55-8d0e-6f1e2a3b4c5d"
)

var fixedNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*ProductRepository, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })
	repo := NewProductRepository(mockDB.Database(), logger.Nop())
	repo.now = func() time.Time { return fixedNow }
	return repo, mockDB
}

func productRows() *sqlmock.Rows {
	return testutil.MockRows("id", "branch_id", "gtin", "sku", "name", "category", "unit", "location",
		"min_stock_level", "stock_level", "cost_price", "selling_price", "created_at", "updated_at")
}

func batchRows() *sqlmock.Rows {
	return testutil.MockRows("id", "product_id", "batch_number", "expiry_date", "quantity", "cost_price",
		"created_at", "updated_at")
}

const lockProductQuery = `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

const loadBatchesQuery = `SELECT ` + batchColumns + ` FROM product_batches
		WHERE product_id = $1
		ORDER BY created_at, batch_number`

func TestProductRepository_GetProduct(t *testing.T) {
	t.Run("loads product with batches", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)

		mockDB.ExpectQuery(`SELECT ` + productColumns + ` FROM products WHERE id = $1`).
			WithArgs(testProductID).
			WillReturnRows(productRows().AddRow(testProductID, "branch-1", "08800001", "SKU-1", "Milk", "dairy",
				"pcs", "A1", 5, 150, "550.00", "700.00", fixedNow, fixedNow))
		mockDB.ExpectQuery(loadBatchesQuery).
			WithArgs(testProductID).
			WillReturnRows(batchRows().AddRow(testBatchID, testProductID, "LOT-202401",
				time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 150, "600.00", fixedNow, fixedNow))

		p, err := repo.GetProduct(context.Background(), testProductID)
		require.NoError(t, err)
		assert.Equal(t, "Milk", p.Name)
		assert.Equal(t, 150, p.StockLevel)
		assert.Equal(t, "550", p.CostPrice.String())
		require.Len(t, p.Batches, 1)
		assert.Equal(t, "LOT-202401", p.Batches[0].BatchNumber)
		assert.Equal(t, "600", p.Batches[0].CostPrice.String())
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("missing row is not found", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)

		mockDB.ExpectQuery(`SELECT ` + productColumns + ` FROM products WHERE id = $1`).
			WithArgs(testProductID).
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetProduct(context.Background(), testProductID)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("malformed id is not found without a query", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)

		_, err := repo.GetProduct(context.Background(), "not-a-uuid")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
		mockDB.ExpectationsWereMet(t)
	})
}

func TestProductRepository_ListProducts(t *testing.T) {
	repo, mockDB := newTestRepo(t)
	otherID := "0b8f2c9e-1111-4a2b-9c3d-4e5f6a7b8c9d"

	mockDB.Mock.ExpectQuery(`SELECT .* FROM products\s+WHERE \(\$1 = '' OR branch_id = \$1\)`).
		WithArgs("branch-1").
		WillReturnRows(productRows().
			AddRow(testProductID, "branch-1", "", "", "Bread", "", "", "", 0, 7, "10", "12", fixedNow, fixedNow).
			AddRow(otherID, "branch-1", "", "", "Milk", "", "", "", 0, 0, "5", "6", fixedNow, fixedNow))
	mockDB.Mock.ExpectQuery(`FROM product_batches b\s+JOIN products p`).
		WithArgs("branch-1").
		WillReturnRows(batchRows().
			AddRow(testBatchID, testProductID, "B1", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 7, "10", fixedNow, fixedNow))

	products, err := repo.ListProducts(context.Background(), "branch-1")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Len(t, products[0].Batches, 1)
	assert.NotNil(t, products[1].Batches)
	assert.Empty(t, products[1].Batches)
	mockDB.ExpectationsWereMet(t)
}

func TestProductRepository_Mutate(t *testing.T) {
	t.Run("receive onto a fresh product creates one batch", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)

		mockDB.ExpectBegin()
		mockDB.ExpectQuery(lockProductQuery).
			WithArgs(testProductID).
			WillReturnRows(productRows().AddRow(testProductID, "branch-1", "", "", "Rice", "", "pcs", "",
				0, 0, "0", "0", fixedNow, fixedNow))
		mockDB.ExpectQuery(loadBatchesQuery).
			WithArgs(testProductID).
			WillReturnRows(batchRows())
		mockDB.Mock.ExpectExec(`UPDATE products SET`).
			WithArgs(testProductID, "", "", "Rice", "", "pcs", "", 0, 150, sqlmock.AnyArg(), sqlmock.AnyArg(), testutil.AnyTime{}).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.Mock.ExpectExec(`INSERT INTO product_batches`).
			WithArgs(testutil.AnyUUID{}, testProductID, "LOT-202401", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
				150, testutil.DecimalArg("600"), testutil.AnyTime{}, testutil.AnyTime{}).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.Mock.ExpectExec(`INSERT INTO stock_movements`).
			WithArgs(testutil.AnyUUID{}, testProductID, sqlmock.AnyArg(), "LOT-202401", domain.MovementReceive,
				150, 150, 0, 150, "", "", "user-1", testutil.AnyTime{}).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.ExpectCommit()

		m, err := repo.Mutate(context.Background(), testProductID, MutationRequest{
			Delta: ledger.Delta{
				BatchNumber: "LOT-202401",
				ExpiryDate:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
				CostPrice:   mustDecimal("600"),
				Quantity:    150,
			},
			Policy:      ledger.Clamp,
			Kind:        domain.MovementReceive,
			PerformedBy: "user-1",
		})
		require.NoError(t, err)
		assert.Equal(t, 150, m.Product.StockLevel)
		require.Len(t, m.Product.Batches, 1)
		assert.True(t, m.Results[0].Created)
		assert.Equal(t, 150, m.Applied())
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("consume updates the existing batch and records the clamp", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)

		mockDB.ExpectBegin()
		mockDB.ExpectQuery(lockProductQuery).
			WithArgs(testProductID).
			WillReturnRows(productRows().AddRow(testProductID, "branch-1", "", "", "Rice", "", "", "",
				0, 4, "0", "0", fixedNow, fixedNow))
		mockDB.ExpectQuery(loadBatchesQuery).
			WithArgs(testProductID).
			WillReturnRows(batchRows().AddRow(testBatchID, testProductID, "B1",
				time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 4, "10", fixedNow, fixedNow))
		mockDB.Mock.ExpectExec(`UPDATE products SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.ExpectExec(`UPDATE product_batches SET quantity = $2, cost_price = $3, updated_at = $4 WHERE id = $1`).
			WithArgs(testBatchID, 0, testutil.DecimalArg("10"), testutil.AnyTime{}).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.Mock.ExpectExec(`INSERT INTO stock_movements`).
			WithArgs(testutil.AnyUUID{}, testProductID, sqlmock.AnyArg(), "B1", domain.MovementConsume,
				-9, -4, 4, 0, "sale", "sale-9", "", testutil.AnyTime{}).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.ExpectCommit()

		m, err := repo.Mutate(context.Background(), testProductID, MutationRequest{
			Delta:     ledger.Delta{BatchNumber: "B1", Quantity: -9},
			Policy:    ledger.Clamp,
			Kind:      domain.MovementConsume,
			Reason:    "sale",
			Reference: "sale-9",
		})
		require.NoError(t, err)
		assert.True(t, m.Clamped())
		assert.Equal(t, 0, m.Product.StockLevel)
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("ledger rejection rolls back", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)

		mockDB.ExpectBegin()
		mockDB.ExpectQuery(lockProductQuery).
			WithArgs(testProductID).
			WillReturnRows(productRows().AddRow(testProductID, "branch-1", "", "", "Rice", "", "", "",
				0, 50, "0", "0", fixedNow, fixedNow))
		mockDB.ExpectQuery(loadBatchesQuery).
			WithArgs(testProductID).
			WillReturnRows(batchRows().AddRow(testBatchID, testProductID, "B1",
				time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 50, "10", fixedNow, fixedNow))
		mockDB.ExpectRollback()

		_, err := repo.Mutate(context.Background(), testProductID, MutationRequest{
			Delta:  ledger.Delta{BatchNumber: "B1", Quantity: -10000, RequireOnHand: true},
			Policy: ledger.Clamp,
			Kind:   domain.MovementReturn,
		})
		assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("missing product rolls back with not found", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)

		mockDB.ExpectBegin()
		mockDB.ExpectQuery(lockProductQuery).
			WithArgs(testProductID).
			WillReturnError(sql.ErrNoRows)
		mockDB.ExpectRollback()

		_, err := repo.Mutate(context.Background(), testProductID, MutationRequest{
			Delta:  ledger.Delta{BatchNumber: "B1", Quantity: 1},
			Policy: ledger.Clamp,
		})
		assert.True(t, errors.Is(err, errors.ErrNotFound))
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("check violation maps to negative stock", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)

		mockDB.ExpectBegin()
		mockDB.ExpectQuery(lockProductQuery).
			WithArgs(testProductID).
			WillReturnRows(productRows().AddRow(testProductID, "branch-1", "", "", "Rice", "", "", "",
				0, 5, "0", "0", fixedNow, fixedNow))
		mockDB.ExpectQuery(loadBatchesQuery).
			WithArgs(testProductID).
			WillReturnRows(batchRows().AddRow(testBatchID, testProductID, "B1",
				time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 5, "10", fixedNow, fixedNow))
		mockDB.Mock.ExpectExec(`UPDATE products SET`).
			WillReturnError(&pq.Error{Code: "23514", Constraint: "products_stock_level_non_negative"})
		mockDB.ExpectRollback()

		_, err := repo.Mutate(context.Background(), testProductID, MutationRequest{
			Delta:  ledger.Delta{BatchNumber: "B1", Quantity: -1},
			Policy: ledger.Clamp,
		})
		assert.True(t, errors.Is(err, errors.ErrNegativeStock))
		mockDB.ExpectationsWereMet(t)
	})
}

func TestProductRepository_CreateProduct(t *testing.T) {
	repo, mockDB := newTestRepo(t)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectExec(`INSERT INTO products`).
		WithArgs(testutil.AnyUUID{}, "branch-1", "0880000000017", "", "Yoghurt", "dairy", "cup", "",
			3, 12, testutil.DecimalArg("4.5"), testutil.DecimalArg("6"), testutil.AnyTime{}, testutil.AnyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec(`INSERT INTO product_batches`).
		WithArgs(testutil.AnyUUID{}, testutil.AnyUUID{}, domain.DefaultBatchNumber, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
			12, testutil.DecimalArg("4.5"), testutil.AnyTime{}, testutil.AnyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec(`INSERT INTO stock_movements`).
		WithArgs(testutil.AnyUUID{}, testutil.AnyUUID{}, sqlmock.AnyArg(), domain.DefaultBatchNumber, domain.MovementReceive,
			12, 12, 0, 12, "initial stock", "", "clerk-1", testutil.AnyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	p, err := repo.CreateProduct(context.Background(), domain.ProductInput{
		BranchID:      "branch-1",
		GTIN:          "0880000000017",
		Name:          "Yoghurt",
		Category:      "dairy",
		Unit:          "cup",
		MinStockLevel: 3,
		CostPrice:     mustDecimal("4.5"),
		SellingPrice:  mustDecimal("6"),
		InitialBatch: &domain.BatchInput{
			ExpiryDate: time.Date(2024, 4, 10, 15, 0, 0, 0, time.UTC),
			Quantity:   12,
			CostPrice:  mustDecimal("4.5"),
		},
	}, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, 12, p.StockLevel)
	assert.True(t, ledger.Conserved(p))
	mockDB.ExpectationsWereMet(t)
}

func TestProductRepository_UpdateProduct(t *testing.T) {
	repo, mockDB := newTestRepo(t)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery(lockProductQuery).
		WithArgs(testProductID).
		WillReturnRows(productRows().AddRow(testProductID, "branch-1", "", "", "Rice", "", "", "",
			0, 9, "0", "0", fixedNow, fixedNow))
	mockDB.ExpectQuery(loadBatchesQuery).
		WithArgs(testProductID).
		WillReturnRows(batchRows().AddRow(testBatchID, testProductID, "B1",
			time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 9, "10", fixedNow, fixedNow))
	mockDB.Mock.ExpectExec(`UPDATE products SET`).
		WithArgs(testProductID, "", "", "Basmati Rice", "", "", "", 0, 9, sqlmock.AnyArg(), sqlmock.AnyArg(), testutil.AnyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	p, err := repo.UpdateProduct(context.Background(), testProductID, domain.ProductPatch{Name: testutil.PtrString("Basmati Rice")})
	require.NoError(t, err)
	assert.Equal(t, "Basmati Rice", p.Name)
	assert.Equal(t, 9, p.StockLevel)
	mockDB.ExpectationsWereMet(t)
}

func TestProductRepository_ListMovements(t *testing.T) {
	repo, mockDB := newTestRepo(t)

	mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(testProductID).
		WillReturnRows(testutil.MockRows("exists").AddRow(true))
	mockDB.Mock.ExpectQuery(`FROM stock_movements`).
		WithArgs(testProductID, DefaultMovementLimit).
		WillReturnRows(testutil.MockRows("id", "product_id", "batch_id", "batch_number", "kind", "requested",
			"applied", "previous_qty", "new_qty", "reason", "reference", "performed_by", "created_at").
			AddRow("m-1", testProductID, testBatchID, "B1", "CONSUME", -2, -2, 5, 3, "", "", "u", fixedNow))

	movements, err := repo.ListMovements(context.Background(), testProductID, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.NotNil(t, movements[0].BatchID)
	assert.Equal(t, testBatchID, *movements[0].BatchID)
	mockDB.ExpectationsWereMet(t)
}

func TestProductRepository_ListMovementsUnknownProduct(t *testing.T) {
	t.Run("missing product", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)
		mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(testProductID).
			WillReturnRows(testutil.MockRows("exists").AddRow(false))

		_, err := repo.ListMovements(context.Background(), testProductID, 10)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("malformed id never reaches the database", func(t *testing.T) {
		repo, mockDB := newTestRepo(t)

		_, err := repo.ListMovements(context.Background(), "not-a-uuid", 10)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
		mockDB.ExpectationsWereMet(t)
	})
}
