package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/ledger"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMemoryCatalog_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCatalog(nil)

	p, err := store.CreateProduct(ctx, domain.ProductInput{
		BranchID: "branch-1",
		Name:     "Rice",
		InitialBatch: &domain.BatchInput{
			BatchNumber: "LOT-1",
			ExpiryDate:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Quantity:    20,
			CostPrice:   mustDecimal("3"),
		},
	}, "clerk")
	require.NoError(t, err)
	assert.Equal(t, 20, p.StockLevel)

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	got.Batches[0].Quantity = 999
	again, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, again.Batches[0].Quantity, "reads must be copies")

	movements, err := store.ListMovements(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "initial stock", movements[0].Reason)

	_, err = store.GetProduct(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMemoryCatalog_ListProductsByBranch(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixtureFactory()
	store := NewMemoryCatalog(nil)
	store.Seed(
		f.Product(testutil.WithName("Milk"), testutil.WithBranch("north")),
		f.Product(testutil.WithName("Bread"), testutil.WithBranch("south")),
		f.Product(testutil.WithName("Apples"), testutil.WithBranch("north")),
	)

	north, err := store.ListProducts(ctx, "north")
	require.NoError(t, err)
	require.Len(t, north, 2)
	assert.Equal(t, "Apples", north[0].Name)
	assert.Equal(t, "Milk", north[1].Name)

	all, err := store.ListProducts(ctx, AllBranches)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryCatalog_Mutate(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixtureFactory()

	t.Run("receive then consume keeps the sum", func(t *testing.T) {
		p := f.Product()
		store := NewMemoryCatalog(nil)
		store.Seed(p)

		m, err := store.Mutate(ctx, p.ID, MutationRequest{
			Delta:  ledger.Delta{BatchNumber: "A", ExpiryDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), Quantity: 10},
			Policy: ledger.Clamp,
			Kind:   domain.MovementReceive,
			Patch:  domain.ProductPatch{Location: testutil.PtrString("Aisle 4")},
		})
		require.NoError(t, err)
		assert.Equal(t, 10, m.Product.StockLevel)
		assert.Equal(t, "Aisle 4", m.Product.Location)

		m, err = store.Mutate(ctx, p.ID, MutationRequest{
			Delta:  ledger.Delta{BatchNumber: "A", Quantity: -3},
			Policy: ledger.Clamp,
			Kind:   domain.MovementConsume,
		})
		require.NoError(t, err)
		assert.Equal(t, 7, m.Product.StockLevel)
		assert.True(t, ledger.Conserved(m.Product))

		movements, err := store.ListMovements(ctx, p.ID, 10)
		require.NoError(t, err)
		require.Len(t, movements, 2)
		assert.Equal(t, domain.MovementConsume, movements[0].Kind)
	})

	t.Run("failed delta leaves the stored product untouched", func(t *testing.T) {
		p := f.Product(f.WithBatch("B", "2024-06-01", 50, 10))
		store := NewMemoryCatalog(nil)
		store.Seed(p)

		_, err := store.Mutate(ctx, p.ID, MutationRequest{
			Delta:  ledger.Delta{BatchNumber: "B", Quantity: -10000, RequireOnHand: true},
			Policy: ledger.Clamp,
			Kind:   domain.MovementReturn,
		})
		assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))

		got, err := store.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 50, got.Batches[0].Quantity)
		assert.Equal(t, 50, got.StockLevel)
	})

	t.Run("unknown product is not found", func(t *testing.T) {
		store := NewMemoryCatalog(nil)
		_, err := store.Mutate(ctx, "nope", MutationRequest{Delta: ledger.Delta{Quantity: 1}})
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("cancelled context does nothing", func(t *testing.T) {
		p := f.Product(f.WithBatch("B", "2024-06-01", 5, 10))
		store := NewMemoryCatalog(nil)
		store.Seed(p)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Mutate(cctx, p.ID, MutationRequest{Delta: ledger.Delta{BatchNumber: "B", Quantity: -1}})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryCatalog_ConcurrentMutationsConserveStock(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixtureFactory()
	p := f.Product(f.WithBatch("B", "2024-06-01", 500, 10))
	store := NewMemoryCatalog(nil)
	store.Seed(p)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := store.Mutate(ctx, p.ID, MutationRequest{
				Delta:  ledger.Delta{BatchNumber: "B", Quantity: 3},
				Policy: ledger.Clamp,
				Kind:   domain.MovementReceive,
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := store.Mutate(ctx, p.ID, MutationRequest{
				Delta:  ledger.Delta{BatchNumber: "B", Quantity: -2},
				Policy: ledger.Clamp,
				Kind:   domain.MovementConsume,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 550, got.StockLevel)
	assert.True(t, ledger.Conserved(got))

	movements, err := store.ListMovements(ctx, p.ID, 1000)
	require.NoError(t, err)
	assert.Len(t, movements, 100)
}
