package scan

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/repository"
	"github.com/branchpos/branchpos-backend/internal/inventory/service"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiveCall struct {
	productID string
	in        service.ReceiveInput
}

type fakeCommitter struct {
	products []*domain.Product
	received []receiveCall
	created  []domain.ProductInput
	failAt   int
	calls    int
	lists    int
}

func (f *fakeCommitter) fail() error {
	f.calls++
	if f.calls == f.failAt {
		return errors.Transient(fmt.Errorf("network down"))
	}
	return nil
}

func (f *fakeCommitter) Receive(_ context.Context, productID string, in service.ReceiveInput) (*repository.Mutation, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.received = append(f.received, receiveCall{productID, in})
	return &repository.Mutation{}, nil
}

func (f *fakeCommitter) CreateProduct(_ context.Context, in domain.ProductInput) (*domain.Product, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.created = append(f.created, in)
	return &domain.Product{ID: uuid.NewString(), Name: in.Name}, nil
}

func (f *fakeCommitter) ListProducts(_ context.Context, _ string) ([]*domain.Product, error) {
	f.lists++
	return f.products, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBuffer(products ...*domain.Product) (*Buffer, *clock) {
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewBuffer("branch-1", products, 800*time.Millisecond, c.now), c
}

func plain(code string) domain.ScanRecord {
	return domain.ScanRecord{RawData: code, Type: domain.ScanTypePlain}
}

func TestBuffer_Coalescing(t *testing.T) {
	t.Run("repeat scans merge, a new identity goes on top", func(t *testing.T) {
		b, _ := newTestBuffer()

		_, err := b.Scan(plain("X"))
		require.NoError(t, err)
		res, err := b.Scan(plain("X"))
		require.NoError(t, err)
		assert.Equal(t, ResultIncrement, res.Result)
		assert.Equal(t, FocusQuantity, res.Focus)
		assert.True(t, res.Row.Highlight)

		rows := b.Rows()
		require.Len(t, rows, 1)
		assert.Equal(t, 2, rows[0].Quantity)

		_, err = b.Scan(plain("Y"))
		require.NoError(t, err)
		rows = b.Rows()
		require.Len(t, rows, 2)
		assert.Equal(t, "Y", rows[0].Identity)
		assert.Equal(t, 1, rows[0].Quantity)
		assert.Equal(t, "X", rows[1].Identity)
		assert.Equal(t, 2, rows[1].Quantity)
	})

	t.Run("N scans give one row with quantity N", func(t *testing.T) {
		for _, n := range []int{1, 2, 7, 50} {
			b, _ := newTestBuffer()
			for i := 0; i < n; i++ {
				_, err := b.Scan(Parse("(01)09501101530003(10)L1"))
				require.NoError(t, err)
			}
			rows := b.Rows()
			require.Len(t, rows, 1)
			assert.Equal(t, n, rows[0].Quantity)
		}
	})

	t.Run("merging does not move the row", func(t *testing.T) {
		b, _ := newTestBuffer()
		for _, code := range []string{"A", "B", "C", "A"} {
			_, err := b.Scan(plain(code))
			require.NoError(t, err)
		}
		rows := b.Rows()
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"C", "B", "A"}, []string{rows[0].Identity, rows[1].Identity, rows[2].Identity})
		assert.Equal(t, 2, rows[2].Quantity)
	})

	t.Run("empty identity is rejected", func(t *testing.T) {
		b, _ := newTestBuffer()
		_, err := b.Scan(domain.ScanRecord{})
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})
}

func TestBuffer_TradeItemCodesCoalesce(t *testing.T) {
	b, _ := newTestBuffer()

	_, err := b.Scan(Parse("4006381333931"))
	require.NoError(t, err)
	res, err := b.Scan(Parse("(01)04006381333931(10)L7"))
	require.NoError(t, err)
	assert.Equal(t, ResultIncrement, res.Result)

	rows := b.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Quantity)

	_, err = b.Scan(plain("0042"))
	require.NoError(t, err)
	_, err = b.Scan(plain("42"))
	require.NoError(t, err)
	assert.Len(t, b.Rows(), 3, "short codes are not padded")
}

func TestBuffer_Prefill(t *testing.T) {
	f := testutil.NewFixtureFactory()
	known := f.Product(
		testutil.WithGTIN("8992761136014"),
		testutil.WithName("Sweet Soy Sauce"),
		f.WithBatch("OLD", "2024-06-01", 5, 90),
		f.WithBatch("NEW", "2024-12-01", 5, 95),
	)
	known.Location = "Aisle 3"

	t.Run("known product prefills and focuses quantity", func(t *testing.T) {
		b, _ := newTestBuffer(known)
		res, err := b.Scan(Parse("8992761136014"))
		require.NoError(t, err)
		assert.True(t, res.Known)
		assert.Equal(t, ResultPrefill, res.Result)
		assert.Equal(t, FocusQuantity, res.Focus)
		assert.Equal(t, known.ID, res.Row.ProductID)
		assert.Equal(t, "Sweet Soy Sauce", res.Row.Name)
		assert.Equal(t, "Aisle 3", res.Row.Location)
		assert.Equal(t, "NEW", res.Row.BatchNumber)
		assert.Equal(t, "2024-12-01", res.Row.ExpiryDate)
		assert.Equal(t, "95", res.Row.CostPrice.String())
	})

	t.Run("scan metadata beats catalog defaults", func(t *testing.T) {
		b, _ := newTestBuffer(known)
		res, err := b.Scan(Parse("(01)08992761136014(17)250131(10)FRESH"))
		require.NoError(t, err)
		assert.True(t, res.Known, "GTIN-14 padding matches the EAN-13")
		assert.Equal(t, "FRESH", res.Row.BatchNumber)
		assert.Equal(t, "2025-01-31", res.Row.ExpiryDate)
	})

	t.Run("lookup by sku", func(t *testing.T) {
		b, _ := newTestBuffer(known)
		res, err := b.Scan(plain(known.SKU))
		require.NoError(t, err)
		assert.True(t, res.Known)
	})

	t.Run("unknown identity leaves fields blank and focuses name", func(t *testing.T) {
		b, _ := newTestBuffer(known)
		res, err := b.Scan(Parse("(01)09501101530003(10)LOT9"))
		require.NoError(t, err)
		assert.False(t, res.Known)
		assert.Equal(t, ResultUnknown, res.Result)
		assert.Equal(t, FocusName, res.Focus)
		assert.Empty(t, res.Row.Name)
		assert.Equal(t, "LOT9", res.Row.BatchNumber)
	})
}

func TestBuffer_Feedback(t *testing.T) {
	b, c := newTestBuffer()
	assert.False(t, b.Processing())

	_, err := b.Scan(plain("X"))
	require.NoError(t, err)
	_, err = b.Scan(plain("X"))
	require.NoError(t, err)
	assert.True(t, b.Processing())
	assert.True(t, b.Rows()[0].Highlight)

	c.t = c.t.Add(time.Second)
	assert.False(t, b.Processing())
	assert.False(t, b.Rows()[0].Highlight)
}

func TestBuffer_Editing(t *testing.T) {
	b, _ := newTestBuffer()
	res, err := b.Scan(plain("X"))
	require.NoError(t, err)

	row, err := b.EditRow(res.Row.ID, RowPatch{Name: testutil.PtrString("Chili Sauce"), Quantity: testutil.PtrInt(12)})
	require.NoError(t, err)
	assert.Equal(t, "Chili Sauce", row.Name)
	assert.Equal(t, 12, row.Quantity)

	row, err = b.EditRow(res.Row.ID, RowPatch{Quantity: testutil.PtrInt(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, row.Quantity, "last write wins")

	_, err = b.EditRow(res.Row.ID, RowPatch{ExpiryDate: testutil.PtrString("01/02/2025")})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = b.EditRow("nope", RowPatch{})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	manual, err := b.AddRow(RowPatch{Name: testutil.PtrString("Loose Onions")})
	require.NoError(t, err)
	assert.Equal(t, domain.ScanTypeManual, manual.Source)
	assert.Equal(t, manual.ID, b.Rows()[0].ID)

	require.NoError(t, b.DeleteRow(manual.ID))
	assert.Len(t, b.Rows(), 1)
	assert.True(t, errors.Is(b.DeleteRow(manual.ID), errors.ErrNotFound))

	require.NoError(t, b.Clear())
	assert.Empty(t, b.Rows())
}

func TestBuffer_SaveAll(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixtureFactory()
	x := f.Product(testutil.WithGTIN("1111111111116"), f.WithBatch("BX", "2025-01-01", 1, 10))
	y := f.Product(testutil.WithGTIN("2222222222222"))
	z := f.Product(testutil.WithGTIN("3333333333338"))

	t.Run("full success receives known rows, creates unknown ones and clears", func(t *testing.T) {
		committer := &fakeCommitter{products: []*domain.Product{x}}
		b, _ := newTestBuffer(x)

		_, err := b.Scan(Parse("1111111111116"))
		require.NoError(t, err)
		_, err = b.Scan(Parse("1111111111116"))
		require.NoError(t, err)
		unknown, err := b.Scan(Parse("(01)09501101530003(17)250601(10)NEW1"))
		require.NoError(t, err)
		_, err = b.EditRow(unknown.Row.ID, RowPatch{Name: testutil.PtrString("Oat Milk"), CostPrice: decPtr("12.5")})
		require.NoError(t, err)
		_, err = b.AddRow(RowPatch{})
		require.NoError(t, err)

		report, err := b.SaveAll(ctx, committer)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Applied)
		assert.Equal(t, 1, report.Skipped)
		assert.Empty(t, b.Rows())
		assert.Equal(t, 2, committer.lists, "re-read before matching and after the save")

		require.Len(t, committer.created, 1)
		in := committer.created[0]
		assert.Equal(t, "Oat Milk", in.Name)
		assert.Equal(t, "branch-1", in.BranchID)
		assert.Equal(t, "NEW1", in.InitialBatch.BatchNumber)
		assert.Equal(t, "2025-06-01", in.InitialBatch.ExpiryDate.Format(domain.DateLayout))

		require.Len(t, committer.received, 1)
		assert.Equal(t, x.ID, committer.received[0].productID)
		assert.Equal(t, 2, committer.received[0].in.Quantity)
		assert.Equal(t, "BX", committer.received[0].in.BatchNumber)
	})

	t.Run("failure keeps the failing row and everything after it", func(t *testing.T) {
		committer := &fakeCommitter{products: []*domain.Product{x, y, z}, failAt: 2}
		b, _ := newTestBuffer(x, y, z)

		for _, code := range []string{"1111111111116", "2222222222222", "3333333333338"} {
			_, err := b.Scan(Parse(code))
			require.NoError(t, err)
		}
		before := b.Rows()
		require.Len(t, before, 3)

		report, err := b.SaveAll(ctx, committer)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrPartialBatch))
		assert.True(t, errors.Is(err, errors.ErrTransient))

		var appErr *errors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "1", appErr.Details["applied"])
		assert.Equal(t, "2", appErr.Details["remaining"])

		require.Len(t, committer.received, 1)
		assert.Equal(t, z.ID, committer.received[0].productID, "top row goes first")
		assert.Equal(t, 2, committer.calls, "third row is never attempted")

		require.Len(t, report.Rows, 2)
		assert.NotEmpty(t, report.Rows[1].Error)

		after := b.Rows()
		require.Len(t, after, 2)
		assert.Equal(t, before[1].ID, after[0].ID)
		assert.Equal(t, before[2].ID, after[1].ID)

		committer.failAt = 0
		committer.calls = 0
		report, err = b.SaveAll(ctx, committer)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Applied)
		assert.Empty(t, b.Rows())
	})

	t.Run("rows match the live catalog, not the session snapshot", func(t *testing.T) {
		committer := &fakeCommitter{products: []*domain.Product{y}}
		b, _ := newTestBuffer()

		res, err := b.Scan(Parse("2222222222222"))
		require.NoError(t, err)
		require.False(t, res.Known)
		_, err = b.EditRow(res.Row.ID, RowPatch{Name: testutil.PtrString("Typed by hand")})
		require.NoError(t, err)

		report, err := b.SaveAll(ctx, committer)
		require.NoError(t, err)
		assert.Empty(t, committer.created)
		require.Len(t, committer.received, 1)
		assert.Equal(t, y.ID, committer.received[0].productID)
		assert.Equal(t, y.ID, report.Rows[0].ProductID)
	})

	t.Run("catalog read failure commits nothing", func(t *testing.T) {
		committer := &failingLister{fakeCommitter: &fakeCommitter{}}
		b, _ := newTestBuffer(x)
		_, err := b.Scan(Parse("1111111111116"))
		require.NoError(t, err)

		report, err := b.SaveAll(ctx, committer)
		assert.Nil(t, report)
		assert.True(t, errors.Is(err, errors.ErrTransient))
		assert.Zero(t, committer.calls)
		assert.Len(t, b.Rows(), 1)

		_, err = b.Scan(Parse("1111111111116"))
		assert.NoError(t, err, "buffer is usable again")
	})

	t.Run("product created by an earlier row is reused", func(t *testing.T) {
		committer := &sharingCommitter{fakeCommitter: &fakeCommitter{}}
		b, _ := newTestBuffer()

		first, err := b.AddRow(RowPatch{SKU: testutil.PtrString("BULK-RICE"), Name: testutil.PtrString("Rice 5kg")})
		require.NoError(t, err)
		_, err = b.AddRow(RowPatch{SKU: testutil.PtrString("BULK-RICE"), Name: testutil.PtrString("Rice 5kg")})
		require.NoError(t, err)

		report, err := b.SaveAll(ctx, committer)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Applied)
		require.Len(t, committer.created, 1)
		require.Len(t, committer.received, 1)
		assert.Equal(t, report.Rows[1].ProductID, committer.received[0].productID)
		assert.Equal(t, first.ID, report.Rows[1].RowID)
	})

	t.Run("scans are refused while a save runs", func(t *testing.T) {
		b, _ := newTestBuffer()
		b.committing = true
		_, err := b.Scan(plain("X"))
		assert.True(t, errors.Is(err, errors.ErrConflict))
		_, err = b.SaveAll(ctx, &fakeCommitter{})
		assert.True(t, errors.Is(err, errors.ErrConflict))
	})
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// sharingCommitter returns created products with their identity fields
type sharingCommitter struct {
	*fakeCommitter
}

func (c *sharingCommitter) CreateProduct(ctx context.Context, in domain.ProductInput) (*domain.Product, error) {
	p, err := c.fakeCommitter.CreateProduct(ctx, in)
	if err != nil {
		return nil, err
	}
	p.GTIN, p.SKU = in.GTIN, in.SKU
	return p, nil
}
