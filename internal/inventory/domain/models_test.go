package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_Clone(t *testing.T) {
	p := &Product{ID: "p1", StockLevel: 5, Batches: []*Batch{{ID: "b1", Quantity: 5}}}
	cp := p.Clone()

	cp.Batches[0].Quantity = 1
	cp.StockLevel = 1

	assert.Equal(t, 5, p.Batches[0].Quantity)
	assert.Equal(t, 5, p.StockLevel)
	assert.Nil(t, (*Product)(nil).Clone())
}

func TestProduct_LatestBatch(t *testing.T) {
	now := time.Now()
	p := &Product{Batches: []*Batch{
		{BatchNumber: "A", CreatedAt: now.Add(-time.Hour)},
		{BatchNumber: "B", CreatedAt: now},
		{BatchNumber: "C", CreatedAt: now.Add(-2 * time.Hour)},
	}}
	assert.Equal(t, "B", p.LatestBatch().BatchNumber)
	assert.Nil(t, (&Product{}).LatestBatch())
}

func TestProductPatch(t *testing.T) {
	name := "Paracetamol 500mg"
	price := decimal.RequireFromString("12.50")
	patch := ProductPatch{Name: &name, SellingPrice: &price}
	require.False(t, patch.Empty())

	p := &Product{Name: "old", StockLevel: 9}
	patch.Apply(p)

	assert.Equal(t, name, p.Name)
	assert.True(t, price.Equal(p.SellingPrice))
	assert.Equal(t, 9, p.StockLevel)
	assert.True(t, ProductPatch{}.Empty())
}

func TestScanRecord_Identity(t *testing.T) {
	assert.Equal(t, "0889", ScanRecord{GTIN: "0889", SerialNumber: "S", RawData: "R"}.Identity())
	assert.Equal(t, "S", ScanRecord{SerialNumber: "S", RawData: "R"}.Identity())
	assert.Equal(t, "R", ScanRecord{RawData: "R"}.Identity())
}

func TestDateOf(t *testing.T) {
	in := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), DateOf(in))

	d, err := ParseDate("2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, time.June, d.Month())

	_, err = ParseDate("01/06/2025")
	assert.Error(t, err)
}
