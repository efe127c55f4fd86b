package cache

import (
	"context"
	"testing"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/expiry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(date string) *expiry.Report {
	return &expiry.Report{Date: date, Items: []expiry.Item{{ProductID: "p1", BatchNumber: "B1", Quantity: 3}}}
}

// store reads the current generation and writes under it
func store(t *testing.T, c ReportCache, branchID, date string, report *expiry.Report, ttl time.Duration) {
	t.Helper()
	ctx := context.Background()
	lookup, err := c.Get(ctx, branchID, date)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, branchID, date, lookup.Generation, report, ttl))
}

func TestMemoryReportCache(t *testing.T) {
	ctx := context.Background()

	t.Run("hit then expire", func(t *testing.T) {
		c := NewMemoryReportCache()
		now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		store(t, c, "north", "2024-03-01", sampleReport("2024-03-01"), time.Minute)

		got, err := c.Get(ctx, "north", "2024-03-01")
		require.NoError(t, err)
		require.True(t, got.Hit())
		assert.Equal(t, "p1", got.Report.Items[0].ProductID)

		got, _ = c.Get(ctx, "north", "2024-03-02")
		assert.False(t, got.Hit(), "different day is a different key")

		now = now.Add(2 * time.Minute)
		got, _ = c.Get(ctx, "north", "2024-03-01")
		assert.False(t, got.Hit())
	})

	t.Run("branch invalidation also drops all-branch reports", func(t *testing.T) {
		c := NewMemoryReportCache()
		store(t, c, "north", "d", sampleReport("d"), time.Hour)
		store(t, c, "south", "d", sampleReport("d"), time.Hour)
		store(t, c, "", "d", sampleReport("d"), time.Hour)

		require.NoError(t, c.Invalidate(ctx, "north"))

		got, _ := c.Get(ctx, "north", "d")
		assert.False(t, got.Hit())
		got, _ = c.Get(ctx, "", "d")
		assert.False(t, got.Hit())
		got, _ = c.Get(ctx, "south", "d")
		assert.True(t, got.Hit())
	})

	t.Run("set after an invalidation is dropped", func(t *testing.T) {
		c := NewMemoryReportCache()
		before, err := c.Get(ctx, "north", "d")
		require.NoError(t, err)

		require.NoError(t, c.Invalidate(ctx, "north"))
		require.NoError(t, c.Set(ctx, "north", "d", before.Generation, sampleReport("d"), time.Hour))

		got, _ := c.Get(ctx, "north", "d")
		assert.False(t, got.Hit())
		assert.Greater(t, got.Generation, before.Generation)
	})

	t.Run("every-branch invalidation moves all scopes", func(t *testing.T) {
		c := NewMemoryReportCache()
		before, _ := c.Get(ctx, "east", "d")

		require.NoError(t, c.Invalidate(ctx, ""))
		require.NoError(t, c.Set(ctx, "east", "d", before.Generation, sampleReport("d"), time.Hour))

		got, _ := c.Get(ctx, "east", "d")
		assert.False(t, got.Hit())
	})

	t.Run("nil report is ignored", func(t *testing.T) {
		c := NewMemoryReportCache()
		store(t, c, "north", "d", nil, time.Hour)
		got, _ := c.Get(ctx, "north", "d")
		assert.False(t, got.Hit())
	})
}

func TestNoopReportCache(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	store(t, c, "b", "d", sampleReport("d"), time.Hour)
	got, err := c.Get(context.Background(), "b", "d")
	require.NoError(t, err)
	assert.False(t, got.Hit())
}
