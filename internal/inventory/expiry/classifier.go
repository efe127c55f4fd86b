// Package expiry classifies stock batches into risk tiers by remaining shelf life.
package expiry

import (
	"sort"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/shopspring/decimal"
)

// Status is a risk tier
type Status string

const (
	Critical Status = "CRITICAL"
	Warning  Status = "WARNING"
	Watch    Status = "WATCH"
	Good     Status = "GOOD"
)

// Tier upper bounds in days, inclusive
const (
	CriticalDays = 30
	WarningDays  = 60
	WatchDays    = 90
)

// ParseStatus returns the tier for a name and whether it is known
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case Critical, Warning, Watch, Good:
		return Status(s), true
	}
	return "", false
}

// TierFor maps days remaining to a tier. Expired stock is CRITICAL.
func TierFor(daysRemaining int) Status {
	switch {
	case daysRemaining <= CriticalDays:
		return Critical
	case daysRemaining <= WarningDays:
		return Warning
	case daysRemaining <= WatchDays:
		return Watch
	default:
		return Good
	}
}

// Rank orders tiers by urgency, CRITICAL highest
func Rank(s Status) int {
	switch s {
	case Critical:
		return 3
	case Warning:
		return 2
	case Watch:
		return 1
	default:
		return 0
	}
}

// Item pairs a product with one of its in-stock batches
type Item struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	SKU           string          `json:"sku,omitempty"`
	GTIN          string          `json:"gtin,omitempty"`
	BranchID      string          `json:"branch_id,omitempty"`
	BatchID       string          `json:"batch_id"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    string          `json:"expiry_date"`
	Quantity      int             `json:"quantity"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	DaysRemaining int             `json:"days_remaining"`
	Status        Status          `json:"status"`
	ValueAtRisk   decimal.Decimal `json:"value_at_risk"`
}

// Bucket is a count and value total
type Bucket struct {
	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

func (b *Bucket) add(item Item) {
	b.Count++
	b.Value = b.Value.Add(item.ValueAtRisk)
}

// Stats aggregates items per tier. GOOD items only count toward All.
type Stats struct {
	All      Bucket `json:"ALL"`
	Critical Bucket `json:"CRITICAL"`
	Warning  Bucket `json:"WARNING"`
	Watch    Bucket `json:"WATCH"`
}

// Tier returns the bucket for a named tier; GOOD has none
func (s Stats) Tier(status Status) (Bucket, bool) {
	switch status {
	case Critical:
		return s.Critical, true
	case Warning:
		return s.Warning, true
	case Watch:
		return s.Watch, true
	}
	return Bucket{}, false
}

// Report is the classifier output
type Report struct {
	Date  string `json:"date"`
	Items []Item `json:"items"`
	Stats Stats  `json:"stats"`
}

// DaysBetween counts whole calendar days from today to expiry, ignoring time of day
func DaysBetween(today, expiry time.Time) int {
	from := domain.DateOf(today)
	to := domain.DateOf(expiry)
	return int(to.Sub(from).Hours() / 24)
}

// Classify computes an item for every batch with positive quantity, sorted
// most urgent first. It reads its input only and is deterministic.
func Classify(products []*domain.Product, today time.Time) Report {
	items := make([]Item, 0)
	var stats Stats
	stats.All.Value = decimal.Zero
	stats.Critical.Value = decimal.Zero
	stats.Warning.Value = decimal.Zero
	stats.Watch.Value = decimal.Zero

	for _, p := range products {
		for _, b := range p.Batches {
			if b.Quantity <= 0 {
				continue
			}
			days := DaysBetween(today, b.ExpiryDate)
			item := Item{
				ProductID:     p.ID,
				ProductName:   p.Name,
				SKU:           p.SKU,
				GTIN:          p.GTIN,
				BranchID:      p.BranchID,
				BatchID:       b.ID,
				BatchNumber:   b.BatchNumber,
				ExpiryDate:    domain.DateOf(b.ExpiryDate).Format(domain.DateLayout),
				Quantity:      b.Quantity,
				CostPrice:     b.CostPrice,
				DaysRemaining: days,
				Status:        TierFor(days),
				ValueAtRisk:   b.CostPrice.Mul(decimal.NewFromInt(int64(b.Quantity))),
			}
			items = append(items, item)

			stats.All.add(item)
			switch item.Status {
			case Critical:
				stats.Critical.add(item)
			case Warning:
				stats.Warning.add(item)
			case Watch:
				stats.Watch.add(item)
			}
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].DaysRemaining < items[j].DaysRemaining
	})

	return Report{
		Date:  domain.DateOf(today).Format(domain.DateLayout),
		Items: items,
		Stats: stats,
	}
}

// Filter returns the items in a tier, preserving order
func (r Report) Filter(status Status) []Item {
	out := make([]Item, 0)
	for _, it := range r.Items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out
}

// Find returns the item for a product batch
func (r Report) Find(productID, batchNumber string) (Item, bool) {
	for _, it := range r.Items {
		if it.ProductID == productID && it.BatchNumber == batchNumber {
			return it, true
		}
	}
	return Item{}, false
}
