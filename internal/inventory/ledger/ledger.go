// Package ledger applies signed quantity deltas to a product's batches while
// keeping StockLevel equal to the sum of batch quantities.
//
// The functions here operate on an in-memory *domain.Product and never touch
// storage. Callers are responsible for serializing calls per product.
package ledger

import (
	"sort"
	"strconv"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Policy decides what happens when a removal exceeds on-hand quantity
type Policy string

const (
	// Clamp floors the batch at zero and records the shortfall as clamped
	Clamp Policy = "clamp"
	// Reject fails the whole mutation with NEGATIVE_STOCK
	Reject Policy = "reject"
)

// ParsePolicy maps a config value to a Policy, defaulting to Clamp
func ParsePolicy(s string) Policy {
	if Policy(s) == Reject {
		return Reject
	}
	return Clamp
}

// AnyBatch as a batch number on a removal means "earliest expiry first"
const AnyBatch = ""

// Delta is one signed quantity change against a batch number
type Delta struct {
	BatchNumber string
	ExpiryDate  time.Time
	CostPrice   decimal.Decimal
	Quantity    int

	// RequireOnHand makes a removal fail unless 1 <= -Quantity <= batch quantity
	RequireOnHand bool
}

// Result describes what one delta did to one batch
type Result struct {
	Batch       *domain.Batch `json:"-"`
	BatchNumber string        `json:"batch_number"`
	Created     bool          `json:"created"`
	Requested   int           `json:"requested"`
	Applied     int           `json:"applied"`
	Previous    int           `json:"previous"`
	New         int           `json:"new"`
	Clamped     bool          `json:"clamped"`
}

// Noop reports whether the delta left every batch untouched
func (r Result) Noop() bool {
	return r.Batch == nil
}

// FindBatch returns the batch with the exact, case-sensitive batch number
func FindBatch(p *domain.Product, batchNumber string) *domain.Batch {
	for _, b := range p.Batches {
		if b.BatchNumber == batchNumber {
			return b
		}
	}
	return nil
}

// Sum returns the total quantity across the product's batches
func Sum(p *domain.Product) int {
	total := 0
	for _, b := range p.Batches {
		total += b.Quantity
	}
	return total
}

// Conserved reports whether StockLevel matches the batch total
func Conserved(p *domain.Product) bool {
	return p.StockLevel == Sum(p)
}

// ApplyDelta adjusts the named batch by d.Quantity.
//
// An existing batch is adjusted and floored at zero (or rejected under the
// Reject policy); its cost is overwritten when d.CostPrice is positive.
// A missing batch is created for a positive delta and otherwise left alone.
// On error the product is unchanged.
func ApplyDelta(p *domain.Product, d Delta, policy Policy, now time.Time) (Result, error) {
	res := Result{BatchNumber: d.BatchNumber, Requested: d.Quantity}
	b := FindBatch(p, d.BatchNumber)

	if d.RequireOnHand {
		if b == nil {
			return res, errors.NotFound("batch " + d.BatchNumber)
		}
		if d.Quantity >= 0 || -d.Quantity > b.Quantity {
			return res, errors.InvalidQuantity("quantity must be between 1 and the batch's on-hand quantity").
				WithDetails(map[string]string{"on_hand": itoa(b.Quantity)})
		}
	}

	if b == nil {
		if d.Quantity <= 0 {
			if d.Quantity < 0 && policy == Reject {
				return res, errors.NegativeStock("batch " + d.BatchNumber + " has no stock to remove")
			}
			res.Clamped = d.Quantity < 0
			return res, nil
		}
		if d.ExpiryDate.IsZero() {
			return res, errors.Validation(map[string]string{"expiry_date": "required for a new batch"})
		}

		b = &domain.Batch{
			ID:          uuid.New().String(),
			ProductID:   p.ID,
			BatchNumber: d.BatchNumber,
			ExpiryDate:  domain.DateOf(d.ExpiryDate),
			Quantity:    d.Quantity,
			CostPrice:   d.CostPrice,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		p.Batches = append(p.Batches, b)
		resync(p, now)

		res.Batch = b
		res.Created = true
		res.Applied = d.Quantity
		res.New = d.Quantity
		return res, nil
	}

	prev := b.Quantity
	next := prev + d.Quantity
	if next < 0 {
		if policy == Reject {
			return res, errors.NegativeStock("batch " + d.BatchNumber + " has only " + itoa(prev) + " on hand").
				WithDetails(map[string]string{"on_hand": itoa(prev)})
		}
		next = 0
		res.Clamped = true
	}

	b.Quantity = next
	if d.CostPrice.IsPositive() {
		b.CostPrice = d.CostPrice
	}
	b.UpdatedAt = now
	resync(p, now)

	res.Batch = b
	res.Previous = prev
	res.New = next
	res.Applied = next - prev
	return res, nil
}

// ConsumeFEFO removes quantity from batches in expiry order, earliest first.
// Under Clamp any shortfall is reported as Clamped on the last result.
func ConsumeFEFO(p *domain.Product, quantity int, policy Policy, now time.Time) ([]Result, error) {
	if quantity <= 0 {
		return nil, errors.InvalidQuantity("quantity must be positive")
	}

	candidates := make([]*domain.Batch, 0, len(p.Batches))
	available := 0
	for _, b := range p.Batches {
		if b.Quantity > 0 {
			candidates = append(candidates, b)
			available += b.Quantity
		}
	}
	if quantity > available && policy == Reject {
		return nil, errors.NegativeStock("only " + itoa(available) + " on hand").
			WithDetails(map[string]string{"on_hand": itoa(available)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].ExpiryDate.Equal(candidates[j].ExpiryDate) {
			return candidates[i].ExpiryDate.Before(candidates[j].ExpiryDate)
		}
		return candidates[i].BatchNumber < candidates[j].BatchNumber
	})

	remaining := quantity
	var results []Result
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.Quantity)
		prev := b.Quantity
		b.Quantity -= take
		b.UpdatedAt = now
		remaining -= take
		results = append(results, Result{
			Batch:       b,
			BatchNumber: b.BatchNumber,
			Requested:   -take,
			Applied:     -take,
			Previous:    prev,
			New:         b.Quantity,
		})
	}
	resync(p, now)

	if remaining > 0 {
		if len(results) == 0 {
			return []Result{{Requested: -remaining, Clamped: true}}, nil
		}
		last := &results[len(results)-1]
		last.Requested -= remaining
		last.Clamped = true
	}

	return results, nil
}

// Apply routes a delta: removals against AnyBatch go earliest-expiry-first,
// everything else goes to ApplyDelta with an empty batch number meaning DEFAULT.
func Apply(p *domain.Product, d Delta, policy Policy, now time.Time) ([]Result, error) {
	if d.BatchNumber == AnyBatch && d.Quantity < 0 && !d.RequireOnHand {
		return ConsumeFEFO(p, -d.Quantity, policy, now)
	}
	if d.BatchNumber == AnyBatch {
		d.BatchNumber = domain.DefaultBatchNumber
	}
	res, err := ApplyDelta(p, d, policy, now)
	if err != nil {
		return nil, err
	}
	return []Result{res}, nil
}

// resync recomputes StockLevel from the batches so the invariant holds even
// when the product was loaded with a drifted aggregate.
func resync(p *domain.Product, now time.Time) {
	p.StockLevel = max(Sum(p), 0)
	p.UpdatedAt = now
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
