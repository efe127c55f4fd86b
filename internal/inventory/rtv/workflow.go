// Package rtv drives a return-to-vendor of one expiring batch: pick the batch,
// choose how much goes back, submit it to the stock ledger as a RETURN.
package rtv

import (
	"context"
	"sync"

	"github.com/branchpos/branchpos-backend/internal/inventory/expiry"
	"github.com/branchpos/branchpos-backend/internal/inventory/repository"
	"github.com/branchpos/branchpos-backend/internal/inventory/service"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// State is a workflow step
type State string

const (
	Closed          State = "CLOSED"
	ItemSelected    State = "ITEM_SELECTED"
	QuantityEntered State = "QUANTITY_ENTERED"
	Submitting      State = "SUBMITTING"
)

// Returner removes returned stock from the ledger
type Returner interface {
	ReturnOrWriteOff(ctx context.Context, productID, batchNumber string, quantity int, reason string) (*repository.Mutation, error)
}

// Workflow is a single return dialog. It is safe for concurrent use; a
// second Submit while one is in flight gets a Conflict.
type Workflow struct {
	mu       sync.Mutex
	state    State
	item     expiry.Item
	quantity int

	returner Returner
	logger   *logger.Logger
}

// New creates a closed workflow
func New(returner Returner, log *logger.Logger) *Workflow {
	if log == nil {
		log = logger.Nop()
	}
	return &Workflow{
		state:    Closed,
		returner: returner,
		logger:   log.WithComponent("rtv"),
	}
}

// State returns the current step
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Item returns the selected batch, if any
func (w *Workflow) Item() (expiry.Item, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.item, w.state != Closed
}

// Quantity returns the return quantity as entered
func (w *Workflow) Quantity() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.quantity
}

// Select opens the workflow on a batch with the full on-hand quantity
func (w *Workflow) Select(item expiry.Item) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Closed {
		return errors.Conflict("a return is already open")
	}
	if item.Quantity <= 0 {
		return errors.InvalidQuantity("batch has no stock on hand")
	}

	w.item = item
	w.quantity = item.Quantity
	w.state = ItemSelected
	return nil
}

// SetQuantity records the operator's quantity. Values above on-hand are
// lowered to on-hand; zero or negative values are kept and block Submit.
func (w *Workflow) SetQuantity(quantity int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != ItemSelected && w.state != QuantityEntered {
		return 0, errors.Conflict("no return is open for editing")
	}

	w.quantity = min(quantity, w.item.Quantity)
	w.state = QuantityEntered
	return w.quantity, nil
}

// RefundPreview is quantity times batch cost. It is advisory and never sent
// to the ledger.
func (w *Workflow) RefundPreview() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Closed || w.quantity <= 0 {
		return decimal.Zero
	}
	return w.item.CostPrice.Mul(decimal.NewFromInt(int64(w.quantity)))
}

// Cancel closes an open workflow that is not submitting
func (w *Workflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Submitting {
		return errors.Conflict("return is being submitted")
	}
	w.reset()
	return nil
}

// Submit sends the return to the ledger. On success the workflow closes; on
// failure it goes back to QuantityEntered so the operator can retry.
func (w *Workflow) Submit(ctx context.Context) (*repository.Mutation, error) {
	w.mu.Lock()
	if w.state != ItemSelected && w.state != QuantityEntered {
		w.mu.Unlock()
		return nil, errors.Conflict("no return is ready to submit")
	}
	if w.quantity <= 0 {
		w.mu.Unlock()
		return nil, errors.InvalidQuantity("return quantity must be at least 1")
	}
	item, quantity := w.item, w.quantity
	w.state = Submitting
	w.mu.Unlock()

	m, err := w.returner.ReturnOrWriteOff(ctx, item.ProductID, item.BatchNumber, quantity, service.ReasonReturn)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.state = QuantityEntered
		w.logger.Warn().Err(err).
			Str("product_id", item.ProductID).
			Str("batch_number", item.BatchNumber).
			Int("quantity", quantity).
			Msg("return to vendor failed")
		return nil, err
	}

	w.logger.Info().
		Str("product_id", item.ProductID).
		Str("batch_number", item.BatchNumber).
		Int("quantity", quantity).
		Str("refund_preview", item.CostPrice.Mul(decimal.NewFromInt(int64(quantity))).String()).
		Msg("batch returned to vendor")
	w.reset()
	return m, nil
}

func (w *Workflow) reset() {
	w.state = Closed
	w.item = expiry.Item{}
	w.quantity = 0
}

// Return runs a whole dialog in one call: select, set quantity, submit.
// A nil quantity keeps the selection default of everything on hand.
func Return(ctx context.Context, returner Returner, item expiry.Item, quantity *int, log *logger.Logger) (*repository.Mutation, decimal.Decimal, error) {
	w := New(returner, log)
	if err := w.Select(item); err != nil {
		return nil, decimal.Zero, err
	}
	if quantity != nil {
		if _, err := w.SetQuantity(*quantity); err != nil {
			return nil, decimal.Zero, err
		}
	}
	refund := w.RefundPreview()
	m, err := w.Submit(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return m, refund, nil
}
