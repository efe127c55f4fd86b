// Package scan turns barcode scans into an editable grid of pending stock
// lines and commits that grid row by row.
package scan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/repository"
	"github.com/branchpos/branchpos-backend/internal/inventory/service"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Focus names the field the client should put the cursor in after a scan
type Focus string

const (
	FocusQuantity Focus = "quantity"
	FocusName     Focus = "name"
)

// Scan outcomes, also used as metric labels
const (
	ResultIncrement = "increment"
	ResultPrefill   = "prefill"
	ResultUnknown   = "unknown"
)

// Row is one pending grid line
type Row struct {
	ID           string          `json:"id"`
	Identity     string          `json:"identity"`
	ProductID    string          `json:"product_id,omitempty"`
	GTIN         string          `json:"gtin,omitempty"`
	SKU          string          `json:"sku,omitempty"`
	SerialNumber string          `json:"serial_number,omitempty"`
	Name         string          `json:"name"`
	Category     string          `json:"category,omitempty"`
	Unit         string          `json:"unit,omitempty"`
	Location     string          `json:"location,omitempty"`
	BatchNumber  string          `json:"batch_number,omitempty"`
	ExpiryDate   string          `json:"expiry_date,omitempty"`
	Quantity     int             `json:"quantity"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Highlight    bool            `json:"highlight"`
	Source       string          `json:"source"`

	highlightUntil time.Time
}

// RowPatch overwrites the set fields of a row
type RowPatch struct {
	GTIN         *string
	SKU          *string
	Name         *string
	Category     *string
	Unit         *string
	Location     *string
	BatchNumber  *string
	ExpiryDate   *string
	Quantity     *int
	CostPrice    *decimal.Decimal
	SellingPrice *decimal.Decimal
}

// ScanResult reports what one scan did to the grid
type ScanResult struct {
	Row    Row    `json:"row"`
	Result string `json:"result"`
	Known  bool   `json:"known"`
	Focus  Focus  `json:"focus"`
}

// Committer is the stock side of a save: receive into known products,
// create unknown ones, and re-read the catalog afterwards.
type Committer interface {
	Receive(ctx context.Context, productID string, in service.ReceiveInput) (*repository.Mutation, error)
	CreateProduct(ctx context.Context, in domain.ProductInput) (*domain.Product, error)
	ListProducts(ctx context.Context, branchID string) ([]*domain.Product, error)
}

// RowOutcome is the per-row result of a save
type RowOutcome struct {
	RowID     string `json:"row_id"`
	Index     int    `json:"index"`
	ProductID string `json:"product_id,omitempty"`
	Created   bool   `json:"created"`
	Skipped   bool   `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// CommitReport lists what a save did, row by row, in grid order
type CommitReport struct {
	Rows      []RowOutcome `json:"rows"`
	Applied   int          `json:"applied"`
	Skipped   int          `json:"skipped"`
	Remaining int          `json:"remaining"`
}

// Buffer is the grid of one stock-entry session. Rows are kept newest first.
type Buffer struct {
	mu              sync.Mutex
	branchID        string
	rows            []*Row
	catalog         []*domain.Product
	committing      bool
	processingUntil time.Time
	feedbackDelay   time.Duration
	now             func() time.Time
}

// NewBuffer creates an empty grid for a branch
func NewBuffer(branchID string, catalog []*domain.Product, feedbackDelay time.Duration, now func() time.Time) *Buffer {
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		branchID:      branchID,
		catalog:       catalog,
		feedbackDelay: feedbackDelay,
		now:           now,
	}
}

// SetCatalog replaces the product snapshot used for lookups
func (b *Buffer) SetCatalog(products []*domain.Product) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalog = products
}

// Scan coalesces one scan into the grid. A repeat identity adds exactly one
// unit to its existing row; a new identity is inserted at the top, prefilled
// from the catalog when known.
func (b *Buffer) Scan(rec domain.ScanRecord) (ScanResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committing {
		return ScanResult{}, errors.Conflict("save in progress")
	}

	identity := strings.TrimSpace(rec.Identity())
	if identity == "" {
		return ScanResult{}, errors.Validation(map[string]string{"code": "scan carries no identity"})
	}

	now := b.now()
	b.processingUntil = now.Add(b.feedbackDelay)
	product := b.lookup(identity)

	if row := b.findRow(identity); row != nil {
		row.Quantity++
		row.highlightUntil = now.Add(b.feedbackDelay)
		return ScanResult{Row: b.view(row, now), Result: ResultIncrement, Known: row.ProductID != "", Focus: FocusQuantity}, nil
	}

	row := &Row{
		ID:           uuid.NewString(),
		Identity:     identity,
		GTIN:         rec.GTIN,
		SerialNumber: rec.SerialNumber,
		Quantity:     1,
		Source:       rec.Type,
	}
	if rec.GTIN == "" && rec.SerialNumber == "" {
		row.SKU = identity
	}

	result := ScanResult{Result: ResultUnknown, Focus: FocusName}
	if product != nil {
		prefill(row, product)
		result.Result = ResultPrefill
		result.Known = true
		result.Focus = FocusQuantity
	}
	if rec.BatchNumber != "" {
		row.BatchNumber = rec.BatchNumber
	}
	if rec.ExpiryDate != nil {
		row.ExpiryDate = rec.ExpiryDate.Format(domain.DateLayout)
	}

	b.rows = append([]*Row{row}, b.rows...)
	result.Row = b.view(row, now)
	return result, nil
}

// AddRow inserts a manual row at the top of the grid
func (b *Buffer) AddRow(patch RowPatch) (Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committing {
		return Row{}, errors.Conflict("save in progress")
	}

	row := &Row{ID: uuid.NewString(), Quantity: 1, Source: domain.ScanTypeManual}
	if err := applyPatch(row, patch); err != nil {
		return Row{}, err
	}
	b.rows = append([]*Row{row}, b.rows...)
	return b.view(row, b.now()), nil
}

// EditRow overwrites fields on a row; last write wins
func (b *Buffer) EditRow(rowID string, patch RowPatch) (Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committing {
		return Row{}, errors.Conflict("save in progress")
	}

	for _, row := range b.rows {
		if row.ID == rowID {
			updated := *row
			if err := applyPatch(&updated, patch); err != nil {
				return Row{}, err
			}
			*row = updated
			return b.view(row, b.now()), nil
		}
	}
	return Row{}, errors.NotFound("row")
}

// DeleteRow removes a row; nothing was committed for it
func (b *Buffer) DeleteRow(rowID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committing {
		return errors.Conflict("save in progress")
	}

	for i, row := range b.rows {
		if row.ID == rowID {
			b.rows = append(b.rows[:i], b.rows[i+1:]...)
			return nil
		}
	}
	return errors.NotFound("row")
}

// Clear empties the grid
func (b *Buffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committing {
		return errors.Conflict("save in progress")
	}
	b.rows = nil
	return nil
}

// Rows returns the grid top to bottom
func (b *Buffer) Rows() []Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	out := make([]Row, 0, len(b.rows))
	for _, row := range b.rows {
		out = append(out, b.view(row, now))
	}
	return out
}

// Processing reports whether the post-scan indicator is still showing
func (b *Buffer) Processing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.processingUntil)
}

// SaveAll commits rows top to bottom, one call per row. Rows are matched
// against a catalog read at the start of the save, so products created by
// another session since the last scan are reused; if that read fails nothing
// is committed. Rows without a name are skipped. The first failing row stops
// the loop: committed rows leave the grid, the failing row and everything
// after it stay for a retry, and a PartialBatchFailure is returned with the
// report. On full success the grid is cleared and the catalog snapshot is
// re-read.
func (b *Buffer) SaveAll(ctx context.Context, c Committer) (*CommitReport, error) {
	b.mu.Lock()
	if b.committing {
		b.mu.Unlock()
		return nil, errors.Conflict("save in progress")
	}
	b.committing = true
	rows := make([]*Row, len(b.rows))
	for i, row := range b.rows {
		cp := *row
		rows[i] = &cp
	}
	b.mu.Unlock()

	// Rows are matched against the live catalog, not the session snapshot,
	// so a product added since the session opened is received into.
	catalog, err := c.ListProducts(ctx, b.branchID)
	if err != nil {
		b.mu.Lock()
		b.committing = false
		b.mu.Unlock()
		return nil, err
	}

	report := &CommitReport{Rows: make([]RowOutcome, 0, len(rows))}
	committed := make(map[string]bool, len(rows))
	var failure error

	for i, row := range rows {
		outcome := RowOutcome{RowID: row.ID, Index: i}
		if strings.TrimSpace(row.Name) == "" {
			outcome.Skipped = true
			report.Skipped++
			report.Rows = append(report.Rows, outcome)
			continue
		}

		product, created, err := commitRow(ctx, c, b.branchID, row, catalog)
		if err != nil {
			outcome.Error = err.Error()
			report.Rows = append(report.Rows, outcome)
			failure = err
			break
		}
		if created {
			catalog = append(catalog, product)
		}
		outcome.ProductID = product.ID
		outcome.Created = created
		report.Rows = append(report.Rows, outcome)
		report.Applied++
		committed[row.ID] = true
	}

	refreshed, refreshErr := c.ListProducts(ctx, b.branchID)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.committing = false
	if refreshErr == nil {
		b.catalog = refreshed
	}

	if failure == nil {
		b.rows = nil
		return report, nil
	}

	kept := b.rows[:0]
	for _, row := range b.rows {
		if !committed[row.ID] {
			kept = append(kept, row)
		}
	}
	b.rows = kept
	report.Remaining = len(b.rows)
	return report, errors.PartialBatchFailure(report.Applied, report.Remaining, failure)
}

func commitRow(ctx context.Context, c Committer, branchID string, row *Row, catalog []*domain.Product) (*domain.Product, bool, error) {
	var expiry *time.Time
	if row.ExpiryDate != "" {
		d, err := domain.ParseDate(row.ExpiryDate)
		if err != nil {
			return nil, false, errors.Validation(map[string]string{"expiry_date": "must be YYYY-MM-DD"})
		}
		expiry = &d
	}

	product := findProduct(catalog, row.ProductID, row.GTIN, row.SKU, row.Identity)
	if product != nil {
		cost := row.CostPrice
		_, err := c.Receive(ctx, product.ID, service.ReceiveInput{
			BatchNumber: row.BatchNumber,
			Quantity:    row.Quantity,
			Unit:        row.Unit,
			Location:    row.Location,
			ExpiryDate:  expiry,
			CostPrice:   &cost,
		})
		if err != nil {
			return nil, false, err
		}
		return product, false, nil
	}

	in := domain.ProductInput{
		BranchID:     branchID,
		GTIN:         row.GTIN,
		SKU:          row.SKU,
		Name:         strings.TrimSpace(row.Name),
		Category:     row.Category,
		Unit:         row.Unit,
		Location:     row.Location,
		CostPrice:    row.CostPrice,
		SellingPrice: row.SellingPrice,
		InitialBatch: &domain.BatchInput{
			BatchNumber: row.BatchNumber,
			Quantity:    row.Quantity,
			CostPrice:   row.CostPrice,
		},
	}
	if expiry != nil {
		in.InitialBatch.ExpiryDate = *expiry
	}
	p, err := c.CreateProduct(ctx, in)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (b *Buffer) findRow(identity string) *Row {
	for _, row := range b.rows {
		if sameIdentity(row.Identity, identity) {
			return row
		}
	}
	return nil
}

func (b *Buffer) lookup(identity string) *domain.Product {
	return findProduct(b.catalog, "", identity, identity, identity)
}

func (b *Buffer) view(row *Row, now time.Time) Row {
	v := *row
	v.Highlight = now.Before(row.highlightUntil)
	return v
}

// findProduct matches by id first when known, then by GTIN, id and SKU in that order
func findProduct(catalog []*domain.Product, productID, gtin, sku, identity string) *domain.Product {
	if productID != "" {
		for _, p := range catalog {
			if p.ID == productID {
				return p
			}
		}
	}
	if gtin != "" {
		for _, p := range catalog {
			if sameGTIN(p.GTIN, gtin) {
				return p
			}
		}
	}
	if identity != "" {
		for _, p := range catalog {
			if p.ID == identity {
				return p
			}
		}
	}
	if sku != "" {
		for _, p := range catalog {
			if p.SKU != "" && p.SKU == sku {
				return p
			}
		}
	}
	return nil
}

// sameGTIN compares GTIN-8/12/13/14 forms by ignoring leading zero padding
func sameGTIN(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.TrimLeft(a, "0") == strings.TrimLeft(b, "0")
}

// sameIdentity matches grid rows. Numeric trade item codes compare like
// GTINs, so an EAN-13 and its GTIN-14 form land on one row; anything else
// must match exactly.
func sameIdentity(a, b string) bool {
	if a == b {
		return true
	}
	if isTradeItemCode(a) && isTradeItemCode(b) {
		return sameGTIN(a, b)
	}
	return false
}

func isTradeItemCode(s string) bool {
	switch len(s) {
	case 8, 12, 13, 14:
		return isDigits(s)
	}
	return false
}

func prefill(row *Row, p *domain.Product) {
	row.ProductID = p.ID
	if row.GTIN == "" {
		row.GTIN = p.GTIN
	}
	row.SKU = p.SKU
	row.Name = p.Name
	row.Category = p.Category
	row.Unit = p.Unit
	row.Location = p.Location
	row.CostPrice = p.CostPrice
	row.SellingPrice = p.SellingPrice
	if latest := p.LatestBatch(); latest != nil {
		row.BatchNumber = latest.BatchNumber
		row.ExpiryDate = latest.ExpiryDate.Format(domain.DateLayout)
		if latest.CostPrice.IsPositive() {
			row.CostPrice = latest.CostPrice
		}
	}
}

func applyPatch(row *Row, p RowPatch) error {
	if p.Quantity != nil && *p.Quantity < 0 {
		return errors.InvalidQuantity("quantity must not be negative")
	}
	if p.ExpiryDate != nil && *p.ExpiryDate != "" {
		if _, err := domain.ParseDate(*p.ExpiryDate); err != nil {
			return errors.Validation(map[string]string{"expiry_date": "must be YYYY-MM-DD"})
		}
	}
	if p.CostPrice != nil && p.CostPrice.IsNegative() {
		return errors.Validation(map[string]string{"cost_price": "must not be negative"})
	}

	if p.GTIN != nil {
		row.GTIN = *p.GTIN
		row.Identity = *p.GTIN
		row.ProductID = ""
	}
	if p.SKU != nil {
		row.SKU = *p.SKU
		if row.GTIN == "" {
			row.Identity = *p.SKU
		}
	}
	if p.Name != nil {
		row.Name = *p.Name
	}
	if p.Category != nil {
		row.Category = *p.Category
	}
	if p.Unit != nil {
		row.Unit = *p.Unit
	}
	if p.Location != nil {
		row.Location = *p.Location
	}
	if p.BatchNumber != nil {
		row.BatchNumber = *p.BatchNumber
	}
	if p.ExpiryDate != nil {
		row.ExpiryDate = *p.ExpiryDate
	}
	if p.Quantity != nil {
		row.Quantity = *p.Quantity
	}
	if p.CostPrice != nil {
		row.CostPrice = *p.CostPrice
	}
	if p.SellingPrice != nil {
		row.SellingPrice = *p.SellingPrice
	}
	return nil
}
