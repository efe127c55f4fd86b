// Package domain holds the catalog, batch and scan types shared by the
// inventory components.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBatchNumber marks stock received without batch tracking
const DefaultBatchNumber = "DEFAULT"

// DateLayout is the wire format for calendar dates
const DateLayout = "2006-01-02"

// Product is a catalog entry and the owner of its stock batches.
// StockLevel always equals the sum of Batches[i].Quantity.
type Product struct {
	ID            string          `db:"id" json:"id"`
	BranchID      string          `db:"branch_id" json:"branch_id,omitempty"`
	GTIN          string          `db:"gtin" json:"gtin,omitempty"`
	SKU           string          `db:"sku" json:"sku,omitempty"`
	Name          string          `db:"name" json:"name"`
	Category      string          `db:"category" json:"category,omitempty"`
	Unit          string          `db:"unit" json:"unit,omitempty"`
	Location      string          `db:"location" json:"location,omitempty"`
	MinStockLevel int             `db:"min_stock_level" json:"min_stock_level"`
	StockLevel    int             `db:"stock_level" json:"stock_level"`
	CostPrice     decimal.Decimal `db:"cost_price" json:"cost_price"`
	SellingPrice  decimal.Decimal `db:"selling_price" json:"selling_price"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`

	Batches []*Batch `db:"-" json:"batches"`
}

// Batch is a dated lot of one product. BatchNumber is unique within the product.
type Batch struct {
	ID          string          `db:"id" json:"id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	BatchNumber string          `db:"batch_number" json:"batch_number"`
	ExpiryDate  time.Time       `db:"expiry_date" json:"expiry_date"`
	Quantity    int             `db:"quantity" json:"quantity"`
	CostPrice   decimal.Decimal `db:"cost_price" json:"cost_price"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Batches = make([]*Batch, len(p.Batches))
	for i, b := range p.Batches {
		bc := *b
		cp.Batches[i] = &bc
	}
	return &cp
}

// LatestBatch returns the most recently created batch, or nil
func (p *Product) LatestBatch() *Batch {
	var latest *Batch
	for _, b := range p.Batches {
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			latest = b
		}
	}
	return latest
}

// ProductInput describes a new catalog product
type ProductInput struct {
	BranchID      string
	GTIN          string
	SKU           string
	Name          string
	Category      string
	Unit          string
	Location      string
	MinStockLevel int
	CostPrice     decimal.Decimal
	SellingPrice  decimal.Decimal
	InitialBatch  *BatchInput
}

// BatchInput seeds a batch on product creation
type BatchInput struct {
	BatchNumber string
	ExpiryDate  time.Time
	Quantity    int
	CostPrice   decimal.Decimal
}

// ProductPatch updates descriptive catalog fields. Stock and batches are
// only changed through stock mutations.
type ProductPatch struct {
	GTIN          *string
	SKU           *string
	Name          *string
	Category      *string
	Unit          *string
	Location      *string
	MinStockLevel *int
	CostPrice     *decimal.Decimal
	SellingPrice  *decimal.Decimal
}

// Empty reports whether the patch changes nothing
func (p ProductPatch) Empty() bool {
	return p.GTIN == nil && p.SKU == nil && p.Name == nil && p.Category == nil &&
		p.Unit == nil && p.Location == nil && p.MinStockLevel == nil &&
		p.CostPrice == nil && p.SellingPrice == nil
}

// Apply copies the set fields onto the product
func (p ProductPatch) Apply(product *Product) {
	if p.GTIN != nil {
		product.GTIN = *p.GTIN
	}
	if p.SKU != nil {
		product.SKU = *p.SKU
	}
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Category != nil {
		product.Category = *p.Category
	}
	if p.Unit != nil {
		product.Unit = *p.Unit
	}
	if p.Location != nil {
		product.Location = *p.Location
	}
	if p.MinStockLevel != nil {
		product.MinStockLevel = *p.MinStockLevel
	}
	if p.CostPrice != nil {
		product.CostPrice = *p.CostPrice
	}
	if p.SellingPrice != nil {
		product.SellingPrice = *p.SellingPrice
	}
}

// Movement kinds recorded in the audit trail
const (
	MovementReceive  = "RECEIVE"
	MovementConsume  = "CONSUME"
	MovementReturn   = "RETURN"
	MovementWriteOff = "WRITE_OFF"
)

// StockMovement is one audit row per batch touched by a mutation
type StockMovement struct {
	ID          string    `db:"id" json:"id"`
	ProductID   string    `db:"product_id" json:"product_id"`
	BatchID     *string   `db:"batch_id" json:"batch_id,omitempty"`
	BatchNumber string    `db:"batch_number" json:"batch_number"`
	Kind        string    `db:"kind" json:"kind"`
	Requested   int       `db:"requested" json:"requested"`
	Applied     int       `db:"applied" json:"applied"`
	PreviousQty int       `db:"previous_qty" json:"previous_qty"`
	NewQty      int       `db:"new_qty" json:"new_qty"`
	Reason      string    `db:"reason" json:"reason,omitempty"`
	Reference   string    `db:"reference" json:"reference,omitempty"`
	PerformedBy string    `db:"performed_by" json:"performed_by,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Scan record types
const (
	ScanTypeGS1    = "GS1"
	ScanTypeEAN13  = "EAN13"
	ScanTypeEAN8   = "EAN8"
	ScanTypeUPCA   = "UPCA"
	ScanTypePlain  = "PLAIN"
	ScanTypeManual = "MANUAL"
)

// ScanRecord is a structured barcode read
type ScanRecord struct {
	GTIN         string     `json:"gtin,omitempty"`
	BatchNumber  string     `json:"batch_number,omitempty"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	SerialNumber string     `json:"serial_number,omitempty"`
	RawData      string     `json:"raw_data"`
	Type         string     `json:"type"`
}

// Identity is the key a scan coalesces on: GTIN, else serial, else the raw payload
func (r ScanRecord) Identity() string {
	switch {
	case r.GTIN != "":
		return r.GTIN
	case r.SerialNumber != "":
		return r.SerialNumber
	default:
		return r.RawData
	}
}

// DateOf truncates t to its calendar date at UTC midnight
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
