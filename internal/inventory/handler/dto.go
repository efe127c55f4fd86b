package handler

import (
	"strings"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/scan"
	"github.com/branchpos/branchpos-backend/internal/inventory/service"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/httputil"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func init() {
	if err := httputil.RegisterCustomValidation("gtin", validGTIN); err != nil {
		panic(err)
	}
}

// validGTIN accepts GTIN-8, GTIN-12 (UPC-A), GTIN-13 and GTIN-14 numbers
func validGTIN(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	switch len(s) {
	case 8, 12, 13, 14:
	default:
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// BatchRequest seeds the first batch of a new product
type BatchRequest struct {
	BatchNumber string           `json:"batch_number" validate:"max=64"`
	ExpiryDate  string           `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	Quantity    int              `json:"quantity"`
	CostPrice   *decimal.Decimal `json:"cost_price"`
}

// CreateProductRequest is the body of POST /products
type CreateProductRequest struct {
	BranchID      string          `json:"branch_id" validate:"max=64"`
	GTIN          string          `json:"gtin" validate:"omitempty,gtin"`
	SKU           string          `json:"sku" validate:"max=64"`
	Name          string          `json:"name" validate:"required,max=200"`
	Category      string          `json:"category" validate:"max=100"`
	Unit          string          `json:"unit" validate:"max=20"`
	Location      string          `json:"location" validate:"max=100"`
	MinStockLevel int             `json:"min_stock_level" validate:"gte=0"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	InitialBatch  *BatchRequest   `json:"initial_batch"`
}

// ToInput converts the request, defaulting the branch to the caller's
func (r CreateProductRequest) ToInput(branchID string) (domain.ProductInput, error) {
	if r.CostPrice.IsNegative() || r.SellingPrice.IsNegative() {
		return domain.ProductInput{}, errors.Validation(map[string]string{"cost_price": "prices must not be negative"})
	}
	in := domain.ProductInput{
		BranchID:      r.BranchID,
		GTIN:          r.GTIN,
		SKU:           r.SKU,
		Name:          r.Name,
		Category:      r.Category,
		Unit:          r.Unit,
		Location:      r.Location,
		MinStockLevel: r.MinStockLevel,
		CostPrice:     r.CostPrice,
		SellingPrice:  r.SellingPrice,
	}
	if in.BranchID == "" {
		in.BranchID = branchID
	}
	if b := r.InitialBatch; b != nil {
		expiry, err := parseOptionalDate(b.ExpiryDate)
		if err != nil {
			return domain.ProductInput{}, err
		}
		in.InitialBatch = &domain.BatchInput{
			BatchNumber: strings.TrimSpace(b.BatchNumber),
			Quantity:    b.Quantity,
		}
		if expiry != nil {
			in.InitialBatch.ExpiryDate = *expiry
		}
		if b.CostPrice != nil {
			in.InitialBatch.CostPrice = *b.CostPrice
		}
	}
	return in, nil
}

// UpdateProductRequest is the body of PATCH /products/{id}
type UpdateProductRequest struct {
	GTIN          *string          `json:"gtin" validate:"omitempty,gtin"`
	SKU           *string          `json:"sku" validate:"omitempty,max=64"`
	Name          *string          `json:"name" validate:"omitempty,max=200"`
	Category      *string          `json:"category" validate:"omitempty,max=100"`
	Unit          *string          `json:"unit" validate:"omitempty,max=20"`
	Location      *string          `json:"location" validate:"omitempty,max=100"`
	MinStockLevel *int             `json:"min_stock_level" validate:"omitempty,gte=0"`
	CostPrice     *decimal.Decimal `json:"cost_price"`
	SellingPrice  *decimal.Decimal `json:"selling_price"`
}

// ToPatch converts the request
func (r UpdateProductRequest) ToPatch() (domain.ProductPatch, error) {
	if (r.CostPrice != nil && r.CostPrice.IsNegative()) || (r.SellingPrice != nil && r.SellingPrice.IsNegative()) {
		return domain.ProductPatch{}, errors.Validation(map[string]string{"cost_price": "prices must not be negative"})
	}
	return domain.ProductPatch{
		GTIN:          r.GTIN,
		SKU:           r.SKU,
		Name:          r.Name,
		Category:      r.Category,
		Unit:          r.Unit,
		Location:      r.Location,
		MinStockLevel: r.MinStockLevel,
		CostPrice:     r.CostPrice,
		SellingPrice:  r.SellingPrice,
	}, nil
}

// ReceiveRequest is the body of POST /products/{id}/receive
type ReceiveRequest struct {
	BatchNumber string           `json:"batch_number" validate:"max=64"`
	Quantity    int              `json:"quantity"`
	Unit        string           `json:"unit" validate:"max=20"`
	Location    string           `json:"location" validate:"max=100"`
	ExpiryDate  string           `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	CostPrice   *decimal.Decimal `json:"cost_price"`
	Reference   string           `json:"reference" validate:"max=100"`
}

// ToInput converts the request
func (r ReceiveRequest) ToInput() (service.ReceiveInput, error) {
	expiry, err := parseOptionalDate(r.ExpiryDate)
	if err != nil {
		return service.ReceiveInput{}, err
	}
	return service.ReceiveInput{
		BatchNumber: r.BatchNumber,
		Quantity:    r.Quantity,
		Unit:        r.Unit,
		Location:    r.Location,
		ExpiryDate:  expiry,
		CostPrice:   r.CostPrice,
		Reference:   r.Reference,
	}, nil
}

// ConsumeRequest is the body of POST /products/{id}/consume
type ConsumeRequest struct {
	BatchNumber string `json:"batch_number" validate:"max=64"`
	Quantity    int    `json:"quantity"`
	Reference   string `json:"reference" validate:"max=100"`
}

// ReturnRequest is the body of POST /products/{id}/return
type ReturnRequest struct {
	BatchNumber string `json:"batch_number" validate:"max=64"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason" validate:"max=100"`
}

// VendorReturnRequest is the body of POST /expiry/returns
type VendorReturnRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	BatchNumber string `json:"batch_number" validate:"required,max=64"`
	Quantity    *int   `json:"quantity"`
}

// ScanRequest carries either a raw scanner payload in Code or an already
// parsed record.
type ScanRequest struct {
	Code         string `json:"code" validate:"max=512"`
	GTIN         string `json:"gtin" validate:"omitempty,gtin"`
	BatchNumber  string `json:"batch_number" validate:"max=64"`
	ExpiryDate   string `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	SerialNumber string `json:"serial_number" validate:"max=64"`
	RawData      string `json:"raw_data" validate:"max=512"`
	Type         string `json:"type" validate:"omitempty,oneof=GS1 EAN13 EAN8 UPCA PLAIN"`
}

// ToRecord parses Code when present, otherwise builds the record from the fields
func (r ScanRequest) ToRecord() (domain.ScanRecord, error) {
	if strings.TrimSpace(r.Code) != "" {
		return scan.Parse(r.Code), nil
	}
	expiry, err := parseOptionalDate(r.ExpiryDate)
	if err != nil {
		return domain.ScanRecord{}, err
	}
	rec := domain.ScanRecord{
		GTIN:         r.GTIN,
		BatchNumber:  r.BatchNumber,
		ExpiryDate:   expiry,
		SerialNumber: r.SerialNumber,
		RawData:      r.RawData,
		Type:         r.Type,
	}
	if rec.Type == "" {
		rec.Type = domain.ScanTypePlain
		if rec.GTIN != "" {
			rec.Type = domain.ScanTypeGS1
		}
	}
	return rec, nil
}

// RowRequest edits or adds a grid row; absent fields are left alone
type RowRequest struct {
	GTIN         *string          `json:"gtin" validate:"omitempty,max=14"`
	SKU          *string          `json:"sku" validate:"omitempty,max=64"`
	Name         *string          `json:"name" validate:"omitempty,max=200"`
	Category     *string          `json:"category" validate:"omitempty,max=100"`
	Unit         *string          `json:"unit" validate:"omitempty,max=20"`
	Location     *string          `json:"location" validate:"omitempty,max=100"`
	BatchNumber  *string          `json:"batch_number" validate:"omitempty,max=64"`
	ExpiryDate   *string          `json:"expiry_date"`
	Quantity     *int             `json:"quantity"`
	CostPrice    *decimal.Decimal `json:"cost_price"`
	SellingPrice *decimal.Decimal `json:"selling_price"`
}

// ToPatch converts the request
func (r RowRequest) ToPatch() scan.RowPatch {
	return scan.RowPatch{
		GTIN:         r.GTIN,
		SKU:          r.SKU,
		Name:         r.Name,
		Category:     r.Category,
		Unit:         r.Unit,
		Location:     r.Location,
		BatchNumber:  r.BatchNumber,
		ExpiryDate:   r.ExpiryDate,
		Quantity:     r.Quantity,
		CostPrice:    r.CostPrice,
		SellingPrice: r.SellingPrice,
	}
}

// SessionResponse is a scan session with its grid
type SessionResponse struct {
	*scan.Session
	Rows       []scan.Row `json:"rows"`
	Processing bool       `json:"processing"`
}

func sessionResponse(s *scan.Session) SessionResponse {
	return SessionResponse{Session: s, Rows: s.Buffer.Rows(), Processing: s.Buffer.Processing()}
}

// VendorReturnResponse reports a completed return to vendor
type VendorReturnResponse struct {
	Product       *domain.Product `json:"product"`
	Returned      int             `json:"returned"`
	RefundPreview decimal.Decimal `json:"refund_preview"`
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return nil, errors.Validation(map[string]string{"expiry_date": "must be YYYY-MM-DD"})
	}
	return &d, nil
}
