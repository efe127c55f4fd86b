package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Inventory events
	EventStockReceived      = "inventory.stock.received"
	EventStockConsumed      = "inventory.stock.consumed"
	EventStockReturned      = "inventory.stock.returned"
	EventStockWrittenOff    = "inventory.stock.written_off"
	EventProductCreated     = "inventory.product.created"
	EventBatchExpiring      = "inventory.batch.expiring"
	EventScanBatchCommitted = "inventory.scan.committed"

	// Sales events consumed by the inventory service
	EventSaleItemSold = "sales.item.sold"
)

// Exchange names
const (
	ExchangeInventoryEvents = "inventory.events"
	ExchangeSalesEvents     = "sales.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Inventory Events

// StockMutatedEvent is published after any ledger mutation.
// Requested is the caller's delta, Applied is what the ledger actually moved
// (smaller in magnitude when a removal was clamped).
type StockMutatedEvent struct {
	ProductID     string `json:"product_id"`
	BranchID      string `json:"branch_id,omitempty"`
	BatchID       string `json:"batch_id,omitempty"`
	BatchNumber   string `json:"batch_number"`
	Requested     int    `json:"requested"`
	Applied       int    `json:"applied"`
	PreviousQty   int    `json:"previous_qty"`
	NewQuantity   int    `json:"new_quantity"`
	NewStockLevel int    `json:"new_stock_level"`
	Clamped       bool   `json:"clamped,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Reference     string `json:"reference,omitempty"`
	PerformedBy   string `json:"performed_by,omitempty"`
}

// ProductCreatedEvent is published when a product is added to the catalog
type ProductCreatedEvent struct {
	ProductID string `json:"product_id"`
	BranchID  string `json:"branch_id,omitempty"`
	GTIN      string `json:"gtin,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Name      string `json:"name"`
}

// BatchExpiringEvent is published by the expiry sweep for CRITICAL batches
type BatchExpiringEvent struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	BatchID       string          `json:"batch_id"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    string          `json:"expiry_date"`
	DaysRemaining int             `json:"days_remaining"`
	Quantity      int             `json:"quantity"`
	ValueAtRisk   decimal.Decimal `json:"value_at_risk"`
}

// ScanBatchCommittedEvent summarizes a stock-entry grid save
type ScanBatchCommittedEvent struct {
	SessionID string `json:"session_id"`
	BranchID  string `json:"branch_id,omitempty"`
	Applied   int    `json:"applied"`
	Remaining int    `json:"remaining"`
}

// Sales Events

// SaleItemSoldEvent is published by the POS checkout for every sold line
type SaleItemSoldEvent struct {
	SaleID      string `json:"sale_id"`
	BranchID    string `json:"branch_id"`
	ProductID   string `json:"product_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    int    `json:"quantity"`
	CashierID   string `json:"cashier_id,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
