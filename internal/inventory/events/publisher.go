package events

import (
	"context"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/expiry"
	"github.com/branchpos/branchpos-backend/internal/inventory/repository"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/branchpos/branchpos-backend/pkg/messaging"
)

// InventoryEventPublisher publishes inventory-related events.
// A nil publisher is valid and drops every event.
type InventoryEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher creates a publisher on the inventory exchange
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "inventory-service", log)
	if err != nil {
		return nil, err
	}
	return New(publisher, log), nil
}

// New wraps any EventPublisher
func New(publisher messaging.EventPublisher, log *logger.Logger) *InventoryEventPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &InventoryEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishStockMutated publishes one event per batch the mutation touched
func (p *InventoryEventPublisher) PublishStockMutated(ctx context.Context, req repository.MutationRequest, m *repository.Mutation) {
	if p == nil {
		return
	}

	eventType := stockEventType(req.Kind)
	for _, res := range m.Results {
		data := messaging.StockMutatedEvent{
			ProductID:     m.Product.ID,
			BranchID:      m.Product.BranchID,
			BatchNumber:   res.BatchNumber,
			Requested:     res.Requested,
			Applied:       res.Applied,
			PreviousQty:   res.Previous,
			NewQuantity:   res.New,
			NewStockLevel: m.Product.StockLevel,
			Clamped:       res.Clamped,
			Reason:        req.Reason,
			Reference:     req.Reference,
			PerformedBy:   req.PerformedBy,
		}
		if res.Batch != nil {
			data.BatchID = res.Batch.ID
		}

		if err := p.publisher.Publish(ctx, eventType, data); err != nil {
			p.logger.Error().Err(err).Str("product_id", m.Product.ID).Msg("failed to publish stock event")
		}
	}
}

// PublishProductCreated publishes a product created event
func (p *InventoryEventPublisher) PublishProductCreated(ctx context.Context, product *domain.Product) {
	if p == nil {
		return
	}

	data := messaging.ProductCreatedEvent{
		ProductID: product.ID,
		BranchID:  product.BranchID,
		GTIN:      product.GTIN,
		SKU:       product.SKU,
		Name:      product.Name,
	}

	if err := p.publisher.Publish(ctx, messaging.EventProductCreated, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", product.ID).Msg("failed to publish product created event")
	}
}

// PublishBatchExpiring publishes an expiring batch event
func (p *InventoryEventPublisher) PublishBatchExpiring(ctx context.Context, item expiry.Item) {
	if p == nil {
		return
	}

	data := messaging.BatchExpiringEvent{
		ProductID:     item.ProductID,
		ProductName:   item.ProductName,
		BatchID:       item.BatchID,
		BatchNumber:   item.BatchNumber,
		ExpiryDate:    item.ExpiryDate,
		DaysRemaining: item.DaysRemaining,
		Quantity:      item.Quantity,
		ValueAtRisk:   item.ValueAtRisk,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchExpiring, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", item.BatchID).Msg("failed to publish batch expiring event")
	}
}

// PublishScanBatchCommitted publishes the outcome of a stock-entry save
func (p *InventoryEventPublisher) PublishScanBatchCommitted(ctx context.Context, sessionID, branchID string, applied, remaining int) {
	if p == nil {
		return
	}

	data := messaging.ScanBatchCommittedEvent{
		SessionID: sessionID,
		BranchID:  branchID,
		Applied:   applied,
		Remaining: remaining,
	}

	if err := p.publisher.Publish(ctx, messaging.EventScanBatchCommitted, data); err != nil {
		p.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to publish scan commit event")
	}
}

func stockEventType(kind string) string {
	switch kind {
	case domain.MovementReceive:
		return messaging.EventStockReceived
	case domain.MovementReturn:
		return messaging.EventStockReturned
	case domain.MovementWriteOff:
		return messaging.EventStockWrittenOff
	default:
		return messaging.EventStockConsumed
	}
}
