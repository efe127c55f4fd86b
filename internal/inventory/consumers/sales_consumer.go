package consumers

import (
	"context"

	"github.com/branchpos/branchpos-backend/internal/inventory/repository"
	"github.com/branchpos/branchpos-backend/internal/inventory/service"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/httputil"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/branchpos/branchpos-backend/pkg/messaging"
	"github.com/branchpos/branchpos-backend/pkg/metrics"
)

const salesQueue = "inventory-service.sales-events"

// Sale outcomes, also used as metric labels
const (
	SaleApplied = "applied"
	SaleClamped = "clamped"
	SaleSkipped = "skipped"
	SaleFailed  = "failed"
)

// StockConsumer removes sold units from the ledger
type StockConsumer interface {
	Consume(ctx context.Context, productID string, in service.ConsumeInput) (*repository.Mutation, error)
}

// SalesEventConsumer consumes POS sales events
type SalesEventConsumer struct {
	consumer *messaging.Consumer
	stock    StockConsumer
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewSalesEventConsumer creates a new sales event consumer
func NewSalesEventConsumer(rmq *messaging.RabbitMQ, stock StockConsumer, m *metrics.Metrics, log *logger.Logger) (*SalesEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, salesQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeSalesEvents, "sales.item.#"); err != nil {
		return nil, err
	}

	c := newSalesEventConsumer(stock, m, log)
	c.consumer = consumer
	consumer.RegisterHandler(messaging.EventSaleItemSold, c.HandleSaleItemSold)

	return c, nil
}

func newSalesEventConsumer(stock StockConsumer, m *metrics.Metrics, log *logger.Logger) *SalesEventConsumer {
	if log == nil {
		log = logger.Nop()
	}
	return &SalesEventConsumer{
		stock:   stock,
		metrics: m,
		logger:  log.WithComponent("sales-consumer"),
	}
}

// Start starts consuming messages
func (c *SalesEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// HandleSaleItemSold consumes the sold quantity earliest-expiry-first unless
// the line names a batch. Malformed lines and unknown products are dropped;
// only storage failures are returned so the message is redelivered.
func (c *SalesEventConsumer) HandleSaleItemSold(ctx context.Context, event *messaging.Event) error {
	var data messaging.SaleItemSoldEvent
	if err := event.UnmarshalData(&data); err != nil {
		c.metrics.ObserveSale(SaleSkipped)
		c.logger.Error().Err(err).Str("event_id", event.ID).Msg("malformed sale event")
		return nil
	}

	log := c.logger.WithBranch(data.BranchID)
	if data.ProductID == "" || data.Quantity <= 0 {
		c.metrics.ObserveSale(SaleSkipped)
		log.Warn().
			Str("sale_id", data.SaleID).
			Str("product_id", data.ProductID).
			Int("quantity", data.Quantity).
			Msg("sale line without product or quantity ignored")
		return nil
	}

	if data.CashierID != "" {
		ctx = httputil.WithUserContext(ctx, data.CashierID, "cashier")
	}
	ctx = httputil.WithBranch(ctx, data.BranchID)

	m, err := c.stock.Consume(ctx, data.ProductID, service.ConsumeInput{
		BatchNumber: data.BatchNumber,
		Quantity:    data.Quantity,
		Reference:   data.SaleID,
	})
	if err != nil {
		if errors.Is(err, errors.ErrTransient) {
			c.metrics.ObserveSale(SaleFailed)
			return err
		}
		c.metrics.ObserveSale(SaleSkipped)
		log.Warn().Err(err).
			Str("sale_id", data.SaleID).
			Str("product_id", data.ProductID).
			Msg("sale line could not be applied")
		return nil
	}

	if m.Clamped() {
		c.metrics.ObserveSale(SaleClamped)
		return nil
	}
	c.metrics.ObserveSale(SaleApplied)
	return nil
}
