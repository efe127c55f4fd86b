package service

import (
	"context"
	"strings"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/expiry"
	"github.com/branchpos/branchpos-backend/pkg/errors"
)

// ExpiryReport classifies the branch's stock as of the service clock's date.
// A non-empty status narrows Items; Stats always cover every tier.
func (s *InventoryService) ExpiryReport(ctx context.Context, branchID, status string) (*expiry.Report, error) {
	var filter expiry.Status
	if status != "" {
		st, ok := expiry.ParseStatus(strings.ToUpper(status))
		if !ok {
			return nil, errors.Validation(map[string]string{"status": "must be one of CRITICAL, WARNING, WATCH, GOOD"})
		}
		filter = st
	}

	report, err := s.classify(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if filter != "" {
		report.Items = report.Filter(filter)
	}
	return report, nil
}

// SweepExpiry classifies every branch without the cache, refreshes the tier
// gauges and publishes an expiring event per CRITICAL batch.
func (s *InventoryService) SweepExpiry(ctx context.Context) (*expiry.Report, error) {
	products, err := s.ListProducts(ctx, "")
	if err != nil {
		return nil, err
	}
	report := expiry.Classify(products, s.cfg.Now())

	for _, st := range []expiry.Status{expiry.Critical, expiry.Warning, expiry.Watch} {
		b, _ := report.Stats.Tier(st)
		s.metrics.SetExpiryTier(string(st), b.Count, b.Value.InexactFloat64())
	}

	critical := report.Filter(expiry.Critical)
	for _, item := range critical {
		s.publisher.PublishBatchExpiring(ctx, item)
	}

	s.logger.Info().
		Str("date", report.Date).
		Int("items", report.Stats.All.Count).
		Int("critical", report.Stats.Critical.Count).
		Str("critical_value", report.Stats.Critical.Value.StringFixed(2)).
		Msg("expiry sweep completed")

	return &report, nil
}

func (s *InventoryService) classify(ctx context.Context, branchID string) (*expiry.Report, error) {
	today := s.cfg.Now()
	date := domain.DateOf(today).Format(domain.DateLayout)

	lookup, cacheErr := s.reports.Get(ctx, branchID, date)
	if cacheErr != nil {
		s.logger.Warn().Err(cacheErr).Str("branch_id", branchID).Msg("expiry report cache read failed")
	}
	s.metrics.ObserveCache(lookup.Hit())
	if lookup.Hit() {
		return lookup.Report, nil
	}

	// The generation was read before the snapshot, so a mutation committed
	// while classifying makes the Set below a no-op.
	products, err := s.ListProducts(ctx, branchID)
	if err != nil {
		return nil, err
	}
	report := expiry.Classify(products, today)

	if cacheErr == nil {
		if err := s.reports.Set(ctx, branchID, date, lookup.Generation, &report, s.cfg.ReportCacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("branch_id", branchID).Msg("expiry report cache write failed")
		}
	}
	return &report, nil
}
