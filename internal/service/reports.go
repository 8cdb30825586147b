package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/store"
)

// SalesSummary aggregates the sales of a period.
type SalesSummary struct {
	Since      time.Time       `json:"since"`
	Until      time.Time       `json:"until"`
	SalesCount int64           `json:"sales_count"`
	Units      int64           `json:"units"`
	Revenue    decimal.Decimal `json:"revenue"`
}

// SummarizeSales totals the sales in [since, until) within the caller's scope.
// Revenue uses the price captured on each sale.
func (s *Service) SummarizeSales(ctx context.Context, p *access.Principal, pharmacyID *int64, since, until time.Time) (*SalesSummary, error) {
	if !until.After(since) {
		return nil, fmt.Errorf("%w: period end must be after its start", domain.ErrValidation)
	}
	scope, err := access.Narrow(p, pharmacyID)
	if err != nil {
		return nil, err
	}
	since, until = since.UTC(), until.UTC()
	filter := store.RecordFilter{Pharmacies: toFilter(scope), Since: &since, Until: &until}

	var sales []domain.SaleRecord
	err = s.read(ctx, func(ctx context.Context, q store.Querier) error {
		sales, err = s.store.ListSales(ctx, q, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	summary := &SalesSummary{Since: since, Until: until, Revenue: decimal.Zero}
	for _, sale := range sales {
		summary.SalesCount++
		summary.Units += sale.Quantity
		summary.Revenue = summary.Revenue.Add(sale.Total())
	}
	return summary, nil
}

// DailySales summarizes the UTC day containing day.
func (s *Service) DailySales(ctx context.Context, p *access.Principal, pharmacyID *int64, day time.Time) (*SalesSummary, error) {
	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return s.SummarizeSales(ctx, p, pharmacyID, start, start.AddDate(0, 0, 1))
}

// MonthlySales summarizes the UTC calendar month containing day.
func (s *Service) MonthlySales(ctx context.Context, p *access.Principal, pharmacyID *int64, day time.Time) (*SalesSummary, error) {
	y, m, _ := day.UTC().Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return s.SummarizeSales(ctx, p, pharmacyID, start, start.AddDate(0, 1, 0))
}
