package cache

import (
	"context"
	"time"

	"setorstok/backend/internal/domain"
)

// SalesCache holds recent dashboard sales aggregates. The shift-close path
// never reads through this cache; only the polling dashboard endpoints do.
type SalesCache interface {
	Get(ctx context.Context, key string) (*domain.SalesSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesSummary, ttl time.Duration) error
}

type NoopSalesCache struct{}

func (NoopSalesCache) Get(_ context.Context, _ string) (*domain.SalesSummary, bool, error) {
	return nil, false, nil
}

func (NoopSalesCache) Set(_ context.Context, _ string, _ *domain.SalesSummary, _ time.Duration) error {
	return nil
}
