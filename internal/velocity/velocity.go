// Package velocity provides transaction velocity tracking per customer.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service tracks how many transactions a customer submits within a window.
// The count feeds the context provider as a burst signal.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Observe records a transaction for the customer and returns the running
// count within the window. The cache counter is the fast path; counting
// from the repository only happens when no cache is wired.
func (s *Service) Observe(ctx context.Context, tenantID, customerID string, window time.Duration) (int64, error) {
	if tenantID == "" || customerID == "" {
		return 0, fmt.Errorf("tenantID and customerID are required")
	}

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, tenantID, "velocity:"+customerID, window)
		if err == nil {
			return count, nil
		}
		// Fall through to the repository on cache failure.
	}

	return s.CountRecent(ctx, tenantID, customerID, window)
}

// CountRecent counts persisted transactions for the customer within the window.
func (s *Service) CountRecent(ctx context.Context, tenantID, customerID string, window time.Duration) (int64, error) {
	if tenantID == "" || customerID == "" {
		return 0, fmt.Errorf("tenantID and customerID are required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	since := time.Now().Add(-window)
	count, err := s.repo.CountTransactionsByCustomer(ctx, tenantID, customerID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}
