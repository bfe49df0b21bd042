package velocity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type countRepo struct {
	domain.Repository
	count int64
	err   error
}

func (r *countRepo) CountTransactionsByCustomer(ctx context.Context, tenantID, customerID string, since time.Time) (int64, error) {
	return r.count, r.err
}

func TestObserveIncrementsCounter(t *testing.T) {
	svc := NewService(nil, cache.NewLRUCache(10))
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := svc.Observe(ctx, "tenant-001", "cust-001", time.Minute)
		if err != nil {
			t.Fatalf("failed to observe: %v", err)
		}
		if got != want {
			t.Errorf("expected count %d, got %d", want, got)
		}
	}
}

func TestObserveSeparatesCustomers(t *testing.T) {
	svc := NewService(nil, cache.NewLRUCache(10))
	ctx := context.Background()

	svc.Observe(ctx, "tenant-001", "cust-001", time.Minute)
	svc.Observe(ctx, "tenant-001", "cust-001", time.Minute)

	got, err := svc.Observe(ctx, "tenant-001", "cust-002", time.Minute)
	if err != nil {
		t.Fatalf("failed to observe: %v", err)
	}
	if got != 1 {
		t.Errorf("expected independent counter for second customer, got %d", got)
	}
}

func TestObserveFallsBackToRepository(t *testing.T) {
	repo := &countRepo{count: 7}
	svc := NewService(repo, nil)

	got, err := svc.Observe(context.Background(), "tenant-001", "cust-001", time.Minute)
	if err != nil {
		t.Fatalf("failed to observe: %v", err)
	}
	if got != 7 {
		t.Errorf("expected repository count 7, got %d", got)
	}
}

func TestCountRecentErrors(t *testing.T) {
	svc := NewService(&countRepo{err: fmt.Errorf("db down")}, nil)
	if _, err := svc.CountRecent(context.Background(), "tenant-001", "cust-001", time.Minute); err == nil {
		t.Error("expected error from repository")
	}

	svc = NewService(nil, nil)
	if _, err := svc.CountRecent(context.Background(), "tenant-001", "cust-001", time.Minute); err == nil {
		t.Error("expected error with no data source")
	}
}

func TestObserveRequiresIdentifiers(t *testing.T) {
	svc := NewService(&countRepo{}, cache.NewLRUCache(10))
	ctx := context.Background()

	if _, err := svc.Observe(ctx, "", "cust-001", time.Minute); err == nil {
		t.Error("expected error for empty tenant")
	}
	if _, err := svc.Observe(ctx, "tenant-001", "", time.Minute); err == nil {
		t.Error("expected error for empty customer")
	}
}
