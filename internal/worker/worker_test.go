package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/hitl"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/providers"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const testTenant = "tenant-001"

func newTestWorker(t *testing.T) (*Worker, domain.Repository, domain.EventBus) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(10)
	t.Cleanup(func() { b.Close() })

	validator, err := policy.NewValidator()
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	c := cache.NewLRUCache(100)
	processor := pipeline.NewProcessor(
		repo, c, b, validator, hitl.NewManager(repo, b),
		providers.NewHeuristicContext(nil),
		providers.NewRepositoryPolicySearch(repo),
		providers.NewStaticThreatIntel(c),
		providers.NewRuleDebate(),
	)

	return NewWorker(b, processor), repo, b
}

func TestWorkerProcessesSubmittedTransaction(t *testing.T) {
	w, repo, b := newTestWorker(t)
	ctx := context.Background()

	if err := w.Start(Config{TenantIDs: []string{testTenant}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	req := domain.AnalyzeRequest{
		TransactionID: "tx-001",
		CustomerID:    "cust-001",
		Amount:        150.0,
		Currency:      "USD",
		Country:       "US",
		Channel:       domain.ChannelWeb,
		DeviceID:      "dev-1",
		MerchantID:    "M-001",
	}
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	if err := b.Publish(ctx, testTenant, domain.TopicTransactionSubmitted, payload); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := repo.GetDecision(ctx, testTenant, "tx-001"); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("decision was not persisted by the worker")
}

func TestWorkerStats(t *testing.T) {
	w, _, _ := newTestWorker(t)

	if err := w.Start(Config{TenantIDs: []string{testTenant, "tenant-002"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	stats := w.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Error("expected no subscriptions after stop")
	}
}
