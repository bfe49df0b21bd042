package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const testTenant = "tenant-001"

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testTransaction(id string) *domain.Transaction {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Transaction{
		ID:         id,
		TenantID:   testTenant,
		CustomerID: "cust-001",
		Amount:     150.0,
		Currency:   "USD",
		Country:    "US",
		Channel:    domain.ChannelWeb,
		DeviceID:   "dev-1",
		MerchantID: "M-001",
		Timestamp:  now,
		CreatedAt:  now,
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tx := testTransaction("tx-001")
	if err := repo.SaveTransaction(ctx, testTenant, tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}

	got, err := repo.GetTransaction(ctx, testTenant, "tx-001")
	if err != nil {
		t.Fatalf("failed to get transaction: %v", err)
	}
	if got.CustomerID != tx.CustomerID || got.Amount != tx.Amount || got.Channel != tx.Channel {
		t.Errorf("transaction mismatch: %+v", got)
	}
}

func TestTransactionTenantIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveTransaction(ctx, testTenant, testTransaction("tx-001")); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}

	_, err := repo.GetTransaction(ctx, "other-tenant", "tx-001")
	if !domain.IsNotFound(err) {
		t.Errorf("expected not found for other tenant, got %v", err)
	}
}

func TestCountTransactionsByCustomer(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tx := testTransaction(fmt.Sprintf("tx-%03d", i))
		if err := repo.SaveTransaction(ctx, testTenant, tx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
	}

	count, err := repo.CountTransactionsByCustomer(ctx, testTenant, "cust-001", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 transactions, got %d", count)
	}

	count, err = repo.CountTransactionsByCustomer(ctx, testTenant, "cust-999", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 transactions for unknown customer, got %d", count)
	}
}

func TestProfileRoundTripAndUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	profile := &domain.CustomerProfile{
		CustomerID:     "cust-001",
		UsualAmountAvg: 120.0,
		UsualHours:     "08-20",
		UsualCountries: []string{"US", "CA"},
		UsualDevices:   []string{"dev-1"},
	}

	if err := repo.SaveProfile(ctx, testTenant, profile); err != nil {
		t.Fatalf("failed to save profile: %v", err)
	}

	got, err := repo.GetProfile(ctx, testTenant, "cust-001")
	if err != nil {
		t.Fatalf("failed to get profile: %v", err)
	}
	if got.UsualAmountAvg != 120.0 || len(got.UsualCountries) != 2 {
		t.Errorf("profile mismatch: %+v", got)
	}

	// Update should replace, not duplicate.
	profile.UsualAmountAvg = 200.0
	if err := repo.SaveProfile(ctx, testTenant, profile); err != nil {
		t.Fatalf("failed to upsert profile: %v", err)
	}

	got, err = repo.GetProfile(ctx, testTenant, "cust-001")
	if err != nil {
		t.Fatalf("failed to get updated profile: %v", err)
	}
	if got.UsualAmountAvg != 200.0 {
		t.Errorf("expected updated average 200.0, got %v", got.UsualAmountAvg)
	}

	_, err = repo.GetProfile(ctx, testTenant, "cust-404")
	if !domain.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	policy := &domain.PolicyConfig{
		ID:            "FP-01",
		Rule:          "high amount outside usual hours requires challenge",
		Version:       "1.0.0",
		Applicability: "amount_ratio > 3.0 && !in_usual_hours",
		Enabled:       true,
	}

	if err := repo.SavePolicy(ctx, testTenant, policy); err != nil {
		t.Fatalf("failed to save policy: %v", err)
	}

	got, err := repo.GetPolicy(ctx, testTenant, "FP-01")
	if err != nil {
		t.Fatalf("failed to get policy: %v", err)
	}
	if got.Rule != policy.Rule || got.Applicability != policy.Applicability {
		t.Errorf("policy mismatch: %+v", got)
	}

	policies, err := repo.ListPolicies(ctx, testTenant)
	if err != nil {
		t.Fatalf("failed to list policies: %v", err)
	}
	if len(policies) != 1 {
		t.Errorf("expected 1 policy, got %d", len(policies))
	}
}

func testDecision(txID string) *domain.DecisionRecord {
	return &domain.DecisionRecord{
		TransactionID: txID,
		TenantID:      testTenant,
		Decision:      domain.DecisionChallenge,
		Confidence:    0.70,
		RiskScore:     0.40,
		Signals:       []string{"very high amount for this customer"},
		CitationsInternal: []domain.CitationInternal{
			{PolicyID: "FP-01", Version: "1.0.0", ChunkID: "FP-01#0"},
		},
		CitationsExternal:   []domain.CitationExternal{},
		AgentRoute:          "context → behavior → policy → threat → debate → evidence → arbiter",
		ExplanationCustomer: "We need to verify this transaction.",
		ExplanationAudit:    "Decision CHALLENGE with risk score 0.400.",
		ProcessingTimeMs:    12,
		CreatedAt:           time.Now().UTC().Truncate(time.Second),
	}
}

func TestDecisionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := testDecision("tx-001")
	if err := repo.SaveDecision(ctx, testTenant, rec); err != nil {
		t.Fatalf("failed to save decision: %v", err)
	}

	got, err := repo.GetDecision(ctx, testTenant, "tx-001")
	if err != nil {
		t.Fatalf("failed to get decision: %v", err)
	}
	if got.Decision != rec.Decision || got.RiskScore != rec.RiskScore {
		t.Errorf("decision mismatch: %+v", got)
	}
	if len(got.Signals) != 1 || len(got.CitationsInternal) != 1 {
		t.Errorf("citations or signals lost: %+v", got)
	}
}

func TestNextCaseSequenceMonotonic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := repo.NextCaseSequence(ctx, testTenant)
		if err != nil {
			t.Fatalf("failed to allocate sequence: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}

	// Independent per tenant.
	got, err := repo.NextCaseSequence(ctx, "other-tenant")
	if err != nil {
		t.Fatalf("failed to allocate sequence: %v", err)
	}
	if got != 1 {
		t.Errorf("expected fresh tenant to start at 1, got %d", got)
	}
}

func TestNextCaseSequenceConcurrent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	const n = 20
	var mu sync.Mutex
	seen := make(map[int64]bool, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := repo.NextCaseSequence(ctx, testTenant)
			if err != nil {
				t.Errorf("failed to allocate sequence: %v", err)
				return
			}
			mu.Lock()
			if seen[seq] {
				t.Errorf("duplicate sequence %d", seq)
			}
			seen[seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("expected %d unique sequences, got %d", n, len(seen))
	}
}

func testCase(id string) *domain.HITLCase {
	return &domain.HITLCase{
		CaseID:                 id,
		TenantID:               testTenant,
		TransactionID:          "tx-001",
		DecisionRecommendation: domain.DecisionEscalate,
		Confidence:             0.75,
		Signals:                []string{"unknown device for this customer"},
		CitationsInternal:      []domain.CitationInternal{},
		CitationsExternal:      []domain.CitationExternal{},
		AgentRoute:             "context → behavior → evidence → arbiter",
		Status:                 domain.CaseStatusPending,
		CreatedAt:              time.Now().UTC().Truncate(time.Second),
		CreatedBy:              "pipeline",
	}
}

func TestCaseLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveCase(ctx, testTenant, testCase("HITL-00001")); err != nil {
		t.Fatalf("failed to save case: %v", err)
	}

	got, err := repo.GetCase(ctx, testTenant, "HITL-00001")
	if err != nil {
		t.Fatalf("failed to get case: %v", err)
	}
	if got.Status != domain.CaseStatusPending {
		t.Errorf("expected PENDING, got %s", got.Status)
	}
	if got.ReviewedAt != nil {
		t.Error("unreviewed case should have nil reviewedAt")
	}

	review := &domain.HITLReview{ReviewerID: "analyst-1", Decision: domain.DecisionApprove, Notes: "verified with customer"}
	if err := repo.ApplyReview(ctx, testTenant, "HITL-00001", domain.CaseStatusApproved, review, time.Now().UTC()); err != nil {
		t.Fatalf("failed to apply review: %v", err)
	}

	got, err = repo.GetCase(ctx, testTenant, "HITL-00001")
	if err != nil {
		t.Fatalf("failed to get reviewed case: %v", err)
	}
	if got.Status != domain.CaseStatusApproved {
		t.Errorf("expected APPROVED, got %s", got.Status)
	}
	if got.ReviewerID != "analyst-1" || got.ReviewedAt == nil {
		t.Errorf("reviewer fields missing: %+v", got)
	}
}

func TestApplyReviewConflictAndNotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveCase(ctx, testTenant, testCase("HITL-00001")); err != nil {
		t.Fatalf("failed to save case: %v", err)
	}

	review := &domain.HITLReview{ReviewerID: "analyst-1", Decision: domain.DecisionApprove}
	if err := repo.ApplyReview(ctx, testTenant, "HITL-00001", domain.CaseStatusApproved, review, time.Now().UTC()); err != nil {
		t.Fatalf("first review should succeed: %v", err)
	}

	// Second review must observe the terminal state.
	err := repo.ApplyReview(ctx, testTenant, "HITL-00001", domain.CaseStatusRejected, review, time.Now().UTC())
	if !domain.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}

	err = repo.ApplyReview(ctx, testTenant, "HITL-99999", domain.CaseStatusApproved, review, time.Now().UTC())
	if !domain.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListCasesAndStatistics(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		c := testCase(fmt.Sprintf("HITL-%05d", i))
		if err := repo.SaveCase(ctx, testTenant, c); err != nil {
			t.Fatalf("failed to save case: %v", err)
		}
	}

	review := &domain.HITLReview{ReviewerID: "analyst-1", Decision: domain.DecisionApprove}
	if err := repo.ApplyReview(ctx, testTenant, "HITL-00002", domain.CaseStatusApproved, review, time.Now().UTC()); err != nil {
		t.Fatalf("failed to apply review: %v", err)
	}

	pending, err := repo.ListCases(ctx, testTenant, domain.CaseStatusPending)
	if err != nil {
		t.Fatalf("failed to list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending cases, got %d", len(pending))
	}

	all, err := repo.ListCases(ctx, testTenant, "")
	if err != nil {
		t.Fatalf("failed to list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 cases, got %d", len(all))
	}

	stats, err := repo.CaseStatistics(ctx, testTenant)
	if err != nil {
		t.Fatalf("failed to get statistics: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 2 || stats.Approved != 1 {
		t.Errorf("unexpected statistics: %+v", stats)
	}
}
