package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/hitl"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/providers"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const testTenant = "tenant-001"

type deps struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	validator *policy.Validator
	cases     *hitl.Manager
}

func newTestDeps(t *testing.T) *deps {
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

	ctx := context.Background()

	profile := &domain.CustomerProfile{
		CustomerID:     "cust-001",
		UsualAmountAvg: 100.0,
		UsualHours:     "08-20",
		UsualCountries: []string{"US"},
		UsualDevices:   []string{"dev-1"},
	}
	if err := repo.SaveProfile(ctx, testTenant, profile); err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}

	policies := []*domain.PolicyConfig{
		{ID: "FP-01", Rule: "high amount outside usual hours requires challenge", Version: "1.0.0", Enabled: true},
		{ID: "FP-02", Rule: "new device requires review", Version: "1.0.0", Enabled: true},
	}
	for _, pol := range policies {
		if err := repo.SavePolicy(ctx, testTenant, pol); err != nil {
			t.Fatalf("failed to seed policy: %v", err)
		}
	}

	return &deps{
		repo:      repo,
		cache:     cache.NewLRUCache(100),
		bus:       b,
		validator: validator,
		cases:     hitl.NewManager(repo, b),
	}
}

func (d *deps) processor() *Processor {
	return NewProcessor(
		d.repo, d.cache, d.bus, d.validator, d.cases,
		providers.NewHeuristicContext(nil),
		providers.NewRepositoryPolicySearch(d.repo),
		providers.NewStaticThreatIntel(d.cache),
		providers.NewRuleDebate(),
	)
}

func testTx(id string, hour int, amount float64, device, country, merchant string) *domain.Transaction {
	return &domain.Transaction{
		ID:         id,
		CustomerID: "cust-001",
		Amount:     amount,
		Currency:   "USD",
		Country:    country,
		Channel:    domain.ChannelWeb,
		DeviceID:   device,
		MerchantID: merchant,
		Timestamp:  time.Date(2026, 1, 5, hour, 0, 0, 0, time.UTC),
	}
}

func TestProcessHabitualTransaction(t *testing.T) {
	p := newTestDeps(t).processor()

	rec, err := p.Process(context.Background(), testTenant, testTx("tx-001", 12, 90, "dev-1", "US", "M-001"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if rec.Decision != domain.DecisionApprove {
		t.Errorf("expected APPROVE, got %s", rec.Decision)
	}
	if rec.Confidence != 0.90 {
		t.Errorf("expected confidence 0.90, got %.2f", rec.Confidence)
	}
	if rec.RiskScore != 0.0 {
		t.Errorf("expected risk 0, got %.3f", rec.RiskScore)
	}
	if rec.CaseID != "" {
		t.Errorf("unexpected review case %s", rec.CaseID)
	}
	if !strings.Contains(rec.AgentRoute, "arbiter") {
		t.Errorf("route incomplete: %s", rec.AgentRoute)
	}
}

func TestProcessHighAmountInHours(t *testing.T) {
	p := newTestDeps(t).processor()

	rec, err := p.Process(context.Background(), testTenant, testTx("tx-002", 12, 600, "dev-1", "US", "M-001"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// High amount alone on a known device, country and hour floors the
	// risk into the challenge band.
	if rec.Decision != domain.DecisionChallenge {
		t.Errorf("expected CHALLENGE, got %s", rec.Decision)
	}
	if rec.Confidence != 0.70 {
		t.Errorf("expected confidence 0.70, got %.2f", rec.Confidence)
	}
	if rec.RiskScore != 0.40 {
		t.Errorf("expected risk 0.40, got %.3f", rec.RiskScore)
	}
	if len(rec.CitationsInternal) != 0 {
		t.Errorf("no policies should apply in usual hours: %+v", rec.CitationsInternal)
	}
}

func TestProcessHostileTransaction(t *testing.T) {
	p := newTestDeps(t).processor()

	rec, err := p.Process(context.Background(), testTenant, testTx("tx-003", 2, 600, "dev-9", "BR", "M-002"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if rec.Decision != domain.DecisionBlock {
		t.Errorf("expected BLOCK, got %s", rec.Decision)
	}
	if rec.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %.2f", rec.Confidence)
	}
	if rec.RiskScore < 0.75 {
		t.Errorf("expected risk at least 0.75, got %.3f", rec.RiskScore)
	}

	// Both built-in policies apply: high amount off hours, new device and
	// new country.
	if len(rec.CitationsInternal) != 2 {
		t.Errorf("expected 2 internal citations, got %+v", rec.CitationsInternal)
	}
	if len(rec.CitationsExternal) == 0 {
		t.Error("expected external citations from threat intel")
	}

	// External citations with high risk open a review case even on a
	// confident block.
	if rec.CaseID == "" {
		t.Error("expected a review case")
	}

	c, err := newCaseLookup(t, p).GetCase(context.Background(), testTenant, rec.CaseID)
	if err != nil {
		t.Fatalf("failed to load case: %v", err)
	}
	if c.Status != domain.CaseStatusPending {
		t.Errorf("expected PENDING case, got %s", c.Status)
	}
}

func newCaseLookup(t *testing.T, p *Processor) *hitl.Manager {
	t.Helper()
	return p.cases
}

func TestProcessNoHistoryDegrades(t *testing.T) {
	p := newTestDeps(t).processor()

	tx := testTx("tx-004", 12, 90, "dev-1", "US", "M-001")
	tx.CustomerID = "cust-unknown"

	rec, err := p.Process(context.Background(), testTenant, tx)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	found := false
	for _, s := range rec.Signals {
		if strings.Contains(s, "insufficient customer history") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected degraded history signal, got %v", rec.Signals)
	}
}

func TestProcessPersistsDecision(t *testing.T) {
	d := newTestDeps(t)
	p := d.processor()

	rec, err := p.Process(context.Background(), testTenant, testTx("tx-005", 12, 90, "dev-1", "US", "M-001"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	stored, err := d.repo.GetDecision(context.Background(), testTenant, "tx-005")
	if err != nil {
		t.Fatalf("failed to load decision: %v", err)
	}
	if stored.Decision != rec.Decision || stored.RiskScore != rec.RiskScore {
		t.Errorf("stored decision differs: %+v vs %+v", stored, rec)
	}

	if _, err := d.repo.GetTransaction(context.Background(), testTenant, "tx-005"); err != nil {
		t.Errorf("transaction not persisted: %v", err)
	}
}

func TestProcessPublishesDecisionEvent(t *testing.T) {
	d := newTestDeps(t)
	p := d.processor()
	ctx := context.Background()

	events := make(chan *domain.Message, 1)
	sub, err := d.bus.Subscribe(ctx, testTenant, domain.TopicDecisionCompleted, func(ctx context.Context, msg *domain.Message) error {
		events <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := p.Process(ctx, testTenant, testTx("tx-006", 12, 90, "dev-1", "US", "M-001")); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Error("decision event not published")
	}
}

func TestProcessRejectsInvalidTransaction(t *testing.T) {
	p := newTestDeps(t).processor()

	tx := testTx("tx-007", 12, -5, "dev-1", "US", "M-001")
	_, err := p.Process(context.Background(), testTenant, tx)
	if !domain.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

type malformedDebate struct{}

func (malformedDebate) Propose(ctx context.Context, dossier *domain.Dossier) (string, error) {
	return "definitely block this one", nil
}

func TestProcessMalformedAdvisoryFallsBack(t *testing.T) {
	d := newTestDeps(t)
	p := NewProcessor(
		d.repo, d.cache, d.bus, d.validator, d.cases,
		providers.NewHeuristicContext(nil),
		providers.NewRepositoryPolicySearch(d.repo),
		providers.NewStaticThreatIntel(d.cache),
		malformedDebate{},
	)

	rec, err := p.Process(context.Background(), testTenant, testTx("tx-008", 12, 600, "dev-1", "US", "M-001"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// Prose advisory is discarded; the ladder decides from the risk score.
	if rec.Decision != domain.DecisionChallenge {
		t.Errorf("expected CHALLENGE from ladder, got %s", rec.Decision)
	}
	if !strings.Contains(rec.ExplanationAudit, "risk ladder") {
		t.Errorf("audit should note the ladder fallback: %s", rec.ExplanationAudit)
	}
}

type failingContext struct{}

func (failingContext) Analyze(ctx context.Context, tx *domain.Transaction, profile *domain.CustomerProfile) (*domain.ContextReport, error) {
	return nil, &domain.ProviderError{Provider: "context", Err: fmt.Errorf("upstream timeout")}
}

func TestProcessContainsProviderFailure(t *testing.T) {
	d := newTestDeps(t)
	p := NewProcessor(
		d.repo, d.cache, d.bus, d.validator, d.cases,
		failingContext{},
		providers.NewRepositoryPolicySearch(d.repo),
		providers.NewStaticThreatIntel(d.cache),
		providers.NewRuleDebate(),
	)

	rec, err := p.Process(context.Background(), testTenant, testTx("tx-009", 12, 90, "dev-1", "US", "M-001"))
	if err != nil {
		t.Fatalf("provider failure must not surface as error: %v", err)
	}

	if rec.Decision != domain.DecisionEscalate {
		t.Errorf("expected ESCALATE_TO_HUMAN, got %s", rec.Decision)
	}
	if rec.Confidence != 0.0 {
		t.Errorf("expected zero confidence, got %.2f", rec.Confidence)
	}
	if rec.CaseID == "" {
		t.Error("expected a review case for the contained failure")
	}

	found := false
	for _, s := range rec.Signals {
		if strings.Contains(s, "context provider failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected diagnostic signal, got %v", rec.Signals)
	}
}
