// Package pipeline orchestrates the decision flow for a transaction:
// context signals, behavioral scoring, policy validation, threat intel,
// the advisory debate, evidence aggregation and the final arbiter verdict.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/arbiter"
	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evidence"
	"github.com/opensource-finance/kestrel/internal/hitl"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// profileTTL bounds how long a customer profile is served from cache.
const profileTTL = 10 * time.Minute

// Processor runs the decision pipeline.
type Processor struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	validator *policy.Validator
	cases     *hitl.Manager

	contextProvider domain.ContextSignalProvider
	policyProvider  domain.PolicyLookupProvider
	threatProvider  domain.ThreatIntelProvider
	debateProvider  domain.DebateArbiterProvider

	tracer trace.Tracer
}

// NewProcessor wires the pipeline. Cache and bus are optional; the four
// providers, the repository, the validator and the case manager are not.
func NewProcessor(
	repo domain.Repository,
	c domain.Cache,
	b domain.EventBus,
	validator *policy.Validator,
	cases *hitl.Manager,
	contextProvider domain.ContextSignalProvider,
	policyProvider domain.PolicyLookupProvider,
	threatProvider domain.ThreatIntelProvider,
	debateProvider domain.DebateArbiterProvider,
) *Processor {
	return &Processor{
		repo:            repo,
		cache:           c,
		bus:             b,
		validator:       validator,
		cases:           cases,
		contextProvider: contextProvider,
		policyProvider:  policyProvider,
		threatProvider:  threatProvider,
		debateProvider:  debateProvider,
		tracer:          otel.Tracer("kestrel-pipeline"),
	}
}

// Process runs the full pipeline for a transaction and returns the decision
// record. Provider failures never surface as errors: the pipeline contains
// them into an escalation with zero confidence. Only validation and
// persistence failures are returned to the caller.
func (p *Processor) Process(ctx context.Context, tenantID string, tx *domain.Transaction) (*domain.DecisionRecord, error) {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("transaction.id", tx.ID),
		),
	)
	defer span.End()

	if err := tx.Validate(); err != nil {
		return nil, err
	}
	tx.TenantID = tenantID

	if err := p.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	route := []string{"context"}
	profile := p.loadProfile(ctx, tenantID, tx.CustomerID)

	contextReport, err := p.contextProvider.Analyze(ctx, tx, profile)
	if err != nil {
		return p.contain(ctx, tenantID, tx, route, start, providerError("context", err))
	}

	route = append(route, "behavior")
	assessment, err := behavior.Analyze(tx, profile)
	if err != nil {
		// A malformed profile degrades the assessment instead of failing.
		slog.Warn("behavioral analysis degraded",
			"tenant_id", tenantID,
			"customer_id", tx.CustomerID,
			"error", err,
		)
		assessment, _ = behavior.Analyze(tx, nil)
	}

	route = append(route, "policy")
	hits, err := p.policyProvider.Search(ctx, tx)
	if err != nil {
		return p.contain(ctx, tenantID, tx, route, start, providerError("policy", err))
	}

	var applied []string
	if assessment.Metrics != nil {
		suggested := make([]string, 0, len(hits))
		for _, h := range hits {
			suggested = append(suggested, h.PolicyID)
		}
		applied = p.validator.Filter(suggested, assessment.Metrics)
	}

	policyNotes := make([]string, 0, len(applied))
	for _, id := range applied {
		policyNotes = append(policyNotes, fmt.Sprintf("matched policy %s", id))
	}

	route = append(route, "threat")
	threatReport, err := p.threatProvider.Lookup(ctx, tenantID, tx.MerchantID)
	if err != nil {
		return p.contain(ctx, tenantID, tx, route, start, providerError("threat", err))
	}

	route = append(route, "debate")
	advisory, err := p.debateProvider.Propose(ctx, &domain.Dossier{
		Transaction:     tx,
		Signals:         contextReport.Signals,
		RiskLevel:       contextReport.RiskLevel,
		BehavioralScore: assessment.Score,
		AppliedPolicies: applied,
		ExternalRisk:    threatReport.ExternalRiskLevel,
	})
	if err != nil {
		return p.contain(ctx, tenantID, tx, route, start, providerError("debate", err))
	}

	route = append(route, "evidence")
	ev := evidence.Aggregate(evidence.Input{
		ContextSignals:  contextReport.Signals,
		RiskLevel:       contextReport.RiskLevel,
		Behavioral:      assessment,
		AppliedPolicies: applied,
		PolicyNotes:     policyNotes,
		ThreatAlerts:    threatReport.Alerts,
		ExternalRisk:    threatReport.ExternalRiskLevel,
	})

	route = append(route, "arbiter")
	outcome := arbiter.Decide(ev.RiskScore, advisory)

	span.SetAttributes(
		attribute.String("decision", outcome.Decision),
		attribute.Float64("risk_score", ev.RiskScore),
	)

	rec := &domain.DecisionRecord{
		TransactionID:       tx.ID,
		TenantID:            tenantID,
		Decision:            outcome.Decision,
		Confidence:          outcome.Confidence,
		RiskScore:           ev.RiskScore,
		Signals:             capSignals(ev.Signals),
		CitationsInternal:   internalCitations(hits, applied),
		CitationsExternal:   threatReport.Citations,
		AgentRoute:          strings.Join(route, " → "),
		ExplanationCustomer: arbiter.CustomerExplanation(outcome.Decision),
		ExplanationAudit:    arbiter.AuditExplanation(outcome, ev, applied),
		CreatedAt:           time.Now().UTC(),
	}

	if arbiter.NeedsReview(outcome, ev.RiskScore, len(rec.CitationsExternal)) {
		c, err := p.cases.CreateCase(ctx, tenantID, rec)
		if err != nil {
			slog.Error("failed to open review case",
				"tenant_id", tenantID,
				"transaction_id", tx.ID,
				"error", err,
			)
		} else {
			rec.CaseID = c.CaseID
		}
	}

	rec.ProcessingTimeMs = time.Since(start).Milliseconds()

	if err := p.repo.SaveDecision(ctx, tenantID, rec); err != nil {
		return nil, fmt.Errorf("failed to save decision: %w", err)
	}

	p.publishDecision(ctx, tenantID, rec)
	return rec, nil
}

// loadProfile fetches the customer profile, cache first. A missing profile
// is not an error; the pipeline degrades to a neutral behavioral score.
func (p *Processor) loadProfile(ctx context.Context, tenantID, customerID string) *domain.CustomerProfile {
	if p.cache != nil {
		profile, err := p.cache.GetProfile(ctx, tenantID, customerID)
		if err == nil && profile != nil {
			return profile
		}
	}

	profile, err := p.repo.GetProfile(ctx, tenantID, customerID)
	if err != nil {
		if !domain.IsNotFound(err) {
			slog.Warn("profile lookup failed",
				"tenant_id", tenantID,
				"customer_id", customerID,
				"error", err,
			)
		}
		return nil
	}

	if p.cache != nil {
		_ = p.cache.SetProfile(ctx, tenantID, customerID, profile, profileTTL)
	}
	return profile
}

// contain turns a provider failure into an escalation decision instead of
// an error. The transaction still gets a persisted, reviewable outcome.
func (p *Processor) contain(ctx context.Context, tenantID string, tx *domain.Transaction, route []string, start time.Time, perr *domain.ProviderError) (*domain.DecisionRecord, error) {
	slog.Error("provider failed, containing into escalation",
		"tenant_id", tenantID,
		"transaction_id", tx.ID,
		"provider", perr.Provider,
		"error", perr.Err,
	)

	outcome := arbiter.Outcome{
		Decision:   domain.DecisionEscalate,
		Confidence: 0.0,
	}

	rec := &domain.DecisionRecord{
		TransactionID: tx.ID,
		TenantID:      tenantID,
		Decision:      outcome.Decision,
		Confidence:    outcome.Confidence,
		RiskScore:     0.0,
		Signals: []string{
			fmt.Sprintf("analysis incomplete: %s provider failed, escalating to human review", perr.Provider),
		},
		CitationsInternal:   []domain.CitationInternal{},
		CitationsExternal:   []domain.CitationExternal{},
		AgentRoute:          strings.Join(route, " → "),
		ExplanationCustomer: arbiter.CustomerExplanation(outcome.Decision),
		ExplanationAudit:    fmt.Sprintf("Decision %s: %s provider failed during analysis. Escalated with zero confidence.", outcome.Decision, perr.Provider),
		CreatedAt:           time.Now().UTC(),
	}

	c, err := p.cases.CreateCase(ctx, tenantID, rec)
	if err != nil {
		slog.Error("failed to open review case for contained failure",
			"tenant_id", tenantID,
			"transaction_id", tx.ID,
			"error", err,
		)
	} else {
		rec.CaseID = c.CaseID
	}

	rec.ProcessingTimeMs = time.Since(start).Milliseconds()

	if err := p.repo.SaveDecision(ctx, tenantID, rec); err != nil {
		return nil, fmt.Errorf("failed to save decision: %w", err)
	}

	p.publishDecision(ctx, tenantID, rec)
	return rec, nil
}

func (p *Processor) publishDecision(ctx context.Context, tenantID string, rec *domain.DecisionRecord) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("failed to marshal decision event", "transaction_id", rec.TransactionID, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, tenantID, domain.TopicDecisionCompleted, payload); err != nil {
		slog.Warn("failed to publish decision event",
			"transaction_id", rec.TransactionID,
			"error", err,
		)
	}
}

func providerError(provider string, err error) *domain.ProviderError {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return &domain.ProviderError{Provider: provider, Err: err}
}

func capSignals(signals []string) []string {
	if len(signals) > domain.MaxDecisionSignals {
		return signals[:domain.MaxDecisionSignals]
	}
	if signals == nil {
		return []string{}
	}
	return signals
}

func internalCitations(hits []domain.PolicyHit, applied []string) []domain.CitationInternal {
	appliedSet := make(map[string]bool, len(applied))
	for _, id := range applied {
		appliedSet[id] = true
	}

	citations := make([]domain.CitationInternal, 0, len(applied))
	for _, h := range hits {
		if !appliedSet[h.PolicyID] {
			continue
		}
		citations = append(citations, domain.CitationInternal{
			PolicyID: h.PolicyID,
			Version:  h.Version,
			ChunkID:  h.ChunkID,
		})
	}
	return citations
}
