// Package hitl manages human-in-the-loop review cases.
package hitl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// createdBy marks cases opened automatically by the decision pipeline.
const createdBy = "kestrel-pipeline"

// Manager owns the lifecycle of review cases: creation on escalation,
// listing for the review queue, and applying reviewer verdicts.
type Manager struct {
	repo domain.Repository
	bus  domain.EventBus
}

// NewManager creates a new HITL case manager. The bus is optional; without
// one, case events are simply not published.
func NewManager(repo domain.Repository, bus domain.EventBus) *Manager {
	return &Manager{repo: repo, bus: bus}
}

// CreateCase opens a PENDING case for a decision that needs human review.
// Case IDs are allocated from a per-tenant sequence so they are unique and
// human-readable.
func (m *Manager) CreateCase(ctx context.Context, tenantID string, rec *domain.DecisionRecord) (*domain.HITLCase, error) {
	seq, err := m.repo.NextCaseSequence(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate case id: %w", err)
	}

	c := &domain.HITLCase{
		CaseID:                 fmt.Sprintf("HITL-%05d", seq),
		TenantID:               tenantID,
		TransactionID:          rec.TransactionID,
		DecisionRecommendation: rec.Decision,
		Confidence:             rec.Confidence,
		Signals:                rec.Signals,
		CitationsInternal:      rec.CitationsInternal,
		CitationsExternal:      rec.CitationsExternal,
		AgentRoute:             rec.AgentRoute,
		Status:                 domain.CaseStatusPending,
		CreatedAt:              time.Now().UTC(),
		CreatedBy:              createdBy,
	}

	if err := m.repo.SaveCase(ctx, tenantID, c); err != nil {
		return nil, fmt.Errorf("failed to save case: %w", err)
	}

	m.publish(ctx, tenantID, domain.TopicCaseCreated, c)
	return c, nil
}

// GetCase retrieves a case by ID.
func (m *Manager) GetCase(ctx context.Context, tenantID, caseID string) (*domain.HITLCase, error) {
	return m.repo.GetCase(ctx, tenantID, caseID)
}

// ListCases returns cases, optionally filtered by status.
func (m *Manager) ListCases(ctx context.Context, tenantID, status string) ([]*domain.HITLCase, error) {
	if status != "" && !domain.ValidCaseStatus(status) {
		return nil, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return m.repo.ListCases(ctx, tenantID, status)
}

// PendingCases returns the open review queue.
func (m *Manager) PendingCases(ctx context.Context, tenantID string) ([]*domain.HITLCase, error) {
	return m.repo.ListCases(ctx, tenantID, domain.CaseStatusPending)
}

// Review applies a reviewer's verdict to a pending case. The reviewer
// decision maps onto a terminal case status; CHALLENGE and escalation both
// park the case IN_REVIEW for a senior pass. Reviewing a case twice fails
// with a conflict.
func (m *Manager) Review(ctx context.Context, tenantID, caseID string, review *domain.HITLReview) (*domain.HITLCase, error) {
	if review.ReviewerID == "" {
		return nil, &domain.ValidationError{Field: "reviewerId", Reason: "is required"}
	}
	if !domain.ValidDecision(review.Decision) {
		return nil, &domain.ValidationError{Field: "decision", Reason: fmt.Sprintf("unknown decision %q", review.Decision)}
	}

	newStatus := statusForDecision(review.Decision)
	reviewedAt := time.Now().UTC()

	if err := m.repo.ApplyReview(ctx, tenantID, caseID, newStatus, review, reviewedAt); err != nil {
		return nil, err
	}

	c, err := m.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}

	m.publish(ctx, tenantID, domain.TopicCaseReviewed, c)
	return c, nil
}

// Statistics summarizes case volume by status.
func (m *Manager) Statistics(ctx context.Context, tenantID string) (*domain.HITLStatistics, error) {
	return m.repo.CaseStatistics(ctx, tenantID)
}

func statusForDecision(decision string) string {
	switch decision {
	case domain.DecisionApprove:
		return domain.CaseStatusApproved
	case domain.DecisionBlock:
		return domain.CaseStatusRejected
	default:
		return domain.CaseStatusInReview
	}
}

func (m *Manager) publish(ctx context.Context, tenantID, topic string, c *domain.HITLCase) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(c)
	if err != nil {
		slog.Error("failed to marshal case event", "case_id", c.CaseID, "error", err)
		return
	}
	if err := m.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Warn("failed to publish case event",
			"case_id", c.CaseID,
			"topic", topic,
			"error", err,
		)
	}
}
