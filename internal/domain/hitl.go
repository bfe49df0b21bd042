package domain

import (
	"time"
)

// HITL case statuses. PENDING is the only state a review can act on;
// every other state is terminal.
const (
	CaseStatusPending  = "PENDING"
	CaseStatusApproved = "APPROVED"
	CaseStatusRejected = "REJECTED"
	CaseStatusInReview = "IN_REVIEW"
)

// ValidCaseStatus reports whether s is a known case status.
func ValidCaseStatus(s string) bool {
	switch s {
	case CaseStatusPending, CaseStatusApproved, CaseStatusRejected, CaseStatusInReview:
		return true
	}
	return false
}

// HITLCase is a human-in-the-loop review case opened when the arbiter
// escalates a decision.
type HITLCase struct {
	CaseID                 string             `json:"caseId"`
	TenantID               string             `json:"tenantId"`
	TransactionID          string             `json:"transactionId"`
	DecisionRecommendation string             `json:"decisionRecommendation"`
	Confidence             float64            `json:"confidence"`
	Signals                []string           `json:"signals"`
	CitationsInternal      []CitationInternal `json:"citationsInternal"`
	CitationsExternal      []CitationExternal `json:"citationsExternal"`
	AgentRoute             string             `json:"agentRoute"`
	Status                 string             `json:"status"`
	CreatedAt              time.Time          `json:"createdAt"`
	CreatedBy              string             `json:"createdBy"`

	ReviewerID       string     `json:"reviewerId,omitempty"`
	ReviewerDecision string     `json:"reviewerDecision,omitempty"`
	ReviewerNotes    string     `json:"reviewerNotes,omitempty"`
	ReviewedAt       *time.Time `json:"reviewedAt,omitempty"`
}

// HITLReview is a reviewer's verdict on a pending case.
type HITLReview struct {
	ReviewerID string `json:"reviewerId"`
	Decision   string `json:"decision"` // APPROVE, BLOCK, CHALLENGE, ESCALATE_TO_HUMAN
	Notes      string `json:"notes,omitempty"`
}

// HITLStatistics summarizes case volume by status.
type HITLStatistics struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	InReview int `json:"inReview"`
}
