package domain

import (
	"time"
)

// Decision constants. These are the only values the arbiter emits and the
// only advisory values it accepts verbatim.
const (
	DecisionApprove   = "APPROVE"
	DecisionChallenge = "CHALLENGE"
	DecisionBlock     = "BLOCK"
	DecisionEscalate  = "ESCALATE_TO_HUMAN"
)

// ValidDecision reports whether d is one of the four decision constants.
func ValidDecision(d string) bool {
	switch d {
	case DecisionApprove, DecisionChallenge, DecisionBlock, DecisionEscalate:
		return true
	}
	return false
}

// RiskLevel is a coarse risk classification from a provider.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Weight maps a risk level to its numeric contribution.
// Unknown levels weigh as LOW.
func (r RiskLevel) Weight() float64 {
	switch r {
	case RiskMedium:
		return 0.5
	case RiskHigh:
		return 1.0
	default:
		return 0.0
	}
}

// CitationInternal references a policy fragment that supported a decision.
type CitationInternal struct {
	PolicyID string `json:"policyId"`
	Version  string `json:"version"`
	ChunkID  string `json:"chunkId"`
}

// CitationExternal references an external advisory source.
type CitationExternal struct {
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// MaxDecisionSignals caps the signals carried on a decision record.
const MaxDecisionSignals = 10

// DecisionRecord is the complete output of the decision pipeline for one
// transaction. It is both the API response body and the persisted form.
type DecisionRecord struct {
	TransactionID       string             `json:"transactionId"`
	TenantID            string             `json:"tenantId"`
	Decision            string             `json:"decision"`
	Confidence          float64            `json:"confidence"`
	RiskScore           float64            `json:"riskScore"`
	Signals             []string           `json:"signals"`
	CitationsInternal   []CitationInternal `json:"citationsInternal"`
	CitationsExternal   []CitationExternal `json:"citationsExternal"`
	AgentRoute          string             `json:"agentRoute"`
	ExplanationCustomer string             `json:"explanationCustomer"`
	ExplanationAudit    string             `json:"explanationAudit"`
	ProcessingTimeMs    int64              `json:"processingTimeMs"`
	CaseID              string             `json:"caseId,omitempty"`
	CreatedAt           time.Time          `json:"createdAt"`
}
