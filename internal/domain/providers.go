package domain

import (
	"context"
)

// ContextReport is the output of the context signal provider.
type ContextReport struct {
	Signals   []string  `json:"signals"`
	RiskLevel RiskLevel `json:"riskLevel"`
}

// ThreatReport is the output of the threat intelligence provider.
type ThreatReport struct {
	Alerts            []string           `json:"alerts"`
	ExternalRiskLevel RiskLevel          `json:"externalRiskLevel"`
	Citations         []CitationExternal `json:"citations"`
}

// Dossier bundles the evidence handed to the advisory arbiter provider.
type Dossier struct {
	Transaction     *Transaction `json:"transaction"`
	Signals         []string     `json:"signals"`
	RiskLevel       RiskLevel    `json:"riskLevel"`
	BehavioralScore float64      `json:"behavioralScore"`
	AppliedPolicies []string     `json:"appliedPolicies"`
	ExternalRisk    RiskLevel    `json:"externalRisk"`
}

// ContextSignalProvider derives contextual fraud signals from a transaction.
type ContextSignalProvider interface {
	Analyze(ctx context.Context, tx *Transaction, profile *CustomerProfile) (*ContextReport, error)
}

// PolicyLookupProvider retrieves policies relevant to a transaction.
type PolicyLookupProvider interface {
	Search(ctx context.Context, tx *Transaction) ([]PolicyHit, error)
}

// ThreatIntelProvider looks up external threat intelligence for a merchant.
type ThreatIntelProvider interface {
	Lookup(ctx context.Context, tenantID string, merchantID string) (*ThreatReport, error)
}

// DebateArbiterProvider proposes an advisory decision. Its output is a free
// string; the arbiter only honors it when it parses as a valid decision.
type DebateArbiterProvider interface {
	Propose(ctx context.Context, dossier *Dossier) (string, error)
}
