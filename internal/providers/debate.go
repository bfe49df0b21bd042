package providers

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RuleDebate proposes an advisory decision from the dossier using a fixed
// weighting. Its output is advisory only; the arbiter discards anything
// that does not parse as a known decision.
type RuleDebate struct{}

// NewRuleDebate creates the default advisory provider.
func NewRuleDebate() *RuleDebate {
	return &RuleDebate{}
}

// Propose weighs the dossier and returns one of the decision constants.
func (p *RuleDebate) Propose(ctx context.Context, dossier *domain.Dossier) (string, error) {
	score := 0.30*dossier.RiskLevel.Weight() +
		0.40*(1.0-dossier.BehavioralScore) +
		0.30*dossier.ExternalRisk.Weight()

	policyNudge := 0.05 * float64(len(dossier.AppliedPolicies))
	if policyNudge > 0.15 {
		policyNudge = 0.15
	}
	score += policyNudge

	switch {
	case score >= 0.70:
		return domain.DecisionBlock, nil
	case score >= 0.50:
		return domain.DecisionEscalate, nil
	case score >= 0.30:
		return domain.DecisionChallenge, nil
	default:
		return domain.DecisionApprove, nil
	}
}
