// Package arbiter turns an aggregated risk score and an advisory opinion
// into the final decision.
package arbiter

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evidence"
)

// Risk ladder thresholds. The ladder is the single source of truth for
// both the fallback decision and the confidence attached to any decision.
const (
	blockThreshold     = 0.75
	escalateThreshold  = 0.55
	challengeThreshold = 0.35
)

// Outcome is the arbiter's verdict for a transaction.
type Outcome struct {
	Decision         string  `json:"decision"`
	Confidence       float64 `json:"confidence"`
	AdvisoryAccepted bool    `json:"advisoryAccepted"`
}

// Decide maps the risk score to a decision, honoring the advisory opinion
// only when it is exactly one of the four decision constants. Malformed
// advisory output is not an error; the ladder decides instead.
func Decide(risk float64, advisory string) Outcome {
	ladderDecision, confidence := ladder(risk)

	if domain.ValidDecision(advisory) {
		return Outcome{
			Decision:         advisory,
			Confidence:       confidence,
			AdvisoryAccepted: true,
		}
	}

	return Outcome{
		Decision:   ladderDecision,
		Confidence: confidence,
	}
}

func ladder(risk float64) (string, float64) {
	switch {
	case risk >= blockThreshold:
		return domain.DecisionBlock, 0.95
	case risk >= escalateThreshold:
		return domain.DecisionEscalate, 0.75
	case risk >= challengeThreshold:
		return domain.DecisionChallenge, 0.70
	default:
		return domain.DecisionApprove, 0.90
	}
}

// NeedsReview reports whether the outcome requires a human review case.
func NeedsReview(o Outcome, risk float64, externalCitations int) bool {
	if o.Decision == domain.DecisionEscalate {
		return true
	}
	if o.Decision == domain.DecisionBlock && o.Confidence < 0.95 {
		return true
	}
	if o.Decision == domain.DecisionChallenge && risk > 0.5 {
		return true
	}
	if externalCitations > 0 && risk > 0.7 {
		return true
	}
	return false
}

// CustomerExplanation returns the short customer-facing sentence for a
// decision.
func CustomerExplanation(decision string) string {
	switch decision {
	case domain.DecisionApprove:
		return "Your transaction was approved."
	case domain.DecisionChallenge:
		return "We need to verify this transaction. Please confirm it through your usual authentication method."
	case domain.DecisionBlock:
		return "This transaction was declined for your security. Contact support if you believe this is an error."
	case domain.DecisionEscalate:
		return "Your transaction is under review. We will notify you shortly."
	default:
		return "Your transaction is being processed."
	}
}

// AuditExplanation builds the audit-trail narrative for a decision,
// listing the decision, the risk score, the strongest evidence factors,
// the applied policies and the confidence.
func AuditExplanation(o Outcome, ev evidence.Result, appliedPolicies []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Decision %s with risk score %.3f and confidence %.2f.", o.Decision, ev.RiskScore, o.Confidence)
	if o.AdvisoryAccepted {
		b.WriteString(" Advisory recommendation accepted.")
	} else {
		b.WriteString(" Decision derived from risk ladder.")
	}

	if len(ev.Factors) > 0 {
		b.WriteString(" Key factors: ")
		b.WriteString(strings.Join(topFactors(ev.Factors, 4), "; "))
		b.WriteString(".")
	}

	if len(appliedPolicies) > 0 {
		fmt.Fprintf(&b, " Applied policies: %s.", strings.Join(appliedPolicies, ", "))
	}

	if ev.RedFlags > 0 {
		fmt.Fprintf(&b, " Red flags observed: %d.", ev.RedFlags)
	}

	return b.String()
}

func topFactors(factors []string, n int) []string {
	if len(factors) <= n {
		return factors
	}
	// Cascade adjustments are appended after the base terms and carry the
	// most explanatory weight, so keep the tail.
	return factors[len(factors)-n:]
}
