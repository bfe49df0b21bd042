// Package evidence aggregates signals from every analysis stage into a
// single risk score.
package evidence

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Evidence weights for the base score.
const (
	weightContextRisk  = 0.30
	weightBehavioral   = 0.30
	weightExternalRisk = 0.15
	weightPerPolicy    = 0.25
	maxPolicyWeight    = 0.25
)

// Input carries the outputs of the upstream analysis stages.
type Input struct {
	ContextSignals  []string
	RiskLevel       domain.RiskLevel
	Behavioral      *behavior.Assessment
	AppliedPolicies []string
	PolicyNotes     []string
	ThreatAlerts    []string
	ExternalRisk    domain.RiskLevel
}

// Flags are keyword-derived booleans over the combined signal text.
type Flags struct {
	HighAmount       bool `json:"highAmount"`
	LowAmount        bool `json:"lowAmount"`
	NewDevice        bool `json:"newDevice"`
	UnusualTime      bool `json:"unusualTime"`
	DifferentCountry bool `json:"differentCountry"`
}

// Result is the aggregated evidence for a transaction.
type Result struct {
	RiskScore float64  `json:"riskScore"`
	Signals   []string `json:"signals"`
	Flags     Flags    `json:"flags"`
	RedFlags  int      `json:"redFlags"`
	Factors   []string `json:"factors"`
}

// Keyword tables for signal flag extraction. Matching is a lowercase
// substring check over the joined signal text.
var (
	highAmountKeywords = []string{
		"unusually high amount",
		"very high amount",
		"elevated amount",
		"amount well above",
	}
	lowAmountKeywords = []string{
		"low amount",
		"unusually low amount",
	}
	newDeviceKeywords = []string{
		"new device",
		"unknown device",
		"unrecognized device",
	}
	unusualTimeKeywords = []string{
		"atypical hour",
		"unusual hour",
		"outside usual hours",
	}
	differentCountryKeywords = []string{
		"different country",
		"unusual country",
		"foreign country",
	}
)

// Aggregate unions the stage signals, computes the weighted base score,
// applies the escalation cascade and clamps the result to [0, 1].
func Aggregate(in Input) Result {
	res := Result{}
	res.Signals = collectSignals(in)
	res.Flags = extractFlags(res.Signals)

	behavioralScore := 0.5
	if in.Behavioral != nil {
		behavioralScore = in.Behavioral.Score
	}

	contextPart := in.RiskLevel.Weight() * weightContextRisk
	behaviorPart := (1.0 - behavioralScore) * weightBehavioral
	externalPart := in.ExternalRisk.Weight() * weightExternalRisk
	policyPart := weightPerPolicy * float64(len(in.AppliedPolicies))
	if policyPart > maxPolicyWeight {
		policyPart = maxPolicyWeight
	}

	score := contextPart + behaviorPart + externalPart + policyPart
	res.Factors = append(res.Factors,
		fmt.Sprintf("context risk %s contributes %.3f", in.RiskLevel, contextPart),
		fmt.Sprintf("behavioral score %.2f contributes %.3f", behavioralScore, behaviorPart),
		fmt.Sprintf("external risk %s contributes %.3f", in.ExternalRisk, externalPart),
		fmt.Sprintf("%d applied policies contribute %.3f", len(in.AppliedPolicies), policyPart),
	)

	score = applyCascade(score, &res, behavioralScore, len(in.AppliedPolicies), in.ExternalRisk)

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	res.RiskScore = score

	return res
}

// collectSignals builds the order-preserving, first-occurrence dedup union
// of signals from context, behavior, policy and threat intel.
func collectSignals(in Input) []string {
	var all []string
	all = append(all, in.ContextSignals...)
	if in.Behavioral != nil {
		all = append(all, in.Behavioral.Signals...)
		all = append(all, in.Behavioral.Anomalies...)
	}
	all = append(all, in.PolicyNotes...)
	all = append(all, in.ThreatAlerts...)

	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, s := range all {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func extractFlags(signals []string) Flags {
	text := strings.ToLower(strings.Join(signals, " | "))
	return Flags{
		HighAmount:       containsAny(text, highAmountKeywords),
		LowAmount:        containsAny(text, lowAmountKeywords),
		NewDevice:        containsAny(text, newDeviceKeywords),
		UnusualTime:      containsAny(text, unusualTimeKeywords),
		DifferentCountry: containsAny(text, differentCountryKeywords),
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// applyCascade runs the fixed-order floor and cap rules over the base score.
func applyCascade(score float64, res *Result, behavioralScore float64, policyCount int, externalRisk domain.RiskLevel) float64 {
	f := res.Flags

	if f.UnusualTime && !f.LowAmount && score < 0.40 {
		score = 0.40
		res.Factors = append(res.Factors, "floor 0.40: unusual time without low amount")
	}

	if f.HighAmount && !f.NewDevice && !f.DifferentCountry && score < 0.40 {
		score = 0.40
		res.Factors = append(res.Factors, "floor 0.40: high amount on known device and country")
	}

	if f.NewDevice && f.HighAmount && (f.DifferentCountry || f.UnusualTime) && score < 0.60 {
		score = 0.60
		res.Factors = append(res.Factors, "floor 0.60: new device with high amount and unusual context")
	}

	if f.DifferentCountry && f.HighAmount && score < 0.60 {
		score = 0.60
		res.Factors = append(res.Factors, "floor 0.60: high amount from different country")
	}

	res.RedFlags = countRedFlags(f, behavioralScore, policyCount, externalRisk)
	if res.RedFlags >= 3 && score < 0.75 {
		score = 0.75
		res.Factors = append(res.Factors, fmt.Sprintf("floor 0.75: %d red flags", res.RedFlags))
	}

	minorOnly := (f.LowAmount || f.NewDevice || f.UnusualTime) &&
		!f.HighAmount && !f.DifferentCountry && policyCount == 0
	if minorOnly && score > 0.45 {
		score = 0.45
		res.Factors = append(res.Factors, "cap 0.45: minor indicators only")
	}

	return score
}

func countRedFlags(f Flags, behavioralScore float64, policyCount int, externalRisk domain.RiskLevel) int {
	count := 0
	if f.NewDevice && f.HighAmount {
		count++
	}
	if f.DifferentCountry {
		count++
	}
	if f.UnusualTime && f.HighAmount {
		count++
	}
	if f.HighAmount && behavioralScore < 0.5 {
		count++
	}
	if policyCount >= 2 {
		count++
	}
	if externalRisk == domain.RiskHigh && f.HighAmount {
		count++
	}
	return count
}
