package behavior

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Score returned when no profile exists and the assessment degrades.
const degradedScore = 0.5

// Assessment is the full behavioral evaluation of a transaction.
// Degraded assessments (no customer history) carry a neutral score,
// a single signal and no formula trace.
type Assessment struct {
	Metrics   *Metrics `json:"metrics,omitempty"`
	Score     float64  `json:"score"`
	Anomalies []string `json:"anomalies"`
	Formula   []string `json:"formula,omitempty"`
	Degraded  bool     `json:"degraded"`
	Signals   []string `json:"signals,omitempty"`
}

// Analyze computes metrics and the behavioral score for a transaction.
// A nil profile yields a degraded assessment instead of an error.
func Analyze(tx *domain.Transaction, profile *domain.CustomerProfile) (*Assessment, error) {
	if profile == nil {
		return &Assessment{
			Score:    degradedScore,
			Degraded: true,
			Signals:  []string{"insufficient customer history for behavioral analysis"},
		}, nil
	}

	m, err := ComputeMetrics(tx, profile)
	if err != nil {
		return nil, err
	}

	a := &Assessment{Metrics: m, Score: 1.0}
	a.Formula = append(a.Formula, "start 1.00")

	switch {
	case m.AmountRatio > 5.0:
		a.penalize(0.4, fmt.Sprintf("unusually high amount (%.1fx usual average)", m.AmountRatio))
	case m.AmountRatio > 3.0:
		a.penalize(0.2, fmt.Sprintf("amount well above usual average (%.1fx)", m.AmountRatio))
	case m.AmountRatio > 2.0:
		a.penalize(0.1, fmt.Sprintf("elevated amount (%.1fx usual average)", m.AmountRatio))
	}

	if !m.InUsualHours {
		switch {
		case m.HourDeviation > 6:
			a.penalize(0.5, fmt.Sprintf("atypical hour, %dh outside usual window", m.HourDeviation))
		case m.HourDeviation > 3:
			a.penalize(0.4, fmt.Sprintf("atypical hour, %dh outside usual window", m.HourDeviation))
		default:
			a.penalize(0.3, "atypical hour for this customer")
		}
	}

	if !m.UsualDevice {
		a.penalize(0.25, "unknown device for this customer")
	}

	if !m.UsualCountry {
		a.penalize(0.3, "different country from usual")
	}

	// A transaction outside usual hours can never look fully habitual.
	if !m.InUsualHours && a.Score > 0.60 {
		a.Score = 0.60
		a.Formula = append(a.Formula, "cap 0.60 (outside usual hours)")
	}

	if a.Score < 0 {
		a.Score = 0
	}
	if a.Score > 1 {
		a.Score = 1
	}

	return a, nil
}

func (a *Assessment) penalize(amount float64, anomaly string) {
	a.Score -= amount
	a.Anomalies = append(a.Anomalies, anomaly)
	a.Formula = append(a.Formula, fmt.Sprintf("-%.2f %s", amount, anomaly))
}
