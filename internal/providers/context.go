// Package providers contains the default implementations of the evidence
// gathering ports: context signals, policy lookup, threat intelligence,
// and the advisory debate.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

const (
	// burstThreshold is the transaction count within burstWindow that
	// qualifies as a rapid burst.
	burstThreshold = 5
	burstWindow    = 10 * time.Minute
)

// HeuristicContext derives contextual fraud signals by comparing the
// transaction against the customer profile and recent velocity.
type HeuristicContext struct {
	velocity *velocity.Service
}

// NewHeuristicContext creates the default context signal provider.
// The velocity service is optional.
func NewHeuristicContext(vel *velocity.Service) *HeuristicContext {
	return &HeuristicContext{velocity: vel}
}

// Analyze produces context signals for a transaction. A nil profile yields
// only profile-independent signals.
func (p *HeuristicContext) Analyze(ctx context.Context, tx *domain.Transaction, profile *domain.CustomerProfile) (*domain.ContextReport, error) {
	var signals []string

	if profile != nil {
		m, err := behavior.ComputeMetrics(tx, profile)
		if err != nil {
			return nil, &domain.ProviderError{Provider: "context", Err: err}
		}
		signals = append(signals, profileSignals(m)...)
	} else {
		signals = append(signals, "no customer history available")
	}

	if p.velocity != nil {
		count, err := p.velocity.Observe(ctx, tx.TenantID, tx.CustomerID, burstWindow)
		if err != nil {
			slog.Warn("velocity lookup failed",
				"tenant_id", tx.TenantID,
				"customer_id", tx.CustomerID,
				"error", err,
			)
		} else if count >= burstThreshold {
			signals = append(signals, fmt.Sprintf("rapid transaction burst (%d in %s)", count, burstWindow))
		}
	}

	return &domain.ContextReport{
		Signals:   signals,
		RiskLevel: riskFromSignalCount(len(signals)),
	}, nil
}

func profileSignals(m *behavior.Metrics) []string {
	var signals []string

	switch {
	case m.AmountRatio > 5:
		signals = append(signals, fmt.Sprintf("very high amount (%.1fx usual average)", m.AmountRatio))
	case m.AmountRatio > 3:
		signals = append(signals, fmt.Sprintf("unusually high amount (%.1fx usual average)", m.AmountRatio))
	case m.AmountRatio > 2:
		signals = append(signals, fmt.Sprintf("elevated amount (%.1fx usual average)", m.AmountRatio))
	case m.AmountRatio < 0.1:
		signals = append(signals, "unusually low amount compared to usual average")
	}

	if !m.InUsualHours {
		if m.HourDeviation > 3 {
			signals = append(signals, fmt.Sprintf("transaction outside usual hours (%dh from usual window)", m.HourDeviation))
		} else {
			signals = append(signals, "transaction outside usual hours")
		}
	}

	if !m.UsualDevice {
		signals = append(signals, "unrecognized device for this customer")
	}

	if !m.UsualCountry {
		signals = append(signals, "different country from usual")
	}

	return signals
}

func riskFromSignalCount(n int) domain.RiskLevel {
	switch {
	case n >= 3:
		return domain.RiskHigh
	case n >= 1:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
