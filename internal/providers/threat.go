package providers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// threatCacheTTL bounds how long a merchant lookup is served from cache.
const threatCacheTTL = 15 * time.Minute

// StaticThreatIntel serves threat intelligence from a built-in merchant
// table, fronted by the shared cache when one is wired. It stands in for
// an external feed in the Community tier.
type StaticThreatIntel struct {
	cache   domain.Cache
	entries map[string]domain.ThreatReport
}

// NewStaticThreatIntel creates the default threat intelligence provider.
// The cache is optional.
func NewStaticThreatIntel(c domain.Cache) *StaticThreatIntel {
	return &StaticThreatIntel{
		cache:   c,
		entries: defaultThreatEntries(),
	}
}

func defaultThreatEntries() map[string]domain.ThreatReport {
	return map[string]domain.ThreatReport{
		"M-002": {
			Alerts: []string{
				"merchant reported in recent carding campaign",
				"chargeback rate above network threshold",
			},
			ExternalRiskLevel: domain.RiskHigh,
			Citations: []domain.CitationExternal{
				{
					URL:     "https://threatfeed.opensource.finance/merchants/M-002",
					Summary: "merchant flagged by two issuing banks in the last 30 days",
				},
			},
		},
		"M-999": {
			Alerts: []string{
				"elevated dispute volume reported for this merchant",
			},
			ExternalRiskLevel: domain.RiskMedium,
			Citations:         []domain.CitationExternal{},
		},
	}
}

// Lookup returns the threat report for a merchant. Unknown merchants get a
// clean LOW report rather than an error.
func (p *StaticThreatIntel) Lookup(ctx context.Context, tenantID string, merchantID string) (*domain.ThreatReport, error) {
	if merchantID == "" {
		return cleanReport(), nil
	}

	cacheKey := "threat:" + merchantID

	if p.cache != nil {
		data, err := p.cache.Get(ctx, tenantID, cacheKey)
		if err != nil {
			slog.Warn("threat cache read failed", "merchant_id", merchantID, "error", err)
		} else if data != nil {
			var report domain.ThreatReport
			if err := json.Unmarshal(data, &report); err == nil {
				return &report, nil
			}
		}
	}

	report, ok := p.entries[merchantID]
	if !ok {
		report = *cleanReport()
	}

	if p.cache != nil {
		if data, err := json.Marshal(report); err == nil {
			_ = p.cache.Set(ctx, tenantID, cacheKey, data, threatCacheTTL)
		}
	}

	return &report, nil
}

func cleanReport() *domain.ThreatReport {
	return &domain.ThreatReport{
		Alerts:            []string{},
		ExternalRiskLevel: domain.RiskLow,
		Citations:         []domain.CitationExternal{},
	}
}
