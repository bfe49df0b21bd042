// Package behavior computes behavioral metrics and scores for transactions
// against a customer's habitual profile.
package behavior

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Metrics is the deterministic comparison of a transaction against a
// customer profile.
type Metrics struct {
	AmountRatio   float64 `json:"amountRatio"`
	Hour          int     `json:"hour"`
	InUsualHours  bool    `json:"inUsualHours"`
	HourDeviation int     `json:"hourDeviation"`
	UsualDevice   bool    `json:"usualDevice"`
	UsualCountry  bool    `json:"usualCountry"`
	IsWeekend     bool    `json:"isWeekend"`
	Amount        float64 `json:"amount"`
}

// ComputeMetrics derives metrics from a transaction and profile.
// The profile must have a positive usual amount average and a well-formed
// "HH-HH" usual hours range.
func ComputeMetrics(tx *domain.Transaction, profile *domain.CustomerProfile) (*Metrics, error) {
	if profile.UsualAmountAvg <= 0 {
		return nil, &domain.ValidationError{Field: "usualAmountAvg", Reason: "must be positive"}
	}

	start, end, err := parseHours(profile.UsualHours)
	if err != nil {
		return nil, err
	}

	hour := tx.Timestamp.Hour()
	inHours := hour >= start && hour <= end

	deviation := 0
	if hour < start {
		deviation = start - hour
	} else if hour > end {
		deviation = hour - end
	}

	weekday := tx.Timestamp.Weekday()

	return &Metrics{
		AmountRatio:   tx.Amount / profile.UsualAmountAvg,
		Hour:          hour,
		InUsualHours:  inHours,
		HourDeviation: deviation,
		UsualDevice:   profile.HasDevice(tx.DeviceID),
		UsualCountry:  profile.HasCountry(tx.Country),
		IsWeekend:     weekday == time.Saturday || weekday == time.Sunday,
		Amount:        tx.Amount,
	}, nil
}

// parseHours parses an "HH-HH" range like "08-20" into start and end hours.
func parseHours(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, &domain.ValidationError{Field: "usualHours", Reason: fmt.Sprintf("malformed range %q", s)}
	}

	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, &domain.ValidationError{Field: "usualHours", Reason: fmt.Sprintf("malformed range %q", s)}
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, &domain.ValidationError{Field: "usualHours", Reason: fmt.Sprintf("malformed range %q", s)}
	}

	if start < 0 || start > 23 || end < 0 || end > 23 {
		return 0, 0, &domain.ValidationError{Field: "usualHours", Reason: fmt.Sprintf("hours out of range in %q", s)}
	}

	return start, end, nil
}
