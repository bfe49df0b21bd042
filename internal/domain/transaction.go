// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// Channel values accepted for a transaction.
const (
	ChannelWeb    = "web"
	ChannelMobile = "mobile"
	ChannelATM    = "atm"
	ChannelBranch = "branch"
)

// ValidChannel reports whether ch is a known transaction channel.
func ValidChannel(ch string) bool {
	switch ch {
	case ChannelWeb, ChannelMobile, ChannelATM, ChannelBranch:
		return true
	}
	return false
}

// Transaction represents an incoming transaction to be analyzed.
type Transaction struct {
	ID         string    `json:"transactionId"`
	TenantID   string    `json:"tenantId"`
	CustomerID string    `json:"customerId"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Country    string    `json:"country"`
	Channel    string    `json:"channel"`
	DeviceID   string    `json:"deviceId"`
	MerchantID string    `json:"merchantId"`
	Timestamp  time.Time `json:"timestamp"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate checks the transaction fields required for analysis.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "transactionId", Reason: "is required"}
	}
	if t.CustomerID == "" {
		return &ValidationError{Field: "customerId", Reason: "is required"}
	}
	if t.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !ValidChannel(t.Channel) {
		return &ValidationError{Field: "channel", Reason: "must be one of web, mobile, atm, branch"}
	}
	return nil
}

// AnalyzeRequest is the API request payload for transaction analysis.
type AnalyzeRequest struct {
	TransactionID string  `json:"transactionId"`
	CustomerID    string  `json:"customerId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Country       string  `json:"country"`
	Channel       string  `json:"channel"`
	DeviceID      string  `json:"deviceId"`
	MerchantID    string  `json:"merchantId"`
	Timestamp     string  `json:"timestamp,omitempty"` // RFC 3339, defaults to now
}

// ToTransaction converts a request to a Transaction domain object.
func (r *AnalyzeRequest) ToTransaction(tenantID string) *Transaction {
	now := time.Now().UTC()
	ts := now
	if r.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			ts = parsed
		}
	}
	return &Transaction{
		ID:         r.TransactionID,
		TenantID:   tenantID,
		CustomerID: r.CustomerID,
		Amount:     r.Amount,
		Currency:   r.Currency,
		Country:    r.Country,
		Channel:    r.Channel,
		DeviceID:   r.DeviceID,
		MerchantID: r.MerchantID,
		Timestamp:  ts,
		CreatedAt:  now,
	}
}

// CustomerProfile holds the habitual behavior baseline for a customer.
// UsualHours is an "HH-HH" range, e.g. "08-20". Countries and devices
// are exact-match sets.
type CustomerProfile struct {
	CustomerID     string    `json:"customerId"`
	TenantID       string    `json:"tenantId"`
	UsualAmountAvg float64   `json:"usualAmountAvg"`
	UsualHours     string    `json:"usualHours"`
	UsualCountries []string  `json:"usualCountries"`
	UsualDevices   []string  `json:"usualDevices"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HasCountry reports whether country is one of the customer's usual countries.
func (p *CustomerProfile) HasCountry(country string) bool {
	for _, c := range p.UsualCountries {
		if c == country {
			return true
		}
	}
	return false
}

// HasDevice reports whether deviceID is one of the customer's usual devices.
func (p *CustomerProfile) HasDevice(deviceID string) bool {
	for _, d := range p.UsualDevices {
		if d == deviceID {
			return true
		}
	}
	return false
}
