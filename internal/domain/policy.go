package domain

import (
	"time"
)

// PolicyConfig is a fraud policy known to the decision core.
//
// Applicability is an optional CEL expression over behavioral metrics
// (amount_ratio, in_usual_hours, usual_device, usual_country,
// hour_deviation, is_weekend, amount). Policies without an expression
// and policies the core has never seen are accepted by default when
// suggested by retrieval.
type PolicyConfig struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	Rule          string    `json:"rule"`
	Version       string    `json:"version"`
	Applicability string    `json:"applicability,omitempty"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PolicyHit is a retrieval result from the policy lookup provider.
type PolicyHit struct {
	PolicyID       string  `json:"policyId"`
	Rule           string  `json:"rule"`
	Version        string  `json:"version"`
	ChunkID        string  `json:"chunkId"`
	RelevanceScore float64 `json:"relevanceScore"`
}
