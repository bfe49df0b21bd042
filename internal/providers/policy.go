package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// defaultMaxPolicyHits caps how many ranked policies a search returns.
const defaultMaxPolicyHits = 5

// RepositoryPolicySearch looks up tenant policies in the repository and
// ranks them by lexical relevance to the transaction.
type RepositoryPolicySearch struct {
	repo    domain.Repository
	maxHits int
}

// NewRepositoryPolicySearch creates the default policy lookup provider.
func NewRepositoryPolicySearch(repo domain.Repository) *RepositoryPolicySearch {
	return &RepositoryPolicySearch{
		repo:    repo,
		maxHits: defaultMaxPolicyHits,
	}
}

// Search returns enabled policies for the transaction's tenant, ranked by
// relevance. Policies whose rule text touches none of the transaction's
// facets are excluded.
func (p *RepositoryPolicySearch) Search(ctx context.Context, tx *domain.Transaction) ([]domain.PolicyHit, error) {
	policies, err := p.repo.ListPolicies(ctx, tx.TenantID)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "policy", Err: err}
	}

	hits := make([]domain.PolicyHit, 0, len(policies))
	for _, pol := range policies {
		if !pol.Enabled {
			continue
		}
		score := relevance(pol.Rule, tx)
		if score <= 0 {
			continue
		}
		hits = append(hits, domain.PolicyHit{
			PolicyID:       pol.ID,
			Rule:           pol.Rule,
			Version:        pol.Version,
			ChunkID:        fmt.Sprintf("%s#0", pol.ID),
			RelevanceScore: score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].RelevanceScore != hits[j].RelevanceScore {
			return hits[i].RelevanceScore > hits[j].RelevanceScore
		}
		return hits[i].PolicyID < hits[j].PolicyID
	})

	if len(hits) > p.maxHits {
		hits = hits[:p.maxHits]
	}
	return hits, nil
}

// relevance scores a rule against the facets present on a transaction.
// Purely lexical on the rule text, so policy authors steer ranking by
// naming the facets their rule cares about.
func relevance(rule string, tx *domain.Transaction) float64 {
	text := strings.ToLower(rule)
	score := 0.0

	if strings.Contains(text, "amount") {
		score += 0.4
	}
	if tx.DeviceID != "" && strings.Contains(text, "device") {
		score += 0.3
	}
	if tx.Country != "" && (strings.Contains(text, "country") || strings.Contains(text, "location")) {
		score += 0.3
	}
	if strings.Contains(text, "hour") || strings.Contains(text, "time") {
		score += 0.2
	}
	if strings.Contains(text, strings.ToLower(string(tx.Channel))) {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
