package matcher

import (
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/scorer"
)

// Claim records which line item took a transaction in the current run.
type Claim struct {
	LineItemID string
	Score      float64
}

// ClaimSet is the in-memory set of transactions claimed during one batch
// run. The first claim on a transaction wins. It is not safe for concurrent
// use and is never persisted.
type ClaimSet struct {
	claims map[string]Claim
}

// NewClaimSet creates an empty claim set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{claims: make(map[string]Claim)}
}

// Claim assigns txID to lineItemID. It returns false when txID is already
// claimed.
func (c *ClaimSet) Claim(txID, lineItemID string, score float64) bool {
	if _, ok := c.claims[txID]; ok {
		return false
	}
	c.claims[txID] = Claim{LineItemID: lineItemID, Score: score}
	return true
}

// IsClaimed reports whether txID was claimed in this run.
func (c *ClaimSet) IsClaimed(txID string) bool {
	_, ok := c.claims[txID]
	return ok
}

// ClaimedBy returns the claim on txID.
func (c *ClaimSet) ClaimedBy(txID string) (Claim, bool) {
	claim, ok := c.claims[txID]
	return claim, ok
}

// Len returns the number of claims.
func (c *ClaimSet) Len() int {
	return len(c.claims)
}

// LineItemMatcher chooses the best transaction for a line item.
type LineItemMatcher struct {
	scorer *scorer.Scorer
}

// NewLineItemMatcher creates a matcher around s.
func NewLineItemMatcher(s *scorer.Scorer) *LineItemMatcher {
	return &LineItemMatcher{scorer: s}
}

// Scorer returns the underlying scorer.
func (m *LineItemMatcher) Scorer() *scorer.Scorer {
	return m.scorer
}

// Evaluate scores every unclaimed candidate for target and returns the
// highest-scoring one with its band. Candidates are scanned in the given
// order and a tie keeps the earlier candidate, so the outcome only depends
// on enumeration order.
func (m *LineItemMatcher) Evaluate(target scorer.Target, candidates []*ledger.Transaction, claims *ClaimSet) Decision {
	var decision Decision
	for _, tx := range candidates {
		if claims != nil && claims.IsClaimed(tx.ID) {
			continue
		}
		if target.LineItem != nil && tx.OwnerID != target.LineItem.OwnerID {
			continue
		}
		decision.Evaluated++

		result := m.scorer.Score(tx, target)
		if result.Disqualified {
			continue
		}
		if decision.Best == nil || result.Total > decision.Best.Result.Total {
			decision.Best = &Candidate{Transaction: tx, Result: result}
		}
	}

	if decision.Best != nil {
		decision.Band = m.scorer.Band(decision.Best.Result)
	}
	return decision
}
