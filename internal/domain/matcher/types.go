package matcher

import (
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/scorer"
)

// SettlementConfig holds the card settlement tolerances.
type SettlementConfig struct {
	DateToleranceDays      int     // Default: 2
	AmountTolerancePercent float64 // Default: 2
}

// DefaultSettlementConfig returns sensible defaults
func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		DateToleranceDays:      2,
		AmountTolerancePercent: 2,
	}
}

// Normalize clamps tolerances to valid bounds.
func (c SettlementConfig) Normalize() SettlementConfig {
	if c.DateToleranceDays < 0 {
		c.DateToleranceDays = 0
	}
	if c.DateToleranceDays > 31 {
		c.DateToleranceDays = 31
	}
	if c.AmountTolerancePercent < 0 {
		c.AmountTolerancePercent = 0
	}
	if c.AmountTolerancePercent > 100 {
		c.AmountTolerancePercent = 100
	}
	return c
}

// SettlementMatch pairs a bank charge with the card purchases it settles.
type SettlementMatch struct {
	Bank       *ledger.Transaction
	Purchases  []*ledger.Transaction
	DateDiff   int   // Days between the bank charge and the settlement date
	AmountDiff int64 // Bank amount minus the purchases total
	Grouped    bool  // Matched as a billing-date group rather than a single purchase
}

// Candidate is one scored transaction for a line item.
type Candidate struct {
	Transaction *ledger.Transaction `json:"transaction"`
	Result      scorer.Result       `json:"result"`
}

// Decision is the outcome of evaluating one line item.
type Decision struct {
	Best      *Candidate
	Band      scorer.Band
	Evaluated int // Candidates scored, excluding claimed ones
}
