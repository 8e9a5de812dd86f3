// Package matcher holds the pure selection logic of the two batch matchers.
//
// The settlement finder links credit-card purchases to the bank charge that
// settles them:
//   - Purchases are grouped by settlement (billing) date and the group total
//     is tried first
//   - Purchases left over are then tried one by one
//   - Amount must be within tolerance percent of the bank charge
//   - Date must be within tolerance days
//   - A bank charge settles at most one group or purchase per run
//
// The line-item side scores candidates with the scorer and selects the best
// unclaimed transaction against a ClaimSet.
//
// Example usage:
//
//	f := matcher.NewSettlementFinder(matcher.DefaultSettlementConfig())
//	matches := f.FindSettlements(purchases, charges, usedBankIDs)
//	for _, m := range matches {
//		// link m.Purchases to m.Bank
//	}
package matcher

import (
	"sort"
	"time"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/money"
)

// SettlementFinder matches card purchases with bank charges
type SettlementFinder struct {
	config SettlementConfig
}

// NewSettlementFinder creates a finder with the given config
func NewSettlementFinder(config SettlementConfig) *SettlementFinder {
	return &SettlementFinder{
		config: config.Normalize(),
	}
}

// Config returns the normalized config.
func (f *SettlementFinder) Config() SettlementConfig {
	return f.config
}

// FindSettlements matches unsettled purchases of one card against that
// card's bank charges. Bank ids in usedBankIDs are skipped and every
// matched bank id is added to it.
func (f *SettlementFinder) FindSettlements(
	purchases []*ledger.Transaction,
	charges []*ledger.Transaction,
	usedBankIDs map[string]bool,
) []SettlementMatch {
	if usedBankIDs == nil {
		usedBankIDs = make(map[string]bool)
	}

	var matches []SettlementMatch
	var leftover []*ledger.Transaction

	for _, group := range groupBySettlementDate(purchases) {
		if len(group) < 2 {
			leftover = append(leftover, group...)
			continue
		}
		if m, ok := f.bestCharge(group, charges, usedBankIDs); ok {
			m.Grouped = true
			usedBankIDs[m.Bank.ID] = true
			matches = append(matches, m)
			continue
		}
		leftover = append(leftover, group...)
	}

	sortTransactions(leftover, (*ledger.Transaction).SettlementDate)
	for _, p := range leftover {
		if m, ok := f.bestCharge([]*ledger.Transaction{p}, charges, usedBankIDs); ok {
			usedBankIDs[m.Bank.ID] = true
			matches = append(matches, m)
		}
	}

	return matches
}

// bestCharge finds the unused charge closest in date, then in amount, to
// the purchases' total. Remaining ties go to the earliest charge by date
// and id.
func (f *SettlementFinder) bestCharge(
	purchases []*ledger.Transaction,
	charges []*ledger.Transaction,
	usedBankIDs map[string]bool,
) (SettlementMatch, bool) {
	var total int64
	for _, p := range purchases {
		total += p.Amount
	}
	settleDate := purchases[0].SettlementDate()

	var best *ledger.Transaction
	bestDays := 0
	var bestDiff int64

	for _, charge := range sortedCopy(charges) {
		// Skip if already used
		if usedBankIDs[charge.ID] {
			continue
		}

		if money.Sign(charge.Amount) != money.Sign(total) {
			continue
		}

		days := ledger.DaysBetween(charge.Date, settleDate)
		if days > f.config.DateToleranceDays {
			continue
		}

		if !money.WithinPercent(total, charge.Amount, charge.Amount, f.config.AmountTolerancePercent) {
			continue
		}

		diff := money.Abs(charge.Amount - total)
		if best == nil || days < bestDays || (days == bestDays && diff < bestDiff) {
			best, bestDays, bestDiff = charge, days, diff
		}
	}

	if best == nil {
		return SettlementMatch{}, false
	}
	return SettlementMatch{
		Bank:       best,
		Purchases:  purchases,
		DateDiff:   bestDays,
		AmountDiff: best.Amount - total,
	}, true
}

// groupBySettlementDate groups unsettled purchases by settlement date, in
// date order, keeping purchase order inside a group.
func groupBySettlementDate(purchases []*ledger.Transaction) [][]*ledger.Transaction {
	byDate := make(map[string][]*ledger.Transaction)
	var keys []string
	for _, p := range sortedCopyBy(purchases, (*ledger.Transaction).SettlementDate) {
		if p.IsSettled() {
			continue
		}
		key := ledger.FormatDate(p.SettlementDate())
		if _, ok := byDate[key]; !ok {
			keys = append(keys, key)
		}
		byDate[key] = append(byDate[key], p)
	}
	sort.Strings(keys)

	groups := make([][]*ledger.Transaction, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, byDate[k])
	}
	return groups
}

func sortedCopy(txs []*ledger.Transaction) []*ledger.Transaction {
	return sortedCopyBy(txs, func(t *ledger.Transaction) time.Time { return t.Date })
}

func sortedCopyBy(txs []*ledger.Transaction, key func(*ledger.Transaction) time.Time) []*ledger.Transaction {
	out := append([]*ledger.Transaction(nil), txs...)
	sortTransactions(out, key)
	return out
}

func sortTransactions(txs []*ledger.Transaction, key func(*ledger.Transaction) time.Time) {
	sort.SliceStable(txs, func(i, j int) bool {
		ki, kj := key(txs[i]), key(txs[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return txs[i].ID < txs[j].ID
	})
}
