package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/vat-reconcile/internal/domain/money"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

// maxConcurrentLookups bounds the per-card and per-charge fan-out.
const maxConcurrentLookups = 4

type cardBatch struct {
	lastFour  string
	cardID    string
	purchases []*ledger.Transaction
	charges   []*ledger.Transaction
	err       error
}

type linkOutcome struct {
	settlement *ledger.SettlementMatch
	linked     int
	errs       []string
}

// RunCreditCardMatching links unsettled card purchases to the bank charges
// that settle them, one card at a time, and recomputes each touched
// aggregate from its links. Re-running it links nothing twice.
func (s *Service) RunCreditCardMatching(ctx context.Context, owner ledger.OwnerID, overrides *SettlementOverrides) (*CreditCardRunResult, error) {
	log := s.ownerLogger(owner)
	finder := matcher.NewSettlementFinder(overrides.Apply(s.cfg.Settlement))
	runID := s.startRun(ctx, owner, storage.RunMatchCreditCards)
	result := &CreditCardRunResult{
		RunID:       runID,
		Settlements: []*ledger.SettlementMatch{},
		Errors:      []string{},
	}
	counts := storage.RunCounts{}
	defer func() {
		counts.Succeeded = result.MatchedCCTransactions
		counts.Errors = result.Errors
		s.completeRun(ctx, owner, runID, counts)
	}()

	batches, err := s.loadCardBatches(ctx, owner)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	usedBankIDs := make(map[string]bool)
	var matches []matcher.SettlementMatch
	var cardIDs []string
	for _, b := range batches {
		counts.Total += len(b.purchases)
		if b.err != nil {
			counts.Failed += len(b.purchases)
			result.Errors = append(result.Errors, fmt.Sprintf("card %s: %v", b.lastFour, b.err))
			continue
		}
		found := finder.FindSettlements(b.purchases, b.charges, usedBankIDs)
		log.Debug("Card settlements found", "card", b.lastFour, "purchases", len(b.purchases), "charges", len(b.charges), "matches", len(found))
		for range found {
			cardIDs = append(cardIDs, b.cardID)
		}
		matches = append(matches, found...)
	}

	// Each match touches its own bank charge and purchases
	outcomes := make([]linkOutcome, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i := range matches {
		g.Go(func() error {
			outcomes[i] = s.applySettlement(gctx, owner, matches[i], cardIDs[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, out := range outcomes {
		result.MatchedCCTransactions += out.linked
		counts.Failed += len(matches[i].Purchases) - out.linked
		result.Errors = append(result.Errors, out.errs...)
		if out.settlement != nil {
			result.Settlements = append(result.Settlements, out.settlement)
		}
	}
	counts.Skipped = counts.Total - result.MatchedCCTransactions - counts.Failed

	log.Info("Credit card matching completed",
		"cards", len(batches),
		"settlements", len(result.Settlements),
		"matched", result.MatchedCCTransactions,
		"errors", len(result.Errors),
	)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// loadCardBatches groups the owner's unsettled purchases by card and loads
// each card's candidate charges. Bank charges that already carry an
// aggregate are left out.
func (s *Service) loadCardBatches(ctx context.Context, owner ledger.OwnerID) ([]*cardBatch, error) {
	purchases, err := s.store.ListTransactions(ctx, owner, storage.TransactionFilter{
		Types:         []ledger.TransactionType{ledger.TypeCCPurchase},
		UnsettledOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list card purchases: %w", err)
	}
	bankRows, err := s.store.ListTransactions(ctx, owner, storage.TransactionFilter{
		Types: []ledger.TransactionType{ledger.TypeBankRegular, ledger.TypeBankCCCharge},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bank charges: %w", err)
	}
	existing, err := s.store.ListSettlements(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	aggregated := make(map[string]bool, len(existing))
	for _, m := range existing {
		aggregated[m.BankTransactionID] = true
	}

	byCard := make(map[string][]*ledger.Transaction)
	for _, p := range purchases {
		if ledger.IsLastFour(p.CardLastFour) {
			byCard[p.CardLastFour] = append(byCard[p.CardLastFour], p)
		}
	}
	chargesByCard := make(map[string][]*ledger.Transaction)
	for _, tx := range bankRows {
		if aggregated[tx.ID] {
			continue
		}
		if lastFour, ok := matcher.BankCardLastFour(tx); ok {
			chargesByCard[lastFour] = append(chargesByCard[lastFour], tx)
		}
	}

	lastFours := sortedKeys(byCard)
	batches := make([]*cardBatch, len(lastFours))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, lastFour := range lastFours {
		batches[i] = &cardBatch{
			lastFour:  lastFour,
			purchases: byCard[lastFour],
			charges:   chargesByCard[lastFour],
		}
		b := batches[i]
		g.Go(func() error {
			card, err := s.store.EnsureCreditCard(gctx, owner, b.lastFour)
			if err != nil {
				b.err = err
				return nil
			}
			b.cardID = card.ID
			return nil
		})
	}
	_ = g.Wait()
	return batches, nil
}

// applySettlement links a match's purchases and recomputes its aggregate.
// The aggregate is skipped when no link succeeded.
func (s *Service) applySettlement(ctx context.Context, owner ledger.OwnerID, m matcher.SettlementMatch, cardID string) linkOutcome {
	var out linkOutcome
	for _, p := range m.Purchases {
		if err := s.store.LinkSettlement(ctx, owner, p.ID, m.Bank.ID, cardID); err != nil {
			s.ownerLogger(owner).Error("Failed to link card purchase", "purchase_id", p.ID, "bank_id", m.Bank.ID, "error", err)
			out.errs = append(out.errs, fmt.Sprintf("purchase %s: %v", p.ID, err))
			continue
		}
		out.linked++
	}
	if out.linked == 0 {
		return out
	}

	settlement, err := s.recomputeSettlement(ctx, owner, m.Bank.ID)
	if err != nil {
		out.errs = append(out.errs, fmt.Sprintf("settlement %s: %v", m.Bank.ID, err))
		return out
	}
	out.settlement = settlement
	return out
}

// recomputeSettlement derives a bank charge's aggregate from its current
// links. With no links left the aggregate is deleted and nil is returned.
func (s *Service) recomputeSettlement(ctx context.Context, owner ledger.OwnerID, bankID string) (*ledger.SettlementMatch, error) {
	bank, err := s.store.GetTransaction(ctx, owner, bankID)
	if err != nil {
		return nil, err
	}
	linked, err := s.store.ListSettlementPurchases(ctx, owner, bankID)
	if err != nil {
		return nil, err
	}

	if len(linked) == 0 {
		if err := s.store.DeleteSettlement(ctx, owner, bankID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		if err := s.store.ClearBankCreditCard(ctx, owner, bankID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var total int64
	for _, p := range linked {
		total += p.Amount
	}
	m := &ledger.SettlementMatch{
		OwnerID:           owner,
		BankTransactionID: bankID,
		TotalLinkedAmount: total,
		LinkedCount:       len(linked),
		Discrepancy:       bank.Amount - total,
		Confidence:        settlementConfidence(bank.Amount, total),
	}
	if err := s.store.UpsertSettlement(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// settlementConfidence is 100 minus the discrepancy as a percent of the
// bank amount, floored at zero.
func settlementConfidence(bankAmount, linkedTotal int64) float64 {
	pct, _ := money.PercentDiff(bankAmount, linkedTotal, bankAmount).Float64()
	confidence := 100 - pct
	if confidence < 0 {
		confidence = 0
	}
	return math.Round(confidence*100) / 100
}

// UnlinkCreditCardTransaction removes a purchase from its bank charge and
// recomputes the aggregate, deleting it once no purchase is linked.
func (s *Service) UnlinkCreditCardTransaction(ctx context.Context, owner ledger.OwnerID, purchaseID string) (*UnlinkResult, error) {
	bankID, err := s.store.UnlinkSettlement(ctx, owner, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to unlink purchase: %w", err)
	}

	settlement, err := s.recomputeSettlement(ctx, owner, bankID)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute settlement: %w", err)
	}

	s.ownerLogger(owner).Info("Unlinked card purchase", "purchase_id", purchaseID, "bank_id", bankID, "deleted", settlement == nil)
	return &UnlinkResult{
		BankTransactionID: bankID,
		Settlement:        settlement,
		Deleted:           settlement == nil,
	}, nil
}

// ReviewSettlement records a review decision on a bank charge's aggregate.
func (s *Service) ReviewSettlement(ctx context.Context, owner ledger.OwnerID, bankID string, status ledger.ReviewStatus) (*ledger.SettlementMatch, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: review status %q", ledger.ErrInvalidInput, status)
	}
	if err := s.store.SetSettlementStatus(ctx, owner, bankID, status); err != nil {
		return nil, err
	}
	return s.store.GetSettlement(ctx, owner, bankID)
}

// ListSettlements returns the owner's aggregates.
func (s *Service) ListSettlements(ctx context.Context, owner ledger.OwnerID) ([]*ledger.SettlementMatch, error) {
	return s.store.ListSettlements(ctx, owner)
}
