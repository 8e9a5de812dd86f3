package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/vat-reconcile/internal/domain/scorer"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

// RunLineItemMatching auto-matches the line items of the requested invoices.
//
// Invoices are processed in request order (or by date when none are named)
// and their items in creation order. Each item takes the best unclaimed
// transaction: at or above the auto-approve threshold it is linked and the
// transaction is claimed for the rest of the run, in the candidate band it
// is surfaced as a suggestion, below it nothing happens.
//
// Linked items are skipped unless ForceRematch is set, and manual links are
// never replaced. Stopping early leaves a valid partial result; running the
// batch again resumes it.
func (s *Service) RunLineItemMatching(ctx context.Context, owner ledger.OwnerID, req LineItemRunRequest) (*BatchResult, error) {
	log := s.ownerLogger(owner)
	sc := scorer.New(req.Overrides.Apply(s.cfg.Scoring))
	lm := matcher.NewLineItemMatcher(sc)

	runID := s.startRun(ctx, owner, storage.RunMatchLineItems)
	result := &BatchResult{RunID: runID, Results: []InvoiceResult{}}
	counts := storage.RunCounts{}
	defer func() {
		counts.Succeeded = result.Matched
		counts.Skipped = result.Skipped
		counts.Failed = result.Failed
		counts.Total = result.Matched + result.Skipped + result.Failed
		s.completeRun(ctx, owner, runID, counts)
	}()

	invoices, err := s.store.ListInvoices(ctx, owner, req.InvoiceIDs)
	if err != nil {
		counts.Errors = append(counts.Errors, err.Error())
		return result, fmt.Errorf("failed to list invoices: %w", err)
	}

	result.TotalInvoices = len(invoices)
	if len(req.InvoiceIDs) > 0 {
		result.TotalInvoices = len(req.InvoiceIDs)
		found := make(map[string]bool, len(invoices))
		for _, inv := range invoices {
			found[inv.ID] = true
		}
		for _, id := range req.InvoiceIDs {
			if !found[id] {
				msg := fmt.Sprintf("invoice %s: %v", id, ledger.ErrNotFound)
				counts.Errors = append(counts.Errors, msg)
				result.Results = append(result.Results, InvoiceResult{InvoiceID: id, Suggestions: []Suggestion{}, Errors: []string{msg}})
			}
		}
	}

	resolver := s.vendorResolver(ctx, owner)
	claims := matcher.NewClaimSet()

	log.Info("Line item matching started", "invoices", len(invoices), "force", req.ForceRematch, "run_id", runID)
	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			log.Warn("Line item matching stopped early", "processed", result.ProcessedInvoices, "error", err)
			return result, err
		}

		ir := s.matchInvoice(ctx, owner, inv, req.ForceRematch, lm, resolver, claims)
		result.ProcessedInvoices++
		result.Matched += ir.LineItemsMatched
		result.Skipped += ir.LineItemsSkipped
		result.Failed += ir.LineItemsFailed
		counts.Errors = append(counts.Errors, ir.Errors...)
		result.Results = append(result.Results, ir)
	}

	log.Info("Line item matching completed",
		"invoices", result.ProcessedInvoices,
		"matched", result.Matched,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"claimed", claims.Len(),
	)
	return result, nil
}

// matchInvoice runs one invoice's items against the shared claim set.
func (s *Service) matchInvoice(
	ctx context.Context,
	owner ledger.OwnerID,
	inv *ledger.Invoice,
	force bool,
	lm *matcher.LineItemMatcher,
	vendors scorer.VendorMatcher,
	claims *matcher.ClaimSet,
) InvoiceResult {
	log := s.ownerLogger(owner)
	ir := InvoiceResult{InvoiceID: inv.ID, Suggestions: []Suggestion{}}
	fail := func(err error) InvoiceResult {
		ir.LineItemsFailed++
		ir.Errors = append(ir.Errors, err.Error())
		return ir
	}

	items, err := s.store.ListLineItemsByInvoice(ctx, owner, inv.ID)
	if err != nil {
		return fail(fmt.Errorf("invoice %s: failed to list line items: %w", inv.ID, err))
	}
	if len(items) == 0 {
		return ir
	}

	candidates, err := s.candidateTransactions(ctx, owner, items, lm.Scorer().Config().DateRangeDays)
	if err != nil {
		return fail(fmt.Errorf("invoice %s: failed to list transactions: %w", inv.ID, err))
	}

	for _, li := range items {
		if li.IsMatched() && (!force || li.MatchMethod == ledger.MethodManual) {
			ir.LineItemsSkipped++
			continue
		}

		target := scorer.Target{LineItem: li, VendorName: inv.VendorName, Vendors: vendors}
		decision := lm.Evaluate(target, available(candidates, li), claims)

		switch decision.Band {
		case scorer.BandAutoApprove:
			best := decision.Best
			if li.IsMatched() && *li.TransactionID == best.Transaction.ID {
				claims.Claim(best.Transaction.ID, li.ID, best.Result.Total)
				ir.LineItemsSkipped++
				continue
			}
			claims.Claim(best.Transaction.ID, li.ID, best.Result.Total)
			confidence := best.Result.Total
			err := s.store.LinkLineItem(ctx, owner, li.ID, best.Transaction.ID, ledger.MethodAuto, &confidence, ledger.StatusAutoApproved)
			if err != nil {
				// The claim stays so no other item takes the transaction this run
				log.Error("Failed to link line item", "line_item_id", li.ID, "transaction_id", best.Transaction.ID, "error", err)
				ir.LineItemsFailed++
				ir.Errors = append(ir.Errors, fmt.Sprintf("line item %s: %v", li.ID, err))
				continue
			}
			log.Debug("Line item auto-linked", "line_item_id", li.ID, "transaction_id", best.Transaction.ID, "score", confidence)
			ir.LineItemsMatched++

		case scorer.BandCandidate:
			ir.Suggestions = append(ir.Suggestions, Suggestion{
				LineItemID:    li.ID,
				TransactionID: decision.Best.Transaction.ID,
				Score:         decision.Best.Result.Total,
				Breakdown:     decision.Best.Result.Breakdown,
			})
			ir.LineItemsSkipped++

		default:
			ir.LineItemsSkipped++
		}
	}
	return ir
}

// candidateTransactions loads the eligible transactions dated within the
// scoring window around the invoice's items, ordered by date then creation.
func (s *Service) candidateTransactions(ctx context.Context, owner ledger.OwnerID, items []*ledger.InvoiceLineItem, windowDays int) ([]*ledger.Transaction, error) {
	from, to := items[0].TransactionDate, items[0].TransactionDate
	for _, li := range items[1:] {
		if li.TransactionDate.Before(from) {
			from = li.TransactionDate
		}
		if li.TransactionDate.After(to) {
			to = li.TransactionDate
		}
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	from = ledger.DateOnly(from).Add(-window)
	to = ledger.DateOnly(to).Add(window)

	return s.store.ListTransactions(ctx, owner, storage.TransactionFilter{
		Types: s.cfg.EligibleTypes,
		From:  &from,
		To:    &to,
	})
}

// available drops transactions that already pay a line item, except the
// item's own current one.
func available(candidates []*ledger.Transaction, li *ledger.InvoiceLineItem) []*ledger.Transaction {
	out := make([]*ledger.Transaction, 0, len(candidates))
	for _, tx := range candidates {
		if tx.MatchStatus != ledger.StatusUnmatched && !(li.IsMatched() && *li.TransactionID == tx.ID) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// LinkLineItemManually links a line item to a transaction chosen by the
// user. Manual links are never replaced by auto-matching.
func (s *Service) LinkLineItemManually(ctx context.Context, owner ledger.OwnerID, lineItemID, transactionID string) (*ledger.InvoiceLineItem, error) {
	li, err := s.store.GetLineItem(ctx, owner, lineItemID)
	if err != nil {
		return nil, err
	}
	tx, err := s.store.GetTransaction(ctx, owner, transactionID)
	if err != nil {
		return nil, err
	}
	alreadyOurs := li.IsMatched() && *li.TransactionID == tx.ID
	if tx.MatchStatus != ledger.StatusUnmatched && !alreadyOurs {
		return nil, fmt.Errorf("transaction %s: %w", tx.ID, ErrTransactionLinked)
	}

	if err := s.store.LinkLineItem(ctx, owner, li.ID, tx.ID, ledger.MethodManual, nil, ledger.StatusManual); err != nil {
		return nil, fmt.Errorf("failed to link line item: %w", err)
	}
	s.ownerLogger(owner).Info("Line item linked manually", "line_item_id", li.ID, "transaction_id", tx.ID)
	return s.store.GetLineItem(ctx, owner, li.ID)
}

// UnlinkLineItem clears a line item's link.
func (s *Service) UnlinkLineItem(ctx context.Context, owner ledger.OwnerID, lineItemID string) error {
	if err := s.store.UnlinkLineItem(ctx, owner, lineItemID); err != nil {
		return fmt.Errorf("failed to unlink line item: %w", err)
	}
	return nil
}
