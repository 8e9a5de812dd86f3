package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

// ImportBankStatement validates, classifies and stores parsed bank rows.
// Rows whose content key is already stored, or repeats an earlier row of the
// batch, are reported as duplicates and not inserted.
func (s *Service) ImportBankStatement(ctx context.Context, owner ledger.OwnerID, rows []ledger.ParsedTransaction) (*ImportResult, error) {
	log := s.ownerLogger(owner)
	runID := s.startRun(ctx, owner, storage.RunImportBank)
	result := newImportResult(runID, len(rows))

	txs := make([]*ledger.Transaction, 0, len(rows))
	for i, row := range rows {
		txType := matcher.ClassifyBankRow(row.Description)
		tx, err := row.ToTransaction(owner, txType)
		if err != nil {
			result.invalid(i, err)
			continue
		}
		if txType == ledger.TypeBankCCCharge {
			tx.CardLastFour, _ = matcher.ExtractLastFour(tx.Description)
		}
		txs = append(txs, tx)
	}

	log.Info("Importing bank statement", "rows", len(rows), "valid", len(txs), "run_id", runID)
	err := s.storeTransactions(ctx, owner, txs, result)
	s.completeRun(ctx, owner, runID, result.counts())
	if err != nil {
		return result, err
	}

	if s.cfg.MatchAfterImport && result.Imported > 0 {
		result.CardMatching, err = s.RunCreditCardMatching(ctx, owner, nil)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// ImportCreditCardStatement validates and stores parsed card rows, creating
// the owner's cards as they are first seen.
func (s *Service) ImportCreditCardStatement(ctx context.Context, owner ledger.OwnerID, rows []ledger.ParsedCreditCardTransaction) (*ImportResult, error) {
	log := s.ownerLogger(owner)
	runID := s.startRun(ctx, owner, storage.RunImportCreditCard)
	result := newImportResult(runID, len(rows))

	cards := make(map[string]string)
	txs := make([]*ledger.Transaction, 0, len(rows))
	for i, row := range rows {
		tx, err := row.ToTransaction(owner)
		if err != nil {
			result.invalid(i, err)
			continue
		}

		cardID, ok := cards[tx.CardLastFour]
		if !ok {
			card, err := s.store.EnsureCreditCard(ctx, owner, tx.CardLastFour)
			if err != nil {
				result.failed(i, fmt.Errorf("credit card %s: %w", tx.CardLastFour, err))
				continue
			}
			cardID = card.ID
			cards[tx.CardLastFour] = cardID
		}
		tx.CreditCardID = &cardID
		txs = append(txs, tx)
	}

	log.Info("Importing credit card statement", "rows", len(rows), "valid", len(txs), "cards", len(cards), "run_id", runID)
	err := s.storeTransactions(ctx, owner, txs, result)
	s.completeRun(ctx, owner, runID, result.counts())
	if err != nil {
		return result, err
	}

	if s.cfg.MatchAfterImport && result.Imported > 0 {
		result.CardMatching, err = s.RunCreditCardMatching(ctx, owner, nil)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// storeTransactions runs the duplicate check and inserts the new rows. The
// (owner, hash) constraint has the final word, so rows a concurrent import
// stored first count as duplicates too.
func (s *Service) storeTransactions(ctx context.Context, owner ledger.OwnerID, txs []*ledger.Transaction, result *ImportResult) error {
	report := s.transactions.Check(ctx, owner, nil, txs)
	result.Report = report
	result.Duplicates = report.DuplicateCount

	if len(report.NewItems) == 0 {
		return nil
	}

	outcome, err := s.store.InsertTransactions(ctx, owner, report.NewItems)
	if outcome != nil {
		result.Imported = len(outcome.Inserted)
		result.Duplicates += len(outcome.Ignored)
		result.Transactions = outcome.Inserted
		for _, rowErr := range outcome.Failed {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("row %q: %v", report.NewItems[rowErr.Index].Description, rowErr.Err))
		}
	}
	if err != nil {
		s.ownerLogger(owner).Error("Transaction insert stopped", "error", err)
		return fmt.Errorf("failed to insert transactions: %w", err)
	}

	s.ownerLogger(owner).Info("Stored transactions",
		"imported", result.Imported,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
		"failed_open", report.FailedOpen,
	)
	return nil
}

func newImportResult(runID int64, total int) *ImportResult {
	return &ImportResult{
		RunID:          runID,
		Total:          total,
		InvalidReasons: []string{},
		Errors:         []string{},
		Transactions:   []*ledger.Transaction{},
	}
}

func (r *ImportResult) invalid(index int, err error) {
	r.Invalid++
	r.InvalidReasons = append(r.InvalidReasons, fmt.Sprintf("row %d: %v", index, err))
}

func (r *ImportResult) failed(index int, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("row %d: %v", index, err))
}

func (r *ImportResult) counts() storage.RunCounts {
	return storage.RunCounts{
		Total:     r.Total,
		Succeeded: r.Imported,
		Skipped:   r.Duplicates + r.Invalid,
		Failed:    r.Failed,
		Errors:    r.Errors,
	}
}

// ImportLineItems stores an invoice's extracted line items. Items that repeat
// a stored (reference, date, amount, currency) tuple are skipped.
func (s *Service) ImportLineItems(ctx context.Context, owner ledger.OwnerID, invoiceID string, items []ledger.ExtractedLineItem) (*LineItemImportResult, error) {
	log := s.ownerLogger(owner)

	inv, err := s.store.GetInvoice(ctx, owner, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}

	runID := s.startRun(ctx, owner, storage.RunImportLineItems)
	result := &LineItemImportResult{
		RunID:          runID,
		InvoiceID:      inv.ID,
		Total:          len(items),
		InvalidReasons: []string{},
		Errors:         []string{},
		LineItems:      []*ledger.InvoiceLineItem{},
	}

	converted := make([]*ledger.InvoiceLineItem, 0, len(items))
	for i, item := range items {
		li, err := item.ToLineItem(owner, inv.ID)
		if err != nil {
			result.Invalid++
			result.InvalidReasons = append(result.InvalidReasons, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		if li.Currency == "" {
			li.Currency = inv.Currency
		}
		converted = append(converted, li)
	}

	report := s.lineItems.Check(ctx, owner, converted)
	result.Report = report
	result.Duplicates = report.DuplicateCount

	if len(report.NewItems) > 0 {
		failed, err := s.store.InsertLineItems(ctx, owner, report.NewItems)
		failedAt := make(map[int]bool, len(failed))
		for _, rowErr := range failed {
			failedAt[rowErr.Index] = true
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("item %q: %v", report.NewItems[rowErr.Index].Description, rowErr.Err))
		}
		for i, li := range report.NewItems {
			if !failedAt[i] && li.ID != "" {
				result.LineItems = append(result.LineItems, li)
			}
		}
		result.Imported = len(result.LineItems)
		if err != nil {
			s.completeRun(ctx, owner, runID, result.counts())
			return result, fmt.Errorf("failed to insert line items: %w", err)
		}
	}

	log.Info("Imported line items",
		"invoice_id", inv.ID,
		"imported", result.Imported,
		"duplicates", result.Duplicates,
		"invalid", result.Invalid,
		"failed", result.Failed,
	)
	s.completeRun(ctx, owner, runID, result.counts())

	if s.cfg.MatchAfterLineItemImport && result.Imported > 0 {
		result.Matching, err = s.RunLineItemMatching(ctx, owner, LineItemRunRequest{InvoiceIDs: []string{inv.ID}})
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *LineItemImportResult) counts() storage.RunCounts {
	return storage.RunCounts{
		Total:     r.Total,
		Succeeded: r.Imported,
		Skipped:   r.Duplicates + r.Invalid,
		Failed:    r.Failed,
		Errors:    r.Errors,
	}
}

// SaveInvoice stores an extracted invoice after the semantic duplicate check.
// Under the block policy a semantic duplicate is not saved.
func (s *Service) SaveInvoice(ctx context.Context, owner ledger.OwnerID, inv *ledger.Invoice) (*InvoiceSaveResult, error) {
	if inv.OwnerID == "" {
		inv.OwnerID = owner
	}
	if inv.OwnerID != owner {
		return nil, ledger.ErrOwnerMismatch
	}
	if inv.InvoiceDate.IsZero() {
		return nil, fmt.Errorf("%w: invoice date is required", ledger.ErrInvalidInput)
	}
	inv.InvoiceDate = ledger.DateOnly(inv.InvoiceDate)

	check := s.files.CheckInvoice(ctx, inv, s.vendorResolver(ctx, owner))
	result := &InvoiceSaveResult{Invoice: inv, Duplicates: check}
	if check.Blocking {
		s.ownerLogger(owner).Warn("Invoice refused as duplicate", "vendor", inv.VendorName, "matches", len(check.Matches))
		return result, nil
	}

	if err := s.store.SaveInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}
	result.Saved = true
	return result, nil
}

// CheckFile runs the file-level duplicate check for an upload.
func (s *Service) CheckFile(ctx context.Context, owner ledger.OwnerID, filename string, size int64) *UploadResult {
	return &UploadResult{Check: s.files.CheckFile(ctx, owner, filename, size)}
}

// RegisterFile checks an upload and records it unless it is an exact
// duplicate, in which case ErrDuplicateBlocked is returned with the check.
func (s *Service) RegisterFile(ctx context.Context, owner ledger.OwnerID, filename string, size int64) (*UploadResult, error) {
	result := s.CheckFile(ctx, owner, filename, size)
	if result.Check.Blocking {
		return result, ErrDuplicateBlocked
	}

	f := &ledger.File{OwnerID: owner, Filename: filename, SizeBytes: size, Hash: result.Check.Hash}
	if err := s.store.SaveFile(ctx, f); err != nil {
		return result, fmt.Errorf("failed to save file: %w", err)
	}
	result.File = f
	return result, nil
}

// CheckInvoiceSemantic reruns the semantic duplicate check for a stored invoice.
func (s *Service) CheckInvoiceSemantic(ctx context.Context, owner ledger.OwnerID, invoiceID string) (*InvoiceSaveResult, error) {
	inv, err := s.store.GetInvoice(ctx, owner, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	return &InvoiceSaveResult{
		Invoice:    inv,
		Saved:      true,
		Duplicates: s.files.CheckInvoice(ctx, inv, s.vendorResolver(ctx, owner)),
	}, nil
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
