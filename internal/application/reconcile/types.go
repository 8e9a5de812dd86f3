package reconcile

import (
	"errors"
	"fmt"

	"github.com/eshaffer321/vat-reconcile/internal/domain/duplicate"
	"github.com/eshaffer321/vat-reconcile/internal/domain/hashing"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/vat-reconcile/internal/domain/scorer"
)

// ErrTransactionLinked is returned when a manual link targets a transaction
// that already pays another line item.
var ErrTransactionLinked = fmt.Errorf("transaction %w to another line item", ledger.ErrAlreadyLinked)

// ErrDuplicateBlocked is returned when an upload is refused as a duplicate.
var ErrDuplicateBlocked = errors.New("duplicate upload blocked")

// Config holds everything a batch run needs. It is passed in explicitly and
// never read from shared state.
type Config struct {
	Scoring    scorer.Config
	Settlement matcher.SettlementConfig
	Semantic   duplicate.SemanticConfig

	// EligibleTypes are the transaction types a line item may be paid by
	EligibleTypes []ledger.TransactionType

	// HashStrategy encodes dedup keys; nil selects base64
	HashStrategy hashing.Strategy

	MatchAfterImport         bool // Run card matching after a statement import
	MatchAfterLineItemImport bool // Auto-match an invoice after its items are imported
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Scoring:       scorer.DefaultConfig(),
		Settlement:    matcher.DefaultSettlementConfig(),
		Semantic:      duplicate.DefaultSemanticConfig(),
		EligibleTypes: []ledger.TransactionType{ledger.TypeBankRegular, ledger.TypeCCPurchase},
	}
}

// Normalize clamps every section and drops unknown eligible types.
func (c Config) Normalize() Config {
	c.Scoring = c.Scoring.Normalize()
	c.Settlement = c.Settlement.Normalize()
	c.Semantic = c.Semantic.Normalize()

	seen := make(map[ledger.TransactionType]bool)
	types := make([]ledger.TransactionType, 0, len(c.EligibleTypes))
	for _, t := range c.EligibleTypes {
		if t.Valid() && !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		types = DefaultConfig().EligibleTypes
	}
	c.EligibleTypes = types
	return c
}

// ScoringOverrides are per-request changes to the scoring config. Nil
// fields keep the configured value.
type ScoringOverrides struct {
	AutoApproveThreshold   *float64 `json:"auto_approve_threshold,omitempty"`
	CandidateThreshold     *float64 `json:"candidate_threshold,omitempty"`
	DateRangeDays          *int     `json:"date_range_days,omitempty"`
	AmountTolerancePercent *float64 `json:"amount_tolerance_percent,omitempty"`
}

// Apply merges the overrides into cfg and clamps the result.
func (o *ScoringOverrides) Apply(cfg scorer.Config) scorer.Config {
	if o != nil {
		if o.AutoApproveThreshold != nil {
			cfg.AutoApproveThreshold = *o.AutoApproveThreshold
		}
		if o.CandidateThreshold != nil {
			cfg.CandidateThreshold = *o.CandidateThreshold
		}
		if o.DateRangeDays != nil {
			cfg.DateRangeDays = *o.DateRangeDays
		}
		if o.AmountTolerancePercent != nil {
			cfg.AmountTolerancePercent = *o.AmountTolerancePercent
		}
	}
	return cfg.Normalize()
}

// SettlementOverrides are per-request changes to the card tolerances.
type SettlementOverrides struct {
	DateToleranceDays      *int     `json:"date_tolerance_days,omitempty"`
	AmountTolerancePercent *float64 `json:"amount_tolerance_percent,omitempty"`
}

// Apply merges the overrides into cfg and clamps the result.
func (o *SettlementOverrides) Apply(cfg matcher.SettlementConfig) matcher.SettlementConfig {
	if o != nil {
		if o.DateToleranceDays != nil {
			cfg.DateToleranceDays = *o.DateToleranceDays
		}
		if o.AmountTolerancePercent != nil {
			cfg.AmountTolerancePercent = *o.AmountTolerancePercent
		}
	}
	return cfg.Normalize()
}

// ImportResult summarizes a statement import.
type ImportResult struct {
	RunID          int64                                 `json:"run_id,omitempty"`
	Total          int                                   `json:"total"`
	Imported       int                                   `json:"imported"`
	Duplicates     int                                   `json:"duplicates"`
	Invalid        int                                   `json:"invalid"`
	Failed         int                                   `json:"failed"`
	InvalidReasons []string                              `json:"invalid_reasons"`
	Errors         []string                              `json:"errors"`
	Report         *duplicate.Report[*ledger.Transaction] `json:"duplicate_report"`
	Transactions   []*ledger.Transaction                 `json:"transactions"`
	CardMatching   *CreditCardRunResult                  `json:"card_matching,omitempty"`
}

// LineItemImportResult summarizes an invoice line item import.
type LineItemImportResult struct {
	RunID          int64                                     `json:"run_id,omitempty"`
	InvoiceID      string                                    `json:"invoice_id"`
	Total          int                                       `json:"total"`
	Imported       int                                       `json:"imported"`
	Duplicates     int                                       `json:"duplicates"`
	Invalid        int                                       `json:"invalid"`
	Failed         int                                       `json:"failed"`
	InvalidReasons []string                                  `json:"invalid_reasons"`
	Errors         []string                                  `json:"errors"`
	Report         *duplicate.Report[*ledger.InvoiceLineItem] `json:"duplicate_report"`
	LineItems      []*ledger.InvoiceLineItem                 `json:"line_items"`
	Matching       *BatchResult                              `json:"matching,omitempty"`
}

// InvoiceSaveResult is the outcome of saving an extracted invoice.
type InvoiceSaveResult struct {
	Invoice    *ledger.Invoice      `json:"invoice"`
	Saved      bool                 `json:"saved"`
	Duplicates *duplicate.FileCheck `json:"duplicates"`
}

// UploadResult is the outcome of registering an uploaded file.
type UploadResult struct {
	File  *ledger.File         `json:"file,omitempty"`
	Check *duplicate.FileCheck `json:"check"`
}

// CreditCardRunResult summarizes a card settlement run.
type CreditCardRunResult struct {
	RunID                 int64                     `json:"run_id,omitempty"`
	MatchedCCTransactions int                       `json:"matched_cc_transactions"`
	Settlements           []*ledger.SettlementMatch `json:"settlements"`
	Errors                []string                  `json:"errors"`
}

// UnlinkResult is the state of a bank charge's aggregate after an unlink.
type UnlinkResult struct {
	BankTransactionID string                  `json:"bank_transaction_id"`
	Settlement        *ledger.SettlementMatch `json:"settlement,omitempty"`
	Deleted           bool                    `json:"deleted"`
}

// LineItemRunRequest selects the invoices of a line item run. An empty
// InvoiceIDs runs over all of the owner's invoices.
type LineItemRunRequest struct {
	InvoiceIDs   []string          `json:"invoice_ids"`
	ForceRematch bool              `json:"force_rematch"`
	Overrides    *ScoringOverrides `json:"overrides,omitempty"`
}

// Suggestion is a candidate-band match surfaced for review. It is not persisted.
type Suggestion struct {
	LineItemID    string           `json:"line_item_id"`
	TransactionID string           `json:"transaction_id"`
	Score         float64          `json:"score"`
	Breakdown     scorer.Breakdown `json:"breakdown"`
}

// InvoiceResult is one invoice's share of a line item run.
type InvoiceResult struct {
	InvoiceID        string       `json:"invoice_id"`
	LineItemsMatched int          `json:"line_items_matched"`
	LineItemsSkipped int          `json:"line_items_skipped"`
	LineItemsFailed  int          `json:"line_items_failed"`
	Suggestions      []Suggestion `json:"suggestions"`
	Errors           []string     `json:"errors,omitempty"`
}

// BatchResult summarizes a line item run.
type BatchResult struct {
	RunID             int64           `json:"run_id,omitempty"`
	TotalInvoices     int             `json:"total_invoices"`
	ProcessedInvoices int             `json:"processed_invoices"`
	Matched           int             `json:"matched"`
	Skipped           int             `json:"skipped"`
	Failed            int             `json:"failed"`
	Results           []InvoiceResult `json:"results"`
}
