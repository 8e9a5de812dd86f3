package dto

import (
	"fmt"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// BankImportRequest is the body of a bank statement import.
type BankImportRequest struct {
	Rows []ledger.ParsedTransaction `json:"rows"`
}

// CreditCardImportRequest is the body of a credit card statement import.
type CreditCardImportRequest struct {
	Rows []ledger.ParsedCreditCardTransaction `json:"rows"`
}

// LineItemImportRequest is the body of a line item import for one invoice.
type LineItemImportRequest struct {
	Items []ledger.ExtractedLineItem `json:"items"`
}

// InvoiceRequest is an extracted invoice header. Dates accept the same
// layouts as statement rows.
type InvoiceRequest struct {
	ID          string `json:"id,omitempty"`
	FileID      string `json:"file_id,omitempty"`
	VendorName  string `json:"vendor_name"`
	InvoiceDate string `json:"invoice_date"`
	TotalAmount *int64 `json:"total_amount"`
	Currency    string `json:"currency"`
}

// ToInvoice validates the request and builds the owner's invoice.
func (r InvoiceRequest) ToInvoice(owner ledger.OwnerID) (*ledger.Invoice, error) {
	date, err := ledger.ParseDate(r.InvoiceDate)
	if err != nil {
		return nil, fmt.Errorf("%w: invoice_date: %v", ledger.ErrInvalidInput, err)
	}
	if r.TotalAmount == nil {
		return nil, fmt.Errorf("%w: total_amount is required", ledger.ErrInvalidInput)
	}
	return &ledger.Invoice{
		ID:          r.ID,
		OwnerID:     owner,
		FileID:      r.FileID,
		VendorName:  r.VendorName,
		InvoiceDate: date,
		TotalAmount: *r.TotalAmount,
		Currency:    ledger.NormalizeCurrency(r.Currency),
	}, nil
}

// FileCheckRequest asks whether an upload was seen before. With Register
// set the file is recorded unless it is an exact duplicate.
type FileCheckRequest struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Register  bool   `json:"register"`
}

// ReviewRequest records a review decision on a settlement.
type ReviewRequest struct {
	Status ledger.ReviewStatus `json:"status"`
}

// LinkRequest links a line item to a transaction.
type LinkRequest struct {
	TransactionID string `json:"transaction_id"`
}

// VendorAliasRequest creates a vendor alias.
type VendorAliasRequest struct {
	AliasPattern  string                `json:"alias_pattern"`
	MatchType     ledger.AliasMatchType `json:"match_type"`
	CanonicalName string                `json:"canonical_name"`
	Priority      int                   `json:"priority"`
}

// ToVendorAlias builds the owner's alias.
func (r VendorAliasRequest) ToVendorAlias(owner ledger.OwnerID) *ledger.VendorAlias {
	return &ledger.VendorAlias{
		OwnerID:       owner,
		AliasPattern:  r.AliasPattern,
		MatchType:     r.MatchType,
		CanonicalName: r.CanonicalName,
		Priority:      r.Priority,
	}
}
