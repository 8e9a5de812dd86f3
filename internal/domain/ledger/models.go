// Package ledger defines the records the reconciliation engine works on:
// ledger transactions, invoices and their line items, vendor aliases,
// credit cards and the aggregated credit-card settlement matches.
//
// All amounts are signed integers in minor units (agorot, cents).
// Every record belongs to exactly one owner scope and is never compared
// or linked across scopes.
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// OwnerID identifies a user or team scope, e.g. "user:42" or "team:7".
type OwnerID string

// ParseOwnerID validates a "user:<id>" or "team:<id>" scope.
func ParseOwnerID(s string) (OwnerID, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || (kind != "user" && kind != "team") || id == "" || strings.ContainsAny(id, " :/") {
		return "", fmt.Errorf("%w: owner %q", ErrInvalidInput, s)
	}
	return OwnerID(kind + ":" + id), nil
}

// TransactionType classifies a ledger row by the statement it came from.
type TransactionType string

const (
	TypeBankRegular  TransactionType = "bank_regular"
	TypeBankCCCharge TransactionType = "bank_cc_charge"
	TypeCCPurchase   TransactionType = "cc_purchase"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeBankRegular, TypeBankCCCharge, TypeCCPurchase:
		return true
	}
	return false
}

// IsBank reports whether the row came from a bank statement.
func (t TransactionType) IsBank() bool {
	return t == TypeBankRegular || t == TypeBankCCCharge
}

// MatchStatus records how (and whether) a transaction was linked.
type MatchStatus string

const (
	StatusUnmatched      MatchStatus = "unmatched"
	StatusManual         MatchStatus = "manual"
	StatusRuleAmountDate MatchStatus = "rule_amount_date"
	StatusAutoApproved   MatchStatus = "auto_approved"
)

// MatchMethod records how a line item got its transaction link.
type MatchMethod string

const (
	MethodNone   MatchMethod = ""
	MethodAuto   MatchMethod = "auto"
	MethodManual MatchMethod = "manual"
)

// ReviewStatus is the user review state of a settlement aggregate.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Valid reports whether s is a known review status.
func (s ReviewStatus) Valid() bool {
	return s == ReviewPending || s == ReviewApproved || s == ReviewRejected
}

// Transaction is a unified ledger row.
type Transaction struct {
	ID              string          `json:"id"`
	OwnerID         OwnerID         `json:"owner_id"`
	Date            time.Time       `json:"date"`
	ValueDate       *time.Time      `json:"value_date,omitempty"`
	Description     string          `json:"description"`
	Reference       string          `json:"reference,omitempty"`
	Amount          int64           `json:"amount"`
	Balance         *int64          `json:"balance,omitempty"`
	ForeignAmount   *int64          `json:"foreign_amount,omitempty"`
	ForeignCurrency string          `json:"foreign_currency,omitempty"`
	Type            TransactionType `json:"transaction_type"`
	CreditCardID    *string         `json:"credit_card_id,omitempty"`
	CardLastFour    string          `json:"card_last_four,omitempty"`
	Notes           string          `json:"notes,omitempty"`

	// SettlementTransactionID links a cc_purchase to the bank charge that settles it.
	SettlementTransactionID *string `json:"settlement_transaction_id,omitempty"`

	Hash            string      `json:"hash"`
	MatchStatus     MatchStatus `json:"match_status"`
	MatchConfidence *float64    `json:"match_confidence,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// SettlementDate is the date a card purchase is charged to the bank
// account: the billing (value) date when known, else the purchase date.
func (t *Transaction) SettlementDate() time.Time {
	if t.ValueDate != nil && !t.ValueDate.IsZero() {
		return *t.ValueDate
	}
	return t.Date
}

// IsSettled reports whether a card purchase is linked to a bank charge.
func (t *Transaction) IsSettled() bool {
	return t.SettlementTransactionID != nil && *t.SettlementTransactionID != ""
}

// Invoice is an extracted document (invoice or receipt).
type Invoice struct {
	ID          string    `json:"id"`
	OwnerID     OwnerID   `json:"owner_id"`
	FileID      string    `json:"file_id,omitempty"`
	VendorName  string    `json:"vendor_name"`
	InvoiceDate time.Time `json:"invoice_date"`
	TotalAmount int64     `json:"total_amount"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

// InvoiceLineItem is a single payable line of an invoice. Once TransactionID
// is set the line item is consumed and excluded from auto-matching unless a
// forced rematch is requested.
type InvoiceLineItem struct {
	ID              string      `json:"id"`
	InvoiceID       string      `json:"invoice_id"`
	OwnerID         OwnerID     `json:"owner_id"`
	Description     string      `json:"description"`
	ReferenceID     string      `json:"reference_id,omitempty"`
	TransactionDate time.Time   `json:"transaction_date"`
	Amount          int64       `json:"amount"`
	Currency        string      `json:"currency"`
	VATRate         string      `json:"vat_rate,omitempty"`
	VATAmount       *int64      `json:"vat_amount,omitempty"`
	TransactionID   *string     `json:"transaction_id,omitempty"`
	MatchMethod     MatchMethod `json:"match_method,omitempty"`
	MatchConfidence *float64    `json:"match_confidence,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// IsMatched reports whether the line item is linked to a transaction.
func (li *InvoiceLineItem) IsMatched() bool {
	return li.TransactionID != nil && *li.TransactionID != ""
}

// AliasMatchType selects how an alias pattern is compared to a description.
type AliasMatchType string

const (
	AliasExact      AliasMatchType = "exact"
	AliasStartsWith AliasMatchType = "starts_with"
	AliasEndsWith   AliasMatchType = "ends_with"
	AliasContains   AliasMatchType = "contains"
)

// Valid reports whether m is a known alias match type.
func (m AliasMatchType) Valid() bool {
	switch m {
	case AliasExact, AliasStartsWith, AliasEndsWith, AliasContains:
		return true
	}
	return false
}

// VendorAlias maps descriptions to a canonical vendor name. Higher priority wins.
type VendorAlias struct {
	ID            string         `json:"id"`
	OwnerID       OwnerID        `json:"owner_id"`
	AliasPattern  string         `json:"alias_pattern"`
	MatchType     AliasMatchType `json:"match_type"`
	CanonicalName string         `json:"canonical_name"`
	Priority      int            `json:"priority"`
	CreatedAt     time.Time      `json:"created_at"`
}

// CreditCard is an owner's card, identified by its last four digits.
type CreditCard struct {
	ID       string  `json:"id"`
	OwnerID  OwnerID `json:"owner_id"`
	LastFour string  `json:"last_four"`
	Name     string  `json:"name,omitempty"`
}

// SettlementMatch aggregates one bank charge with the card purchases linked
// to it. It is derived entirely from the member links: created on the first
// link, recomputed on every link or unlink, deleted when LinkedCount hits zero.
type SettlementMatch struct {
	ID                string       `json:"id"`
	OwnerID           OwnerID      `json:"owner_id"`
	BankTransactionID string       `json:"bank_transaction_id"`
	TotalLinkedAmount int64        `json:"total_linked_amount"`
	LinkedCount       int          `json:"linked_count"`
	Discrepancy       int64        `json:"discrepancy"`
	Confidence        float64      `json:"confidence"`
	Status            ReviewStatus `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// File is an uploaded statement or document.
type File struct {
	ID         string    `json:"id"`
	OwnerID    OwnerID   `json:"owner_id"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	Hash       string    `json:"hash"`
	UploadedAt time.Time `json:"uploaded_at"`
}
