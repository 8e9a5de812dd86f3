package storage

import (
	"context"
	"time"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, in-memory mock)
// and makes testing with mocks straightforward.
//
// Every method is scoped to an owner; a record of another owner behaves as
// if it did not exist and yields ledger.ErrNotFound.
type Repository interface {
	TransactionRepository
	LineItemRepository
	InvoiceRepository
	FileRepository
	CreditCardRepository
	SettlementRepository
	VendorAliasRepository
	RunRepository
	Close() error
}

// TransactionRepository handles ledger rows
type TransactionRepository interface {
	// InsertTransactions inserts rows one by one, ignoring any whose
	// (owner, hash) already exists. Inserted rows get their ids set. A failed
	// row does not stop the others; err is only returned when ctx is done.
	InsertTransactions(ctx context.Context, owner ledger.OwnerID, txs []*ledger.Transaction) (*InsertOutcome, error)

	// ExistingHashes maps each stored hash among hashes to its transaction id
	ExistingHashes(ctx context.Context, owner ledger.OwnerID, types []ledger.TransactionType, hashes []string) (map[string]string, error)

	GetTransaction(ctx context.Context, owner ledger.OwnerID, id string) (*ledger.Transaction, error)

	// ListTransactions returns rows ordered by date, then insertion order
	ListTransactions(ctx context.Context, owner ledger.OwnerID, filter TransactionFilter) ([]*ledger.Transaction, error)

	// LinkSettlement links a card purchase to the bank charge settling it and
	// records the card on both rows
	LinkSettlement(ctx context.Context, owner ledger.OwnerID, purchaseID, bankID, creditCardID string) error

	// UnlinkSettlement clears a purchase's settlement link and returns the
	// bank id it was linked to
	UnlinkSettlement(ctx context.Context, owner ledger.OwnerID, purchaseID string) (string, error)

	// ListSettlementPurchases returns the purchases linked to a bank charge
	ListSettlementPurchases(ctx context.Context, owner ledger.OwnerID, bankID string) ([]*ledger.Transaction, error)

	// ClearBankCreditCard removes the card from a bank charge with no links left
	ClearBankCreditCard(ctx context.Context, owner ledger.OwnerID, bankID string) error
}

// LineItemRepository handles invoice line items
type LineItemRepository interface {
	// InsertLineItems inserts items one by one and sets their ids. Failed
	// items are returned and leave the others unaffected.
	InsertLineItems(ctx context.Context, owner ledger.OwnerID, items []*ledger.InvoiceLineItem) ([]RowError, error)

	GetLineItem(ctx context.Context, owner ledger.OwnerID, id string) (*ledger.InvoiceLineItem, error)

	// ListLineItemsByInvoice returns an invoice's items in creation order
	ListLineItemsByInvoice(ctx context.Context, owner ledger.OwnerID, invoiceID string) ([]*ledger.InvoiceLineItem, error)

	// FindLineItemsByReferences returns items whose reference id is in refs
	FindLineItemsByReferences(ctx context.Context, owner ledger.OwnerID, refs []string) ([]ledger.InvoiceLineItem, error)

	// LinkLineItem links an item to a transaction and sets the transaction's
	// match status in one database transaction
	LinkLineItem(ctx context.Context, owner ledger.OwnerID, lineItemID, transactionID string, method ledger.MatchMethod, confidence *float64, status ledger.MatchStatus) error

	// UnlinkLineItem clears an item's link and resets its transaction
	UnlinkLineItem(ctx context.Context, owner ledger.OwnerID, lineItemID string) error
}

// InvoiceRepository handles extracted invoices
type InvoiceRepository interface {
	// SaveInvoice inserts an invoice or updates its metadata. Changing the
	// stored total returns ledger.ErrAmountMutation.
	SaveInvoice(ctx context.Context, inv *ledger.Invoice) error

	GetInvoice(ctx context.Context, owner ledger.OwnerID, id string) (*ledger.Invoice, error)

	// ListInvoices returns the given invoices in the given order, or all of
	// the owner's invoices by date and creation order when ids is empty
	ListInvoices(ctx context.Context, owner ledger.OwnerID, ids []string) ([]*ledger.Invoice, error)

	FindInvoicesInRange(ctx context.Context, owner ledger.OwnerID, from, to time.Time) ([]ledger.Invoice, error)
}

// FileRepository handles uploaded file records
type FileRepository interface {
	SaveFile(ctx context.Context, f *ledger.File) error
	FindFilesByHash(ctx context.Context, owner ledger.OwnerID, hash string) ([]ledger.File, error)
	FindFilesByName(ctx context.Context, owner ledger.OwnerID, filename string) ([]ledger.File, error)
}

// CreditCardRepository handles an owner's cards
type CreditCardRepository interface {
	// EnsureCreditCard returns the owner's card with lastFour, creating it if needed
	EnsureCreditCard(ctx context.Context, owner ledger.OwnerID, lastFour string) (*ledger.CreditCard, error)
	ListCreditCards(ctx context.Context, owner ledger.OwnerID) ([]*ledger.CreditCard, error)
}

// SettlementRepository handles the card settlement aggregates
type SettlementRepository interface {
	// UpsertSettlement writes recomputed totals; an existing review status is kept
	UpsertSettlement(ctx context.Context, m *ledger.SettlementMatch) error
	GetSettlement(ctx context.Context, owner ledger.OwnerID, bankID string) (*ledger.SettlementMatch, error)
	ListSettlements(ctx context.Context, owner ledger.OwnerID) ([]*ledger.SettlementMatch, error)
	DeleteSettlement(ctx context.Context, owner ledger.OwnerID, bankID string) error
	SetSettlementStatus(ctx context.Context, owner ledger.OwnerID, bankID string, status ledger.ReviewStatus) error
}

// VendorAliasRepository handles vendor alias rules
type VendorAliasRepository interface {
	CreateVendorAlias(ctx context.Context, a *ledger.VendorAlias) error

	// ListVendorAliases returns aliases by descending priority, then creation order
	ListVendorAliases(ctx context.Context, owner ledger.OwnerID) ([]ledger.VendorAlias, error)

	DeleteVendorAlias(ctx context.Context, owner ledger.OwnerID, id string) error
}

// RunRepository handles reconcile run tracking
type RunRepository interface {
	// StartRun records the start of a run and returns the run ID
	StartRun(ctx context.Context, owner ledger.OwnerID, kind RunKind) (int64, error)

	// CompleteRun records the completion of a run
	CompleteRun(ctx context.Context, runID int64, counts RunCounts) error

	// ListRuns returns an owner's recent runs, newest first
	ListRuns(ctx context.Context, owner ledger.OwnerID, limit int) ([]Run, error)

	GetRun(ctx context.Context, owner ledger.OwnerID, runID int64) (*Run, error)
}
