package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
// It is safe for concurrent use.
type MockRepository struct {
	mu sync.Mutex

	transactions map[string]*ledger.Transaction
	lineItems    map[string]*ledger.InvoiceLineItem
	invoices     map[string]*ledger.Invoice
	files        []ledger.File
	cards        map[string]*ledger.CreditCard // Keyed by owner + last four
	settlements  map[string]*ledger.SettlementMatch
	aliases      []ledger.VendorAlias
	runs         map[int64]*Run
	seq          map[string]int64 // Creation order of every record
	nextSeq      int64
	nextRunID    int64

	// Hooks for test assertions
	InsertTransactionsCalled int
	InsertLineItemsCalled    int
	LinkSettlementCalled     int
	LinkLineItemCalled       int
	UpsertSettlementCalled   int
	ListTransactionsCalled   int

	// Error injection for testing error paths
	InsertTransactionsErr        error
	ExistingHashesErr            error
	ListTransactionsErr          error
	InsertLineItemsErr           error
	FindLineItemsByReferencesErr error
	LinkLineItemErr              error
	SaveInvoiceErr               error
	FindFilesErr                 error
	FindInvoicesInRangeErr       error
	LinkSettlementErr            error
	UpsertSettlementErr          error
	ListVendorAliasesErr         error
	StartRunErr                  error
	CompleteRunErr               error

	// Per-record failures, keyed by purchase or line item id
	LinkSettlementErrFor map[string]error
	LinkLineItemErrFor   map[string]error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		transactions:         make(map[string]*ledger.Transaction),
		lineItems:            make(map[string]*ledger.InvoiceLineItem),
		invoices:             make(map[string]*ledger.Invoice),
		files:                make([]ledger.File, 0),
		cards:                make(map[string]*ledger.CreditCard),
		settlements:          make(map[string]*ledger.SettlementMatch),
		aliases:              make([]ledger.VendorAlias, 0),
		runs:                 make(map[int64]*Run),
		seq:                  make(map[string]int64),
		nextRunID:            1,
		LinkSettlementErrFor: make(map[string]error),
		LinkLineItemErrFor:   make(map[string]error),
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

func (m *MockRepository) track(id string) {
	m.nextSeq++
	m.seq[id] = m.nextSeq
}

func copyTransaction(tx *ledger.Transaction) *ledger.Transaction {
	c := *tx
	return &c
}

func copyLineItem(li *ledger.InvoiceLineItem) *ledger.InvoiceLineItem {
	c := *li
	return &c
}

// ========================================
// Transactions
// ========================================

// InsertTransactions stores new rows and ignores (owner, hash) repeats
func (m *MockRepository) InsertTransactions(ctx context.Context, owner ledger.OwnerID, txs []*ledger.Transaction) (*InsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InsertTransactionsCalled++
	if m.InsertTransactionsErr != nil {
		return nil, m.InsertTransactionsErr
	}

	hashes := make(map[string]bool)
	for _, tx := range m.transactions {
		if tx.OwnerID == owner {
			hashes[tx.Hash] = true
		}
	}

	out := &InsertOutcome{}
	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if tx.OwnerID == "" {
			tx.OwnerID = owner
		}
		if tx.OwnerID != owner {
			out.Failed = append(out.Failed, RowError{Index: i, Err: ledger.ErrOwnerMismatch})
			continue
		}
		if tx.Hash == "" || !tx.Type.Valid() {
			out.Failed = append(out.Failed, RowError{Index: i, Err: fmt.Errorf("%w: hash and type are required", ledger.ErrInvalidInput)})
			continue
		}
		if hashes[tx.Hash] {
			out.Ignored = append(out.Ignored, tx)
			continue
		}
		if tx.MatchStatus == "" {
			tx.MatchStatus = ledger.StatusUnmatched
		}
		tx.ID = uuid.NewString()
		tx.CreatedAt = time.Now().UTC()
		hashes[tx.Hash] = true
		m.transactions[tx.ID] = copyTransaction(tx)
		m.track(tx.ID)
		out.Inserted = append(out.Inserted, tx)
	}
	return out, nil
}

// ExistingHashes maps stored hashes to their ids
func (m *MockRepository) ExistingHashes(_ context.Context, owner ledger.OwnerID, types []ledger.TransactionType, hashes []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ExistingHashesErr != nil {
		return nil, m.ExistingHashesErr
	}
	wanted := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		wanted[h] = true
	}
	found := make(map[string]string)
	for _, tx := range m.transactions {
		if tx.OwnerID == owner && wanted[tx.Hash] && typeIn(tx.Type, types) {
			found[tx.Hash] = tx.ID
		}
	}
	return found, nil
}

func typeIn(t ledger.TransactionType, types []ledger.TransactionType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// GetTransaction returns a copy of the owner's transaction
func (m *MockRepository) GetTransaction(_ context.Context, owner ledger.OwnerID, id string) (*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok || tx.OwnerID != owner {
		return nil, notFound("transaction", id)
	}
	return copyTransaction(tx), nil
}

// ListTransactions filters the owner's transactions, ordered by date then creation
func (m *MockRepository) ListTransactions(_ context.Context, owner ledger.OwnerID, filter TransactionFilter) ([]*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListTransactionsCalled++
	if m.ListTransactionsErr != nil {
		return nil, m.ListTransactionsErr
	}

	var out []*ledger.Transaction
	for _, tx := range m.transactions {
		if tx.OwnerID != owner || !typeIn(tx.Type, filter.Types) {
			continue
		}
		d := ledger.DateOnly(tx.Date)
		if filter.From != nil && d.Before(ledger.DateOnly(*filter.From)) {
			continue
		}
		if filter.To != nil && d.After(ledger.DateOnly(*filter.To)) {
			continue
		}
		if filter.MatchStatus != "" && tx.MatchStatus != filter.MatchStatus {
			continue
		}
		if filter.UnsettledOnly && tx.IsSettled() {
			continue
		}
		if filter.CardLastFour != "" && tx.CardLastFour != filter.CardLastFour {
			continue
		}
		out = append(out, copyTransaction(tx))
	}
	m.sortByDate(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockRepository) sortByDate(txs []*ledger.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		di, dj := ledger.DateOnly(txs[i].Date), ledger.DateOnly(txs[j].Date)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return m.seq[txs[i].ID] < m.seq[txs[j].ID]
	})
}

// LinkSettlement links a purchase to a bank charge
func (m *MockRepository) LinkSettlement(_ context.Context, owner ledger.OwnerID, purchaseID, bankID, creditCardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LinkSettlementCalled++
	if m.LinkSettlementErr != nil {
		return m.LinkSettlementErr
	}
	if err := m.LinkSettlementErrFor[purchaseID]; err != nil {
		return err
	}

	purchase, ok := m.transactions[purchaseID]
	if !ok || purchase.OwnerID != owner {
		return notFound("transaction", purchaseID)
	}
	bank, ok := m.transactions[bankID]
	if !ok || bank.OwnerID != owner {
		return notFound("transaction", bankID)
	}
	if purchase.Type != ledger.TypeCCPurchase {
		return fmt.Errorf("%w: %s is not a card purchase", ledger.ErrInvalidInput, purchaseID)
	}
	if !bank.Type.IsBank() {
		return fmt.Errorf("%w: %s is not a bank row", ledger.ErrInvalidInput, bankID)
	}
	if purchase.IsSettled() && *purchase.SettlementTransactionID != bankID {
		return fmt.Errorf("purchase %s settled by another charge: %w", purchaseID, ledger.ErrAlreadyLinked)
	}

	link := bankID
	purchase.SettlementTransactionID = &link
	bank.Type = ledger.TypeBankCCCharge
	if creditCardID != "" {
		card := creditCardID
		purchase.CreditCardID = &card
		bank.CreditCardID = &card
	}
	return nil
}

// UnlinkSettlement clears a purchase's settlement link
func (m *MockRepository) UnlinkSettlement(_ context.Context, owner ledger.OwnerID, purchaseID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purchase, ok := m.transactions[purchaseID]
	if !ok || purchase.OwnerID != owner {
		return "", notFound("transaction", purchaseID)
	}
	if !purchase.IsSettled() {
		return "", fmt.Errorf("settlement link of %s: %w", purchaseID, ledger.ErrNotFound)
	}
	bankID := *purchase.SettlementTransactionID
	purchase.SettlementTransactionID = nil
	return bankID, nil
}

// ListSettlementPurchases returns the purchases linked to bankID
func (m *MockRepository) ListSettlementPurchases(_ context.Context, owner ledger.OwnerID, bankID string) ([]*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ledger.Transaction
	for _, tx := range m.transactions {
		if tx.OwnerID == owner && tx.IsSettled() && *tx.SettlementTransactionID == bankID {
			out = append(out, copyTransaction(tx))
		}
	}
	m.sortByDate(out)
	return out, nil
}

// ClearBankCreditCard removes the card reference from a bank row
func (m *MockRepository) ClearBankCreditCard(_ context.Context, owner ledger.OwnerID, bankID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bank, ok := m.transactions[bankID]
	if !ok || bank.OwnerID != owner {
		return notFound("transaction", bankID)
	}
	bank.CreditCardID = nil
	return nil
}

// ========================================
// Line items
// ========================================

// InsertLineItems stores items whose invoice belongs to owner
func (m *MockRepository) InsertLineItems(ctx context.Context, owner ledger.OwnerID, items []*ledger.InvoiceLineItem) ([]RowError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InsertLineItemsCalled++
	if m.InsertLineItemsErr != nil {
		return nil, m.InsertLineItemsErr
	}

	var failed []RowError
	for i, li := range items {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if li.OwnerID == "" {
			li.OwnerID = owner
		}
		if li.OwnerID != owner {
			failed = append(failed, RowError{Index: i, Err: ledger.ErrOwnerMismatch})
			continue
		}
		inv, ok := m.invoices[li.InvoiceID]
		if !ok || inv.OwnerID != owner {
			failed = append(failed, RowError{Index: i, Err: notFound("invoice", li.InvoiceID)})
			continue
		}
		li.ID = uuid.NewString()
		li.CreatedAt = time.Now().UTC()
		m.lineItems[li.ID] = copyLineItem(li)
		m.track(li.ID)
	}
	return failed, nil
}

// GetLineItem returns a copy of the owner's line item
func (m *MockRepository) GetLineItem(_ context.Context, owner ledger.OwnerID, id string) (*ledger.InvoiceLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	li, ok := m.lineItems[id]
	if !ok || li.OwnerID != owner {
		return nil, notFound("line item", id)
	}
	return copyLineItem(li), nil
}

// ListLineItemsByInvoice returns an invoice's items in creation order
func (m *MockRepository) ListLineItemsByInvoice(_ context.Context, owner ledger.OwnerID, invoiceID string) ([]*ledger.InvoiceLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ledger.InvoiceLineItem
	for _, li := range m.lineItems {
		if li.OwnerID == owner && li.InvoiceID == invoiceID {
			out = append(out, copyLineItem(li))
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] < m.seq[out[j].ID] })
	return out, nil
}

// FindLineItemsByReferences returns the owner's items carrying any of refs
func (m *MockRepository) FindLineItemsByReferences(_ context.Context, owner ledger.OwnerID, refs []string) ([]ledger.InvoiceLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FindLineItemsByReferencesErr != nil {
		return nil, m.FindLineItemsByReferencesErr
	}
	wanted := make(map[string]bool, len(refs))
	for _, r := range refs {
		wanted[r] = true
	}
	var found []*ledger.InvoiceLineItem
	for _, li := range m.lineItems {
		if li.OwnerID == owner && wanted[li.ReferenceID] {
			found = append(found, li)
		}
	}
	sort.Slice(found, func(i, j int) bool { return m.seq[found[i].ID] < m.seq[found[j].ID] })
	out := make([]ledger.InvoiceLineItem, len(found))
	for i, li := range found {
		out[i] = *li
	}
	return out, nil
}

// LinkLineItem links an item to a transaction and sets the transaction's status
func (m *MockRepository) LinkLineItem(_ context.Context, owner ledger.OwnerID, lineItemID, transactionID string, method ledger.MatchMethod, confidence *float64, status ledger.MatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LinkLineItemCalled++
	if m.LinkLineItemErr != nil {
		return m.LinkLineItemErr
	}
	if err := m.LinkLineItemErrFor[lineItemID]; err != nil {
		return err
	}

	li, ok := m.lineItems[lineItemID]
	if !ok || li.OwnerID != owner {
		return notFound("line item", lineItemID)
	}
	tx, ok := m.transactions[transactionID]
	if !ok || tx.OwnerID != owner {
		return notFound("transaction", transactionID)
	}

	for id, other := range m.lineItems {
		if id != lineItemID && other.OwnerID == owner && other.IsMatched() && *other.TransactionID == transactionID {
			return fmt.Errorf("transaction %s: %w", transactionID, ledger.ErrAlreadyLinked)
		}
	}

	var previous string
	if li.IsMatched() {
		previous = *li.TransactionID
	}
	link := transactionID
	li.TransactionID = &link
	li.MatchMethod = method
	li.MatchConfidence = copyFloat(confidence)
	tx.MatchStatus = status
	tx.MatchConfidence = copyFloat(confidence)

	if previous != "" && previous != transactionID {
		m.resetIfOrphaned(previous)
	}
	return nil
}

// UnlinkLineItem clears an item's link
func (m *MockRepository) UnlinkLineItem(_ context.Context, owner ledger.OwnerID, lineItemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	li, ok := m.lineItems[lineItemID]
	if !ok || li.OwnerID != owner {
		return notFound("line item", lineItemID)
	}
	if !li.IsMatched() {
		return fmt.Errorf("link of line item %s: %w", lineItemID, ledger.ErrNotFound)
	}
	previous := *li.TransactionID
	li.TransactionID = nil
	li.MatchMethod = ledger.MethodNone
	li.MatchConfidence = nil
	m.resetIfOrphaned(previous)
	return nil
}

func (m *MockRepository) resetIfOrphaned(transactionID string) {
	for _, li := range m.lineItems {
		if li.IsMatched() && *li.TransactionID == transactionID {
			return
		}
	}
	if tx, ok := m.transactions[transactionID]; ok {
		tx.MatchStatus = ledger.StatusUnmatched
		tx.MatchConfidence = nil
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ========================================
// Invoices, files and cards
// ========================================

// SaveInvoice inserts or updates an invoice, refusing total changes
func (m *MockRepository) SaveInvoice(_ context.Context, inv *ledger.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveInvoiceErr != nil {
		return m.SaveInvoiceErr
	}
	if inv.OwnerID == "" {
		return fmt.Errorf("%w: invoice owner is required", ledger.ErrInvalidInput)
	}
	inv.Currency = ledger.NormalizeCurrency(inv.Currency)
	if inv.Currency == "" {
		inv.Currency = "ILS"
	}

	if existing, ok := m.invoices[inv.ID]; ok && inv.ID != "" {
		if existing.OwnerID != inv.OwnerID {
			return fmt.Errorf("invoice %s: %w", inv.ID, ledger.ErrOwnerMismatch)
		}
		if existing.TotalAmount != inv.TotalAmount {
			return fmt.Errorf("invoice %s total %d -> %d: %w", inv.ID, existing.TotalAmount, inv.TotalAmount, ledger.ErrAmountMutation)
		}
		inv.CreatedAt = existing.CreatedAt
		c := *inv
		m.invoices[inv.ID] = &c
		return nil
	}

	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = time.Now().UTC()
	c := *inv
	m.invoices[inv.ID] = &c
	m.track(inv.ID)
	return nil
}

// GetInvoice returns a copy of the owner's invoice
func (m *MockRepository) GetInvoice(_ context.Context, owner ledger.OwnerID, id string) (*ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[id]
	if !ok || inv.OwnerID != owner {
		return nil, notFound("invoice", id)
	}
	c := *inv
	return &c, nil
}

// ListInvoices returns the requested invoices in request order, or all by date
func (m *MockRepository) ListInvoices(_ context.Context, owner ledger.OwnerID, ids []string) ([]*ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ledger.Invoice
	if len(ids) > 0 {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			inv, ok := m.invoices[id]
			if !ok || inv.OwnerID != owner || seen[id] {
				continue
			}
			seen[id] = true
			c := *inv
			out = append(out, &c)
		}
		return out, nil
	}

	for _, inv := range m.invoices {
		if inv.OwnerID == owner {
			c := *inv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvoiceDate.Equal(out[j].InvoiceDate) {
			return out[i].InvoiceDate.Before(out[j].InvoiceDate)
		}
		return m.seq[out[i].ID] < m.seq[out[j].ID]
	})
	return out, nil
}

// FindInvoicesInRange returns the owner's invoices dated within [from, to]
func (m *MockRepository) FindInvoicesInRange(_ context.Context, owner ledger.OwnerID, from, to time.Time) ([]ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FindInvoicesInRangeErr != nil {
		return nil, m.FindInvoicesInRangeErr
	}
	from, to = ledger.DateOnly(from), ledger.DateOnly(to)
	var found []*ledger.Invoice
	for _, inv := range m.invoices {
		d := ledger.DateOnly(inv.InvoiceDate)
		if inv.OwnerID == owner && !d.Before(from) && !d.After(to) {
			found = append(found, inv)
		}
	}
	sort.Slice(found, func(i, j int) bool { return m.seq[found[i].ID] < m.seq[found[j].ID] })
	out := make([]ledger.Invoice, len(found))
	for i, inv := range found {
		out[i] = *inv
	}
	return out, nil
}

// SaveFile records an uploaded file
func (m *MockRepository) SaveFile(_ context.Context, f *ledger.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.OwnerID == "" || f.Hash == "" {
		return fmt.Errorf("%w: file owner and hash are required", ledger.ErrInvalidInput)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	m.files = append(m.files, *f)
	return nil
}

// FindFilesByHash returns the owner's files with the given content key
func (m *MockRepository) FindFilesByHash(_ context.Context, owner ledger.OwnerID, hash string) ([]ledger.File, error) {
	return m.findFiles(owner, func(f ledger.File) bool { return f.Hash == hash })
}

// FindFilesByName returns the owner's files with the given filename
func (m *MockRepository) FindFilesByName(_ context.Context, owner ledger.OwnerID, filename string) ([]ledger.File, error) {
	return m.findFiles(owner, func(f ledger.File) bool { return f.Filename == filename })
}

func (m *MockRepository) findFiles(owner ledger.OwnerID, keep func(ledger.File) bool) ([]ledger.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FindFilesErr != nil {
		return nil, m.FindFilesErr
	}
	var out []ledger.File
	for _, f := range m.files {
		if f.OwnerID == owner && keep(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// EnsureCreditCard returns the owner's card, creating it when missing
func (m *MockRepository) EnsureCreditCard(_ context.Context, owner ledger.OwnerID, lastFour string) (*ledger.CreditCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !ledger.IsLastFour(lastFour) {
		return nil, fmt.Errorf("%w: card last four %q", ledger.ErrInvalidInput, lastFour)
	}
	key := string(owner) + "|" + lastFour
	card, ok := m.cards[key]
	if !ok {
		card = &ledger.CreditCard{ID: uuid.NewString(), OwnerID: owner, LastFour: lastFour}
		m.cards[key] = card
	}
	c := *card
	return &c, nil
}

// ListCreditCards returns the owner's cards by last four
func (m *MockRepository) ListCreditCards(_ context.Context, owner ledger.OwnerID) ([]*ledger.CreditCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ledger.CreditCard
	for _, card := range m.cards {
		if card.OwnerID == owner {
			c := *card
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastFour < out[j].LastFour })
	return out, nil
}

// ========================================
// Settlements
// ========================================

// UpsertSettlement writes an aggregate's totals, keeping an existing review status
func (m *MockRepository) UpsertSettlement(_ context.Context, sm *ledger.SettlementMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertSettlementCalled++
	if m.UpsertSettlementErr != nil {
		return m.UpsertSettlementErr
	}
	if sm.LinkedCount <= 0 {
		return fmt.Errorf("%w: settlement for %s has no links", ledger.ErrInvalidInput, sm.BankTransactionID)
	}
	bank, ok := m.transactions[sm.BankTransactionID]
	if !ok || bank.OwnerID != sm.OwnerID {
		return notFound("settlement", sm.BankTransactionID)
	}

	ts := time.Now().UTC()
	existing, ok := m.settlements[sm.BankTransactionID]
	if !ok {
		existing = &ledger.SettlementMatch{
			ID:                uuid.NewString(),
			OwnerID:           sm.OwnerID,
			BankTransactionID: sm.BankTransactionID,
			Status:            sm.Status,
			CreatedAt:         ts,
		}
		if existing.Status == "" {
			existing.Status = ledger.ReviewPending
		}
		m.settlements[sm.BankTransactionID] = existing
		m.track(existing.ID)
	}
	existing.TotalLinkedAmount = sm.TotalLinkedAmount
	existing.LinkedCount = sm.LinkedCount
	existing.Discrepancy = sm.Discrepancy
	existing.Confidence = sm.Confidence
	existing.UpdatedAt = ts
	*sm = *existing
	return nil
}

// GetSettlement returns the aggregate of a bank charge
func (m *MockRepository) GetSettlement(_ context.Context, owner ledger.OwnerID, bankID string) (*ledger.SettlementMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.settlements[bankID]
	if !ok || sm.OwnerID != owner {
		return nil, notFound("settlement", bankID)
	}
	c := *sm
	return &c, nil
}

// ListSettlements returns the owner's aggregates, oldest first
func (m *MockRepository) ListSettlements(_ context.Context, owner ledger.OwnerID) ([]*ledger.SettlementMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ledger.SettlementMatch
	for _, sm := range m.settlements {
		if sm.OwnerID == owner {
			c := *sm
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] < m.seq[out[j].ID] })
	return out, nil
}

// DeleteSettlement removes a bank charge's aggregate
func (m *MockRepository) DeleteSettlement(_ context.Context, owner ledger.OwnerID, bankID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.settlements[bankID]
	if !ok || sm.OwnerID != owner {
		return notFound("settlement", bankID)
	}
	delete(m.settlements, bankID)
	return nil
}

// SetSettlementStatus records the review decision on an aggregate
func (m *MockRepository) SetSettlementStatus(_ context.Context, owner ledger.OwnerID, bankID string, status ledger.ReviewStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !status.Valid() {
		return fmt.Errorf("%w: review status %q", ledger.ErrInvalidInput, status)
	}
	sm, ok := m.settlements[bankID]
	if !ok || sm.OwnerID != owner {
		return notFound("settlement", bankID)
	}
	sm.Status = status
	sm.UpdatedAt = time.Now().UTC()
	return nil
}

// ========================================
// Vendor aliases
// ========================================

// CreateVendorAlias stores a new alias rule
func (m *MockRepository) CreateVendorAlias(_ context.Context, a *ledger.VendorAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.OwnerID == "" || a.AliasPattern == "" || a.CanonicalName == "" || !a.MatchType.Valid() {
		return fmt.Errorf("%w: alias needs owner, pattern, canonical name and match type", ledger.ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	m.aliases = append(m.aliases, *a)
	return nil
}

// ListVendorAliases returns the owner's aliases, highest priority first
func (m *MockRepository) ListVendorAliases(_ context.Context, owner ledger.OwnerID) ([]ledger.VendorAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListVendorAliasesErr != nil {
		return nil, m.ListVendorAliasesErr
	}
	var out []ledger.VendorAlias
	for _, a := range m.aliases {
		if a.OwnerID == owner {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// DeleteVendorAlias removes one of the owner's aliases
func (m *MockRepository) DeleteVendorAlias(_ context.Context, owner ledger.OwnerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, a := range m.aliases {
		if a.ID == id && a.OwnerID == owner {
			m.aliases = append(m.aliases[:i], m.aliases[i+1:]...)
			return nil
		}
	}
	return notFound("vendor alias", id)
}

// ========================================
// Runs
// ========================================

// StartRun records the start of a run
func (m *MockRepository) StartRun(_ context.Context, owner ledger.OwnerID, kind RunKind) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StartRunErr != nil {
		return 0, m.StartRunErr
	}
	id := m.nextRunID
	m.nextRunID++
	m.runs[id] = &Run{
		ID:        id,
		OwnerID:   string(owner),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		Errors:    []string{},
		Status:    RunStatusRunning,
	}
	return id, nil
}

// CompleteRun records the completion of a run
func (m *MockRepository) CompleteRun(_ context.Context, runID int64, counts RunCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CompleteRunErr != nil {
		return m.CompleteRunErr
	}
	run, ok := m.runs[runID]
	if !ok {
		return notFound("run", fmt.Sprint(runID))
	}
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Total = counts.Total
	run.Succeeded = counts.Succeeded
	run.Skipped = counts.Skipped
	run.Failed = counts.Failed
	run.Errors = append([]string{}, counts.Errors...)
	run.Status = RunStatus(counts)
	return nil
}

// ListRuns returns the owner's most recent runs
func (m *MockRepository) ListRuns(_ context.Context, owner ledger.OwnerID, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	var out []Run
	for _, run := range m.runs {
		if run.OwnerID == string(owner) {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetRun retrieves one of the owner's runs
func (m *MockRepository) GetRun(_ context.Context, owner ledger.OwnerID, runID int64) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok || run.OwnerID != string(owner) {
		return nil, notFound("run", fmt.Sprint(runID))
	}
	c := *run
	return &c, nil
}
