package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

const latestMigrationVersion = 2

func createTempDB(t *testing.T) string {
	tmpFile, err := os.CreateTemp("", "test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })
	return tmpFile.Name()
}

func newTestStorage(t *testing.T) *Storage {
	store, err := NewStorage(createTempDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func date(s string) time.Time {
	d, err := ledger.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func bankTx(owner ledger.OwnerID, day, desc string, amount int64, hash string) *ledger.Transaction {
	return &ledger.Transaction{
		OwnerID:     owner,
		Date:        date(day),
		Description: desc,
		Amount:      amount,
		Type:        ledger.TypeBankRegular,
		Hash:        hash,
	}
}

func ccTx(owner ledger.OwnerID, day, desc string, amount int64, hash string) *ledger.Transaction {
	tx := bankTx(owner, day, desc, amount, hash)
	tx.Type = ledger.TypeCCPurchase
	tx.CardLastFour = "1234"
	return tx
}

func TestMigrations_FreshDatabase(t *testing.T) {
	store := newTestStorage(t)

	var version int
	err := store.db.QueryRow("SELECT MAX(version_id) FROM goose_db_version WHERE is_applied = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, latestMigrationVersion, version)

	for _, table := range []string{"files", "invoices", "invoice_line_items", "credit_cards", "transactions", "vendor_aliases", "cc_match_results", "reconcile_runs"} {
		err := store.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(new(int))
		assert.NoError(t, err, "%s table should exist", table)
	}
}

func TestMigrations_Idempotency(t *testing.T) {
	tmpDB := createTempDB(t)

	store, err := NewStorage(tmpDB)
	require.NoError(t, err)
	store.Close()

	store, err = NewStorage(tmpDB)
	require.NoError(t, err)
	defer store.Close()

	var version int
	err = store.db.QueryRow("SELECT MAX(version_id) FROM goose_db_version WHERE is_applied = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, latestMigrationVersion, version)
}

func TestInsertTransactions_IgnoresStoredHash(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("user:1")

	first, err := store.InsertTransactions(ctx, owner, []*ledger.Transaction{
		bankTx(owner, "2024-03-01", "RENT", -500000, "h1"),
		bankTx(owner, "2024-03-02", "SALARY", 1200000, "h2"),
	})
	require.NoError(t, err)
	require.Len(t, first.Inserted, 2)

	// Act
	second, err := store.InsertTransactions(ctx, owner, []*ledger.Transaction{
		bankTx(owner, "2024-03-01", "RENT", -500000, "h1"),
		bankTx(owner, "2024-03-05", "COFFEE", -1800, "h3"),
	})

	// Assert
	require.NoError(t, err)
	assert.Len(t, second.Inserted, 1)
	assert.Len(t, second.Ignored, 1)
	assert.Empty(t, second.Failed)

	all, err := store.ListTransactions(ctx, owner, TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "RENT", all[0].Description)
	assert.Equal(t, "COFFEE", all[2].Description)
}

func TestInsertTransactions_SameHashOtherOwner(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	_, err := store.InsertTransactions(ctx, "user:1", []*ledger.Transaction{bankTx("user:1", "2024-03-01", "RENT", -500000, "h1")})
	require.NoError(t, err)
	out, err := store.InsertTransactions(ctx, "user:2", []*ledger.Transaction{bankTx("user:2", "2024-03-01", "RENT", -500000, "h1")})
	require.NoError(t, err)
	assert.Len(t, out.Inserted, 1)

	found, err := store.ExistingHashes(ctx, "user:2", nil, []string{"h1", "h9"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, out.Inserted[0].ID, found["h1"])
}

func TestInsertTransactions_RowFailuresDoNotStopBatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	out, err := store.InsertTransactions(ctx, "user:1", []*ledger.Transaction{
		bankTx("user:2", "2024-03-01", "FOREIGN OWNER", -100, "h1"),
		bankTx("user:1", "2024-03-01", "NO HASH", -100, ""),
		bankTx("user:1", "2024-03-01", "OK", -100, "h3"),
	})
	require.NoError(t, err)
	require.Len(t, out.Failed, 2)
	assert.ErrorIs(t, out.Failed[0].Err, ledger.ErrOwnerMismatch)
	assert.Equal(t, 1, out.Failed[1].Index)
	assert.Len(t, out.Inserted, 1)
}

func TestGetTransaction_OtherOwnerNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	out, err := store.InsertTransactions(ctx, "user:1", []*ledger.Transaction{bankTx("user:1", "2024-03-01", "RENT", -500000, "h1")})
	require.NoError(t, err)

	_, err = store.GetTransaction(ctx, "user:2", out.Inserted[0].ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLinkSettlement_RoundTrip(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("user:1")
	card, err := store.EnsureCreditCard(ctx, owner, "1234")
	require.NoError(t, err)

	out, err := store.InsertTransactions(ctx, owner, []*ledger.Transaction{
		bankTx(owner, "2024-03-10", "ISRACARD 1234", -30000, "b1"),
		ccTx(owner, "2024-03-01", "SHOP A", -10000, "c1"),
		ccTx(owner, "2024-03-02", "SHOP B", -20000, "c2"),
	})
	require.NoError(t, err)
	bank, a, b := out.Inserted[0], out.Inserted[1], out.Inserted[2]

	// Act
	require.NoError(t, store.LinkSettlement(ctx, owner, a.ID, bank.ID, card.ID))
	require.NoError(t, store.LinkSettlement(ctx, owner, b.ID, bank.ID, card.ID))

	// Assert
	linked, err := store.ListSettlementPurchases(ctx, owner, bank.ID)
	require.NoError(t, err)
	assert.Len(t, linked, 2)

	storedBank, err := store.GetTransaction(ctx, owner, bank.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeBankCCCharge, storedBank.Type)
	require.NotNil(t, storedBank.CreditCardID)
	assert.Equal(t, card.ID, *storedBank.CreditCardID)
	assert.Equal(t, ledger.StatusUnmatched, storedBank.MatchStatus)
	assert.Equal(t, int64(-30000), storedBank.Amount)

	unsettled, err := store.ListTransactions(ctx, owner, TransactionFilter{Types: []ledger.TransactionType{ledger.TypeCCPurchase}, UnsettledOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unsettled)

	bankID, err := store.UnlinkSettlement(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.Equal(t, bank.ID, bankID)

	_, err = store.UnlinkSettlement(ctx, owner, a.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLinkSettlement_RejectsWrongTypes(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("user:1")

	out, err := store.InsertTransactions(ctx, owner, []*ledger.Transaction{
		bankTx(owner, "2024-03-10", "BANK", -30000, "b1"),
		ccTx(owner, "2024-03-01", "SHOP", -10000, "c1"),
	})
	require.NoError(t, err)
	bank, purchase := out.Inserted[0], out.Inserted[1]

	err = store.LinkSettlement(ctx, owner, bank.ID, purchase.ID, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	err = store.LinkSettlement(ctx, "user:2", purchase.ID, bank.ID, "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSettlement_UpsertKeepsReviewStatus(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("user:1")
	out, err := store.InsertTransactions(ctx, owner, []*ledger.Transaction{bankTx(owner, "2024-03-10", "ISRACARD", -30000, "b1")})
	require.NoError(t, err)
	bankID := out.Inserted[0].ID

	m := &ledger.SettlementMatch{OwnerID: owner, BankTransactionID: bankID, TotalLinkedAmount: -10000, LinkedCount: 1, Discrepancy: -20000, Confidence: 33.33}
	require.NoError(t, store.UpsertSettlement(ctx, m))
	require.NoError(t, store.SetSettlementStatus(ctx, owner, bankID, ledger.ReviewApproved))

	// Act
	m2 := &ledger.SettlementMatch{OwnerID: owner, BankTransactionID: bankID, TotalLinkedAmount: -30000, LinkedCount: 2, Discrepancy: 0, Confidence: 100}
	require.NoError(t, store.UpsertSettlement(ctx, m2))

	// Assert
	stored, err := store.GetSettlement(ctx, owner, bankID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReviewApproved, stored.Status)
	assert.Equal(t, 2, stored.LinkedCount)
	assert.Equal(t, int64(-30000), stored.TotalLinkedAmount)
	assert.Equal(t, m.ID, stored.ID)

	all, err := store.ListSettlements(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteSettlement(ctx, owner, bankID))
	_, err = store.GetSettlement(ctx, owner, bankID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSettlement_ZeroLinksRejected(t *testing.T) {
	store := newTestStorage(t)
	err := store.UpsertSettlement(context.Background(), &ledger.SettlementMatch{OwnerID: "user:1", BankTransactionID: "x"})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestSaveInvoice_RefusesAmountMutation(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	inv := &ledger.Invoice{OwnerID: "user:1", VendorName: "Acme", InvoiceDate: date("2024-03-01"), TotalAmount: 11700, Currency: "nis"}
	require.NoError(t, store.SaveInvoice(ctx, inv))
	require.NotEmpty(t, inv.ID)
	assert.Equal(t, "ILS", inv.Currency)

	inv.VendorName = "Acme Ltd"
	require.NoError(t, store.SaveInvoice(ctx, inv))

	changed := *inv
	changed.TotalAmount = 12000
	err := store.SaveInvoice(ctx, &changed)
	assert.ErrorIs(t, err, ledger.ErrAmountMutation)

	other := *inv
	other.OwnerID = "user:2"
	err = store.SaveInvoice(ctx, &other)
	assert.ErrorIs(t, err, ledger.ErrOwnerMismatch)

	stored, err := store.GetInvoice(ctx, "user:1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", stored.VendorName)
	assert.Equal(t, int64(11700), stored.TotalAmount)
}

func TestLineItems_LinkAndUnlink(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("user:1")

	inv := &ledger.Invoice{OwnerID: owner, VendorName: "Acme", InvoiceDate: date("2024-03-01"), TotalAmount: 20000}
	require.NoError(t, store.SaveInvoice(ctx, inv))
	items := []*ledger.InvoiceLineItem{
		{InvoiceID: inv.ID, Description: "A", ReferenceID: "INV-1", TransactionDate: date("2024-03-01"), Amount: 10000, Currency: "ILS"},
		{InvoiceID: inv.ID, Description: "B", ReferenceID: "INV-2", TransactionDate: date("2024-03-01"), Amount: 10000, Currency: "ILS"},
	}
	failed, err := store.InsertLineItems(ctx, owner, items)
	require.NoError(t, err)
	require.Empty(t, failed)

	out, err := store.InsertTransactions(ctx, owner, []*ledger.Transaction{
		bankTx(owner, "2024-03-02", "ACME", -10000, "t1"),
		bankTx(owner, "2024-03-03", "ACME", -10000, "t2"),
	})
	require.NoError(t, err)
	t1, t2 := out.Inserted[0], out.Inserted[1]
	confidence := 92.5

	// Act
	require.NoError(t, store.LinkLineItem(ctx, owner, items[0].ID, t1.ID, ledger.MethodAuto, &confidence, ledger.StatusAutoApproved))
	require.NoError(t, store.LinkLineItem(ctx, owner, items[0].ID, t2.ID, ledger.MethodManual, nil, ledger.StatusManual))

	// Assert
	li, err := store.GetLineItem(ctx, owner, items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, li.TransactionID)
	assert.Equal(t, t2.ID, *li.TransactionID)
	assert.Equal(t, ledger.MethodManual, li.MatchMethod)

	old, err := store.GetTransaction(ctx, owner, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusUnmatched, old.MatchStatus)
	assert.Nil(t, old.MatchConfidence)

	current, err := store.GetTransaction(ctx, owner, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusManual, current.MatchStatus)

	require.NoError(t, store.UnlinkLineItem(ctx, owner, items[0].ID))
	current, err = store.GetTransaction(ctx, owner, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusUnmatched, current.MatchStatus)

	refs, err := store.FindLineItemsByReferences(ctx, owner, []string{"INV-2"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "B", refs[0].Description)

	listed, err := store.ListLineItemsByInvoice(ctx, owner, inv.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "A", listed[0].Description)
}

func TestLinkLineItem_TransactionHeldByAnotherItem(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("user:1")

	inv := &ledger.Invoice{OwnerID: owner, VendorName: "Acme", InvoiceDate: date("2024-03-01"), TotalAmount: 20000}
	require.NoError(t, store.SaveInvoice(ctx, inv))
	items := []*ledger.InvoiceLineItem{
		{InvoiceID: inv.ID, Description: "A", ReferenceID: "INV-1", TransactionDate: date("2024-03-01"), Amount: 10000, Currency: "ILS"},
		{InvoiceID: inv.ID, Description: "B", ReferenceID: "INV-2", TransactionDate: date("2024-03-01"), Amount: 10000, Currency: "ILS"},
	}
	_, err := store.InsertLineItems(ctx, owner, items)
	require.NoError(t, err)
	out, err := store.InsertTransactions(ctx, owner, []*ledger.Transaction{bankTx(owner, "2024-03-02", "ACME", -10000, "t1")})
	require.NoError(t, err)
	payment := out.Inserted[0]
	require.NoError(t, store.LinkLineItem(ctx, owner, items[0].ID, payment.ID, ledger.MethodManual, nil, ledger.StatusManual))

	// Act
	err = store.LinkLineItem(ctx, owner, items[1].ID, payment.ID, ledger.MethodManual, nil, ledger.StatusManual)

	// Assert
	assert.ErrorIs(t, err, ledger.ErrAlreadyLinked)

	second, err := store.GetLineItem(ctx, owner, items[1].ID)
	require.NoError(t, err)
	assert.False(t, second.IsMatched())

	first, err := store.GetLineItem(ctx, owner, items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, first.TransactionID)
	assert.Equal(t, payment.ID, *first.TransactionID)

	// Relinking the holder to the same transaction is allowed
	confidence := 99.0
	assert.NoError(t, store.LinkLineItem(ctx, owner, items[0].ID, payment.ID, ledger.MethodAuto, &confidence, ledger.StatusAutoApproved))
}

func TestLinkSettlement_RefusesSettledPurchase(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("user:1")

	out, err := store.InsertTransactions(ctx, owner, []*ledger.Transaction{
		bankTx(owner, "2024-03-10", "ISRACARD 1234", -10000, "b1"),
		bankTx(owner, "2024-03-11", "ISRACARD 1234", -10000, "b2"),
		ccTx(owner, "2024-03-01", "SHOP", -10000, "c1"),
	})
	require.NoError(t, err)
	first, second, purchase := out.Inserted[0], out.Inserted[1], out.Inserted[2]
	require.NoError(t, store.LinkSettlement(ctx, owner, purchase.ID, first.ID, ""))

	// Act
	err = store.LinkSettlement(ctx, owner, purchase.ID, second.ID, "")

	// Assert
	assert.ErrorIs(t, err, ledger.ErrAlreadyLinked)

	stored, err := store.GetTransaction(ctx, owner, purchase.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SettlementTransactionID)
	assert.Equal(t, first.ID, *stored.SettlementTransactionID)

	linked, err := store.ListSettlementPurchases(ctx, owner, second.ID)
	require.NoError(t, err)
	assert.Empty(t, linked)

	// Linking again to the same charge is a no-op
	assert.NoError(t, store.LinkSettlement(ctx, owner, purchase.ID, first.ID, ""))
}

func TestInsertLineItems_OtherOwnersInvoice(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	inv := &ledger.Invoice{OwnerID: "user:1", InvoiceDate: date("2024-03-01"), TotalAmount: 100}
	require.NoError(t, store.SaveInvoice(ctx, inv))

	failed, err := store.InsertLineItems(ctx, "user:2", []*ledger.InvoiceLineItem{
		{InvoiceID: inv.ID, TransactionDate: date("2024-03-01"), Amount: 100, Currency: "ILS"},
	})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ledger.ErrNotFound)
}

func TestFilesAndCards(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("team:7")

	require.NoError(t, store.SaveFile(ctx, &ledger.File{OwnerID: owner, Filename: "march.pdf", SizeBytes: 2048, Hash: "k1"}))

	byHash, err := store.FindFilesByHash(ctx, owner, "k1")
	require.NoError(t, err)
	assert.Len(t, byHash, 1)
	byName, err := store.FindFilesByName(ctx, owner, "march.pdf")
	require.NoError(t, err)
	assert.Len(t, byName, 1)
	other, err := store.FindFilesByHash(ctx, "team:8", "k1")
	require.NoError(t, err)
	assert.Empty(t, other)

	c1, err := store.EnsureCreditCard(ctx, owner, "4321")
	require.NoError(t, err)
	c2, err := store.EnsureCreditCard(ctx, owner, "4321")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)

	_, err = store.EnsureCreditCard(ctx, owner, "12a4")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	cards, err := store.ListCreditCards(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
}

func TestVendorAliases_PriorityOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("user:1")

	low := &ledger.VendorAlias{OwnerID: owner, AliasPattern: "AMZN", MatchType: ledger.AliasStartsWith, CanonicalName: "Amazon", Priority: 1}
	high := &ledger.VendorAlias{OwnerID: owner, AliasPattern: "AMZN MKTP", MatchType: ledger.AliasContains, CanonicalName: "Amazon Marketplace", Priority: 10}
	require.NoError(t, store.CreateVendorAlias(ctx, low))
	require.NoError(t, store.CreateVendorAlias(ctx, high))

	aliases, err := store.ListVendorAliases(ctx, owner)
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	assert.Equal(t, "Amazon Marketplace", aliases[0].CanonicalName)

	require.NoError(t, store.DeleteVendorAlias(ctx, owner, low.ID))
	err = store.DeleteVendorAlias(ctx, owner, low.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	err = store.CreateVendorAlias(ctx, &ledger.VendorAlias{OwnerID: owner, AliasPattern: "X", MatchType: "regex", CanonicalName: "X"})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestRuns_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	owner := ledger.OwnerID("user:1")

	ok, err := store.StartRun(ctx, owner, RunImportBank)
	require.NoError(t, err)
	require.NoError(t, store.CompleteRun(ctx, ok, RunCounts{Total: 3, Succeeded: 2, Skipped: 1}))

	bad, err := store.StartRun(ctx, owner, RunMatchCreditCards)
	require.NoError(t, err)
	require.NoError(t, store.CompleteRun(ctx, bad, RunCounts{Total: 2, Succeeded: 1, Failed: 1, Errors: []string{"link failed"}}))

	runs, err := store.ListRuns(ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, bad, runs[0].ID)
	assert.Equal(t, RunStatusCompletedWithErrors, runs[0].Status)
	assert.Equal(t, []string{"link failed"}, runs[0].Errors)
	assert.Equal(t, RunStatusCompleted, runs[1].Status)
	assert.NotNil(t, runs[1].CompletedAt)

	_, err = store.GetRun(ctx, "user:2", ok)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
