package reconcile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

// TestReconcile_SQLite runs the whole flow against a real database.
func TestReconcile_SQLite(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := NewService(DefaultConfig(), store, nil)
	ctx := context.Background()

	// Bank statement with a card charge, a payment and a repeated row
	bank := importBank(t, svc, visaCharge(-9900), paymentRow(), electricRow(), electricRow())
	assert.Equal(t, 3, bank.Imported)
	assert.Equal(t, 1, bank.Duplicates)

	again := importBank(t, svc, visaCharge(-9900), paymentRow())
	assert.Equal(t, 0, again.Imported)
	assert.Equal(t, 2, again.Duplicates)

	importCard(t, svc, cardPurchase("2024-02-01", "SUPERMARKET", -9900))

	cards, err := svc.RunCreditCardMatching(ctx, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cards.MatchedCCTransactions)
	require.Len(t, cards.Settlements, 1)
	assert.Equal(t, int64(0), cards.Settlements[0].Discrepancy)

	rerun, err := svc.RunCreditCardMatching(ctx, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rerun.MatchedCCTransactions)

	inv, items := seedInvoice(t, svc, "Acme Ltd", invoiceLine("INV-001"))
	batch, err := svc.RunLineItemMatching(ctx, owner, LineItemRunRequest{InvoiceIDs: []string{inv.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Matched)

	li, err := store.GetLineItem(ctx, owner, items[0].ID)
	require.NoError(t, err)
	require.True(t, li.IsMatched())
	tx, err := store.GetTransaction(ctx, owner, *li.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "PAY INV-001 REF", tx.Description)
	assert.Equal(t, ledger.StatusAutoApproved, tx.MatchStatus)

	// Another owner sees nothing of it
	other, err := svc.RunLineItemMatching(ctx, "team:2", LineItemRunRequest{InvoiceIDs: []string{inv.ID}})
	require.NoError(t, err)
	assert.Equal(t, 0, other.ProcessedInvoices)

	runs, err := svc.ListRuns(ctx, owner, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 7)
}
