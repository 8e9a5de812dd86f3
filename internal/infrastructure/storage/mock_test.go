package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// The mock must refuse the same links the SQLite store refuses.

func TestMockLinkLineItem_TransactionHeldByAnotherItem(t *testing.T) {
	ctx := context.Background()
	mock := NewMockRepository()
	owner := ledger.OwnerID("user:1")

	inv := &ledger.Invoice{OwnerID: owner, VendorName: "Acme", InvoiceDate: date("2024-03-01"), TotalAmount: 20000}
	require.NoError(t, mock.SaveInvoice(ctx, inv))
	items := []*ledger.InvoiceLineItem{
		{InvoiceID: inv.ID, ReferenceID: "INV-1", TransactionDate: date("2024-03-01"), Amount: 10000, Currency: "ILS"},
		{InvoiceID: inv.ID, ReferenceID: "INV-2", TransactionDate: date("2024-03-01"), Amount: 10000, Currency: "ILS"},
	}
	failed, err := mock.InsertLineItems(ctx, owner, items)
	require.NoError(t, err)
	require.Empty(t, failed)
	out, err := mock.InsertTransactions(ctx, owner, []*ledger.Transaction{bankTx(owner, "2024-03-02", "ACME", -10000, "t1")})
	require.NoError(t, err)
	payment := out.Inserted[0]

	require.NoError(t, mock.LinkLineItem(ctx, owner, items[0].ID, payment.ID, ledger.MethodManual, nil, ledger.StatusManual))
	err = mock.LinkLineItem(ctx, owner, items[1].ID, payment.ID, ledger.MethodManual, nil, ledger.StatusManual)

	assert.ErrorIs(t, err, ledger.ErrAlreadyLinked)
	second, err := mock.GetLineItem(ctx, owner, items[1].ID)
	require.NoError(t, err)
	assert.False(t, second.IsMatched())
	assert.NoError(t, mock.LinkLineItem(ctx, owner, items[0].ID, payment.ID, ledger.MethodManual, nil, ledger.StatusManual))
}

func TestMockLinkSettlement_RefusesSettledPurchase(t *testing.T) {
	ctx := context.Background()
	mock := NewMockRepository()
	owner := ledger.OwnerID("user:1")

	out, err := mock.InsertTransactions(ctx, owner, []*ledger.Transaction{
		bankTx(owner, "2024-03-10", "ISRACARD 1234", -10000, "b1"),
		bankTx(owner, "2024-03-11", "ISRACARD 1234", -10000, "b2"),
		ccTx(owner, "2024-03-01", "SHOP", -10000, "c1"),
	})
	require.NoError(t, err)
	first, second, purchase := out.Inserted[0], out.Inserted[1], out.Inserted[2]
	require.NoError(t, mock.LinkSettlement(ctx, owner, purchase.ID, first.ID, ""))

	err = mock.LinkSettlement(ctx, owner, purchase.ID, second.ID, "")

	assert.ErrorIs(t, err, ledger.ErrAlreadyLinked)
	stored, err := mock.GetTransaction(ctx, owner, purchase.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SettlementTransactionID)
	assert.Equal(t, first.ID, *stored.SettlementTransactionID)
	assert.NoError(t, mock.LinkSettlement(ctx, owner, purchase.ID, first.ID, ""))
}
