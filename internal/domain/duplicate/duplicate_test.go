package duplicate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/vat-reconcile/internal/domain/hashing"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

const owner = ledger.OwnerID("user:1")

type fakeHashes struct {
	stored map[string]string
	err    error
	calls  int
}

func (f *fakeHashes) ExistingHashes(_ context.Context, _ ledger.OwnerID, _ []ledger.TransactionType, hashes []string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, h := range hashes {
		if id, ok := f.stored[h]; ok {
			out[h] = id
		}
	}
	return out, nil
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ledger.ParseDate(s)
	require.NoError(t, err)
	return d
}

func electric(t *testing.T) *ledger.Transaction {
	return &ledger.Transaction{
		OwnerID:     owner,
		Type:        ledger.TypeBankRegular,
		Date:        mustDate(t, "2024-01-05"),
		Description: "ELECTRIC CO",
		Amount:      -12000,
		Reference:   "R1",
	}
}

func TestTransactionDetector_WithinBatchDuplicate(t *testing.T) {
	src := &fakeHashes{stored: map[string]string{}}
	d := NewTransactionDetector(nil, src, nil)

	report := d.Check(context.Background(), owner, nil, []*ledger.Transaction{electric(t), electric(t)})

	assert.Equal(t, 2, report.TotalItems)
	assert.Equal(t, 1, report.NewCount)
	assert.Equal(t, 1, report.DuplicateCount)
	require.Len(t, report.Matches, 1)
	assert.Equal(t, MatchWithinBatch, report.Matches[0].MatchType)
	assert.Equal(t, 1, report.Matches[0].Index)
	require.NotNil(t, report.Matches[0].EarlierIndex)
	assert.Equal(t, 0, *report.Matches[0].EarlierIndex)
	assert.Empty(t, report.Matches[0].ExistingID)
	assert.NotEmpty(t, report.NewItems[0].Hash)
}

func TestTransactionDetector_SecondImportIsAllDuplicates(t *testing.T) {
	gen := hashing.NewGenerator(nil)
	batch := func() []*ledger.Transaction {
		a := electric(t)
		b := electric(t)
		b.Description = "WATER CO"
		return []*ledger.Transaction{a, b}
	}

	src := &fakeHashes{stored: map[string]string{}}
	d := NewTransactionDetector(gen, src, nil)

	first := d.Check(context.Background(), owner, nil, batch())
	require.Equal(t, 2, first.NewCount)
	for i, tx := range first.NewItems {
		src.stored[tx.Hash] = []string{"tx-1", "tx-2"}[i]
	}

	second := d.Check(context.Background(), owner, nil, batch())
	assert.Equal(t, 2, second.DuplicateCount)
	assert.Equal(t, 0, second.NewCount)
	assert.Equal(t, "tx-1", second.Matches[0].ExistingID)
	assert.Equal(t, MatchStoredHash, second.Matches[0].MatchType)
	assert.Nil(t, second.Matches[0].EarlierIndex)
}

func TestTransactionDetector_FailsOpen(t *testing.T) {
	src := &fakeHashes{err: errors.New("db down")}
	d := NewTransactionDetector(nil, src, nil)

	report := d.Check(context.Background(), owner, nil, []*ledger.Transaction{electric(t), electric(t)})

	assert.True(t, report.FailedOpen)
	assert.Equal(t, 2, report.NewCount)
	assert.Equal(t, 0, report.DuplicateCount)
	assert.Empty(t, report.Matches)
}

func TestTransactionDetector_EmptyBatchSkipsQuery(t *testing.T) {
	src := &fakeHashes{}
	report := NewTransactionDetector(nil, src, nil).Check(context.Background(), owner, nil, nil)
	assert.Equal(t, 0, report.TotalItems)
	assert.Equal(t, 0, src.calls)
}

type fakeLineItems struct {
	stored []ledger.InvoiceLineItem
	err    error
	refs   []string
}

func (f *fakeLineItems) FindLineItemsByReferences(_ context.Context, _ ledger.OwnerID, refs []string) ([]ledger.InvoiceLineItem, error) {
	f.refs = refs
	return f.stored, f.err
}

func lineItem(t *testing.T, ref string, amount int64) *ledger.InvoiceLineItem {
	return &ledger.InvoiceLineItem{
		OwnerID:         owner,
		ReferenceID:     ref,
		TransactionDate: mustDate(t, "2024-03-10"),
		Amount:          amount,
		Currency:        "ILS",
	}
}

func TestLineItemDetector(t *testing.T) {
	stored := *lineItem(t, "INV-001", 50000)
	stored.ID = "li-1"
	otherOwner := *lineItem(t, "INV-002", 100)
	otherOwner.ID = "li-x"
	otherOwner.OwnerID = "user:2"

	src := &fakeLineItems{stored: []ledger.InvoiceLineItem{stored, otherOwner}}
	d := NewLineItemDetector(src, nil)

	items := []*ledger.InvoiceLineItem{
		lineItem(t, "INV-001", 50000), // stored
		lineItem(t, "INV-001", 50001), // different amount
		lineItem(t, "", 50000),        // no reference
		lineItem(t, "", 50000),        // no reference, still new
		lineItem(t, "INV-002", 100),   // only another owner has it
		lineItem(t, "INV-002", 100),   // repeat in batch
	}
	report := d.Check(context.Background(), owner, items)

	assert.ElementsMatch(t, []string{"INV-001", "INV-002"}, src.refs)
	assert.Equal(t, 6, report.TotalItems)
	assert.Equal(t, 4, report.NewCount)
	assert.Equal(t, 2, report.DuplicateCount)
	assert.Equal(t, "li-1", report.Matches[0].ExistingID)
	assert.Equal(t, MatchLineItemKey, report.Matches[0].MatchType)
	assert.Equal(t, MatchWithinBatch, report.Matches[1].MatchType)
	assert.Equal(t, 5, report.Matches[1].Index)
	require.NotNil(t, report.Matches[1].EarlierIndex)
	assert.Equal(t, 4, *report.Matches[1].EarlierIndex)
}

func TestLineItemDetector_CurrencyIsPartOfKey(t *testing.T) {
	a := lineItem(t, "R", 100)
	b := lineItem(t, "R", 100)
	b.Currency = "usd"
	ka, _ := LineItemKey(a)
	kb, _ := LineItemKey(b)
	assert.NotEqual(t, ka, kb)

	_, ok := LineItemKey(lineItem(t, "  ", 100))
	assert.False(t, ok)
}

func TestLineItemDetector_FailsOpen(t *testing.T) {
	d := NewLineItemDetector(&fakeLineItems{err: errors.New("boom")}, nil)
	report := d.Check(context.Background(), owner, []*ledger.InvoiceLineItem{lineItem(t, "A", 1), lineItem(t, "A", 1)})
	assert.True(t, report.FailedOpen)
	assert.Equal(t, 2, report.NewCount)
}

type fakeFiles struct {
	byHash map[string][]ledger.File
	byName map[string][]ledger.File
	err    error
}

func (f *fakeFiles) FindFilesByHash(_ context.Context, _ ledger.OwnerID, hash string) ([]ledger.File, error) {
	return f.byHash[hash], f.err
}

func (f *fakeFiles) FindFilesByName(_ context.Context, _ ledger.OwnerID, name string) ([]ledger.File, error) {
	return f.byName[name], f.err
}

type fakeInvoices struct {
	invoices []ledger.Invoice
	from, to time.Time
}

func (f *fakeInvoices) FindInvoicesInRange(_ context.Context, _ ledger.OwnerID, from, to time.Time) ([]ledger.Invoice, error) {
	f.from, f.to = from, to
	return f.invoices, nil
}

func TestFileDetector_ExactHashBlocks(t *testing.T) {
	gen := hashing.NewGenerator(nil)
	hash := gen.File("jan.pdf", 2048)
	files := &fakeFiles{byHash: map[string][]ledger.File{
		hash: {{ID: "f1", OwnerID: owner, Filename: "jan.pdf", SizeBytes: 2048, Hash: hash}},
	}}
	d := NewFileDetector(gen, files, nil, DefaultSemanticConfig(), nil)

	check := d.CheckFile(context.Background(), owner, "jan.pdf", 2048)
	assert.True(t, check.IsDuplicate)
	assert.True(t, check.Blocking)
	require.Len(t, check.Matches, 1)
	assert.Equal(t, float64(100), check.Matches[0].Confidence)
}

func TestFileDetector_SameNameDifferentHashWarns(t *testing.T) {
	gen := hashing.NewGenerator(nil)
	files := &fakeFiles{byName: map[string][]ledger.File{
		"jan.pdf": {{ID: "f1", OwnerID: owner, Filename: "jan.pdf", SizeBytes: 1000, Hash: gen.File("jan.pdf", 1000)}},
	}}
	d := NewFileDetector(gen, files, nil, DefaultSemanticConfig(), nil)

	check := d.CheckFile(context.Background(), owner, "jan.pdf", 2048)
	assert.True(t, check.IsDuplicate)
	assert.False(t, check.Blocking)
	require.Len(t, check.Matches, 1)
	assert.Equal(t, MatchSameFilename, check.Matches[0].MatchType)
	assert.Equal(t, float64(75), check.Matches[0].Confidence)
	assert.Equal(t, "possibly modified", check.Matches[0].Reason)
}

func TestFileDetector_FailsOpen(t *testing.T) {
	d := NewFileDetector(nil, &fakeFiles{err: errors.New("boom")}, nil, DefaultSemanticConfig(), nil)
	check := d.CheckFile(context.Background(), owner, "jan.pdf", 1)
	assert.True(t, check.FailedOpen)
	assert.False(t, check.Blocking)
}

func TestFileDetector_CheckInvoice(t *testing.T) {
	inv := &ledger.Invoice{ID: "inv-new", OwnerID: owner, FileID: "file-new", VendorName: "Netflix", InvoiceDate: mustDate(t, "2024-05-10"), TotalAmount: 10000}
	invoices := &fakeInvoices{invoices: []ledger.Invoice{
		{ID: "inv-new", OwnerID: owner, FileID: "file-new", VendorName: "Netflix", InvoiceDate: inv.InvoiceDate, TotalAmount: 10000},
		{ID: "inv-same-file", OwnerID: owner, FileID: "file-new", VendorName: "Netflix", InvoiceDate: inv.InvoiceDate, TotalAmount: 10000},
		{ID: "inv-hit", OwnerID: owner, FileID: "file-1", VendorName: "NETFLIX.COM 998877", InvoiceDate: mustDate(t, "2024-05-12"), TotalAmount: 10200},
		{ID: "inv-too-much", OwnerID: owner, FileID: "file-2", VendorName: "Netflix", InvoiceDate: inv.InvoiceDate, TotalAmount: 10201},
		{ID: "inv-other-vendor", OwnerID: owner, FileID: "file-3", VendorName: "Spotify", InvoiceDate: inv.InvoiceDate, TotalAmount: 10000},
		{ID: "inv-other-owner", OwnerID: "user:2", FileID: "file-4", VendorName: "Netflix", InvoiceDate: inv.InvoiceDate, TotalAmount: 10000},
	}}

	warn := NewFileDetector(nil, &fakeFiles{}, invoices, DefaultSemanticConfig(), nil)
	check := warn.CheckInvoice(context.Background(), inv, nil)
	require.Len(t, check.Matches, 1)
	assert.Equal(t, "inv-hit", check.Matches[0].InvoiceID)
	assert.True(t, check.IsDuplicate)
	assert.False(t, check.Blocking)
	assert.Equal(t, mustDate(t, "2024-05-08"), invoices.from)
	assert.Equal(t, mustDate(t, "2024-05-12"), invoices.to)

	cfg := DefaultSemanticConfig()
	cfg.Policy = PolicyBlock
	block := NewFileDetector(nil, &fakeFiles{}, invoices, cfg, nil)
	assert.True(t, block.CheckInvoice(context.Background(), inv, nil).Blocking)
}

func TestSemanticConfig_Normalize(t *testing.T) {
	c := SemanticConfig{AmountPercent: -3, DateDays: 999, Policy: "nonsense"}.Normalize()
	assert.Equal(t, float64(0), c.AmountPercent)
	assert.Equal(t, 365, c.DateDays)
	assert.Equal(t, PolicyWarn, c.Policy)
	assert.Equal(t, PolicyBlock, ParsePolicy(" BLOCK "))
}
