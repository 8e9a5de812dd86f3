package duplicate

import (
	"context"
	"log/slog"

	"github.com/eshaffer321/vat-reconcile/internal/domain/hashing"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// HashSource looks up stored transaction hashes for an owner. The result
// maps each hash that exists to the stored transaction id. An empty types
// slice means all transaction types.
type HashSource interface {
	ExistingHashes(ctx context.Context, owner ledger.OwnerID, types []ledger.TransactionType, hashes []string) (map[string]string, error)
}

// TransactionDetector is the transaction-level detector.
type TransactionDetector struct {
	hasher *hashing.Generator
	source HashSource
	logger *slog.Logger
}

// NewTransactionDetector creates a detector. hasher must be the generator
// used when the rows are stored.
func NewTransactionDetector(hasher *hashing.Generator, source HashSource, logger *slog.Logger) *TransactionDetector {
	if hasher == nil {
		hasher = hashing.NewGenerator(nil)
	}
	return &TransactionDetector{hasher: hasher, source: source, logger: loggerOrDiscard(logger)}
}

// Check hashes every transaction (setting tx.Hash) and partitions the batch
// against the owner's stored hashes, optionally narrowed to types. A repeat
// of an earlier row in the same batch is a duplicate too.
func (d *TransactionDetector) Check(ctx context.Context, owner ledger.OwnerID, types []ledger.TransactionType, txs []*ledger.Transaction) *Report[*ledger.Transaction] {
	report := newReport[*ledger.Transaction](len(txs))
	if len(txs) == 0 {
		return report
	}

	hashes := make([]string, 0, len(txs))
	for _, tx := range txs {
		tx.Hash = d.hasher.Transaction(tx)
		hashes = append(hashes, tx.Hash)
	}

	existing, err := d.source.ExistingHashes(ctx, owner, types, hashes)
	if err != nil {
		d.logger.Warn("duplicate transaction check failed, treating batch as new",
			slog.String("owner", string(owner)),
			slog.Int("count", len(txs)),
			slog.String("error", err.Error()))
		report.failOpen(txs)
		return report
	}

	seen := make(map[string]int, len(txs))
	for i, tx := range txs {
		if id, ok := existing[tx.Hash]; ok {
			report.addDuplicate(Match[*ledger.Transaction]{
				Index:      i,
				Item:       tx,
				MatchType:  MatchStoredHash,
				Confidence: 100,
				Reason:     "transaction already imported",
				ExistingID: id,
			})
			continue
		}
		if first, ok := seen[tx.Hash]; ok {
			report.addDuplicate(Match[*ledger.Transaction]{
				Index:        i,
				Item:         tx,
				MatchType:    MatchWithinBatch,
				Confidence:   100,
				Reason:       "repeats an earlier row in this batch",
				EarlierIndex: &first,
			})
			continue
		}
		seen[tx.Hash] = i
		report.addNew(tx)
	}

	d.logger.Debug("checked transactions for duplicates",
		slog.String("owner", string(owner)),
		slog.Int("total", report.TotalItems),
		slog.Int("duplicates", report.DuplicateCount))
	return report
}
