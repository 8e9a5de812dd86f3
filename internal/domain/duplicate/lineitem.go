package duplicate

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// LineItemSource returns the owner's stored line items whose reference id is
// one of refs.
type LineItemSource interface {
	FindLineItemsByReferences(ctx context.Context, owner ledger.OwnerID, refs []string) ([]ledger.InvoiceLineItem, error)
}

// LineItemKey is the duplicate key of a line item. Items without a
// reference id have no key.
func LineItemKey(li *ledger.InvoiceLineItem) (string, bool) {
	ref := strings.TrimSpace(li.ReferenceID)
	if ref == "" {
		return "", false
	}
	return strings.Join([]string{
		ref,
		ledger.FormatDate(li.TransactionDate),
		strconv.FormatInt(li.Amount, 10),
		ledger.NormalizeCurrency(li.Currency),
	}, "|"), true
}

// LineItemDetector is the line-item-level detector.
type LineItemDetector struct {
	source LineItemSource
	logger *slog.Logger
}

// NewLineItemDetector creates a line-item detector.
func NewLineItemDetector(source LineItemSource, logger *slog.Logger) *LineItemDetector {
	return &LineItemDetector{source: source, logger: loggerOrDiscard(logger)}
}

// Check partitions items with one batched lookup by reference id. Items
// without a reference id always pass through as new.
func (d *LineItemDetector) Check(ctx context.Context, owner ledger.OwnerID, items []*ledger.InvoiceLineItem) *Report[*ledger.InvoiceLineItem] {
	report := newReport[*ledger.InvoiceLineItem](len(items))
	if len(items) == 0 {
		return report
	}

	refSet := make(map[string]struct{})
	refs := make([]string, 0, len(items))
	for _, li := range items {
		ref := strings.TrimSpace(li.ReferenceID)
		if ref == "" {
			continue
		}
		if _, ok := refSet[ref]; !ok {
			refSet[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}

	existing := make(map[string]string)
	if len(refs) > 0 {
		stored, err := d.source.FindLineItemsByReferences(ctx, owner, refs)
		if err != nil {
			d.logger.Warn("duplicate line item check failed, treating batch as new",
				slog.String("owner", string(owner)),
				slog.Int("count", len(items)),
				slog.String("error", err.Error()))
			report.failOpen(items)
			return report
		}
		for i := range stored {
			if stored[i].OwnerID != owner {
				continue
			}
			if key, ok := LineItemKey(&stored[i]); ok {
				existing[key] = stored[i].ID
			}
		}
	}

	seen := make(map[string]int, len(items))
	for i, li := range items {
		key, ok := LineItemKey(li)
		if !ok {
			report.addNew(li)
			continue
		}
		if id, dup := existing[key]; dup {
			report.addDuplicate(Match[*ledger.InvoiceLineItem]{
				Index:      i,
				Item:       li,
				MatchType:  MatchLineItemKey,
				Confidence: 100,
				Reason:     "same reference, date, amount and currency already recorded",
				ExistingID: id,
			})
			continue
		}
		if first, dup := seen[key]; dup {
			report.addDuplicate(Match[*ledger.InvoiceLineItem]{
				Index:        i,
				Item:         li,
				MatchType:    MatchWithinBatch,
				Confidence:   100,
				Reason:       "repeats an earlier line item in this batch",
				EarlierIndex: &first,
			})
			continue
		}
		seen[key] = i
		report.addNew(li)
	}
	return report
}
