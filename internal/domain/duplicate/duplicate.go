// Package duplicate partitions incoming records into duplicates and new
// records at three independent levels:
//
//   - files: exact name+size hash, same name with a different hash, and a
//     semantic invoice check run after extraction
//   - transactions: content hash against the owner's stored hashes
//   - line items: the (reference, date, amount, currency) tuple
//
// Every detector fails open: when the existing-record source errors, all
// incoming records are reported as new and the report is flagged.
package duplicate

import (
	"log/slog"
)

// MatchType names the evidence behind a duplicate match.
type MatchType string

const (
	MatchExactHash    MatchType = "exact_hash"
	MatchSameFilename MatchType = "same_filename"
	MatchSemantic     MatchType = "semantic"
	MatchStoredHash   MatchType = "stored_hash"
	MatchLineItemKey  MatchType = "line_item_key"
	MatchWithinBatch  MatchType = "within_batch"
)

// Match is one incoming record that duplicates an existing one.
type Match[T any] struct {
	Index      int       `json:"index"`
	Item       T         `json:"item"`
	MatchType  MatchType `json:"match_type"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"match_reason"`
	ExistingID string    `json:"existing_id,omitempty"`

	// EarlierIndex is the batch position of the row a within-batch match
	// repeats. Nil for matches against stored records.
	EarlierIndex *int `json:"earlier_index,omitempty"`
}

// Report partitions a batch. Matches and NewItems keep the batch order.
type Report[T any] struct {
	TotalItems     int        `json:"total_items"`
	DuplicateCount int        `json:"duplicate_count"`
	NewCount       int        `json:"new_count"`
	Matches        []Match[T] `json:"matches"`
	NewItems       []T        `json:"new_items"`
	FailedOpen     bool       `json:"failed_open,omitempty"`
}

func newReport[T any](total int) *Report[T] {
	return &Report[T]{
		TotalItems: total,
		Matches:    []Match[T]{},
		NewItems:   make([]T, 0, total),
	}
}

func (r *Report[T]) addDuplicate(m Match[T]) {
	r.Matches = append(r.Matches, m)
	r.DuplicateCount++
}

func (r *Report[T]) addNew(item T) {
	r.NewItems = append(r.NewItems, item)
	r.NewCount++
}

// failOpen resets the report so every item is new.
func (r *Report[T]) failOpen(items []T) {
	r.Matches = []Match[T]{}
	r.NewItems = append(make([]T, 0, len(items)), items...)
	r.DuplicateCount = 0
	r.NewCount = len(items)
	r.FailedOpen = true
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
