package storage

import (
	"time"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// TransactionFilter narrows ListTransactions. Zero values mean no filter.
type TransactionFilter struct {
	Types         []ledger.TransactionType
	From          *time.Time // Inclusive, by transaction date
	To            *time.Time // Inclusive, by transaction date
	MatchStatus   ledger.MatchStatus
	UnsettledOnly bool   // cc_purchase rows without a settlement link
	CardLastFour  string // cc_purchase card
	Limit         int
}

// RowError is a per-row write failure. Index is the row's batch position.
type RowError struct {
	Index int
	Err   error
}

// InsertOutcome partitions a transaction insert batch.
type InsertOutcome struct {
	Inserted []*ledger.Transaction
	Ignored  []*ledger.Transaction // (owner, hash) already stored
	Failed   []RowError
}

// RunKind names a batch operation.
type RunKind string

const (
	RunImportBank       RunKind = "import_bank"
	RunImportCreditCard RunKind = "import_credit_card"
	RunImportLineItems  RunKind = "import_line_items"
	RunMatchCreditCards RunKind = "match_credit_cards"
	RunMatchLineItems   RunKind = "match_line_items"
)

// Run statuses
const (
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
)

// RunCounts are the totals recorded when a run completes.
type RunCounts struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Errors    []string
}

// Run represents a reconcile run record
type Run struct {
	ID          int64      `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Kind        RunKind    `json:"kind"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Errors      []string   `json:"errors"`
	Status      string     `json:"status"`
}
