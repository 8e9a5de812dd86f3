package dto

import (
	"time"

	"github.com/eshaffer321/vat-reconcile/internal/application/jobs"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// RunResponse represents a batch run in API responses.
type RunResponse struct {
	ID          int64    `json:"id"`
	Kind        string   `json:"kind"`
	StartedAt   string   `json:"started_at"`
	CompletedAt string   `json:"completed_at,omitempty"`
	Total       int      `json:"total"`
	Succeeded   int      `json:"succeeded"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	Errors      []string `json:"errors"`
	Status      string   `json:"status"`
}

// RunListResponse is returned when listing runs.
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}

// SettlementListResponse is returned when listing settlement aggregates.
type SettlementListResponse struct {
	Settlements []*ledger.SettlementMatch `json:"settlements"`
	Count       int                       `json:"count"`
}

// VendorAliasListResponse is returned when listing vendor aliases.
type VendorAliasListResponse struct {
	Aliases []ledger.VendorAlias `json:"aliases"`
	Count   int                  `json:"count"`
}

// TransactionListResponse is returned when listing ledger rows.
type TransactionListResponse struct {
	Transactions []*ledger.Transaction `json:"transactions"`
	Count        int                   `json:"count"`
}

// LineItemListResponse is returned when listing an invoice's line items.
type LineItemListResponse struct {
	LineItems []*ledger.InvoiceLineItem `json:"line_items"`
	Count     int                       `json:"count"`
}

// NewHealthResponse creates a health response with current timestamp.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewRunResponse converts a stored run.
func NewRunResponse(run storage.Run) RunResponse {
	resp := RunResponse{
		ID:        run.ID,
		Kind:      string(run.Kind),
		StartedAt: run.StartedAt.UTC().Format(time.RFC3339),
		Total:     run.Total,
		Succeeded: run.Succeeded,
		Skipped:   run.Skipped,
		Failed:    run.Failed,
		Errors:    run.Errors,
		Status:    run.Status,
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	return resp
}

// JobListResponse is returned when listing background jobs.
type JobListResponse struct {
	Jobs  []jobs.Job `json:"jobs"`
	Count int        `json:"count"`
}
