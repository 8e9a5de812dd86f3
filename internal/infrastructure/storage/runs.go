package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// RunStatus returns the final status a run with counts gets
func RunStatus(counts RunCounts) string {
	if counts.Failed > 0 || len(counts.Errors) > 0 {
		return RunStatusCompletedWithErrors
	}
	return RunStatusCompleted
}

// StartRun records the start of a reconcile run
func (s *Storage) StartRun(ctx context.Context, owner ledger.OwnerID, kind RunKind) (int64, error) {
	query := `
		INSERT INTO reconcile_runs (owner_id, kind, started_at, status)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query, string(owner), string(kind), now(), RunStatusRunning)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// CompleteRun records the completion of a reconcile run
func (s *Storage) CompleteRun(ctx context.Context, runID int64, counts RunCounts) error {
	errs := counts.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to encode run errors: %w", err)
	}

	query := `
		UPDATE reconcile_runs
		SET completed_at = ?,
		    total = ?,
		    succeeded = ?,
		    skipped = ?,
		    failed = ?,
		    errors_json = ?,
		    status = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		now(),
		counts.Total,
		counts.Succeeded,
		counts.Skipped,
		counts.Failed,
		string(errorsJSON),
		RunStatus(counts),
		runID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, "run", fmt.Sprint(runID))
}

const runColumns = `id, owner_id, kind, started_at, completed_at, total, succeeded,
	skipped, failed, errors_json, status`

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var owner, kind, errorsJSON string
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID,
		&owner,
		&kind,
		&run.StartedAt,
		&completedAt,
		&run.Total,
		&run.Succeeded,
		&run.Skipped,
		&run.Failed,
		&errorsJSON,
		&run.Status,
	)
	if err != nil {
		return nil, err
	}
	run.OwnerID = owner
	run.Kind = RunKind(kind)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}

	// Errors are informational; a malformed column yields an empty list
	_ = json.Unmarshal([]byte(errorsJSON), &run.Errors)
	if run.Errors == nil {
		run.Errors = []string{}
	}
	return run, nil
}

// ListRuns returns the owner's most recent runs
func (s *Storage) ListRuns(ctx context.Context, owner ledger.OwnerID, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM reconcile_runs WHERE owner_id = ? ORDER BY id DESC LIMIT ?",
		string(owner), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun retrieves one of the owner's runs
func (s *Storage) GetRun(ctx context.Context, owner ledger.OwnerID, runID int64) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM reconcile_runs WHERE owner_id = ? AND id = ?",
		string(owner), runID))
	if err != nil {
		return nil, mapNoRows(err, "run", fmt.Sprint(runID))
	}
	return run, nil
}
