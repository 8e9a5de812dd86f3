package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

const lineItemColumns = `id, invoice_id, owner_id, description, reference_id,
	transaction_date, amount, currency, vat_rate, vat_amount, transaction_id,
	match_method, match_confidence, created_at`

func scanLineItem(row scanner) (*ledger.InvoiceLineItem, error) {
	li := &ledger.InvoiceLineItem{}
	var (
		owner, date, method string
		vatAmount           sql.NullInt64
		transactionID       sql.NullString
		confidence          sql.NullFloat64
	)
	err := row.Scan(
		&li.ID,
		&li.InvoiceID,
		&owner,
		&li.Description,
		&li.ReferenceID,
		&date,
		&li.Amount,
		&li.Currency,
		&li.VATRate,
		&vatAmount,
		&transactionID,
		&method,
		&confidence,
		&li.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	li.OwnerID = ledger.OwnerID(owner)
	li.MatchMethod = ledger.MatchMethod(method)
	if li.TransactionDate, err = ledger.ParseDate(date); err != nil {
		return nil, fmt.Errorf("line item %s: %w", li.ID, err)
	}
	li.VATAmount = intPtr(vatAmount)
	li.TransactionID = stringPtr(transactionID)
	li.MatchConfidence = floatPtr(confidence)
	return li, nil
}

func collectLineItems(rows *sql.Rows) ([]*ledger.InvoiceLineItem, error) {
	defer func() { _ = rows.Close() }()

	var items []*ledger.InvoiceLineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

// InsertLineItems inserts items whose invoice belongs to owner
func (s *Storage) InsertLineItems(ctx context.Context, owner ledger.OwnerID, items []*ledger.InvoiceLineItem) ([]RowError, error) {
	// Selecting from invoices scopes the insert to the owner's invoice
	query := `
	INSERT INTO invoice_line_items
	(id, invoice_id, owner_id, description, reference_id, transaction_date,
	 amount, currency, vat_rate, vat_amount, created_at)
	SELECT ?, id, owner_id, ?, ?, ?, ?, ?, ?, ?, ?
	FROM invoices WHERE id = ? AND owner_id = ?
	`

	var failed []RowError
	for i, li := range items {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if li.OwnerID == "" {
			li.OwnerID = owner
		}
		if li.OwnerID != owner {
			failed = append(failed, RowError{Index: i, Err: ledger.ErrOwnerMismatch})
			continue
		}

		id := newID()
		created := now()
		res, err := s.db.ExecContext(ctx, query,
			id,
			li.Description,
			li.ReferenceID,
			ledger.FormatDate(li.TransactionDate),
			li.Amount,
			li.Currency,
			li.VATRate,
			nullInt(li.VATAmount),
			created,
			li.InvoiceID,
			string(owner),
		)
		if err == nil {
			err = expectOneRow(res, "invoice", li.InvoiceID)
		}
		if err != nil {
			failed = append(failed, RowError{Index: i, Err: err})
			continue
		}
		li.ID = id
		li.CreatedAt = created
	}
	return failed, nil
}

// GetLineItem retrieves one of the owner's line items
func (s *Storage) GetLineItem(ctx context.Context, owner ledger.OwnerID, id string) (*ledger.InvoiceLineItem, error) {
	query := "SELECT " + lineItemColumns + " FROM invoice_line_items WHERE owner_id = ? AND id = ?"
	li, err := scanLineItem(s.db.QueryRowContext(ctx, query, string(owner), id))
	if err != nil {
		return nil, mapNoRows(err, "line item", id)
	}
	return li, nil
}

// ListLineItemsByInvoice returns an invoice's items in creation order
func (s *Storage) ListLineItemsByInvoice(ctx context.Context, owner ledger.OwnerID, invoiceID string) ([]*ledger.InvoiceLineItem, error) {
	query := "SELECT " + lineItemColumns + ` FROM invoice_line_items
	WHERE owner_id = ? AND invoice_id = ? ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, query, string(owner), invoiceID)
	if err != nil {
		return nil, err
	}
	return collectLineItems(rows)
}

// FindLineItemsByReferences returns the owner's items carrying any of refs
func (s *Storage) FindLineItemsByReferences(ctx context.Context, owner ledger.OwnerID, refs []string) ([]ledger.InvoiceLineItem, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	clause, args := inClause("reference_id", refs)
	query := "SELECT " + lineItemColumns + " FROM invoice_line_items WHERE owner_id = ? AND " + clause + " ORDER BY rowid"
	rows, err := s.db.QueryContext(ctx, query, append([]any{string(owner)}, args...)...)
	if err != nil {
		return nil, err
	}
	items, err := collectLineItems(rows)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.InvoiceLineItem, len(items))
	for i, li := range items {
		out[i] = *li
	}
	return out, nil
}

// LinkLineItem links an item to a transaction and updates the transaction's status
func (s *Storage) LinkLineItem(ctx context.Context, owner ledger.OwnerID, lineItemID, transactionID string, method ledger.MatchMethod, confidence *float64, status ledger.MatchStatus) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		previous, err := currentLink(ctx, tx, owner, lineItemID)
		if err != nil {
			return err
		}

		var exists int
		err = tx.QueryRowContext(ctx,
			"SELECT 1 FROM transactions WHERE owner_id = ? AND id = ?",
			string(owner), transactionID).Scan(&exists)
		if err != nil {
			return mapNoRows(err, "transaction", transactionID)
		}

		// A transaction pays at most one line item
		res, err := tx.ExecContext(ctx, `
			UPDATE invoice_line_items
			SET transaction_id = ?, match_method = ?, match_confidence = ?
			WHERE owner_id = ? AND id = ?
			AND NOT EXISTS (
				SELECT 1 FROM invoice_line_items
				WHERE owner_id = ? AND transaction_id = ? AND id <> ?)`,
			transactionID, string(method), nullFloat(confidence), string(owner), lineItemID,
			string(owner), transactionID, lineItemID)
		if err != nil {
			return fmt.Errorf("failed to link line item: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to link line item: %w", err)
		} else if n == 0 {
			return fmt.Errorf("transaction %s: %w", transactionID, ledger.ErrAlreadyLinked)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET match_status = ?, match_confidence = ?
			WHERE owner_id = ? AND id = ?`,
			string(status), nullFloat(confidence), string(owner), transactionID); err != nil {
			return fmt.Errorf("failed to update transaction status: %w", err)
		}

		if previous != "" && previous != transactionID {
			return resetIfOrphaned(ctx, tx, owner, previous)
		}
		return nil
	})
}

// UnlinkLineItem clears an item's link and resets the transaction if nothing else links it
func (s *Storage) UnlinkLineItem(ctx context.Context, owner ledger.OwnerID, lineItemID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		previous, err := currentLink(ctx, tx, owner, lineItemID)
		if err != nil {
			return err
		}
		if previous == "" {
			return fmt.Errorf("link of line item %s: %w", lineItemID, ledger.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE invoice_line_items
			SET transaction_id = NULL, match_method = '', match_confidence = NULL
			WHERE owner_id = ? AND id = ?`,
			string(owner), lineItemID); err != nil {
			return fmt.Errorf("failed to unlink line item: %w", err)
		}
		return resetIfOrphaned(ctx, tx, owner, previous)
	})
}

// currentLink returns the transaction an item is linked to, or ""
func currentLink(ctx context.Context, tx *sql.Tx, owner ledger.OwnerID, lineItemID string) (string, error) {
	var linked sql.NullString
	err := tx.QueryRowContext(ctx,
		"SELECT transaction_id FROM invoice_line_items WHERE owner_id = ? AND id = ?",
		string(owner), lineItemID).Scan(&linked)
	if err != nil {
		return "", mapNoRows(err, "line item", lineItemID)
	}
	return linked.String, nil
}

func resetIfOrphaned(ctx context.Context, tx *sql.Tx, owner ledger.OwnerID, transactionID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions SET match_status = ?, match_confidence = NULL
		WHERE owner_id = ? AND id = ?
		AND NOT EXISTS (SELECT 1 FROM invoice_line_items WHERE transaction_id = ?)`,
		string(ledger.StatusUnmatched), string(owner), transactionID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to reset transaction %s: %w", transactionID, err)
	}
	return nil
}
