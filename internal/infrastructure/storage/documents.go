package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

const invoiceColumns = "id, owner_id, file_id, vendor_name, invoice_date, total_amount, currency, created_at"

func scanInvoice(row scanner) (*ledger.Invoice, error) {
	inv := &ledger.Invoice{}
	var owner, date string
	var fileID sql.NullString
	err := row.Scan(
		&inv.ID,
		&owner,
		&fileID,
		&inv.VendorName,
		&date,
		&inv.TotalAmount,
		&inv.Currency,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.OwnerID = ledger.OwnerID(owner)
	inv.FileID = fileID.String
	if inv.InvoiceDate, err = ledger.ParseDate(date); err != nil {
		return nil, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	return inv, nil
}

func collectInvoices(rows *sql.Rows) ([]*ledger.Invoice, error) {
	defer func() { _ = rows.Close() }()

	var invoices []*ledger.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// SaveInvoice inserts a new invoice or updates an existing one's metadata
func (s *Storage) SaveInvoice(ctx context.Context, inv *ledger.Invoice) error {
	if inv.OwnerID == "" {
		return fmt.Errorf("%w: invoice owner is required", ledger.ErrInvalidInput)
	}
	inv.Currency = ledger.NormalizeCurrency(inv.Currency)
	if inv.Currency == "" {
		inv.Currency = "ILS"
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if inv.ID != "" {
			var owner string
			var total int64
			err := tx.QueryRowContext(ctx,
				"SELECT owner_id, total_amount FROM invoices WHERE id = ?", inv.ID).Scan(&owner, &total)
			switch {
			case err == nil:
				if ledger.OwnerID(owner) != inv.OwnerID {
					return fmt.Errorf("invoice %s: %w", inv.ID, ledger.ErrOwnerMismatch)
				}
				if total != inv.TotalAmount {
					return fmt.Errorf("invoice %s total %d -> %d: %w", inv.ID, total, inv.TotalAmount, ledger.ErrAmountMutation)
				}
				_, err = tx.ExecContext(ctx, `
					UPDATE invoices SET file_id = ?, vendor_name = ?, invoice_date = ?, currency = ?
					WHERE id = ?`,
					nullString(&inv.FileID), inv.VendorName, ledger.FormatDate(inv.InvoiceDate), inv.Currency, inv.ID)
				return err
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		} else {
			inv.ID = newID()
		}

		inv.CreatedAt = now()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoices (id, owner_id, file_id, vendor_name, invoice_date, total_amount, currency, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID,
			string(inv.OwnerID),
			nullString(&inv.FileID),
			inv.VendorName,
			ledger.FormatDate(inv.InvoiceDate),
			inv.TotalAmount,
			inv.Currency,
			inv.CreatedAt,
		)
		return err
	})
}

// GetInvoice retrieves one of the owner's invoices
func (s *Storage) GetInvoice(ctx context.Context, owner ledger.OwnerID, id string) (*ledger.Invoice, error) {
	query := "SELECT " + invoiceColumns + " FROM invoices WHERE owner_id = ? AND id = ?"
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, query, string(owner), id))
	if err != nil {
		return nil, mapNoRows(err, "invoice", id)
	}
	return inv, nil
}

// ListInvoices returns the requested invoices in request order, skipping unknown ids
func (s *Storage) ListInvoices(ctx context.Context, owner ledger.OwnerID, ids []string) ([]*ledger.Invoice, error) {
	if len(ids) == 0 {
		rows, err := s.db.QueryContext(ctx,
			"SELECT "+invoiceColumns+" FROM invoices WHERE owner_id = ? ORDER BY invoice_date, rowid",
			string(owner))
		if err != nil {
			return nil, err
		}
		return collectInvoices(rows)
	}

	clause, args := inClause("id", ids)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE owner_id = ? AND "+clause,
		append([]any{string(owner)}, args...)...)
	if err != nil {
		return nil, err
	}
	found, err := collectInvoices(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*ledger.Invoice, len(found))
	for _, inv := range found {
		byID[inv.ID] = inv
	}
	ordered := make([]*ledger.Invoice, 0, len(found))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if inv, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			ordered = append(ordered, inv)
		}
	}
	return ordered, nil
}

// FindInvoicesInRange returns the owner's invoices dated within [from, to]
func (s *Storage) FindInvoicesInRange(ctx context.Context, owner ledger.OwnerID, from, to time.Time) ([]ledger.Invoice, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE owner_id = ? AND invoice_date >= ? AND invoice_date <= ? ORDER BY invoice_date, rowid",
		string(owner), ledger.FormatDate(from), ledger.FormatDate(to))
	if err != nil {
		return nil, err
	}
	found, err := collectInvoices(rows)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Invoice, len(found))
	for i, inv := range found {
		out[i] = *inv
	}
	return out, nil
}

// SaveFile records an uploaded file
func (s *Storage) SaveFile(ctx context.Context, f *ledger.File) error {
	if f.OwnerID == "" || f.Hash == "" {
		return fmt.Errorf("%w: file owner and hash are required", ledger.ErrInvalidInput)
	}
	if f.ID == "" {
		f.ID = newID()
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, owner_id, filename, size_bytes, hash, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, string(f.OwnerID), f.Filename, f.SizeBytes, f.Hash, f.UploadedAt)
	return err
}

// FindFilesByHash returns the owner's files with the given content key
func (s *Storage) FindFilesByHash(ctx context.Context, owner ledger.OwnerID, hash string) ([]ledger.File, error) {
	return s.findFiles(ctx, "hash", owner, hash)
}

// FindFilesByName returns the owner's files with the given filename
func (s *Storage) FindFilesByName(ctx context.Context, owner ledger.OwnerID, filename string) ([]ledger.File, error) {
	return s.findFiles(ctx, "filename", owner, filename)
}

func (s *Storage) findFiles(ctx context.Context, column string, owner ledger.OwnerID, value string) ([]ledger.File, error) {
	query := fmt.Sprintf(`SELECT id, owner_id, filename, size_bytes, hash, uploaded_at
	FROM files WHERE owner_id = ? AND %s = ? ORDER BY rowid`, column)
	rows, err := s.db.QueryContext(ctx, query, string(owner), value)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var files []ledger.File
	for rows.Next() {
		var f ledger.File
		var fileOwner string
		if err := rows.Scan(&f.ID, &fileOwner, &f.Filename, &f.SizeBytes, &f.Hash, &f.UploadedAt); err != nil {
			return nil, err
		}
		f.OwnerID = ledger.OwnerID(fileOwner)
		files = append(files, f)
	}
	return files, rows.Err()
}

// EnsureCreditCard returns the owner's card with lastFour, creating it when missing
func (s *Storage) EnsureCreditCard(ctx context.Context, owner ledger.OwnerID, lastFour string) (*ledger.CreditCard, error) {
	if !ledger.IsLastFour(lastFour) {
		return nil, fmt.Errorf("%w: card last four %q", ledger.ErrInvalidInput, lastFour)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_cards (id, owner_id, last_four) VALUES (?, ?, ?)
		ON CONFLICT(owner_id, last_four) DO NOTHING`,
		newID(), string(owner), lastFour); err != nil {
		return nil, fmt.Errorf("failed to create credit card: %w", err)
	}

	card := &ledger.CreditCard{}
	var cardOwner string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, last_four, name FROM credit_cards WHERE owner_id = ? AND last_four = ?",
		string(owner), lastFour).Scan(&card.ID, &cardOwner, &card.LastFour, &card.Name)
	if err != nil {
		return nil, mapNoRows(err, "credit card", lastFour)
	}
	card.OwnerID = ledger.OwnerID(cardOwner)
	return card, nil
}

// ListCreditCards returns the owner's cards by last four
func (s *Storage) ListCreditCards(ctx context.Context, owner ledger.OwnerID) ([]*ledger.CreditCard, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner_id, last_four, name FROM credit_cards WHERE owner_id = ? ORDER BY last_four",
		string(owner))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var cards []*ledger.CreditCard
	for rows.Next() {
		card := &ledger.CreditCard{}
		var cardOwner string
		if err := rows.Scan(&card.ID, &cardOwner, &card.LastFour, &card.Name); err != nil {
			return nil, err
		}
		card.OwnerID = ledger.OwnerID(cardOwner)
		cards = append(cards, card)
	}
	return cards, rows.Err()
}
