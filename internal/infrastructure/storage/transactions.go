package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

const transactionColumns = `id, owner_id, date, value_date, description, reference,
	amount, balance, foreign_amount, foreign_currency, transaction_type,
	credit_card_id, card_last_four, notes, settlement_transaction_id, hash,
	match_status, match_confidence, created_at`

func scanTransaction(row scanner) (*ledger.Transaction, error) {
	tx := &ledger.Transaction{}
	var (
		owner, date, txType, status     string
		valueDate, cardID, settlementID sql.NullString
		balance, foreignAmount          sql.NullInt64
		confidence                      sql.NullFloat64
	)
	err := row.Scan(
		&tx.ID,
		&owner,
		&date,
		&valueDate,
		&tx.Description,
		&tx.Reference,
		&tx.Amount,
		&balance,
		&foreignAmount,
		&tx.ForeignCurrency,
		&txType,
		&cardID,
		&tx.CardLastFour,
		&tx.Notes,
		&settlementID,
		&tx.Hash,
		&status,
		&confidence,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.OwnerID = ledger.OwnerID(owner)
	tx.Type = ledger.TransactionType(txType)
	tx.MatchStatus = ledger.MatchStatus(status)
	if tx.Date, err = ledger.ParseDate(date); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if tx.ValueDate, err = datePtr(valueDate); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	tx.Balance = intPtr(balance)
	tx.ForeignAmount = intPtr(foreignAmount)
	tx.CreditCardID = stringPtr(cardID)
	tx.SettlementTransactionID = stringPtr(settlementID)
	tx.MatchConfidence = floatPtr(confidence)
	return tx, nil
}

func collectTransactions(rows *sql.Rows) ([]*ledger.Transaction, error) {
	defer func() { _ = rows.Close() }()

	var txs []*ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// InsertTransactions inserts rows, ignoring (owner, hash) conflicts
func (s *Storage) InsertTransactions(ctx context.Context, owner ledger.OwnerID, txs []*ledger.Transaction) (*InsertOutcome, error) {
	query := `
	INSERT INTO transactions
	(id, owner_id, date, value_date, description, reference, amount, balance,
	 foreign_amount, foreign_currency, transaction_type, credit_card_id,
	 card_last_four, notes, hash, match_status, match_confidence, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(owner_id, hash) DO NOTHING
	`

	out := &InsertOutcome{}
	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if tx.OwnerID == "" {
			tx.OwnerID = owner
		}
		if tx.OwnerID != owner {
			out.Failed = append(out.Failed, RowError{Index: i, Err: ledger.ErrOwnerMismatch})
			continue
		}
		if tx.Hash == "" || !tx.Type.Valid() {
			out.Failed = append(out.Failed, RowError{Index: i, Err: fmt.Errorf("%w: hash and type are required", ledger.ErrInvalidInput)})
			continue
		}
		if tx.MatchStatus == "" {
			tx.MatchStatus = ledger.StatusUnmatched
		}

		id := newID()
		created := now()
		res, err := s.db.ExecContext(ctx, query,
			id,
			string(owner),
			ledger.FormatDate(tx.Date),
			nullDate(tx.ValueDate),
			tx.Description,
			tx.Reference,
			tx.Amount,
			nullInt(tx.Balance),
			nullInt(tx.ForeignAmount),
			tx.ForeignCurrency,
			string(tx.Type),
			nullString(tx.CreditCardID),
			tx.CardLastFour,
			tx.Notes,
			tx.Hash,
			string(tx.MatchStatus),
			nullFloat(tx.MatchConfidence),
			created,
		)
		if err != nil {
			out.Failed = append(out.Failed, RowError{Index: i, Err: err})
			continue
		}
		n, err := res.RowsAffected()
		if err != nil {
			out.Failed = append(out.Failed, RowError{Index: i, Err: err})
			continue
		}
		if n == 0 {
			out.Ignored = append(out.Ignored, tx)
			continue
		}
		tx.ID = id
		tx.CreatedAt = created
		out.Inserted = append(out.Inserted, tx)
	}
	return out, nil
}

// ExistingHashes returns the stored ids of the given hashes
func (s *Storage) ExistingHashes(ctx context.Context, owner ledger.OwnerID, types []ledger.TransactionType, hashes []string) (map[string]string, error) {
	found := make(map[string]string)
	if len(hashes) == 0 {
		return found, nil
	}

	hashClause, args := inClause("hash", hashes)
	query := "SELECT hash, id FROM transactions WHERE owner_id = ? AND " + hashClause
	args = append([]any{string(owner)}, args...)
	if len(types) > 0 {
		typeClause, typeArgs := inClause("transaction_type", types)
		query += " AND " + typeClause
		args = append(args, typeArgs...)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var hash, id string
		if err := rows.Scan(&hash, &id); err != nil {
			return nil, err
		}
		found[hash] = id
	}
	return found, rows.Err()
}

// GetTransaction retrieves one of the owner's transactions
func (s *Storage) GetTransaction(ctx context.Context, owner ledger.OwnerID, id string) (*ledger.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE owner_id = ? AND id = ?"
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, string(owner), id))
	if err != nil {
		return nil, mapNoRows(err, "transaction", id)
	}
	return tx, nil
}

// ListTransactions returns the owner's transactions matching filter
func (s *Storage) ListTransactions(ctx context.Context, owner ledger.OwnerID, filter TransactionFilter) ([]*ledger.Transaction, error) {
	where := []string{"owner_id = ?"}
	args := []any{string(owner)}

	if len(filter.Types) > 0 {
		clause, typeArgs := inClause("transaction_type", filter.Types)
		where = append(where, clause)
		args = append(args, typeArgs...)
	}
	if filter.From != nil {
		where = append(where, "date >= ?")
		args = append(args, ledger.FormatDate(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "date <= ?")
		args = append(args, ledger.FormatDate(*filter.To))
	}
	if filter.MatchStatus != "" {
		where = append(where, "match_status = ?")
		args = append(args, string(filter.MatchStatus))
	}
	if filter.UnsettledOnly {
		where = append(where, "settlement_transaction_id IS NULL")
	}
	if filter.CardLastFour != "" {
		where = append(where, "card_last_four = ?")
		args = append(args, filter.CardLastFour)
	}

	query := "SELECT " + transactionColumns + " FROM transactions WHERE " +
		strings.Join(where, " AND ") + " ORDER BY date, rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// LinkSettlement links a purchase to a bank charge and marks the charge as a card charge
func (s *Storage) LinkSettlement(ctx context.Context, owner ledger.OwnerID, purchaseID, bankID, creditCardID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var purchaseType, bankType string
		err := tx.QueryRowContext(ctx,
			"SELECT transaction_type FROM transactions WHERE owner_id = ? AND id = ?",
			string(owner), purchaseID).Scan(&purchaseType)
		if err != nil {
			return mapNoRows(err, "transaction", purchaseID)
		}
		err = tx.QueryRowContext(ctx,
			"SELECT transaction_type FROM transactions WHERE owner_id = ? AND id = ?",
			string(owner), bankID).Scan(&bankType)
		if err != nil {
			return mapNoRows(err, "transaction", bankID)
		}
		if ledger.TransactionType(purchaseType) != ledger.TypeCCPurchase {
			return fmt.Errorf("%w: %s is not a card purchase", ledger.ErrInvalidInput, purchaseID)
		}
		if !ledger.TransactionType(bankType).IsBank() {
			return fmt.Errorf("%w: %s is not a bank row", ledger.ErrInvalidInput, bankID)
		}

		// Re-pointing a settled purchase would leave it in the old
		// charge's aggregate
		card := nullString(&creditCardID)
		res, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET settlement_transaction_id = ?, credit_card_id = COALESCE(?, credit_card_id)
			WHERE owner_id = ? AND id = ?
			AND (settlement_transaction_id IS NULL OR settlement_transaction_id = ?)`,
			bankID, card, string(owner), purchaseID, bankID)
		if err != nil {
			return fmt.Errorf("failed to link purchase: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to link purchase: %w", err)
		} else if n == 0 {
			return fmt.Errorf("purchase %s settled by another charge: %w", purchaseID, ledger.ErrAlreadyLinked)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET transaction_type = ?, credit_card_id = COALESCE(?, credit_card_id)
			WHERE owner_id = ? AND id = ?`,
			string(ledger.TypeBankCCCharge), card, string(owner), bankID); err != nil {
			return fmt.Errorf("failed to mark bank charge: %w", err)
		}
		return nil
	})
}

// UnlinkSettlement clears a purchase's settlement link
func (s *Storage) UnlinkSettlement(ctx context.Context, owner ledger.OwnerID, purchaseID string) (string, error) {
	var bankID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var linked sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT settlement_transaction_id FROM transactions WHERE owner_id = ? AND id = ?",
			string(owner), purchaseID).Scan(&linked)
		if err != nil {
			return mapNoRows(err, "transaction", purchaseID)
		}
		if !linked.Valid || linked.String == "" {
			return fmt.Errorf("settlement link of %s: %w", purchaseID, ledger.ErrNotFound)
		}
		bankID = linked.String

		_, err = tx.ExecContext(ctx,
			"UPDATE transactions SET settlement_transaction_id = NULL WHERE owner_id = ? AND id = ?",
			string(owner), purchaseID)
		return err
	})
	if err != nil {
		return "", err
	}
	return bankID, nil
}

// ListSettlementPurchases returns the purchases linked to bankID
func (s *Storage) ListSettlementPurchases(ctx context.Context, owner ledger.OwnerID, bankID string) ([]*ledger.Transaction, error) {
	query := "SELECT " + transactionColumns + ` FROM transactions
	WHERE owner_id = ? AND settlement_transaction_id = ?
	ORDER BY date, rowid`
	rows, err := s.db.QueryContext(ctx, query, string(owner), bankID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ClearBankCreditCard removes the card reference from a bank row
func (s *Storage) ClearBankCreditCard(ctx context.Context, owner ledger.OwnerID, bankID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET credit_card_id = NULL WHERE owner_id = ? AND id = ?",
		string(owner), bankID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "transaction", bankID)
}
