package storage

import (
	"context"
	"fmt"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

const settlementColumns = `id, owner_id, bank_transaction_id, total_linked_amount,
	linked_count, discrepancy, confidence, status, created_at, updated_at`

func scanSettlement(row scanner) (*ledger.SettlementMatch, error) {
	m := &ledger.SettlementMatch{}
	var owner, status string
	err := row.Scan(
		&m.ID,
		&owner,
		&m.BankTransactionID,
		&m.TotalLinkedAmount,
		&m.LinkedCount,
		&m.Discrepancy,
		&m.Confidence,
		&status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.OwnerID = ledger.OwnerID(owner)
	m.Status = ledger.ReviewStatus(status)
	return m, nil
}

// UpsertSettlement writes an aggregate's totals, keeping an existing review status
func (s *Storage) UpsertSettlement(ctx context.Context, m *ledger.SettlementMatch) error {
	if m.LinkedCount <= 0 {
		return fmt.Errorf("%w: settlement for %s has no links", ledger.ErrInvalidInput, m.BankTransactionID)
	}
	if m.Status == "" {
		m.Status = ledger.ReviewPending
	}

	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cc_match_results
		(id, owner_id, bank_transaction_id, total_linked_amount, linked_count,
		 discrepancy, confidence, status, created_at, updated_at)
		SELECT ?, owner_id, id, ?, ?, ?, ?, ?, ?, ?
		FROM transactions WHERE owner_id = ? AND id = ?
		ON CONFLICT(bank_transaction_id) DO UPDATE SET
			total_linked_amount = excluded.total_linked_amount,
			linked_count = excluded.linked_count,
			discrepancy = excluded.discrepancy,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		newID(),
		m.TotalLinkedAmount,
		m.LinkedCount,
		m.Discrepancy,
		m.Confidence,
		string(m.Status),
		ts,
		ts,
		string(m.OwnerID),
		m.BankTransactionID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert settlement: %w", err)
	}

	stored, err := s.GetSettlement(ctx, m.OwnerID, m.BankTransactionID)
	if err != nil {
		return err
	}
	*m = *stored
	return nil
}

// GetSettlement returns the aggregate of a bank charge
func (s *Storage) GetSettlement(ctx context.Context, owner ledger.OwnerID, bankID string) (*ledger.SettlementMatch, error) {
	query := "SELECT " + settlementColumns + " FROM cc_match_results WHERE owner_id = ? AND bank_transaction_id = ?"
	m, err := scanSettlement(s.db.QueryRowContext(ctx, query, string(owner), bankID))
	if err != nil {
		return nil, mapNoRows(err, "settlement", bankID)
	}
	return m, nil
}

// ListSettlements returns the owner's aggregates, oldest first
func (s *Storage) ListSettlements(ctx context.Context, owner ledger.OwnerID) ([]*ledger.SettlementMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+settlementColumns+" FROM cc_match_results WHERE owner_id = ? ORDER BY rowid",
		string(owner))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var matches []*ledger.SettlementMatch
	for rows.Next() {
		m, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteSettlement removes a bank charge's aggregate
func (s *Storage) DeleteSettlement(ctx context.Context, owner ledger.OwnerID, bankID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cc_match_results WHERE owner_id = ? AND bank_transaction_id = ?",
		string(owner), bankID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "settlement", bankID)
}

// SetSettlementStatus records the review decision on an aggregate
func (s *Storage) SetSettlementStatus(ctx context.Context, owner ledger.OwnerID, bankID string, status ledger.ReviewStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: review status %q", ledger.ErrInvalidInput, status)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE cc_match_results SET status = ?, updated_at = ? WHERE owner_id = ? AND bank_transaction_id = ?",
		string(status), now(), string(owner), bankID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "settlement", bankID)
}

// CreateVendorAlias stores a new alias rule
func (s *Storage) CreateVendorAlias(ctx context.Context, a *ledger.VendorAlias) error {
	if a.OwnerID == "" || a.AliasPattern == "" || a.CanonicalName == "" || !a.MatchType.Valid() {
		return fmt.Errorf("%w: alias needs owner, pattern, canonical name and match type", ledger.ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendor_aliases (id, owner_id, alias_pattern, match_type, canonical_name, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.OwnerID), a.AliasPattern, string(a.MatchType), a.CanonicalName, a.Priority, a.CreatedAt)
	return err
}

// ListVendorAliases returns the owner's aliases, highest priority first
func (s *Storage) ListVendorAliases(ctx context.Context, owner ledger.OwnerID) ([]ledger.VendorAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, alias_pattern, match_type, canonical_name, priority, created_at
		FROM vendor_aliases WHERE owner_id = ? ORDER BY priority DESC, rowid`,
		string(owner))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var aliases []ledger.VendorAlias
	for rows.Next() {
		var a ledger.VendorAlias
		var aliasOwner, matchType string
		if err := rows.Scan(&a.ID, &aliasOwner, &a.AliasPattern, &matchType, &a.CanonicalName, &a.Priority, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.OwnerID = ledger.OwnerID(aliasOwner)
		a.MatchType = ledger.AliasMatchType(matchType)
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// DeleteVendorAlias removes one of the owner's aliases
func (s *Storage) DeleteVendorAlias(ctx context.Context, owner ledger.OwnerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM vendor_aliases WHERE owner_id = ? AND id = ?", string(owner), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "vendor alias", id)
}

