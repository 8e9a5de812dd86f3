// Package reconcile orchestrates the batch jobs of the reconciliation
// engine: statement and line item imports behind the duplicate detectors,
// credit-card settlement runs and line item auto-matching runs.
//
// Every job is short-lived and safe to re-run. Aggregates are recomputed
// from the current links, never incremented, so a partial or repeated run
// leaves the ledger consistent.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eshaffer321/vat-reconcile/internal/domain/alias"
	"github.com/eshaffer321/vat-reconcile/internal/domain/duplicate"
	"github.com/eshaffer321/vat-reconcile/internal/domain/hashing"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

// Service runs reconciliation jobs against a repository.
type Service struct {
	cfg    Config
	store  storage.Repository
	hasher *hashing.Generator
	logger *slog.Logger

	transactions *duplicate.TransactionDetector
	lineItems    *duplicate.LineItemDetector
	files        *duplicate.FileDetector
}

// NewService creates a service. The config is normalized.
func NewService(cfg Config, store storage.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg = cfg.Normalize()
	hasher := hashing.NewGenerator(cfg.HashStrategy)

	return &Service{
		cfg:          cfg,
		store:        store,
		hasher:       hasher,
		logger:       logger,
		transactions: duplicate.NewTransactionDetector(hasher, store, logger),
		lineItems:    duplicate.NewLineItemDetector(store, logger),
		files:        duplicate.NewFileDetector(hasher, store, store, cfg.Semantic, logger),
	}
}

// Config returns the normalized config.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) ownerLogger(owner ledger.OwnerID) *slog.Logger {
	return s.logger.With("owner", string(owner))
}

// vendorResolver loads the owner's aliases. Without them vendor comparison
// falls back to the merchant normalizer.
func (s *Service) vendorResolver(ctx context.Context, owner ledger.OwnerID) *alias.Resolver {
	aliases, err := s.store.ListVendorAliases(ctx, owner)
	if err != nil {
		s.ownerLogger(owner).Warn("Failed to load vendor aliases", "error", err)
		return alias.NewResolver(nil)
	}
	return alias.NewResolver(aliases)
}

// startRun records a run start. A failure only loses the run record.
func (s *Service) startRun(ctx context.Context, owner ledger.OwnerID, kind storage.RunKind) int64 {
	id, err := s.store.StartRun(ctx, owner, kind)
	if err != nil {
		s.ownerLogger(owner).Warn("Failed to record run start", "kind", kind, "error", err)
		return 0
	}
	return id
}

func (s *Service) completeRun(ctx context.Context, owner ledger.OwnerID, runID int64, counts storage.RunCounts) {
	if runID == 0 {
		return
	}
	// The job's own ctx may already be done; the record is still written
	if err := s.store.CompleteRun(context.WithoutCancel(ctx), runID, counts); err != nil {
		s.ownerLogger(owner).Warn("Failed to record run completion", "run_id", runID, "error", err)
	}
}

// ListRuns returns the owner's recent runs.
func (s *Service) ListRuns(ctx context.Context, owner ledger.OwnerID, limit int) ([]storage.Run, error) {
	runs, err := s.store.ListRuns(ctx, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one of the owner's runs.
func (s *Service) GetRun(ctx context.Context, owner ledger.OwnerID, runID int64) (*storage.Run, error) {
	return s.store.GetRun(ctx, owner, runID)
}

// ListTransactions returns the owner's ledger rows matching filter.
func (s *Service) ListTransactions(ctx context.Context, owner ledger.OwnerID, filter storage.TransactionFilter) ([]*ledger.Transaction, error) {
	txs, err := s.store.ListTransactions(ctx, owner, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// ListLineItems returns an invoice's line items.
func (s *Service) ListLineItems(ctx context.Context, owner ledger.OwnerID, invoiceID string) ([]*ledger.InvoiceLineItem, error) {
	if _, err := s.store.GetInvoice(ctx, owner, invoiceID); err != nil {
		return nil, err
	}
	return s.store.ListLineItemsByInvoice(ctx, owner, invoiceID)
}

// CreateVendorAlias stores a new alias for owner.
func (s *Service) CreateVendorAlias(ctx context.Context, owner ledger.OwnerID, a *ledger.VendorAlias) error {
	if a.OwnerID == "" {
		a.OwnerID = owner
	}
	if a.OwnerID != owner {
		return ledger.ErrOwnerMismatch
	}
	if !a.MatchType.Valid() {
		return fmt.Errorf("%w: match type %q", ledger.ErrInvalidInput, a.MatchType)
	}
	return s.store.CreateVendorAlias(ctx, a)
}

// ListVendorAliases returns the owner's aliases by priority.
func (s *Service) ListVendorAliases(ctx context.Context, owner ledger.OwnerID) ([]ledger.VendorAlias, error) {
	return s.store.ListVendorAliases(ctx, owner)
}

// DeleteVendorAlias removes one of the owner's aliases.
func (s *Service) DeleteVendorAlias(ctx context.Context, owner ledger.OwnerID, id string) error {
	return s.store.DeleteVendorAlias(ctx, owner, id)
}
