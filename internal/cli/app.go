package cli

import (
	"log/slog"

	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/vat-reconcile/internal/domain/duplicate"
	"github.com/eshaffer321/vat-reconcile/internal/domain/hashing"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/vat-reconcile/internal/domain/scorer"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/config"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/logging"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

// App holds the wired components a command runs against.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   storage.Repository
	Service *reconcile.Service
}

// NewApp opens the configured database and builds the service. System names
// the log prefix, e.g. "api" or "import".
func NewApp(cfg *config.Config, verbose bool, system string) (*App, error) {
	loggingCfg := cfg.Observability.Logging
	if verbose {
		loggingCfg.Level = "debug"
	}
	logger := logging.NewLoggerWithSystem(loggingCfg, system)

	svcCfg, err := ServiceConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Service: reconcile.NewService(svcCfg, store, logger),
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// ServiceConfig converts the file config into the service's run config.
func ServiceConfig(cfg *config.Config) (reconcile.Config, error) {
	strategy, err := hashing.StrategyByName(cfg.Duplicates.HashStrategy)
	if err != nil {
		return reconcile.Config{}, err
	}

	li := cfg.Matching.LineItems
	types := make([]ledger.TransactionType, 0, len(li.EligibleTypes))
	for _, t := range li.EligibleTypes {
		types = append(types, ledger.TransactionType(t))
	}

	return reconcile.Config{
		Scoring: scorer.Config{
			Weights: scorer.Weights{
				Reference: li.Weights.Reference,
				Amount:    li.Weights.Amount,
				Date:      li.Weights.Date,
				Vendor:    li.Weights.Vendor,
			},
			AmountTolerancePercent: li.AmountTolerancePercent,
			DateRangeDays:          li.DateRangeDays,
			AutoApproveThreshold:   li.AutoApproveThreshold,
			CandidateThreshold:     li.CandidateThreshold,
			BaseCurrency:           cfg.Matching.BaseCurrency,
		},
		Settlement: matcher.SettlementConfig{
			DateToleranceDays:      cfg.Matching.CreditCards.DateToleranceDays,
			AmountTolerancePercent: cfg.Matching.CreditCards.AmountTolerancePercent,
		},
		Semantic: duplicate.SemanticConfig{
			AmountPercent: cfg.Duplicates.SemanticAmountPercent,
			DateDays:      cfg.Duplicates.SemanticDateDays,
			Policy:        duplicate.ParsePolicy(cfg.Duplicates.SemanticPolicy),
		},
		EligibleTypes:            types,
		HashStrategy:             strategy,
		MatchAfterImport:         cfg.Matching.MatchAfterImport,
		MatchAfterLineItemImport: cfg.Matching.MatchAfterLineItemImport,
	}, nil
}
