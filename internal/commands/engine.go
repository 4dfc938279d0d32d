package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hollis/countinghouse/internal/config"
	"github.com/hollis/countinghouse/internal/database"
	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/keylock"
	"github.com/hollis/countinghouse/internal/service"
)

// engine bundles the opened database and the wired services for one command
// invocation.
type engine struct {
	cfg config.Config
	db  *sql.DB

	transactions *repository.TransactionRepo
	rules        *repository.RuleRepo
	categories   *repository.CategoryRepo
	batches      *repository.BatchRepo
	ledger       *repository.LedgerRepo
	matches      *repository.MatchRepo
	corrections  *repository.CorrectionRepo
	events       *repository.EventRepo

	importer   *service.Importer
	deduper    *service.Deduper
	reconciler *service.Reconciler
	feedback   *service.Feedback
}

// withEngine loads config, migrates and opens the database, wires the
// services, runs fn and closes up.
func withEngine(ctx context.Context, fn func(ctx context.Context, eng *engine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path, cfg.Database.MigrationsPath); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := database.SeedDefaults(ctx, db); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}

	eng := newEngine(cfg, db)
	return fn(ctx, eng)
}

func newEngine(cfg config.Config, db *sql.DB) *engine {
	eng := &engine{
		cfg:          cfg,
		db:           db,
		transactions: repository.NewTransactionRepo(db),
		rules:        repository.NewRuleRepo(db),
		categories:   repository.NewCategoryRepo(db),
		batches:      repository.NewBatchRepo(db),
		ledger:       repository.NewLedgerRepo(db),
		matches:      repository.NewMatchRepo(db),
		corrections:  repository.NewCorrectionRepo(db),
		events:       repository.NewEventRepo(db),
	}

	locks := keylock.New()
	locks.InitialInterval = cfg.Reconcile.LockInitialBackoff
	locks.MaxInterval = cfg.Reconcile.LockMaxBackoff
	locks.MaxRetries = cfg.Reconcile.LockRetries

	eng.deduper = &service.Deduper{
		DB:           db,
		Transactions: eng.transactions,
		Matches:      eng.matches,
		Events:       eng.events,
		WindowDays:   cfg.Duplicates.WindowDays,
		EpsilonCents: cfg.Duplicates.EpsilonCents,
		Similarity:   cfg.Duplicates.Similarity,
		MaxWindow:    cfg.Duplicates.MaxWindow,
		Log:          slog.Default(),
	}
	eng.importer = &service.Importer{
		DB:              db,
		Transactions:    eng.transactions,
		Rules:           eng.rules,
		Categories:      eng.categories,
		Batches:         eng.batches,
		Events:          eng.events,
		Deduper:         eng.deduper,
		ReviewThreshold: cfg.Review.Threshold,
		FuzzyThreshold:  cfg.Rules.FuzzyThreshold,
		Log:             slog.Default(),
	}
	eng.reconciler = &service.Reconciler{
		DB:                 db,
		Transactions:       eng.transactions,
		Ledger:             eng.ledger,
		Matches:            eng.matches,
		Events:             eng.events,
		Locks:              locks,
		DateToleranceDays:  cfg.Reconcile.DateToleranceDays,
		AmountEpsilonCents: cfg.Reconcile.AmountEpsilonCents,
		LargeAmountCents:   cfg.Reconcile.LargeAmountCents,
		Log:                slog.Default(),
	}
	eng.feedback = &service.Feedback{
		DB:              db,
		Transactions:    eng.transactions,
		Rules:           eng.rules,
		Categories:      eng.categories,
		Corrections:     eng.corrections,
		Events:          eng.events,
		Locks:           locks,
		Alpha:           cfg.Feedback.Alpha,
		PromoteAfter:    cfg.Feedback.PromoteAfter,
		ReviewThreshold: cfg.Review.Threshold,
		FuzzyThreshold:  cfg.Rules.FuzzyThreshold,
		Log:             slog.Default(),
	}
	return eng
}
