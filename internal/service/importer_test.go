package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hollis/countinghouse/internal/database"
	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/keylock"
)

func setupServiceTest(t *testing.T) (context.Context, *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return ctx, db
}

func seedTaxonomy(t *testing.T, ctx context.Context, db *sql.DB, names ...string) {
	t.Helper()
	repo := repository.NewCategoryRepo(db)
	for i, name := range names {
		require.NoError(t, repo.Upsert(ctx, repository.Category{
			ID: "cat-" + name, Name: name, SortOrder: i,
		}))
	}
}

func seedRule(t *testing.T, ctx context.Context, db *sql.DB, r repository.Rule) repository.Rule {
	t.Helper()
	if r.Weight == 0 {
		r.Weight = 1.0
	}
	if r.Source == "" {
		r.Source = repository.RuleSourceManual
	}
	r.Active = true
	require.NoError(t, repository.NewRuleRepo(db).Insert(ctx, r))
	return r
}

func newTestDeduper(db *sql.DB) *Deduper {
	return &Deduper{
		DB:           db,
		Transactions: repository.NewTransactionRepo(db),
		Matches:      repository.NewMatchRepo(db),
		Events:       repository.NewEventRepo(db),
		WindowDays:   3,
		Similarity:   0.8,
		MaxWindow:    5000,
	}
}

func newTestImporter(db *sql.DB) *Importer {
	return &Importer{
		DB:              db,
		Transactions:    repository.NewTransactionRepo(db),
		Rules:           repository.NewRuleRepo(db),
		Categories:      repository.NewCategoryRepo(db),
		Batches:         repository.NewBatchRepo(db),
		Events:          repository.NewEventRepo(db),
		Deduper:         newTestDeduper(db),
		ReviewThreshold: 0.75,
		FuzzyThreshold:  0.85,
	}
}

func newTestReconciler(db *sql.DB) *Reconciler {
	return &Reconciler{
		DB:                 db,
		Transactions:       repository.NewTransactionRepo(db),
		Ledger:             repository.NewLedgerRepo(db),
		Matches:            repository.NewMatchRepo(db),
		Events:             repository.NewEventRepo(db),
		Locks:              keylock.New(),
		DateToleranceDays:  3,
		AmountEpsilonCents: 100,
		LargeAmountCents:   1_000_000,
	}
}

func newTestFeedback(db *sql.DB) *Feedback {
	return &Feedback{
		DB:              db,
		Transactions:    repository.NewTransactionRepo(db),
		Rules:           repository.NewRuleRepo(db),
		Categories:      repository.NewCategoryRepo(db),
		Corrections:     repository.NewCorrectionRepo(db),
		Events:          repository.NewEventRepo(db),
		Locks:           keylock.New(),
		Alpha:           0.1,
		PromoteAfter:    3,
		ReviewThreshold: 0.75,
		FuzzyThreshold:  0.85,
	}
}

// seedBatchRow inserts a bare import_batches row so direct transaction
// fixtures satisfy the batch foreign key.
func seedBatchRow(t *testing.T, ctx context.Context, db *sql.DB, id, accountID, period string) {
	t.Helper()
	require.NoError(t, database.WithTx(ctx, db, func(tx *sql.Tx) error {
		return repository.NewBatchRepo(db).InsertTx(ctx, tx, repository.ImportBatch{
			ID: id, AccountID: accountID, Period: period,
		})
	}))
}

func insertTxn(t *testing.T, ctx context.Context, db *sql.DB, txn repository.Transaction) {
	t.Helper()
	if txn.Currency == "" {
		txn.Currency = "USD"
	}
	if txn.SourceHash == "" {
		txn.SourceHash = "hash-" + txn.ID
	}
	repo := repository.NewTransactionRepo(db)
	require.NoError(t, database.WithTx(ctx, db, func(tx *sql.Tx) error {
		ok, err := repo.InsertTx(ctx, tx, txn)
		require.True(t, ok, "fixture %s not inserted", txn.ID)
		return err
	}))
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	require.NoError(t, err)
	return d.UTC()
}

func TestImportCategorizesAndGates(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	seedTaxonomy(t, ctx, db, "Office Supplies", "Equipment")
	staples := seedRule(t, ctx, db, repository.Rule{
		ID: "r-staples", Pattern: "staples", Kind: repository.KindExact,
		Category: "Office Supplies", Priority: 10,
	})
	seedRule(t, ctx, db, repository.Rule{
		ID: "r-acme", Pattern: "acme industrial", Kind: repository.KindExact,
		Category: "Equipment", Priority: 10,
	})

	svc := newTestImporter(db)
	report, err := svc.Import(ctx, TransactionBatch{
		AccountID: "acct-1",
		Period:    "2024-01",
		Source:    "ops-drop",
		Rows: []BatchRow{
			{Date: "2024-01-15", Amount: "-42.15", RawDescription: "STAPLES STORE #1123 PURCHASE"},
			{Date: "2024-01-16", Amount: "-1250.00", RawDescription: "ACME INDUSTRIAL SUPPLY CO"},
			{Date: "2024-01-17", Amount: "-7.50", RawDescription: "MYSTERY KIOSK 99"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, report.Rows)
	require.Equal(t, 3, report.Imported)
	require.Equal(t, 0, report.Skipped)
	require.Empty(t, report.SkippedRows)
	require.Equal(t, 2, report.AutoCategorized)
	require.Equal(t, 1, report.Flagged)
	require.Len(t, report.Results, 3)
	t.Log("import complete")

	byCategory := map[string]CategorizationResult{}
	for _, res := range report.Results {
		byCategory[res.Category] = res
	}
	office := byCategory["Office Supplies"]
	require.InDelta(t, 0.9, office.Confidence, 1e-9)
	require.Equal(t, repository.StatusApproved, office.Status)
	equip := byCategory["Equipment"]
	require.InDelta(t, 0.9, equip.Confidence, 1e-9)
	require.Equal(t, repository.StatusApproved, equip.Status)
	unknown := byCategory[CategoryUncategorized]
	require.Zero(t, unknown.Confidence)
	require.Equal(t, repository.StatusFlaggedReview, unknown.Status)

	txRepo := repository.NewTransactionRepo(db)
	stored, err := txRepo.Get(ctx, office.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, int64(-4215), stored.AmountCents)
	require.Equal(t, "staples store 1123 purchase", stored.NormDescription)
	require.Equal(t, "USD", stored.Currency)
	require.NotNil(t, stored.MatchedRuleID)
	require.Equal(t, staples.ID, *stored.MatchedRuleID)

	// audit trail: ingested -> categorized -> approved
	events, err := repository.NewEventRepo(db).ListByTransaction(ctx, office.TransactionID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	byTo := map[string]repository.TransactionEvent{}
	for _, e := range events {
		byTo[e.ToStatus] = e
	}
	require.Equal(t, repository.StatusIngested, byTo[repository.StatusCategorized].FromStatus)
	require.Contains(t, byTo[repository.StatusCategorized].Note, staples.ID)
	require.Equal(t, repository.StatusCategorized, byTo[repository.StatusApproved].FromStatus)
	require.Equal(t, "importer", byTo[repository.StatusApproved].Actor)

	// rule usage is recorded
	used, err := repository.NewRuleRepo(db).Get(ctx, staples.ID)
	require.NoError(t, err)
	require.Equal(t, 1, used.HitCount)
	require.NotNil(t, used.LastUsed)

	batches, err := repository.NewBatchRepo(db).List(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, report.BatchID, batches[0].ID)
	require.Equal(t, 3, batches[0].RowCount)
	require.Equal(t, 3, batches[0].Imported)
	require.Equal(t, 1, batches[0].Flagged)
}

func TestImportReimportIsNoOp(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	svc := newTestImporter(db)

	batch := TransactionBatch{
		AccountID: "acct-1",
		Period:    "2024-02",
		Rows: []BatchRow{
			{Date: "2024-02-01", Amount: "-10.00", RawDescription: "ALPHA VENDING"},
			{Date: "2024-02-02", Amount: "-20.00", RawDescription: "BETA PARKING"},
		},
	}

	first, err := svc.Import(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, first.Imported)
	require.Equal(t, 0, first.Skipped)

	second, err := svc.Import(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 0, second.Imported)
	require.Equal(t, 2, second.Skipped)
	require.Empty(t, second.Results)
	require.Zero(t, second.Duplicates)
	t.Log("re-import skipped everything")

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count))
	require.Equal(t, 2, count)

	// no second round of audit events either
	var events int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transaction_events").Scan(&events))
	require.Equal(t, 4, events)
}

func TestImportSkipsBadRowsAndContinues(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	svc := newTestImporter(db)

	report, err := svc.Import(ctx, TransactionBatch{
		AccountID: "acct-1",
		Period:    "2024-03",
		Rows: []BatchRow{
			{Date: "yesterday-ish", Amount: "1.00", RawDescription: "BAD DATE"},
			{Date: "2024-03-02", Amount: "ten dollars", RawDescription: "BAD AMOUNT"},
			{Date: "2024-03-03", Amount: "1.00", RawDescription: "!!! ***"},
			{Date: "2024-03-04", Amount: "-3.50", RawDescription: "GOOD ROW"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Imported)
	require.Len(t, report.SkippedRows, 3)
	require.Equal(t, 0, report.SkippedRows[0].Row)
	require.Contains(t, report.SkippedRows[0].Reason, "date")
	require.Equal(t, 1, report.SkippedRows[1].Row)
	require.Contains(t, report.SkippedRows[1].Reason, "amount")
	require.Equal(t, 2, report.SkippedRows[2].Row)
	require.Contains(t, report.SkippedRows[2].Reason, "description")

	batches, err := repository.NewBatchRepo(db).List(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, 4, batches[0].RowCount)
	require.Equal(t, 1, batches[0].Imported)
	require.Equal(t, 3, batches[0].Skipped)
}

func TestImportIdenticalRowsStayDistinct(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	svc := newTestImporter(db)

	// two genuinely identical statement lines: both land, then the duplicate
	// pass flags the later id onto the earlier
	report, err := svc.Import(ctx, TransactionBatch{
		AccountID: "acct-1",
		Period:    "2024-04",
		Rows: []BatchRow{
			{Date: "2024-04-10", Amount: "-19.99", RawDescription: "STREAMCO MONTHLY"},
			{Date: "2024-04-10", Amount: "-19.99", RawDescription: "STREAMCO MONTHLY"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Imported)
	require.Equal(t, 1, report.Duplicates)
	require.Len(t, report.DuplicateGroups, 1)

	group := report.DuplicateGroups[0]
	require.Len(t, group.DuplicateIDs, 1)
	require.Less(t, group.CanonicalID, group.DuplicateIDs[0], "same-date tie breaks to the lower id")
	require.InDelta(t, 1.0, group.Similarity, 1e-9)

	member, err := repository.NewTransactionRepo(db).Get(ctx, group.DuplicateIDs[0])
	require.NoError(t, err)
	require.True(t, member.IsDuplicate())
	require.Equal(t, group.CanonicalID, *member.DuplicateOf)
	require.InDelta(t, 1.0, *member.DuplicateSimilarity, 1e-9)
	// the flag never changes lifecycle status
	require.Equal(t, repository.StatusFlaggedReview, member.Status)
}

func TestImportValidatesBatchHeader(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	svc := newTestImporter(db)

	_, err := svc.Import(ctx, TransactionBatch{AccountID: " ", Period: "2024-01"})
	require.ErrorContains(t, err, "account id required")

	_, err = svc.Import(ctx, TransactionBatch{AccountID: "acct-1", Period: "January 2024"})
	require.ErrorContains(t, err, "expected YYYY-MM")
}

func TestImportAmountBoundedRules(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	seedTaxonomy(t, ctx, db, "Payroll", "Office Supplies")
	min := int64(500_000)
	seedRule(t, ctx, db, repository.Rule{
		ID: "r-payroll", Pattern: "transfer", Kind: repository.KindSubstring,
		Category: "Payroll", Priority: 50, AmountMinCents: &min,
	})
	svc := newTestImporter(db)

	report, err := svc.Import(ctx, TransactionBatch{
		AccountID: "acct-1",
		Period:    "2024-05",
		Rows: []BatchRow{
			{Date: "2024-05-01", Amount: "-6000.00", RawDescription: "TRANSFER PAYROLL RUN"},
			{Date: "2024-05-02", Amount: "-40.00", RawDescription: "TRANSFER PETTY CASH"},
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	byCategory := map[string]CategorizationResult{}
	for _, res := range report.Results {
		byCategory[res.Category] = res
	}
	require.Contains(t, byCategory, "Payroll")
	require.Contains(t, byCategory, CategoryUncategorized, "amount below the rule floor must not match")
}
