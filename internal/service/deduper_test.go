package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hollis/countinghouse/internal/database/repository"
)

func TestDetectFlagsNearDuplicates(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	seedBatchRow(t, ctx, db, "b1", "acct-1", "2024-03")

	insertTxn(t, ctx, db, repository.Transaction{
		ID: "t1", AccountID: "acct-1", BatchID: "b1", Date: day(t, "2024-03-05"),
		AmountCents: -500, RawDescription: "POST COFFEE SHOP 42",
		NormDescription: "post coffee shop 42", Category: CategoryUncategorized,
		Status: repository.StatusFlaggedReview,
	})
	insertTxn(t, ctx, db, repository.Transaction{
		ID: "t2", AccountID: "acct-1", BatchID: "b1", Date: day(t, "2024-03-06"),
		AmountCents: -500, RawDescription: "COFFEE SHOP 42 POST",
		NormDescription: "coffee shop 42 post", Category: CategoryUncategorized,
		Status: repository.StatusFlaggedReview,
	})
	insertTxn(t, ctx, db, repository.Transaction{
		ID: "t3", AccountID: "acct-1", BatchID: "b1", Date: day(t, "2024-03-06"),
		AmountCents: -500, RawDescription: "HARDWARE DEPOT AISLE 9",
		NormDescription: "hardware depot aisle 9", Category: CategoryUncategorized,
		Status: repository.StatusFlaggedReview,
	})

	d := newTestDeduper(db)
	report, err := d.Detect(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, 3, report.Examined)
	require.Equal(t, 1, report.Flagged)
	require.False(t, report.WindowTruncated)
	require.Len(t, report.Groups, 1)
	require.Equal(t, "t1", report.Groups[0].CanonicalID, "earliest date wins")
	require.Equal(t, []string{"t2"}, report.Groups[0].DuplicateIDs)
	require.GreaterOrEqual(t, report.Groups[0].Similarity, 0.8)

	repo := repository.NewTransactionRepo(db)
	t2, err := repo.Get(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, "t1", *t2.DuplicateOf)
	t3, err := repo.Get(ctx, "t3")
	require.NoError(t, err)
	require.False(t, t3.IsDuplicate())

	events, err := repository.NewEventRepo(db).ListByTransaction(ctx, "t2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "deduper", events[0].Actor)
	require.Contains(t, events[0].Note, "flagged duplicate of t1")
	// annotation, not a transition
	require.Equal(t, events[0].FromStatus, events[0].ToStatus)
}

func TestDetectAmountEpsilon(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	seedBatchRow(t, ctx, db, "b1", "acct-1", "2024-03")

	for i, cents := range []int64{-1000, -1001} {
		insertTxn(t, ctx, db, repository.Transaction{
			ID: []string{"p1", "p2"}[i], AccountID: "acct-1", BatchID: "b1",
			Date: day(t, "2024-03-10"), AmountCents: cents,
			RawDescription: "RIDESHARE TRIP 88", NormDescription: "rideshare trip 88",
			Category: CategoryUncategorized, Status: repository.StatusFlaggedReview,
		})
	}

	strict := newTestDeduper(db)
	report, err := strict.Detect(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Zero(t, report.Flagged, "a cent apart is distinct at epsilon 0")

	loose := newTestDeduper(db)
	loose.EpsilonCents = 5
	report, err = loose.Detect(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, 1, report.Flagged)
	require.Equal(t, "p1", report.Groups[0].CanonicalID)
}

func TestDetectDateWindow(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	seedBatchRow(t, ctx, db, "b1", "acct-1", "2024-03")

	insertTxn(t, ctx, db, repository.Transaction{
		ID: "w1", AccountID: "acct-1", BatchID: "b1", Date: day(t, "2024-03-01"),
		AmountCents: -2500, RawDescription: "GYM MEMBERSHIP", NormDescription: "gym membership",
		Category: CategoryUncategorized, Status: repository.StatusFlaggedReview,
	})
	insertTxn(t, ctx, db, repository.Transaction{
		ID: "w2", AccountID: "acct-1", BatchID: "b1", Date: day(t, "2024-03-08"),
		AmountCents: -2500, RawDescription: "GYM MEMBERSHIP", NormDescription: "gym membership",
		Category: CategoryUncategorized, Status: repository.StatusFlaggedReview,
	})

	d := newTestDeduper(db)
	report, err := d.Detect(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Zero(t, report.Flagged, "a week apart exceeds the 3-day window")

	wide := newTestDeduper(db)
	wide.WindowDays = 7
	report, err = wide.Detect(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, 1, report.Flagged)
}

func TestDetectRepointsPriorMembers(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	seedBatchRow(t, ctx, db, "b1", "acct-1", "2024-03")

	mk := func(id, date string) repository.Transaction {
		return repository.Transaction{
			ID: id, AccountID: "acct-1", BatchID: "b1", Date: day(t, date),
			AmountCents: -750, RawDescription: "CITY TRANSIT FARE",
			NormDescription: "city transit fare", Category: CategoryUncategorized,
			Status: repository.StatusFlaggedReview,
		}
	}
	insertTxn(t, ctx, db, mk("m1", "2024-03-10"))
	insertTxn(t, ctx, db, mk("m2", "2024-03-11"))

	d := newTestDeduper(db)
	report, err := d.Detect(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, "m1", report.Groups[0].CanonicalID)

	// an earlier row shows up later; the old canonical becomes a member and
	// drags its own member along so every flag points at the survivor
	insertTxn(t, ctx, db, mk("m0", "2024-03-09"))
	report, err = d.Detect(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	require.Equal(t, "m0", report.Groups[0].CanonicalID)
	require.Equal(t, []string{"m1", "m2"}, report.Groups[0].DuplicateIDs)

	repo := repository.NewTransactionRepo(db)
	for _, id := range []string{"m1", "m2"} {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "m0", *got.DuplicateOf)
	}
}

func TestDetectRetiresMatchOfReconciledMember(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	seedBatchRow(t, ctx, db, "b1", "acct-1", "2024-03")

	// the member reconciles first and holds the ledger entry
	insertTxn(t, ctx, db, approvedTxn(t, "d2", "2024-03-06", -4200, "cleaning service monthly"))

	rec := newTestReconciler(db)
	_, err := rec.LoadSnapshot(ctx, LedgerSnapshot{AccountID: "acct-1", Entries: []repository.LedgerEntry{
		{ID: "e1", AccountID: "acct-1", Date: day(t, "2024-03-06"), AmountCents: -4200, Description: "cleaning"},
	}})
	require.NoError(t, err)
	report, err := rec.Reconcile(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Len(t, report.Matched, 1)

	// a later import reveals an earlier copy, which becomes the canonical
	insertTxn(t, ctx, db, approvedTxn(t, "d1", "2024-03-05", -4200, "cleaning service monthly"))

	d := newTestDeduper(db)
	dup, err := d.Detect(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Equal(t, 1, dup.Flagged)
	require.Len(t, dup.Groups, 1)
	require.Equal(t, "d1", dup.Groups[0].CanonicalID)
	require.Equal(t, []string{"d2"}, dup.Groups[0].DuplicateIDs)

	events, err := repository.NewEventRepo(db).ListByTransaction(ctx, "d2")
	require.NoError(t, err)
	var retired bool
	for _, e := range events {
		if e.Note == "reconciliation match superseded: transaction is a duplicate" {
			retired = true
			require.Equal(t, e.FromStatus, e.ToStatus)
		}
	}
	require.True(t, retired, "flagging a reconciled member must retire its match")

	// the freed ledger entry goes to the canonical on the next run
	report, err = rec.Reconcile(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Len(t, report.Matched, 1)
	require.Equal(t, "d1", report.Matched[0].TransactionID)
	require.Equal(t, "e1", report.Matched[0].LedgerEntryID)
	require.Equal(t, repository.MatchFuzzy, report.Matched[0].MatchType)

	matches, err := repository.NewMatchRepo(db).ListByPeriod(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "d1", matches[0].TransactionID)
}

func TestDetectTruncatesOversizedWindow(t *testing.T) {
	t.Parallel()
	ctx, db := setupServiceTest(t)
	seedBatchRow(t, ctx, db, "b1", "acct-1", "2024-03")

	descs := []string{"VENDOR ONE", "VENDOR TWO", "VENDOR THREE"}
	for i, desc := range descs {
		insertTxn(t, ctx, db, repository.Transaction{
			ID: []string{"x1", "x2", "x3"}[i], AccountID: "acct-1", BatchID: "b1",
			Date: day(t, "2024-03-15"), AmountCents: int64(-100 * (i + 1)),
			RawDescription: desc, NormDescription: []string{"vendor one", "vendor two", "vendor three"}[i],
			Category: CategoryUncategorized, Status: repository.StatusFlaggedReview,
		})
	}

	d := newTestDeduper(db)
	d.MaxWindow = 2
	report, err := d.Detect(ctx, "acct-1", "2024-03")
	require.NoError(t, err)
	require.True(t, report.WindowTruncated)
	require.Equal(t, 2, report.Examined)
}
