package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hollis/countinghouse/internal/database"
	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/keylock"
)

// LedgerSnapshot is a read-only extract of the ledger for one account. The
// engine stores entries verbatim and never edits them.
type LedgerSnapshot struct {
	AccountID string
	Entries   []repository.LedgerEntry
}

// ReconciliationReport is the outcome of one reconciliation run: the
// matching, both exception sets, the period balance summary, and advisory
// unusual-activity flags.
type ReconciliationReport struct {
	AccountID              string
	Period                 string
	Matched                []repository.ReconciliationMatch
	ExceptionsTransactions []repository.Transaction
	ExceptionsLedger       []repository.LedgerEntry
	TotalDebitsCents       int64
	TotalCreditsCents      int64
	NetChangeCents         int64
	LargeAmounts           []repository.Transaction
	RoundAmounts           []repository.Transaction
}

// Reconciler matches categorized transactions against ledger snapshots, one
// (account, period) scope at a time.
type Reconciler struct {
	DB           *sql.DB
	Transactions *repository.TransactionRepo
	Ledger       *repository.LedgerRepo
	Matches      *repository.MatchRepo
	Events       *repository.EventRepo
	Locks        *keylock.Registry

	DateToleranceDays  int
	AmountEpsilonCents int64
	LargeAmountCents   int64

	Log *slog.Logger
}

// LoadSnapshot upserts a ledger extract. Entries carry stable ids, so
// re-loading the same snapshot is idempotent.
func (r *Reconciler) LoadSnapshot(ctx context.Context, snap LedgerSnapshot) (int, error) {
	err := database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		for _, e := range snap.Entries {
			if e.ID == "" || e.AccountID == "" {
				return fmt.Errorf("ledger entry missing id or account")
			}
			if err := r.Ledger.UpsertTx(ctx, tx, e); err != nil {
				return fmt.Errorf("upsert ledger entry %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger().Info("ledger snapshot loaded", "account", snap.AccountID, "entries", len(snap.Entries))
	return len(snap.Entries), nil
}

// Reconcile matches the account's eligible transactions against the stored
// ledger snapshot for one period. Runs for the same (account, period) are
// serialized via an advisory lock; keylock.ErrLockTimeout is transient and
// the whole run is safe to retry.
func (r *Reconciler) Reconcile(ctx context.Context, accountID, period string) (*ReconciliationReport, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("reconcile: account id required")
	}
	from, to, err := parsePeriod(period)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	key := accountID + "|" + period
	if err := r.Locks.Acquire(ctx, key); err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", key, err)
	}
	defer r.Locks.Release(key)

	report := &ReconciliationReport{AccountID: accountID, Period: period}
	err = database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		txs, err := r.Transactions.ListReconcilableTx(ctx, tx, accountID, from, to)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		entries, err := r.Ledger.ListUnmatchedTx(ctx, tx, accountID, from, to)
		if err != nil {
			return fmt.Errorf("list ledger entries: %w", err)
		}

		pairs, exTx, exLedger, err := assign(txs, entries, r.DateToleranceDays, r.AmountEpsilonCents)
		if err != nil {
			return err
		}

		for _, p := range pairs {
			m := repository.ReconciliationMatch{
				ID:               uuid.NewString(),
				TransactionID:    p.tx.ID,
				LedgerEntryID:    p.entry.ID,
				MatchType:        p.kind,
				DateDeltaDays:    p.dd,
				AmountDeltaCents: p.dc,
				Period:           period,
				Status:           repository.MatchStatusActive,
			}
			if err := r.Matches.InsertTx(ctx, tx, m); err != nil {
				// the partial unique indexes are the store-level bipartite
				// guard; tripping one means the eligible sets were stale
				return &InvariantViolation{Invariant: "one-to-one matching", Detail: err.Error()}
			}
			if err := r.transitionTx(ctx, tx, p.tx, repository.StatusReconciledMatched,
				fmt.Sprintf("matched ledger entry %s (%s)", p.entry.ID, p.kind)); err != nil {
				return err
			}
			report.Matched = append(report.Matched, m)
		}

		for _, t := range exTx {
			if err := r.transitionTx(ctx, tx, t, repository.StatusReconciledException,
				"no ledger entry within tolerance"); err != nil {
				return err
			}
			report.ExceptionsTransactions = append(report.ExceptionsTransactions, t)
		}
		report.ExceptionsLedger = exLedger

		for _, t := range txs {
			if t.AmountCents < 0 {
				report.TotalDebitsCents += -t.AmountCents
			} else {
				report.TotalCreditsCents += t.AmountCents
			}
			if absCents(t.AmountCents) > r.LargeAmountCents {
				report.LargeAmounts = append(report.LargeAmounts, t)
			}
			if isRoundAmount(t.AmountCents) {
				report.RoundAmounts = append(report.RoundAmounts, t)
			}
		}
		report.NetChangeCents = report.TotalCreditsCents - report.TotalDebitsCents

		return r.Matches.InsertRunTx(ctx, tx, repository.ReconciliationRun{
			ID:                uuid.NewString(),
			AccountID:         accountID,
			Period:            period,
			Matched:           len(pairs),
			ExceptionsTx:      len(exTx),
			ExceptionsLedger:  len(exLedger),
			TotalDebitsCents:  report.TotalDebitsCents,
			TotalCreditsCents: report.TotalCreditsCents,
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger().Info("reconciliation complete",
		"account", accountID, "period", period, "matched", len(report.Matched),
		"exceptions_tx", len(report.ExceptionsTransactions),
		"exceptions_ledger", len(report.ExceptionsLedger),
		"net_cents", report.NetChangeCents)
	return report, nil
}

// transitionTx moves a transaction to status with an audit event. A re-run
// that lands an exception on an exception is a no-op, not a new event.
func (r *Reconciler) transitionTx(ctx context.Context, tx *sql.Tx, t repository.Transaction, status, note string) error {
	if t.Status == status {
		return nil
	}
	if err := r.Transactions.UpdateStatusTx(ctx, tx, t.ID, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	event := repository.TransactionEvent{
		ID:            uuid.NewString(),
		TransactionID: t.ID,
		FromStatus:    t.Status,
		ToStatus:      status,
		Note:          note,
		Actor:         "reconciler",
	}
	if err := r.Events.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (r *Reconciler) logger() *slog.Logger { return logOr(r.Log) }

type matchPair struct {
	tx    repository.Transaction
	entry repository.LedgerEntry
	kind  string
	dd    int
	dc    int64
}

// assign computes the two-pass bipartite matching in memory. Pass 1 pairs
// identical (date, amount); pass 2 assigns the leftovers greedily,
// best score = -(|date delta days| + |amount delta cents|) first, ties by
// ascending transaction id then ledger id. Each side is consumed at most
// once; anything else is an InvariantViolation.
func assign(txs []repository.Transaction, entries []repository.LedgerEntry, dateTolDays int, epsCents int64) ([]matchPair, []repository.Transaction, []repository.LedgerEntry, error) {
	var pairs []matchPair
	usedTx := make(map[string]bool, len(txs))
	usedEntry := make(map[string]bool, len(entries))

	byKey := make(map[string][]int)
	for i, e := range entries {
		k := exactKey(e.Date, e.AmountCents)
		byKey[k] = append(byKey[k], i)
	}
	for _, t := range txs {
		k := exactKey(t.Date, t.AmountCents)
		queue := byKey[k]
		if len(queue) == 0 {
			continue
		}
		e := entries[queue[0]]
		byKey[k] = queue[1:]
		usedTx[t.ID] = true
		usedEntry[e.ID] = true
		pairs = append(pairs, matchPair{tx: t, entry: e, kind: repository.MatchExact})
	}

	type cand struct {
		ti, ei int
		score  int64
		dd     int
		dc     int64
	}
	var cands []cand
	for ti, t := range txs {
		if usedTx[t.ID] {
			continue
		}
		for ei, e := range entries {
			if usedEntry[e.ID] {
				continue
			}
			dd := absDays(t.Date, e.Date)
			dc := absCents(t.AmountCents - e.AmountCents)
			if dd > dateTolDays || dc > epsCents {
				continue
			}
			cands = append(cands, cand{ti: ti, ei: ei, score: -(int64(dd) + dc), dd: dd, dc: dc})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if txs[cands[i].ti].ID != txs[cands[j].ti].ID {
			return txs[cands[i].ti].ID < txs[cands[j].ti].ID
		}
		return entries[cands[i].ei].ID < entries[cands[j].ei].ID
	})
	for _, c := range cands {
		t, e := txs[c.ti], entries[c.ei]
		if usedTx[t.ID] || usedEntry[e.ID] {
			continue
		}
		usedTx[t.ID] = true
		usedEntry[e.ID] = true
		pairs = append(pairs, matchPair{tx: t, entry: e, kind: repository.MatchFuzzy, dd: c.dd, dc: c.dc})
	}

	seenTx := make(map[string]bool, len(pairs))
	seenEntry := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		if seenTx[p.tx.ID] {
			return nil, nil, nil, &InvariantViolation{Invariant: "one-to-one matching",
				Detail: "transaction " + p.tx.ID + " matched twice"}
		}
		if seenEntry[p.entry.ID] {
			return nil, nil, nil, &InvariantViolation{Invariant: "one-to-one matching",
				Detail: "ledger entry " + p.entry.ID + " matched twice"}
		}
		seenTx[p.tx.ID] = true
		seenEntry[p.entry.ID] = true
	}

	var exTx []repository.Transaction
	for _, t := range txs {
		if !usedTx[t.ID] {
			exTx = append(exTx, t)
		}
	}
	var exLedger []repository.LedgerEntry
	for _, e := range entries {
		if !usedEntry[e.ID] {
			exLedger = append(exLedger, e)
		}
	}
	return pairs, exTx, exLedger, nil
}

func exactKey(d time.Time, cents int64) string {
	return d.Format(time.DateOnly) + "|" + strconv.FormatInt(cents, 10)
}

// isRoundAmount reports suspiciously round figures: whole hundreds of
// dollars at or above $100.
func isRoundAmount(cents int64) bool {
	a := absCents(cents)
	return a >= 10_000 && a%10_000 == 0
}
