package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hollis/countinghouse/internal/database"
	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/similarity"
)

// DuplicateGroup is one set of transactions judged to be the same real-world
// event. Similarity is the weakest member-to-canonical score in the group.
type DuplicateGroup struct {
	CanonicalID  string
	DuplicateIDs []string
	Similarity   float64
}

// DuplicateReport summarizes one detection pass.
type DuplicateReport struct {
	AccountID       string
	Examined        int
	Flagged         int
	Groups          []DuplicateGroup
	WindowTruncated bool
}

// Deduper flags likely duplicate transactions for human review. Members are
// flagged onto a canonical row and excluded from reconciliation; nothing is
// ever deleted or merged automatically.
type Deduper struct {
	DB           *sql.DB
	Transactions *repository.TransactionRepo
	Matches      *repository.MatchRepo
	Events       *repository.EventRepo

	WindowDays   int
	EpsilonCents int64
	Similarity   float64
	MaxWindow    int

	Log *slog.Logger
}

// Detect runs duplicate detection over the account's stored non-duplicate
// transactions for one statement period.
func (d *Deduper) Detect(ctx context.Context, accountID, period string) (*DuplicateReport, error) {
	from, to, err := parsePeriod(period)
	if err != nil {
		return nil, fmt.Errorf("dedupe: %w", err)
	}

	var report *DuplicateReport
	err = database.WithTx(ctx, d.DB, func(tx *sql.Tx) error {
		r, err := d.detectTx(ctx, tx, accountID, from, to.AddDate(0, 0, -1))
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger().Info("duplicate detection complete",
		"account", accountID, "period", period, "examined", report.Examined,
		"groups", len(report.Groups), "flagged", report.Flagged,
		"window_truncated", report.WindowTruncated)
	return report, nil
}

// detectBatchTx runs detection for a just-inserted batch inside the import
// transaction, so batch rows and stored rows are compared in the same pass.
func (d *Deduper) detectBatchTx(ctx context.Context, tx *sql.Tx, accountID string, batch []repository.Transaction) (*DuplicateReport, error) {
	if len(batch) == 0 {
		return &DuplicateReport{AccountID: accountID}, nil
	}
	lo, hi := batch[0].Date, batch[0].Date
	for _, t := range batch[1:] {
		if t.Date.Before(lo) {
			lo = t.Date
		}
		if t.Date.After(hi) {
			hi = t.Date
		}
	}
	return d.detectTx(ctx, tx, accountID, lo, hi)
}

// detectTx examines the account's non-duplicate transactions dated inside
// [from, to] widened by the lookback window. The pairwise pass is O(n²), so
// an oversized window is truncated to the newest MaxWindow rows and the
// report says so.
func (d *Deduper) detectTx(ctx context.Context, tx *sql.Tx, accountID string, from, to time.Time) (*DuplicateReport, error) {
	report := &DuplicateReport{AccountID: accountID}
	lo := from.AddDate(0, 0, -d.WindowDays)
	hi := to.AddDate(0, 0, d.WindowDays)

	total, err := d.Transactions.CountWindowTx(ctx, tx, accountID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("count window: %w", err)
	}
	report.WindowTruncated = total > d.MaxWindow

	window, err := d.Transactions.ListWindowTx(ctx, tx, accountID, lo, hi, d.MaxWindow)
	if err != nil {
		return nil, fmt.Errorf("list window: %w", err)
	}
	report.Examined = len(window)

	uf := newUnionFind(len(window))
	for i := 0; i < len(window); i++ {
		for j := i + 1; j < len(window); j++ {
			a, b := window[i], window[j]
			if absCents(a.AmountCents-b.AmountCents) > d.EpsilonCents {
				continue
			}
			if absDays(a.Date, b.Date) > d.WindowDays {
				continue
			}
			if similarity.TokenSetRatio(a.NormDescription, b.NormDescription) < d.Similarity {
				continue
			}
			uf.union(i, j)
		}
	}

	members := make(map[int][]int)
	for i := range window {
		root := uf.find(i)
		members[root] = append(members[root], i)
	}

	for _, idxs := range members {
		if len(idxs) < 2 {
			continue
		}
		group, err := d.flagGroupTx(ctx, tx, window, idxs)
		if err != nil {
			return nil, err
		}
		report.Groups = append(report.Groups, group)
		report.Flagged += len(group.DuplicateIDs)
	}
	sort.Slice(report.Groups, func(i, j int) bool {
		return report.Groups[i].CanonicalID < report.Groups[j].CanonicalID
	})
	return report, nil
}

// flagGroupTx marks every non-canonical member of one group. Canonical =
// earliest date, tie lowest id. A member that was itself canonical for an
// earlier group drags its old members along so the flags always point
// directly at the surviving canonical.
func (d *Deduper) flagGroupTx(ctx context.Context, tx *sql.Tx, window []repository.Transaction, idxs []int) (DuplicateGroup, error) {
	canonical := idxs[0]
	for _, i := range idxs[1:] {
		c, m := window[canonical], window[i]
		if m.Date.Before(c.Date) || (m.Date.Equal(c.Date) && m.ID < c.ID) {
			canonical = i
		}
	}
	canon := window[canonical]
	group := DuplicateGroup{CanonicalID: canon.ID, Similarity: 1}

	for _, i := range idxs {
		if i == canonical {
			continue
		}
		member := window[i]
		sim := similarity.TokenSetRatio(member.NormDescription, canon.NormDescription)
		if err := d.flagMemberTx(ctx, tx, member, canon, sim); err != nil {
			return DuplicateGroup{}, err
		}
		group.DuplicateIDs = append(group.DuplicateIDs, member.ID)
		if sim < group.Similarity {
			group.Similarity = sim
		}

		prior, err := d.Transactions.DuplicateMembersTx(ctx, tx, member.ID)
		if err != nil {
			return DuplicateGroup{}, fmt.Errorf("list prior members: %w", err)
		}
		for _, p := range prior {
			psim := similarity.TokenSetRatio(p.NormDescription, canon.NormDescription)
			if err := d.flagMemberTx(ctx, tx, p, canon, psim); err != nil {
				return DuplicateGroup{}, err
			}
			group.DuplicateIDs = append(group.DuplicateIDs, p.ID)
			if psim < group.Similarity {
				group.Similarity = psim
			}
		}
	}
	sort.Strings(group.DuplicateIDs)
	return group, nil
}

func (d *Deduper) flagMemberTx(ctx context.Context, tx *sql.Tx, member, canon repository.Transaction, sim float64) error {
	if err := d.Transactions.MarkDuplicateTx(ctx, tx, member.ID, canon.ID, sim); err != nil {
		return fmt.Errorf("mark duplicate: %w", err)
	}
	event := repository.TransactionEvent{
		ID:            uuid.NewString(),
		TransactionID: member.ID,
		FromStatus:    member.Status,
		ToStatus:      member.Status,
		Note:          fmt.Sprintf("flagged duplicate of %s (similarity %.2f)", canon.ID, sim),
		Actor:         "deduper",
	}
	if err := d.Events.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	// a member reconciled before being flagged still holds its ledger entry;
	// retire the match so the canonical can claim the entry on the next run
	retired, err := d.Matches.SupersedeForTransactionTx(ctx, tx, member.ID)
	if err != nil {
		return fmt.Errorf("supersede match: %w", err)
	}
	if retired {
		event := repository.TransactionEvent{
			ID:            uuid.NewString(),
			TransactionID: member.ID,
			FromStatus:    member.Status,
			ToStatus:      member.Status,
			Note:          "reconciliation match superseded: transaction is a duplicate",
			Actor:         "deduper",
		}
		if err := d.Events.AppendTx(ctx, tx, event); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	return nil
}

func (d *Deduper) logger() *slog.Logger { return logOr(d.Log) }

// unionFind merges pairwise duplicate candidates into groups.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		u.parent[rj] = ri
	}
}
