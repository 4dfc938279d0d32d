package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hollis/countinghouse/internal/database"
	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/money"
	"github.com/hollis/countinghouse/internal/rules"
	"github.com/hollis/countinghouse/internal/textnorm"
)

// CategoryUncategorized is assigned when no rule matches; it always lands in
// the review queue.
const CategoryUncategorized = "Uncategorized"

// dateLayouts are tried in order when interpreting raw row dates.
var dateLayouts = []string{time.DateOnly, time.RFC3339, "01/02/2006", "2006/01/02"}

// TransactionBatch is the canonical input produced by upstream statement
// parsers. Dates and amounts arrive as raw strings; the importer owns their
// interpretation.
type TransactionBatch struct {
	AccountID string     `json:"account_id"`
	Period    string     `json:"period"` // YYYY-MM
	Source    string     `json:"source,omitempty"`
	Rows      []BatchRow `json:"rows"`
}

// BatchRow is one raw statement line.
type BatchRow struct {
	Date           string `json:"date"`
	Amount         string `json:"amount"`
	RawDescription string `json:"description"`
	Currency       string `json:"currency,omitempty"`
}

// SkippedRow pairs a row index with the reason the row was dropped.
type SkippedRow struct {
	Row    int
	Reason string
}

// CategorizationResult is the per-transaction outcome of an import.
type CategorizationResult struct {
	TransactionID string
	Category      string
	Subcategory   *string
	Confidence    float64
	Status        string
}

// BatchReport enumerates everything one import run did: what landed, what
// was skipped and why, and what the duplicate pass found. There is no
// silent partial success.
type BatchReport struct {
	BatchID         string
	AccountID       string
	Period          string
	Rows            int
	Imported        int
	Skipped         int          // source-hash collisions from re-imports
	SkippedRows     []SkippedRow // rows dropped with a parse reason
	AutoCategorized int
	Flagged         int
	Duplicates      int
	DuplicateGroups []DuplicateGroup
	WindowTruncated bool
	Results         []CategorizationResult
}

// Importer turns raw batches into categorized, gated, duplicate-flagged
// transactions in one all-or-nothing commit per batch.
type Importer struct {
	DB           *sql.DB
	Transactions *repository.TransactionRepo
	Rules        *repository.RuleRepo
	Categories   *repository.CategoryRepo
	Batches      *repository.BatchRepo
	Events       *repository.EventRepo
	Deduper      *Deduper

	ReviewThreshold float64
	FuzzyThreshold  float64

	Log *slog.Logger
}

// Import normalizes, categorizes, gates and duplicate-checks one batch. Bad
// rows are skipped and reported; storage failures roll the whole batch back.
func (s *Importer) Import(ctx context.Context, batch TransactionBatch) (*BatchReport, error) {
	if strings.TrimSpace(batch.AccountID) == "" {
		return nil, fmt.Errorf("import: account id required")
	}
	if _, _, err := parsePeriod(batch.Period); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	set, err := loadRuleSet(ctx, s.Rules, s.Categories, s.FuzzyThreshold)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{
		BatchID:   uuid.NewString(),
		AccountID: batch.AccountID,
		Period:    batch.Period,
		Rows:      len(batch.Rows),
	}

	var staged []repository.Transaction
	for i, row := range batch.Rows {
		t, perr := normalizeRow(batch.AccountID, i, row)
		if perr != nil {
			report.SkippedRows = append(report.SkippedRows, SkippedRow{Row: perr.Row, Reason: perr.Error()})
			continue
		}
		categorize(&t, set, s.ReviewThreshold)
		t.BatchID = report.BatchID
		staged = append(staged, t)
	}

	err = database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var inserted []repository.Transaction
		var usedRules []string
		for _, t := range staged {
			ok, err := s.Transactions.InsertTx(ctx, tx, t)
			if err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
			if !ok {
				report.Skipped++
				continue
			}
			if err := s.appendImportEvents(ctx, tx, t); err != nil {
				return err
			}
			if t.MatchedRuleID != nil {
				usedRules = append(usedRules, *t.MatchedRuleID)
			}
			if t.Status == repository.StatusApproved {
				report.AutoCategorized++
			} else {
				report.Flagged++
			}
			report.Results = append(report.Results, CategorizationResult{
				TransactionID: t.ID,
				Category:      t.Category,
				Subcategory:   t.Subcategory,
				Confidence:    t.Confidence,
				Status:        t.Status,
			})
			report.Imported++
			inserted = append(inserted, t)
		}
		if len(usedRules) > 0 {
			if err := s.Rules.RecordUseTx(ctx, tx, usedRules, database.Now()); err != nil {
				return fmt.Errorf("record rule use: %w", err)
			}
		}

		dup, err := s.Deduper.detectBatchTx(ctx, tx, batch.AccountID, inserted)
		if err != nil {
			return err
		}
		report.Duplicates = dup.Flagged
		report.DuplicateGroups = dup.Groups
		report.WindowTruncated = dup.WindowTruncated

		return s.Batches.InsertTx(ctx, tx, repository.ImportBatch{
			ID:        report.BatchID,
			AccountID: batch.AccountID,
			Period:    batch.Period,
			Source:    batch.Source,
			RowCount:  len(batch.Rows),
			Imported:  report.Imported,
			Skipped:   report.Skipped + len(report.SkippedRows),
			Flagged:   report.Flagged,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger().Info("batch imported",
		"batch", report.BatchID, "account", batch.AccountID, "period", batch.Period,
		"rows", report.Rows, "imported", report.Imported, "skipped", report.Skipped,
		"parse_failures", len(report.SkippedRows), "approved", report.AutoCategorized,
		"flagged", report.Flagged, "duplicates", report.Duplicates)
	return report, nil
}

func (s *Importer) appendImportEvents(ctx context.Context, tx *sql.Tx, t repository.Transaction) error {
	note := "no rule matched"
	if t.MatchedRuleID != nil {
		note = fmt.Sprintf("rule %s -> %s (confidence %.2f)", *t.MatchedRuleID, t.Category, t.Confidence)
	}
	events := []repository.TransactionEvent{
		{
			ID:            uuid.NewString(),
			TransactionID: t.ID,
			FromStatus:    repository.StatusIngested,
			ToStatus:      repository.StatusCategorized,
			Note:          note,
			Actor:         "importer",
		},
		{
			ID:            uuid.NewString(),
			TransactionID: t.ID,
			FromStatus:    repository.StatusCategorized,
			ToStatus:      t.Status,
			Note:          fmt.Sprintf("confidence %.2f vs threshold %.2f", t.Confidence, s.ReviewThreshold),
			Actor:         "importer",
		},
	}
	for _, e := range events {
		if err := s.Events.AppendTx(ctx, tx, e); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	return nil
}

func (s *Importer) logger() *slog.Logger { return logOr(s.Log) }

// normalizeRow converts one raw row into an insertable transaction. The id
// and source hash derive from the same identity key
// (account|date|amount|description|row), so an identical file re-imports as
// a no-op while two genuinely identical rows in one file stay distinct.
func normalizeRow(accountID string, i int, row BatchRow) (repository.Transaction, *ParseError) {
	date, err := parseRowDate(row.Date)
	if err != nil {
		return repository.Transaction{}, &ParseError{Row: i, Field: "date", Reason: err.Error()}
	}
	cents, err := money.ParseCents(row.Amount)
	if err != nil {
		return repository.Transaction{}, &ParseError{Row: i, Field: "amount", Reason: err.Error()}
	}
	raw := strings.TrimSpace(row.RawDescription)
	norm := textnorm.Normalize(raw)
	if norm == "" {
		return repository.Transaction{}, &ParseError{Row: i, Field: "description", Reason: "empty after normalization"}
	}
	currency := strings.ToUpper(strings.TrimSpace(row.Currency))
	if currency == "" {
		currency = "USD"
	}

	key := strings.Join([]string{accountID, date.Format(time.DateOnly),
		strconv.FormatInt(cents, 10), raw, strconv.Itoa(i)}, "|")
	sum := sha256.Sum256([]byte(key))

	return repository.Transaction{
		ID:              uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(),
		AccountID:       accountID,
		Date:            date,
		AmountCents:     cents,
		Currency:        currency,
		RawDescription:  raw,
		NormDescription: norm,
		SourceHash:      fmt.Sprintf("%x", sum[:]),
		Status:          repository.StatusIngested,
	}, nil
}

func parseRowDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// categorize runs the rule match and the review gate over a staged row.
func categorize(t *repository.Transaction, set *rules.Set, reviewThreshold float64) {
	m := set.Match(t.NormDescription, t.AmountCents)
	if m == nil {
		t.Category = CategoryUncategorized
		t.Confidence = 0
	} else {
		t.Category = m.Rule.Category
		t.Subcategory = m.Rule.Subcategory
		t.Confidence = m.Confidence
		id := m.Rule.ID
		t.MatchedRuleID = &id
	}
	t.Status = gate(t.Confidence, reviewThreshold)
}

// gate applies the review threshold: confident categorizations are approved,
// everything else queues for a human.
func gate(confidence, threshold float64) string {
	if confidence >= threshold {
		return repository.StatusApproved
	}
	return repository.StatusFlaggedReview
}

// loadRuleSet compiles the active rule set against the current taxonomy.
// A *rules.ConflictError here is fatal: an ambiguous rule set must never
// categorize money.
func loadRuleSet(ctx context.Context, ruleRepo *repository.RuleRepo, catRepo *repository.CategoryRepo, fuzzyThreshold float64) (*rules.Set, error) {
	version, err := ruleRepo.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("rule-set version: %w", err)
	}
	active, err := ruleRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	categories, err := catRepo.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	return rules.Compile(active, version, fuzzyThreshold, categories)
}

func logOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
