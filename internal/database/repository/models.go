package repository

import "time"

// Transaction statuses. A transaction moves ingested -> categorized ->
// approved/flagged_review -> reconciled_matched/reconciled_exception.
// The duplicate flag (DuplicateOf) is orthogonal to status.
const (
	StatusIngested            = "ingested"
	StatusCategorized         = "categorized"
	StatusApproved            = "approved"
	StatusFlaggedReview       = "flagged_review"
	StatusReconciledMatched   = "reconciled_matched"
	StatusReconciledException = "reconciled_exception"
)

// Rule kinds, ordered here from most to least specific.
const (
	KindExact     = "exact"
	KindRegex     = "regex"
	KindSubstring = "substring"
	KindFuzzy     = "fuzzy"
)

// Rule sources.
const (
	RuleSourceSeed     = "seed"
	RuleSourceManual   = "manual"
	RuleSourceFeedback = "feedback"
)

// Match types for reconciliation.
const (
	MatchExact  = "exact"
	MatchFuzzy  = "fuzzy"
	MatchManual = "manual"
)

// Reconciliation match lifecycle.
const (
	MatchStatusActive     = "active"
	MatchStatusSuperseded = "superseded"
)

// Transaction represents a transactions row. Amounts are signed cents; the
// sign is never normalized away. Rows are append-only: amounts and dates are
// immutable after insert, and state changes append transaction_events rows.
type Transaction struct {
	ID                  string
	AccountID           string
	BatchID             string
	Date                time.Time
	AmountCents         int64
	Currency            string
	RawDescription      string
	NormDescription     string
	Category            string
	Subcategory         *string
	Confidence          float64
	Status              string
	DuplicateOf         *string
	DuplicateSimilarity *float64
	MatchedRuleID       *string
	SourceHash          string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsDuplicate reports whether the transaction is flagged as a duplicate of
// another (canonical) transaction.
func (t Transaction) IsDuplicate() bool { return t.DuplicateOf != nil }

// Rule represents a categorization rule row. The optional amount bounds gate
// the rule to transactions whose absolute amount falls inside them.
type Rule struct {
	ID             string
	Pattern        string
	Kind           string
	Category       string
	Subcategory    *string
	AmountMinCents *int64
	AmountMaxCents *int64
	Priority       int
	Weight         float64
	HitCount       int
	LastUsed       *time.Time
	Active         bool
	Source         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Category represents a category row. Subcategories reference their parent.
type Category struct {
	ID        string
	ParentID  *string
	Name      string
	SortOrder int
}

// LedgerEntry is one row of a read-only ledger snapshot.
type LedgerEntry struct {
	ID          string
	AccountID   string
	Date        time.Time
	AmountCents int64
	Description string
	CreatedAt   time.Time
}

// ReconciliationMatch links one transaction to one ledger entry. Active
// matches are one-to-one on both sides, enforced by partial unique indexes.
type ReconciliationMatch struct {
	ID               string
	TransactionID    string
	LedgerEntryID    string
	MatchType        string
	DateDeltaDays    int
	AmountDeltaCents int64
	Period           string
	Status           string
	CreatedAt        time.Time
}

// ReconciliationRun is the persisted summary of one reconciliation pass.
type ReconciliationRun struct {
	ID                string
	AccountID         string
	Period            string
	Matched           int
	ExceptionsTx      int
	ExceptionsLedger  int
	TotalDebitsCents  int64
	TotalCreditsCents int64
	CreatedAt         time.Time
}

// ImportBatch records one ingest run.
type ImportBatch struct {
	ID        string
	AccountID string
	Period    string
	Source    string
	RowCount  int
	Imported  int
	Skipped   int
	Flagged   int
	CreatedAt time.Time
}

// Correction records one human re-categorization.
type Correction struct {
	ID             string
	TransactionID  string
	OldCategory    string
	OldSubcategory *string
	NewCategory    string
	NewSubcategory *string
	PatternKey     string
	ReviewerID     string
	Note           string
	MatchedRuleID  *string
	PromotedRuleID *string
	CreatedAt      time.Time
}

// TransactionEvent is one append-only audit record.
type TransactionEvent struct {
	ID            string
	TransactionID string
	FromStatus    string
	ToStatus      string
	Note          string
	Actor         string
	CreatedAt     time.Time
}
