package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hollis/countinghouse/internal/database"
	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/keylock"
	"github.com/hollis/countinghouse/internal/rules"
	"github.com/hollis/countinghouse/internal/textnorm"
)

// promotedBasePriority places a promoted rule above the seeded band when no
// existing rule competes for its pattern.
const promotedBasePriority = 100

// Correction is one human re-categorization from the review tool.
type Correction struct {
	TransactionID  string
	NewCategory    string
	NewSubcategory *string
	ReviewerID     string
	Note           string
}

// WeightChange records one rule weight update.
type WeightChange struct {
	RuleID string
	Old    float64
	New    float64
}

// CorrectionOutcome reports what one correction changed.
type CorrectionOutcome struct {
	TransactionID string
	OldCategory   string
	NewCategory   string
	PatternKey    string
	Downweighted  *WeightChange
	PromotedRule  *repository.Rule
	Pending       int // unconsumed corrections left for (pattern, category)
}

// Feedback applies human corrections back onto the data and the rule set:
// the transaction is re-categorized at full confidence, the rule that got it
// wrong decays, and recurring corrections promote into a rule of their own.
type Feedback struct {
	DB           *sql.DB
	Transactions *repository.TransactionRepo
	Rules        *repository.RuleRepo
	Categories   *repository.CategoryRepo
	Corrections  *repository.CorrectionRepo
	Events       *repository.EventRepo
	Locks        *keylock.Registry

	Alpha           float64 // EMA decay applied to wrong rules
	PromoteAfter    int     // recurrences before a pattern becomes a rule
	ReviewThreshold float64
	FuzzyThreshold  float64

	Log *slog.Logger
}

// Apply records and executes one correction. Rule mutations are serialized
// per rule and per promotion pattern, and share one SQL transaction with the
// rule-set version bump.
func (f *Feedback) Apply(ctx context.Context, c Correction) (*CorrectionOutcome, error) {
	newCategory := strings.TrimSpace(c.NewCategory)
	if newCategory == "" {
		return nil, fmt.Errorf("correction: new category required")
	}
	t, err := f.Transactions.Get(ctx, c.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("correction: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("correction: unknown transaction %s", c.TransactionID)
	}
	names, err := f.Categories.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("correction: %w", err)
	}
	if _, ok := names[newCategory]; !ok {
		return nil, fmt.Errorf("correction: unknown category %q", newCategory)
	}

	// the rule that produced the current category, if any
	var oldRule *repository.Rule
	if t.MatchedRuleID != nil {
		oldRule, err = f.Rules.Get(ctx, *t.MatchedRuleID)
		if err != nil {
			return nil, fmt.Errorf("correction: %w", err)
		}
	}
	patternKey := patternKeyFor(t, oldRule)

	// sorted acquisition keeps concurrent reviewers deadlock-free
	keys := []string{"promote|" + patternKey + "|" + newCategory}
	if oldRule != nil {
		keys = append(keys, "rule|"+oldRule.ID)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if err := f.Locks.Acquire(ctx, k); err != nil {
			for _, held := range keys[:i] {
				f.Locks.Release(held)
			}
			return nil, fmt.Errorf("correction %s: %w", c.TransactionID, err)
		}
	}
	defer func() {
		for _, k := range keys {
			f.Locks.Release(k)
		}
	}()

	outcome := &CorrectionOutcome{
		TransactionID: t.ID,
		OldCategory:   t.Category,
		NewCategory:   newCategory,
		PatternKey:    patternKey,
	}

	err = database.WithTx(ctx, f.DB, func(tx *sql.Tx) error {
		// (a) re-categorize: a human decision carries full confidence
		status := gate(1.0, f.ReviewThreshold)
		if err := f.Transactions.UpdateCategoryTx(ctx, tx, t.ID, newCategory, c.NewSubcategory, 1.0, status, nil); err != nil {
			return fmt.Errorf("update category: %w", err)
		}
		if err := f.appendCorrectionEvents(ctx, tx, t, c, newCategory, status); err != nil {
			return err
		}

		mutatedRules := false

		// (b) decay the rule that got it wrong
		if oldRule != nil && oldRule.Category == t.Category && oldRule.Category != newCategory {
			current, err := f.Rules.GetTx(ctx, tx, oldRule.ID)
			if err != nil {
				return fmt.Errorf("read rule: %w", err)
			}
			if current != nil {
				next := rules.ClipWeight((1 - f.Alpha) * current.Weight)
				if next != current.Weight {
					if err := f.Rules.UpdateWeightTx(ctx, tx, current.ID, next); err != nil {
						return fmt.Errorf("downweight rule: %w", err)
					}
					mutatedRules = true
				}
				outcome.Downweighted = &WeightChange{RuleID: current.ID, Old: current.Weight, New: next}
			}
		}

		if err := f.Corrections.InsertTx(ctx, tx, repository.Correction{
			ID:             uuid.NewString(),
			TransactionID:  t.ID,
			OldCategory:    t.Category,
			OldSubcategory: t.Subcategory,
			NewCategory:    newCategory,
			NewSubcategory: c.NewSubcategory,
			PatternKey:     patternKey,
			ReviewerID:     c.ReviewerID,
			Note:           c.Note,
			MatchedRuleID:  t.MatchedRuleID,
		}); err != nil {
			return fmt.Errorf("record correction: %w", err)
		}

		// (c) promote a recurring correction pattern into a rule
		pending, err := f.Corrections.PendingTx(ctx, tx, patternKey, newCategory)
		if err != nil {
			return fmt.Errorf("pending corrections: %w", err)
		}
		outcome.Pending = len(pending)
		if len(pending) >= f.PromoteAfter {
			promoted, err := f.promoteTx(ctx, tx, t, patternKey, newCategory, c.NewSubcategory, pending)
			if err != nil {
				return err
			}
			outcome.PromotedRule = promoted
			outcome.Pending = 0
			mutatedRules = true
		}

		if mutatedRules {
			if err := f.Rules.BumpVersionTx(ctx, tx); err != nil {
				return fmt.Errorf("bump rule-set version: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.logger().Info("correction applied",
		"transaction", t.ID, "reviewer", c.ReviewerID,
		"from", outcome.OldCategory, "to", outcome.NewCategory,
		"pattern_key", patternKey,
		"downweighted", outcome.Downweighted != nil,
		"promoted", outcome.PromotedRule != nil)
	return outcome, nil
}

func (f *Feedback) appendCorrectionEvents(ctx context.Context, tx *sql.Tx, t *repository.Transaction, c Correction, newCategory, status string) error {
	note := fmt.Sprintf("correction: %s -> %s", t.Category, newCategory)
	if c.Note != "" {
		note += ": " + c.Note
	}
	events := []repository.TransactionEvent{
		{
			ID:            uuid.NewString(),
			TransactionID: t.ID,
			FromStatus:    t.Status,
			ToStatus:      repository.StatusCategorized,
			Note:          note,
			Actor:         c.ReviewerID,
		},
		{
			ID:            uuid.NewString(),
			TransactionID: t.ID,
			FromStatus:    repository.StatusCategorized,
			ToStatus:      status,
			Note:          fmt.Sprintf("confidence 1.00 vs threshold %.2f", f.ReviewThreshold),
			Actor:         "feedback",
		},
	}
	for _, e := range events {
		if err := f.Events.AppendTx(ctx, tx, e); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	return nil
}

// promoteTx turns a recurring correction pattern into an exact rule placed
// above everything that currently competes for the same descriptions. An
// active rule already mapping the pattern to the category is raised instead
// of duplicated.
func (f *Feedback) promoteTx(ctx context.Context, tx *sql.Tx, t *repository.Transaction, patternKey, category string, subcategory *string, pending []repository.Correction) (*repository.Rule, error) {
	weight := rules.ClipWeight(0.5 + 0.1*float64(len(pending)))

	active, err := f.Rules.ListActiveTx(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	set, err := rules.Compile(active, 0, f.FuzzyThreshold, nil)
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	priority := promotedBasePriority
	if maxPrio, ok := set.MaxMatchingPriority(textnorm.Normalize(patternKey), t.AmountCents); ok {
		priority = maxPrio + 1
	}

	var promoted *repository.Rule
	existing, err := f.Rules.FindActiveTx(ctx, tx, patternKey, repository.KindExact, category)
	if err != nil {
		return nil, fmt.Errorf("find rule: %w", err)
	}
	if existing != nil {
		if existing.Weight > weight {
			weight = existing.Weight
		}
		if existing.Priority > priority {
			priority = existing.Priority
		}
		if err := f.Rules.PromoteTx(ctx, tx, existing.ID, weight, priority); err != nil {
			return nil, fmt.Errorf("promote rule: %w", err)
		}
		existing.Weight, existing.Priority = weight, priority
		promoted = existing
	} else {
		rule := repository.Rule{
			ID:          uuid.NewString(),
			Pattern:     patternKey,
			Kind:        repository.KindExact,
			Category:    category,
			Subcategory: subcategory,
			Priority:    priority,
			Weight:      weight,
			Active:      true,
			Source:      repository.RuleSourceFeedback,
		}
		if err := f.Rules.InsertTx(ctx, tx, rule); err != nil {
			return nil, fmt.Errorf("insert rule: %w", err)
		}
		promoted = &rule
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	if err := f.Corrections.ConsumeTx(ctx, tx, ids, promoted.ID); err != nil {
		return nil, fmt.Errorf("consume corrections: %w", err)
	}
	return promoted, nil
}

func (f *Feedback) logger() *slog.Logger { return logOr(f.Log) }

// patternKeyFor picks the recurrence key for a correction: the pattern of
// the rule that fired, otherwise the leading normalized description token.
func patternKeyFor(t *repository.Transaction, matched *repository.Rule) string {
	if matched != nil {
		return matched.Pattern
	}
	toks := textnorm.Tokens(t.RawDescription)
	if len(toks) == 0 {
		return t.NormDescription
	}
	return toks[0]
}
