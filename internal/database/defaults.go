package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/hollis/countinghouse/internal/database/repository"
)

// SeedDefaults ensures the baseline category taxonomy and starter rule set
// exist for new databases. It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	if err := seedCategories(ctx, db); err != nil {
		return err
	}
	return seedRules(ctx, db)
}

func seedCategories(ctx context.Context, db *sql.DB) error {
	catRepo := repository.NewCategoryRepo(db)
	existing, err := catRepo.List(ctx)
	if err == nil && len(existing) > 0 {
		return nil
	}
	defaults := []string{
		"Income",
		"Office Supplies > General",
		"Office Supplies > Equipment",
		"Office Supplies > Miscellaneous",
		"Shop Supplies",
		"Vehicle Expenses > Fuel",
		"Meals & Entertainment > Business Meals",
		"Travel > Lodging",
		"Travel > Airfare",
		"Utilities > Communications",
		"Utilities > Basic Utilities",
		"Insurance > General",
		"Bank Charges > Fees",
		"Payroll > Wages",
		"Rent > Office Rent",
		"Professional Services > Legal",
		"Professional Services > Accounting",
		"Marketing > Advertising",
		"Software > Subscriptions",
		"Equipment > Major Equipment",
		"Uncategorized",
	}
	for idx, path := range defaults {
		parts := strings.Split(path, ">")
		var parentID *string
		for _, raw := range parts {
			name := strings.TrimSpace(raw)
			id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("cat:"+name)).String()
			cat := repository.Category{ID: id, Name: name, ParentID: parentID, SortOrder: idx}
			if err := catRepo.Upsert(ctx, cat); err != nil {
				return err
			}
			parentID = &id
		}
	}
	return nil
}

type seedRule struct {
	pattern     string
	kind        string
	category    string
	subcategory string
	priority    int
	weight      float64
	minCents    int64 // 0 = unset
	maxCents    int64 // 0 = unset
}

// seedRules installs the starter categorization rules. Patterns are matched
// against normalized (lowercased) descriptions. The two catch-all rules at
// negative priority reproduce the amount-threshold fallbacks: anything at or
// over $5,000 leans Equipment, anything at or under $25 leans office misc.
func seedRules(ctx context.Context, db *sql.DB) error {
	ruleRepo := repository.NewRuleRepo(db)
	existing, err := ruleRepo.List(ctx)
	if err == nil && len(existing) > 0 {
		return nil
	}

	defaults := []seedRule{
		{pattern: "amazon|amzn", kind: repository.KindRegex, category: "Office Supplies", subcategory: "General", priority: 80, weight: 1.0},
		{pattern: "gas|fuel|shell|exxon|bp", kind: repository.KindRegex, category: "Vehicle Expenses", subcategory: "Fuel", priority: 75, weight: 1.0},
		{pattern: "office depot|staples|best buy", kind: repository.KindRegex, category: "Office Supplies", subcategory: "Equipment", priority: 70, weight: 1.0},
		{pattern: "restaurant|cafe|food|dining", kind: repository.KindRegex, category: "Meals & Entertainment", subcategory: "Business Meals", priority: 65, weight: 1.0},
		{pattern: "hotel|motel|lodging|airbnb", kind: repository.KindRegex, category: "Travel", subcategory: "Lodging", priority: 60, weight: 1.0},
		{pattern: "airline|flight|airport", kind: repository.KindRegex, category: "Travel", subcategory: "Airfare", priority: 55, weight: 1.0},
		{pattern: "internet|phone|verizon|att|comcast", kind: repository.KindRegex, category: "Utilities", subcategory: "Communications", priority: 50, weight: 1.0},
		{pattern: "electric|power|gas company|water", kind: repository.KindRegex, category: "Utilities", subcategory: "Basic Utilities", priority: 45, weight: 1.0},
		{pattern: "insurance", kind: repository.KindSubstring, category: "Insurance", subcategory: "General", priority: 40, weight: 1.0},
		{pattern: "bank fee|service charge", kind: repository.KindRegex, category: "Bank Charges", subcategory: "Fees", priority: 35, weight: 1.0},
		{pattern: "payroll|salary|wages", kind: repository.KindRegex, category: "Payroll", subcategory: "Wages", priority: 30, weight: 1.0},
		{pattern: "rent|lease", kind: repository.KindRegex, category: "Rent", subcategory: "Office Rent", priority: 25, weight: 1.0},
		{pattern: "legal|attorney|law", kind: repository.KindRegex, category: "Professional Services", subcategory: "Legal", priority: 20, weight: 1.0},
		{pattern: "accounting|bookkeeping|cpa", kind: repository.KindRegex, category: "Professional Services", subcategory: "Accounting", priority: 15, weight: 1.0},
		{pattern: "marketing|advertising|google ads", kind: repository.KindRegex, category: "Marketing", subcategory: "Advertising", priority: 10, weight: 1.0},
		{pattern: "software|subscription|saas", kind: repository.KindRegex, category: "Software", subcategory: "Subscriptions", priority: 5, weight: 1.0},
		{pattern: ".*", kind: repository.KindRegex, category: "Equipment", subcategory: "Major Equipment", priority: -10, weight: 0.7, minCents: 500_000},
		{pattern: ".*", kind: repository.KindRegex, category: "Office Supplies", subcategory: "Miscellaneous", priority: -20, weight: 0.6, maxCents: 2_500},
	}

	for _, sr := range defaults {
		rule := repository.Rule{
			ID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte("rule:"+sr.pattern+"|"+sr.category+"|"+sr.subcategory)).String(),
			Pattern:  sr.pattern,
			Kind:     sr.kind,
			Category: sr.category,
			Priority: sr.priority,
			Weight:   sr.weight,
			Active:   true,
			Source:   repository.RuleSourceSeed,
		}
		if sr.subcategory != "" {
			sub := sr.subcategory
			rule.Subcategory = &sub
		}
		if sr.minCents > 0 {
			m := sr.minCents
			rule.AmountMinCents = &m
		}
		if sr.maxCents > 0 {
			m := sr.maxCents
			rule.AmountMaxCents = &m
		}
		if err := ruleRepo.Insert(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}
