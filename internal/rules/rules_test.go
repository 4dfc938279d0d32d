package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/textnorm"
)

func mkRule(id, pattern, kind, category string, priority int, weight float64) repository.Rule {
	return repository.Rule{
		ID:       id,
		Pattern:  pattern,
		Kind:     kind,
		Category: category,
		Priority: priority,
		Weight:   weight,
		Active:   true,
		Source:   repository.RuleSourceManual,
	}
}

func compile(t *testing.T, rs ...repository.Rule) *Set {
	t.Helper()
	set, err := Compile(rs, 1, 0.85, nil)
	require.NoError(t, err)
	return set
}

func TestMatchExactTokenSequence(t *testing.T) {
	t.Parallel()

	set := compile(t,
		mkRule("r1", "STAPLES", repository.KindExact, "Office Supplies", 10, 0.9),
		mkRule("r2", "ACME INDUSTRIAL", repository.KindExact, "Equipment", 10, 0.9),
	)

	m := set.Match(textnorm.Normalize("STAPLES OFFICE"), -4560)
	require.NotNil(t, m)
	require.Equal(t, "Office Supplies", m.Rule.Category)
	require.Equal(t, 0.9, m.Confidence)

	m = set.Match(textnorm.Normalize("ACME INDUSTRIAL EQUIP"), -120000)
	require.NotNil(t, m)
	require.Equal(t, "Equipment", m.Rule.Category)
	require.Equal(t, 0.9, m.Confidence)

	// token must match whole, not as prefix
	require.Nil(t, set.Match(textnorm.Normalize("STAPLESVILLE DINER"), -1500))
}

func TestMatchKinds(t *testing.T) {
	t.Parallel()

	set := compile(t,
		mkRule("sub", "insurance", repository.KindSubstring, "Insurance", 5, 1.0),
		mkRule("re", "amazon|amzn", repository.KindRegex, "Office Supplies", 5, 1.0),
		mkRule("fz", "shell oil station", repository.KindFuzzy, "Vehicle Expenses", 5, 1.0),
	)

	m := set.Match(textnorm.Normalize("GEICO INSURANCE PREMIUM"), -9900)
	require.NotNil(t, m)
	require.Equal(t, "Insurance", m.Rule.Category)
	require.Equal(t, BaseSubstring, m.Confidence)

	m = set.Match(textnorm.Normalize("AMZN Mktp US*1X2Y3"), -2300)
	require.NotNil(t, m)
	require.Equal(t, "Office Supplies", m.Rule.Category)
	require.Equal(t, BaseRegex, m.Confidence)

	m = set.Match(textnorm.Normalize("SHELL OIL STATION 57442"), -5200)
	require.NotNil(t, m)
	require.Equal(t, "Vehicle Expenses", m.Rule.Category)
	require.Equal(t, BaseFuzzy, m.Confidence)
}

func TestMatchNoRule(t *testing.T) {
	t.Parallel()

	set := compile(t, mkRule("r1", "STAPLES", repository.KindExact, "Office Supplies", 10, 0.9))
	require.Nil(t, set.Match(textnorm.Normalize("WHOLE FOODS MKT"), -1250))
}

func TestPriorityAndSpecificityOrder(t *testing.T) {
	t.Parallel()

	set := compile(t,
		mkRule("low", "staples", repository.KindSubstring, "Office Supplies", 1, 1.0),
		mkRule("high", "staples", repository.KindExact, "Shop Supplies", 20, 1.0),
	)
	m := set.Match(textnorm.Normalize("STAPLES STORE 44"), -800)
	require.NotNil(t, m)
	require.Equal(t, "high", m.Rule.ID, "higher priority wins")

	// equal priority: longer pattern wins
	set = compile(t,
		mkRule("short", "acme", repository.KindSubstring, "Uncategorized", 5, 1.0),
		mkRule("long", "acme industrial", repository.KindSubstring, "Equipment", 5, 1.0),
	)
	m = set.Match(textnorm.Normalize("ACME INDUSTRIAL EQUIP"), -120000)
	require.NotNil(t, m)
	require.Equal(t, "long", m.Rule.ID)
}

func TestAmountBounds(t *testing.T) {
	t.Parallel()

	min := int64(500_000)
	max := int64(2_500)
	equip := mkRule("equip", ".*", repository.KindRegex, "Equipment", -10, 0.7)
	equip.AmountMinCents = &min
	misc := mkRule("misc", ".*", repository.KindRegex, "Office Supplies", -20, 0.6)
	misc.AmountMaxCents = &max

	set := compile(t, equip, misc)

	m := set.Match(textnorm.Normalize("WIRE TRANSFER 8812"), -750_000)
	require.NotNil(t, m)
	require.Equal(t, "equip", m.Rule.ID)
	require.Equal(t, 0.7, m.Confidence)

	m = set.Match(textnorm.Normalize("CORNER STORE"), -1_200)
	require.NotNil(t, m)
	require.Equal(t, "misc", m.Rule.ID)
	require.Equal(t, 0.6, m.Confidence)

	// between the bounds nothing applies
	require.Nil(t, set.Match(textnorm.Normalize("CORNER STORE"), -10_000))
}

func TestConfidenceScaling(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.9, Confidence(repository.KindExact, 0.9))
	require.Equal(t, 0.9, Confidence(repository.KindExact, 1.0))
	require.Equal(t, 0.5, Confidence(repository.KindExact, 0.5))
	require.Equal(t, 0.7, Confidence(repository.KindSubstring, 1.0))
	require.Equal(t, 0.1, Confidence(repository.KindFuzzy, 0.1))
}

func TestCompileConflict(t *testing.T) {
	t.Parallel()

	_, err := Compile([]repository.Rule{
		mkRule("a", "staples", repository.KindExact, "Office Supplies", 10, 0.9),
		mkRule("b", "staples", repository.KindSubstring, "Shop Supplies", 10, 0.8),
	}, 1, 0.85, nil)
	require.Error(t, err)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	require.Equal(t, "staples", conflict.Conflicts[0].Pattern)
	require.Equal(t, 10, conflict.Conflicts[0].Priority)
}

func TestCompileValidation(t *testing.T) {
	t.Parallel()

	bad := []repository.Rule{
		mkRule("w", "x", repository.KindExact, "Income", 0, 1.5),
		mkRule("re", "([", repository.KindRegex, "Income", 0, 1.0),
		mkRule("k", "x", "prefix", "Income", 0, 1.0),
		mkRule("p", "   ", repository.KindExact, "Income", 0, 1.0),
	}
	for _, r := range bad {
		_, err := Compile([]repository.Rule{r}, 1, 0.85, nil)
		require.Error(t, err, "rule %s should not compile", r.ID)
	}

	// category closed set enforced when provided
	cats := map[string]struct{}{"Income": {}}
	_, err := Compile([]repository.Rule{
		mkRule("c", "x", repository.KindExact, "Gifts", 0, 1.0),
	}, 1, 0.85, cats)
	require.Error(t, err)
}

func TestCompileSkipsInactive(t *testing.T) {
	t.Parallel()

	r := mkRule("off", "staples", repository.KindExact, "Office Supplies", 10, 0.9)
	r.Active = false
	set := compile(t, r)
	require.Equal(t, 0, set.Len())
	require.Nil(t, set.Match("staples office", -4560))
}
