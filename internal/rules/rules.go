// Package rules compiles and evaluates the categorization rule set.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/similarity"
	"github.com/hollis/countinghouse/internal/textnorm"
)

// Base confidence per match kind. The effective confidence of a match is
// min(base, rule weight): a weaker rule can only drag confidence down,
// never push it above what the kind supports.
const (
	BaseExact     = 0.9
	BaseRegex     = 0.8
	BaseSubstring = 0.7
	BaseFuzzy     = 0.5
)

// Conflict is a pair of active rules that cannot be deterministically ordered.
type Conflict struct {
	RuleA    string
	RuleB    string
	Pattern  string
	Priority int
}

// ConflictError blocks rule-set activation: two active rules share an
// identical (priority, pattern) and first-match-wins would be ambiguous.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		c := e.Conflicts[0]
		return fmt.Sprintf("rule conflict: %s and %s share pattern %q at priority %d", c.RuleA, c.RuleB, c.Pattern, c.Priority)
	}
	return fmt.Sprintf("%d rule conflicts (first: %s and %s share pattern %q at priority %d)",
		len(e.Conflicts), e.Conflicts[0].RuleA, e.Conflicts[0].RuleB, e.Conflicts[0].Pattern, e.Conflicts[0].Priority)
}

// Match is the outcome of evaluating a rule set against one transaction.
type Match struct {
	Rule       repository.Rule
	Confidence float64
}

type compiled struct {
	rule   repository.Rule
	tokens []string
	needle string
	re     *regexp.Regexp
}

// Set is a compiled, validated, ordered rule set. Sets are immutable once
// compiled; rule mutations go through the store and a recompile.
type Set struct {
	Version        int
	FuzzyThreshold float64
	rules          []compiled
}

// Compile validates rs and returns an ordered set. Inactive rules are
// dropped. Validation failures and ordering conflicts return *ConflictError
// or a plain error; either way the set must not be used.
func Compile(rs []repository.Rule, version int, fuzzyThreshold float64, categories map[string]struct{}) (*Set, error) {
	set := &Set{Version: version, FuzzyThreshold: fuzzyThreshold}

	for _, r := range rs {
		if !r.Active {
			continue
		}
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("rule %s: empty pattern", r.ID)
		}
		if r.Weight < 0.1 || r.Weight > 1.0 {
			return nil, fmt.Errorf("rule %s: weight %v out of [0.1, 1.0]", r.ID, r.Weight)
		}
		if categories != nil {
			if _, ok := categories[r.Category]; !ok {
				return nil, fmt.Errorf("rule %s: unknown category %q", r.ID, r.Category)
			}
		}
		if r.AmountMinCents != nil && *r.AmountMinCents < 0 {
			return nil, fmt.Errorf("rule %s: negative amount bound", r.ID)
		}
		if r.AmountMinCents != nil && r.AmountMaxCents != nil && *r.AmountMinCents > *r.AmountMaxCents {
			return nil, fmt.Errorf("rule %s: amount bounds inverted", r.ID)
		}

		c := compiled{rule: r}
		switch r.Kind {
		case repository.KindExact:
			c.tokens = textnorm.Tokens(r.Pattern)
			if len(c.tokens) == 0 {
				return nil, fmt.Errorf("rule %s: pattern %q normalizes to nothing", r.ID, r.Pattern)
			}
		case repository.KindSubstring:
			c.needle = textnorm.Normalize(r.Pattern)
			if c.needle == "" {
				return nil, fmt.Errorf("rule %s: pattern %q normalizes to nothing", r.ID, r.Pattern)
			}
		case repository.KindRegex:
			re, err := regexp.Compile("(?i:" + r.Pattern + ")")
			if err != nil {
				return nil, fmt.Errorf("rule %s: regex: %w", r.ID, err)
			}
			c.re = re
		case repository.KindFuzzy:
			if len(textnorm.Tokens(r.Pattern)) == 0 {
				return nil, fmt.Errorf("rule %s: pattern %q normalizes to nothing", r.ID, r.Pattern)
			}
		default:
			return nil, fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
		}
		set.rules = append(set.rules, c)
	}

	if err := findConflicts(set.rules); err != nil {
		return nil, err
	}

	// priority desc, longer (more specific) pattern first, id for determinism
	sort.Slice(set.rules, func(i, j int) bool {
		a, b := set.rules[i].rule, set.rules[j].rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if len(a.Pattern) != len(b.Pattern) {
			return len(a.Pattern) > len(b.Pattern)
		}
		return a.ID < b.ID
	})
	return set, nil
}

func findConflicts(rules []compiled) error {
	seen := make(map[string]repository.Rule, len(rules))
	var conflicts []Conflict
	for _, c := range rules {
		key := fmt.Sprintf("%d|%s", c.rule.Priority, c.rule.Pattern)
		if prev, ok := seen[key]; ok {
			conflicts = append(conflicts, Conflict{
				RuleA:    prev.ID,
				RuleB:    c.rule.ID,
				Pattern:  c.rule.Pattern,
				Priority: c.rule.Priority,
			})
			continue
		}
		seen[key] = c.rule
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// Len reports how many active rules the set holds.
func (s *Set) Len() int { return len(s.rules) }

// Match evaluates the set against a normalized description and signed amount.
// First satisfying rule in set order wins; nil means no rule matched.
func (s *Set) Match(normDescription string, amountCents int64) *Match {
	descTokens := textnorm.Tokens(normDescription)
	abs := amountCents
	if abs < 0 {
		abs = -abs
	}

	for _, c := range s.rules {
		if c.rule.AmountMinCents != nil && abs < *c.rule.AmountMinCents {
			continue
		}
		if c.rule.AmountMaxCents != nil && abs > *c.rule.AmountMaxCents {
			continue
		}
		if !c.matches(normDescription, descTokens, s.FuzzyThreshold) {
			continue
		}
		return &Match{Rule: c.rule, Confidence: Confidence(c.rule.Kind, c.rule.Weight)}
	}
	return nil
}

// MaxMatchingPriority returns the highest priority among all rules that
// would fire on the probe, and whether any did. The feedback loop uses it
// to place a promoted rule above every rule it competes with.
func (s *Set) MaxMatchingPriority(normDescription string, amountCents int64) (int, bool) {
	descTokens := textnorm.Tokens(normDescription)
	abs := amountCents
	if abs < 0 {
		abs = -abs
	}

	best, found := 0, false
	for _, c := range s.rules {
		if c.rule.AmountMinCents != nil && abs < *c.rule.AmountMinCents {
			continue
		}
		if c.rule.AmountMaxCents != nil && abs > *c.rule.AmountMaxCents {
			continue
		}
		if !c.matches(normDescription, descTokens, s.FuzzyThreshold) {
			continue
		}
		if !found || c.rule.Priority > best {
			best, found = c.rule.Priority, true
		}
	}
	return best, found
}

func (c compiled) matches(normDescription string, descTokens []string, fuzzyThreshold float64) bool {
	switch c.rule.Kind {
	case repository.KindExact:
		return containsSequence(descTokens, c.tokens)
	case repository.KindSubstring:
		return strings.Contains(normDescription, c.needle)
	case repository.KindRegex:
		return c.re.MatchString(normDescription)
	case repository.KindFuzzy:
		return similarity.TokenSetRatio(normDescription, c.rule.Pattern) >= fuzzyThreshold
	}
	return false
}

// ClipWeight bounds a rule weight to [0.1, 1.0].
func ClipWeight(w float64) float64 {
	if w < 0.1 {
		return 0.1
	}
	if w > 1 {
		return 1
	}
	return w
}

// Confidence is min(kind base, weight), clipped to [0, 1].
func Confidence(kind string, weight float64) float64 {
	base := 0.0
	switch kind {
	case repository.KindExact:
		base = BaseExact
	case repository.KindRegex:
		base = BaseRegex
	case repository.KindSubstring:
		base = BaseSubstring
	case repository.KindFuzzy:
		base = BaseFuzzy
	}
	conf := base
	if weight < conf {
		conf = weight
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// containsSequence reports whether needle appears as a contiguous
// subsequence of haystack.
func containsSequence(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, tok := range needle {
			if haystack[i+j] != tok {
				continue outer
			}
		}
		return true
	}
	return false
}
