package rules

import (
	"fmt"
	"slices"
	"sort"

	"github.com/MrWong99/voxfix/internal/transcript/phonetic"
)

// Set is an immutable collection of rules plus the alias index derived from
// them. It is safe for concurrent use.
type Set struct {
	rules   map[string]*Rule
	targets []string
	aliases map[string]string
}

// EmptySet returns a set with no rules.
func EmptySet() *Set {
	return &Set{rules: map[string]*Rule{}, aliases: map[string]string{}}
}

// Build merges entries into a [Set]. Entries sharing a target are merged:
// the largest threshold wins, with defaultThreshold standing in for lines
// that set none, and aliases and context words are unioned. Pinyin is
// computed through idx.
func Build(entries []Entry, idx *phonetic.Index, defaultThreshold float64) (*Set, []Diagnostic) {
	type acc struct {
		rule    *Rule
		aliases map[string]struct{}
		context map[string]struct{}
	}

	byTarget := make(map[string]*acc, len(entries))
	for _, e := range entries {
		a, ok := byTarget[e.Target]
		if !ok {
			a = &acc{
				rule:    &Rule{Target: e.Target},
				aliases: make(map[string]struct{}),
				context: make(map[string]struct{}),
			}
			byTarget[e.Target] = a
		}
		threshold := defaultThreshold
		if e.HasThreshold {
			threshold = e.Threshold
		}
		if len(a.rule.Lines) == 0 || threshold > a.rule.Threshold {
			a.rule.Threshold = threshold
		}
		a.rule.Lines = append(a.rule.Lines, e.Line)
		for _, w := range e.Aliases {
			a.aliases[w] = struct{}{}
		}
		for _, w := range e.Context {
			a.context[w] = struct{}{}
		}
	}

	var diags []Diagnostic
	rules := make([]*Rule, 0, len(byTarget))
	for _, a := range byTarget {
		r := a.rule
		r.AliasWords = sortedKeys(a.aliases)
		r.ContextWords = sortedKeys(a.context)
		r.Pinyin = slices.Clone(idx.Syllables(r.Target))
		if len(r.Lines) > 1 {
			for _, line := range r.Lines[1:] {
				diags = append(diags, Diagnostic{
					Line:     line,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("duplicate target %q merged with lines %v", r.Target, r.Lines),
					Content:  r.Target,
				})
			}
		}
		rules = append(rules, r)
	}

	set, aliasDiags := newSet(rules)
	diags = append(diags, aliasDiags...)
	sort.SliceStable(diags, func(i, j int) bool { return diags[i].Line < diags[j].Line })
	return set, diags
}

// newSet indexes rules. Aliases that would rewrite a target, or that two
// targets both claim, are removed from their rules and reported.
func newSet(rules []*Rule) (*Set, []Diagnostic) {
	s := &Set{
		rules:   make(map[string]*Rule, len(rules)),
		targets: make([]string, 0, len(rules)),
		aliases: make(map[string]string),
	}
	for _, r := range rules {
		s.rules[r.Target] = r
		s.targets = append(s.targets, r.Target)
	}
	sort.Strings(s.targets)

	var diags []Diagnostic
	for _, t := range s.targets {
		r := s.rules[t]
		kept := r.AliasWords[:0:0]
		for _, a := range r.AliasWords {
			line := 0
			if len(r.Lines) > 0 {
				line = r.Lines[0]
			}
			if _, isTarget := s.rules[a]; isTarget {
				diags = append(diags, Diagnostic{
					Line:     line,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("alias %q of %q is itself a target and was dropped", a, t),
					Content:  t,
				})
				continue
			}
			if owner, taken := s.aliases[a]; taken {
				diags = append(diags, Diagnostic{
					Line:     line,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("alias %q of %q is already an alias of %q and was dropped", a, t, owner),
					Content:  t,
				})
				continue
			}
			s.aliases[a] = t
			kept = append(kept, a)
		}
		r.AliasWords = kept
	}
	return s, diags
}

// Len returns the number of rules.
func (s *Set) Len() int { return len(s.rules) }

// Rule returns the rule for target.
func (s *Set) Rule(target string) (*Rule, bool) {
	r, ok := s.rules[target]
	return r, ok
}

// IsTarget reports whether word is a target term.
func (s *Set) IsTarget(word string) bool {
	_, ok := s.rules[word]
	return ok
}

// AliasTarget returns the target an alias maps to.
func (s *Set) AliasTarget(alias string) (string, bool) {
	t, ok := s.aliases[alias]
	return t, ok
}

// Targets returns all target terms in lexicographic order.
func (s *Set) Targets() []string {
	return slices.Clone(s.targets)
}

// Aliases returns all alias words in lexicographic order.
func (s *Set) Aliases() []string {
	out := make([]string, 0, len(s.aliases))
	for a := range s.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// ContextWords returns the union of all rules' context words in
// lexicographic order.
func (s *Set) ContextWords() []string {
	seen := make(map[string]struct{})
	for _, r := range s.rules {
		for _, w := range r.ContextWords {
			seen[w] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Rules returns all rules ordered by target.
func (s *Set) Rules() []*Rule {
	out := make([]*Rule, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, s.rules[t])
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
