// Package rules loads the human-authored hotword rule file into a validated,
// merged [Set] of correction rules.
//
// The rule file holds one rule per line:
//
//	TARGET [THRESHOLD] [ALIAS1,ALIAS2,...] [(CONTEXT1,CONTEXT2,...)]
//
// Blank lines and lines starting with '#' are ignored. Problems are reported
// as per-line [Diagnostic] values and never abort a load: a broken line is
// skipped, duplicate targets are merged.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DefaultThreshold is the similarity a fuzzy match must reach when a rule
// does not set its own threshold.
const DefaultThreshold = 0.9

// MinThreshold is the lowest threshold a rule line may set. Anything lower
// would let almost any word of the same length match.
const MinThreshold = 0.1

// Rule is one correction rule, keyed by its target term.
type Rule struct {
	// Target is the canonical domain term.
	Target string

	// Pinyin holds one tone-marked syllable per rune of Target.
	Pinyin []string

	// Threshold is the minimum phonetic similarity for a fuzzy match.
	Threshold float64

	// ContextWords gate fuzzy matches: when non-empty, at least one must
	// occur in the text being corrected.
	ContextWords []string

	// AliasWords are exact, known misrecognitions of Target.
	AliasWords []string

	// Lines records the rule file lines the rule was assembled from.
	Lines []int
}

// ContextSatisfied reports whether text allows a match to r. Rules without
// context words are always satisfied.
func (r *Rule) ContextSatisfied(text string) bool {
	return r.ContextSatisfiedBy(func(w string) bool { return strings.Contains(text, w) })
}

// ContextSatisfiedBy is [Rule.ContextSatisfied] with the occurrence of a
// context word reported by has.
func (r *Rule) ContextSatisfiedBy(has func(word string) bool) bool {
	if len(r.ContextWords) == 0 {
		return true
	}
	for _, w := range r.ContextWords {
		if has(w) {
			return true
		}
	}
	return false
}

// Severity classifies a [Diagnostic].
type Severity int

const (
	// SeverityWarning marks a problem that was repaired automatically.
	SeverityWarning Severity = iota

	// SeverityError marks a line that was skipped.
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic describes a problem found on one rule file line.
type Diagnostic struct {
	Line     int
	Severity Severity
	Message  string
	Content  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s: %s (%q)", d.Line, d.Severity, d.Message, d.Content)
}

// HasErrors reports whether any diagnostic has [SeverityError].
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	errEmptyTarget     = errors.New("target is empty")
	errSingleCJK       = errors.New("target is a single CJK character, which is too ambiguous")
	errNoCJKNorLetters = errors.New("target must contain at least two CJK characters, one CJK character plus a digit or letter, or only letters")
)

// SanitizeTarget keeps the runes of target that may appear in a target term
// (CJK characters, ASCII letters and digits) and returns the removed runes
// separately so callers can warn about them.
func SanitizeTarget(target string) (clean, removed string) {
	var keep, drop strings.Builder
	for _, r := range target {
		if isCJK(r) || isASCIILetter(r) || isASCIIDigit(r) {
			keep.WriteRune(r)
		} else {
			drop.WriteRune(r)
		}
	}
	return keep.String(), drop.String()
}

// ValidateTarget checks the character-class rule for target terms. target
// must already be sanitized.
func ValidateTarget(target string) error {
	if target == "" {
		return errEmptyTarget
	}
	var cjk, letters, digits int
	for _, r := range target {
		switch {
		case isCJK(r):
			cjk++
		case isASCIILetter(r):
			letters++
		case isASCIIDigit(r):
			digits++
		}
	}
	switch {
	case cjk == 0 && digits == 0:
		return nil
	case cjk >= 2:
		return nil
	case cjk == 1 && letters+digits > 0:
		return nil
	case cjk == 1:
		return errSingleCJK
	default:
		return errNoCJKNorLetters
	}
}

func isCJK(r rune) bool         { return unicode.Is(unicode.Han, r) }
func isASCIILetter(r rune) bool { return r < unicode.MaxASCII && unicode.IsLetter(r) }
func isASCIIDigit(r rune) bool  { return r >= '0' && r <= '9' }

// isPureASCIIAlpha reports whether s consists solely of ASCII letters.
func isPureASCIIAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isASCIILetter(r) {
			return false
		}
	}
	return true
}
