// Package match resolves a single token to the rule target it was most
// likely misrecognized from.
//
// Matching runs in two stages. Known aliases resolve directly to their
// target. Everything else is compared phonetically against every target with
// the same number of characters; the best candidate wins if it reaches the
// rule's threshold and, for rules that carry context words, the surrounding
// text mentions at least one of them.
package match

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voxfix/internal/transcript/phonetic"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
)

// Method names the matching stage that produced a [Match].
type Method string

const (
	// MethodAlias marks a direct alias lookup.
	MethodAlias Method = "alias"

	// MethodPhonetic marks a pinyin similarity match.
	MethodPhonetic Method = "phonetic"
)

// Match is the outcome of a successful [Engine.FindMatch].
type Match struct {
	// Target is the replacement term.
	Target string

	// Similarity is the phonetic similarity in [0, 1]. Alias matches report 1.
	Similarity float64

	// Threshold is the threshold of the matched rule.
	Threshold float64

	Method Method
}

// Engine matches tokens against a fixed rule set. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	set   *rules.Set
	index *phonetic.Index

	// byLen groups rules by target rune count, each group ordered by target.
	byLen map[int][]*rules.Rule
}

// New returns an [Engine] over set. idx computes the pinyin of tokens and
// should be the index the set was built with so cached syllables are reused.
func New(set *rules.Set, idx *phonetic.Index) *Engine {
	if set == nil {
		set = rules.EmptySet()
	}
	if idx == nil {
		idx = phonetic.NewIndex()
	}
	e := &Engine{
		set:   set,
		index: idx,
		byLen: make(map[int][]*rules.Rule),
	}
	for _, r := range set.Rules() {
		n := utf8.RuneCountInString(r.Target)
		e.byLen[n] = append(e.byLen[n], r)
	}
	return e
}

// Set returns the rule set the engine matches against.
func (e *Engine) Set() *rules.Set { return e.set }

// FindMatch returns the target word should be replaced with. context is the
// text the context gate of a rule is checked against; it normally contains
// word itself.
//
// Targets never match, so a corrected text stays unchanged on a second pass.
// Among phonetic candidates the highest similarity wins; ties go to the
// lexicographically smallest target.
func (e *Engine) FindMatch(word, context string) (Match, bool) {
	return e.FindMatchFunc(word, func(w string) bool { return strings.Contains(context, w) })
}

// FindMatchFunc is [Engine.FindMatch] with the context gate answered by has,
// which reports whether a context word occurs around word. has is only
// consulted for candidates above their threshold.
func (e *Engine) FindMatchFunc(word string, has func(contextWord string) bool) (Match, bool) {
	if word == "" || e.set.IsTarget(word) {
		return Match{}, false
	}

	if target, ok := e.set.AliasTarget(word); ok {
		r, _ := e.set.Rule(target)
		return Match{Target: target, Similarity: 1, Threshold: r.Threshold, Method: MethodAlias}, true
	}

	candidates := e.byLen[utf8.RuneCountInString(word)]
	if len(candidates) == 0 {
		return Match{}, false
	}

	syl := e.index.Syllables(word)
	var (
		best  *rules.Rule
		score float64
	)
	for _, r := range candidates {
		sim := phonetic.Similarity(syl, r.Pinyin)
		if sim < r.Threshold || sim <= score && best != nil {
			continue
		}
		if !r.ContextSatisfiedBy(has) {
			continue
		}
		best, score = r, sim
	}
	if best == nil {
		return Match{}, false
	}
	return Match{Target: best.Target, Similarity: score, Threshold: best.Threshold, Method: MethodPhonetic}, true
}
