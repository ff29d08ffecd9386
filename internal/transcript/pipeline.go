// Package transcript corrects homophone errors in recognized Chinese text
// against a human-maintained list of domain terms.
//
// A [Corrector] rewrites each text unit (a whole transcript or one timed
// sentence) in three passes:
//
//  1. Whole-unit alias shortcut: a unit that is exactly a known alias becomes
//     its target.
//  2. Full-text scan: every occurrence of an alias or a target is located in
//     one leftmost-longest Aho-Corasick pass. Targets are left alone and
//     shield their characters from later passes; aliases are replaced when
//     their rule's context gate holds for the unit.
//  3. Token pass: the remaining spans are segmented into words and every
//     multi-character word is matched phonetically against the targets of
//     the same length.
//
// Targets are never rewritten, so correcting already corrected text is a
// no-op. Context gates are answered from one scan of the unit for all
// context words, extended by the targets written along the way, so the work
// per unit stays linear in its length.
package transcript

import (
	"strings"
	"unicode/utf8"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/MrWong99/voxfix/internal/transcript/match"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
)

// Correction captures a single substitution made by the pipeline.
type Correction struct {
	// Original is the text as produced by the recognizer.
	Original string

	// Corrected is the target term that replaced Original.
	Corrected string

	// Similarity is the phonetic similarity of Original to Corrected
	// (0.0–1.0). Alias replacements report 1.
	Similarity float64

	// Method describes which pass produced this substitution.
	Method match.Method
}

// Result is the output of [Corrector.Correct].
type Result struct {
	// Original is the unit as received.
	Original string

	// Corrected is the unit with all substitutions applied.
	Corrected string

	// Corrections lists the substitutions in text order. Empty when
	// Corrected equals Original.
	Corrections []Correction
}

// Tokenizer splits text into words. Implementations must be safe for
// concurrent use.
type Tokenizer interface {
	Cut(text string) []string
}

// snapshot is one immutable generation of everything derived from the rule
// file. Correctors swap snapshots atomically on reload.
type snapshot struct {
	set       *rules.Set
	matcher   *match.Engine
	tokenizer Tokenizer
	report    rules.Report

	// scanner finds aliases and targets; patterns[i] is the text of pattern
	// i. scanner is unusable when patterns is empty.
	scanner  ahocorasick.AhoCorasick
	patterns []string

	// contextScanner finds every occurrence of a rule context word,
	// contextWords[i] being pattern i. Unusable when contextWords is empty.
	contextScanner ahocorasick.AhoCorasick
	contextWords   []string

	// targetContext lists the context words contained in each target, so a
	// replacement can extend the context of the rest of the unit.
	targetContext map[string][]string
}

func newSnapshot(set *rules.Set, matcher *match.Engine, tok Tokenizer, rep rules.Report) *snapshot {
	s := &snapshot{
		set:       set,
		matcher:   matcher,
		tokenizer: tok,
		report:    rep,
	}
	s.patterns = append(set.Targets(), set.Aliases()...)
	if len(s.patterns) > 0 {
		s.scanner = ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			MatchKind: ahocorasick.LeftMostLongestMatch,
		}).Build(s.patterns)
	}

	s.contextWords = set.ContextWords()
	if len(s.contextWords) > 0 {
		s.contextScanner = ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			MatchKind: ahocorasick.StandardMatch,
		}).Build(s.contextWords)
		s.targetContext = make(map[string][]string)
		for _, t := range set.Targets() {
			for _, w := range s.contextWords {
				if strings.Contains(t, w) {
					s.targetContext[t] = append(s.targetContext[t], w)
				}
			}
		}
	}
	return s
}

// unitContext is the set of context words around the unit being corrected:
// those in the original unit and its extra context, plus those in targets
// written so far.
type unitContext map[string]struct{}

// contextOf scans text once for the rule context words it contains.
func (s *snapshot) contextOf(text string) unitContext {
	c := make(unitContext)
	if len(s.contextWords) == 0 {
		return c
	}
	it := s.contextScanner.IterOverlapping(text)
	for m := it.Next(); m != nil; m = it.Next() {
		c[s.contextWords[m.Pattern()]] = struct{}{}
	}
	return c
}

func (c unitContext) has(word string) bool {
	_, ok := c[word]
	return ok
}

// wrote records the context words target brings into the unit.
func (s *snapshot) wrote(c unitContext, target string) {
	for _, w := range s.targetContext[target] {
		c[w] = struct{}{}
	}
}

// span is a byte range of the unit claimed by the full-text scan.
type span struct {
	start, end int

	// replacement is empty for protected spans, which are copied verbatim.
	replacement string
	correction  Correction
}

// correct runs the three passes over text. extra is additional context the
// gates of context-bound rules may be satisfied by.
func (s *snapshot) correct(text, extra string) Result {
	res := Result{Original: text, Corrected: text}
	if text == "" || s.set.Len() == 0 {
		return res
	}

	if target, ok := s.set.AliasTarget(text); ok {
		res.Corrected = target
		res.Corrections = []Correction{{Original: text, Corrected: target, Similarity: 1, Method: match.MethodAlias}}
		return res
	}

	gate := text
	if extra != "" {
		gate = text + "\n" + extra
	}
	around := s.contextOf(gate)

	var out strings.Builder
	out.Grow(len(text))
	cursor := 0
	for _, sp := range s.scan(text, around) {
		s.correctSpan(&out, &res, around, text[cursor:sp.start])
		if sp.replacement == "" {
			out.WriteString(text[sp.start:sp.end])
		} else {
			out.WriteString(sp.replacement)
			res.Corrections = append(res.Corrections, sp.correction)
			s.wrote(around, sp.replacement)
		}
		cursor = sp.end
	}
	s.correctSpan(&out, &res, around, text[cursor:])

	res.Corrected = out.String()
	return res
}

// scan returns the non-overlapping alias and target occurrences in text in
// order. Alias occurrences whose rule gate fails against around are returned
// as protected spans, so the token pass does not revisit them.
func (s *snapshot) scan(text string, around unitContext) []span {
	if len(s.patterns) == 0 {
		return nil
	}
	found := s.scanner.FindAll(text)
	spans := make([]span, 0, len(found))
	for _, m := range found {
		sp := span{start: m.Start(), end: m.End()}
		word := s.patterns[m.Pattern()]
		if target, ok := s.set.AliasTarget(word); ok {
			if r, _ := s.set.Rule(target); r.ContextSatisfiedBy(around.has) {
				sp.replacement = target
				sp.correction = Correction{Original: word, Corrected: target, Similarity: 1, Method: match.MethodAlias}
			}
		}
		spans = append(spans, sp)
	}
	return spans
}

// correctSpan writes seg to out, segmenting it and replacing the tokens the
// matcher resolves. Context gates are answered from around, which grows with
// every replacement.
func (s *snapshot) correctSpan(out *strings.Builder, res *Result, around unitContext, seg string) {
	if seg == "" {
		return
	}
	if s.tokenizer == nil {
		out.WriteString(seg)
		return
	}

	pos := 0
	for _, tok := range s.tokenizer.Cut(seg) {
		if tok == "" {
			continue
		}
		i := strings.Index(seg[pos:], tok)
		if i < 0 {
			continue
		}
		out.WriteString(seg[pos : pos+i])
		pos += i + len(tok)

		if utf8.RuneCountInString(tok) < 2 {
			out.WriteString(tok)
			continue
		}
		m, ok := s.matcher.FindMatchFunc(tok, around.has)
		if !ok {
			out.WriteString(tok)
			continue
		}
		out.WriteString(m.Target)
		s.wrote(around, m.Target)
		res.Corrections = append(res.Corrections, Correction{
			Original:   tok,
			Corrected:  m.Target,
			Similarity: m.Similarity,
			Method:     m.Method,
		})
	}
	out.WriteString(seg[pos:])
}
