// Package phonetic converts words to tone-marked pinyin syllables and scores
// how alike two syllable sequences sound.
//
// Every rune maps to exactly one syllable: Han characters become their
// Tone3 pinyin reading (e.g. "zhong1"), every other rune becomes its own
// lower-cased self. Sequences of different length are never comparable, so a
// word can only ever resemble words with the same number of characters.
package phonetic

import (
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
	"github.com/mozillazg/go-pinyin"
)

// Index memoizes word → syllable conversions. The zero value is not usable;
// construct with [NewIndex]. All methods are safe for concurrent use.
type Index struct {
	args pinyin.Args

	mu    sync.RWMutex
	cache map[string][]string
}

// NewIndex returns an empty [Index].
func NewIndex() *Index {
	args := pinyin.NewArgs()
	args.Style = pinyin.Tone3
	args.Fallback = func(r rune, _ pinyin.Args) []string {
		return []string{string(unicode.ToLower(r))}
	}
	return &Index{
		args:  args,
		cache: make(map[string][]string),
	}
}

// Syllables returns one tone-marked syllable per rune of word. The result is
// shared with the cache and must not be modified.
func (x *Index) Syllables(word string) []string {
	x.mu.RLock()
	syl, ok := x.cache[word]
	x.mu.RUnlock()
	if ok {
		return syl
	}

	syl = x.convert(word)

	x.mu.Lock()
	x.cache[word] = syl
	x.mu.Unlock()
	return syl
}

// Prime stores a precomputed syllable sequence for word, e.g. one loaded from
// the derived rule cache. Sequences whose length disagrees with the rune
// count of word are ignored.
func (x *Index) Prime(word string, syllables []string) {
	if len(syllables) != len([]rune(word)) {
		return
	}
	cp := make([]string, len(syllables))
	copy(cp, syllables)

	x.mu.Lock()
	x.cache[word] = cp
	x.mu.Unlock()
}

// Len reports the number of cached words.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.cache)
}

func (x *Index) convert(word string) []string {
	out := make([]string, 0, len(word))
	for _, r := range word {
		readings := pinyin.SinglePinyin(r, x.args)
		if len(readings) == 0 || readings[0] == "" {
			out = append(out, string(unicode.ToLower(r)))
			continue
		}
		out = append(out, readings[0])
	}
	return out
}

// Similarity scores two syllable sequences in [0, 1]. It is the mean over
// aligned pairs of 1 − levenshtein(a_i, b_i) / max(len(a_i), len(b_i)).
// Sequences of different length, and empty sequences, score 0.
func Similarity(a, b []string) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var total float64
	for i := range a {
		total += syllableSimilarity(a[i], b[i])
	}
	return total / float64(len(a))
}

func syllableSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1
	}
	d := matchr.Levenshtein(a, b)
	return 1 - float64(d)/float64(maxLen)
}

// Join renders a syllable sequence for logs.
func Join(syllables []string) string {
	return strings.Join(syllables, " ")
}
