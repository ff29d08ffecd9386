// Package segment splits Chinese text into words with a dictionary-driven
// segmenter that knows every hotword term.
package segment

import (
	"fmt"

	"github.com/go-ego/gse"
)

// termFrequency is the frequency hotword terms are registered with. It is
// well above ordinary dictionary words so that a term is kept whole rather
// than split into common shorter words.
const termFrequency = 100000

// Option configures a [Segmenter].
type Option func(*options)

type options struct {
	baseDictionary string
	hmm            bool
}

// WithBaseDictionary loads the base vocabulary from a jieba-format
// dictionary file instead of the embedded Chinese dictionary.
func WithBaseDictionary(path string) Option {
	return func(o *options) { o.baseDictionary = path }
}

// WithHMM toggles HMM discovery of words missing from the dictionary.
// Enabled by default.
func WithHMM(enabled bool) Option {
	return func(o *options) { o.hmm = enabled }
}

// Segmenter is a word segmenter seeded with hotword terms. It is immutable
// after construction and safe for concurrent use.
type Segmenter struct {
	seg *gse.Segmenter
	hmm bool
}

// New builds a [Segmenter] from the base dictionary plus terms.
func New(terms []string, opts ...Option) (*Segmenter, error) {
	o := options{hmm: true}
	for _, opt := range opts {
		opt(&o)
	}

	seg := &gse.Segmenter{SkipLog: true}
	var err error
	if o.baseDictionary != "" {
		err = seg.LoadDict(o.baseDictionary)
	} else {
		err = seg.LoadDictEmbed()
	}
	if err != nil {
		return nil, fmt.Errorf("segment: load base dictionary: %w", err)
	}

	for _, t := range terms {
		if err := seg.AddToken(t, termFrequency, "n"); err != nil {
			return nil, fmt.Errorf("segment: add term %q: %w", t, err)
		}
	}
	seg.CalcToken()

	return &Segmenter{seg: seg, hmm: o.hmm}, nil
}

// Cut splits text into tokens. Punctuation and characters outside the
// dictionary come back as tokens of their own.
func (s *Segmenter) Cut(text string) []string {
	if text == "" {
		return nil
	}
	return s.seg.Cut(text, s.hmm)
}
