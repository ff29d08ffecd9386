package transcript

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/transcript/dictionary"
	"github.com/MrWong99/voxfix/internal/transcript/match"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
	"github.com/MrWong99/voxfix/internal/transcript/segment"
	"github.com/MrWong99/voxfix/pkg/asr"
)

// TokenizerFactory builds a [Tokenizer] that knows terms.
type TokenizerFactory func(terms []string) (Tokenizer, error)

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithMetrics records correction and reload metrics to m. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Corrector) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithDictionary caches the tokenizer dictionary through b. By default the
// dictionary is derived in memory on every reload.
func WithDictionary(b *dictionary.Builder) Option {
	return func(c *Corrector) {
		if b != nil {
			c.dict = b
		}
	}
}

// WithTokenizerFactory replaces the default gse-backed segmenter.
func WithTokenizerFactory(f TokenizerFactory) Option {
	return func(c *Corrector) {
		if f != nil {
			c.newTokenizer = f
		}
	}
}

// WithSegmentOptions passes options to the default segmenter. Ignored when
// [WithTokenizerFactory] is used.
func WithSegmentOptions(opts ...segment.Option) Option {
	return func(c *Corrector) {
		c.segmentOpts = append(c.segmentOpts, opts...)
	}
}

// WithSeparator sets the separator used to join corrected sentences into the
// top-level text of a recognition result that has none. Default: "".
func WithSeparator(sep string) Option {
	return func(c *Corrector) {
		c.separator = sep
	}
}

// Status describes the active rule snapshot.
type Status struct {
	// Loaded is false until the first reload completed.
	Loaded bool

	Rules  int
	Source rules.Source
	Hash   string

	// Diagnostics of the load that produced the snapshot.
	Diagnostics []rules.Diagnostic

	// Degraded is true when the snapshot has no tokenizer and only alias
	// replacements are performed.
	Degraded bool
}

// Corrector applies hotword corrections. It owns the rule snapshot built
// from a [rules.Store] and swaps it atomically on [Corrector.Reload];
// corrections never block on a reload.
//
// Corrector is safe for concurrent use.
type Corrector struct {
	store        *rules.Store
	dict         *dictionary.Builder
	newTokenizer TokenizerFactory
	segmentOpts  []segment.Option
	metrics      *observe.Metrics
	separator    string

	current atomic.Pointer[snapshot]
	reloads singleflight.Group
}

// New constructs a [Corrector] over store. The rule snapshot is built on the
// first correction or on an explicit [Corrector.Reload].
func New(store *rules.Store, opts ...Option) *Corrector {
	c := &Corrector{
		store: store,
		dict:  dictionary.NewBuilder(""),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.newTokenizer == nil {
		segOpts := c.segmentOpts
		c.newTokenizer = func(terms []string) (Tokenizer, error) {
			return segment.New(terms, segOpts...)
		}
	}
	return c
}

// Reload rebuilds the rule snapshot from the store and installs it.
// Concurrent calls share a single rebuild. A rule file that cannot be read
// is not an error: the store falls back to its cache or an empty set, as
// reported in the returned [Status]. An error is returned only when the
// tokenizer cannot be built; the previous snapshot then stays active, or a
// degraded alias-only snapshot is installed when there is none.
func (c *Corrector) Reload(ctx context.Context) (Status, error) {
	v, err, _ := c.reloads.Do("reload", func() (any, error) {
		return c.reload(ctx)
	})
	st, _ := v.(Status)
	return st, err
}

func (c *Corrector) reload(ctx context.Context) (Status, error) {
	ctx, span := observe.StartSpan(ctx, "transcript.reload")
	defer span.End()
	start := time.Now()
	log := observe.Logger(ctx)

	set, rep := c.store.Load(ctx)
	matcher := match.New(set, c.store.Index())

	terms, err := c.dict.Build(ctx, set, rep.SourceHash)
	if err != nil {
		log.Warn("transcript: dictionary cache not written", "err", err)
	}

	tok, err := c.newTokenizer(terms)
	c.metrics.ReloadDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		err = fmt.Errorf("transcript: build tokenizer: %w", err)
		observe.SpanError(span, err)
		c.metrics.RecordReload(ctx, "error", string(rep.Source), 0)
		if c.current.Load() == nil {
			c.current.Store(newSnapshot(set, matcher, nil, rep))
			log.Error("transcript: tokenizer unavailable, only aliases are corrected", "err", err)
		} else {
			log.Error("transcript: reload failed, keeping previous rules", "err", err)
		}
		return c.Status(), err
	}

	snap := newSnapshot(set, matcher, tok, rep)
	c.current.Store(snap)
	c.metrics.RecordReload(ctx, "ok", string(rep.Source), set.Len())
	log.Info("transcript: rules loaded",
		"rules", set.Len(),
		"source", rep.Source,
		"terms", len(terms),
		"duration", time.Since(start),
	)
	return snap.status(), nil
}

// Status reports the active snapshot without triggering a load.
func (c *Corrector) Status() Status {
	s := c.current.Load()
	if s == nil {
		return Status{}
	}
	return s.status()
}

func (s *snapshot) status() Status {
	return Status{
		Loaded:      true,
		Rules:       s.set.Len(),
		Source:      s.report.Source,
		Hash:        s.report.SourceHash,
		Diagnostics: s.report.Diagnostics,
		Degraded:    s.tokenizer == nil,
	}
}

// snapshot returns the active snapshot, building it on first use.
func (c *Corrector) snapshot(ctx context.Context) *snapshot {
	if s := c.current.Load(); s != nil {
		return s
	}
	_, _ = c.Reload(ctx)
	if s := c.current.Load(); s != nil {
		return s
	}
	return newSnapshot(rules.EmptySet(), match.New(nil, nil), nil, rules.Report{Source: rules.SourceEmpty})
}

// Correct corrects one text unit. extra is additional text that may satisfy
// the context words of rules; the unit itself always counts. Correct never
// fails: if correcting the unit panics, the failure is logged and the
// unit is returned unchanged.
func (c *Corrector) Correct(ctx context.Context, text, extra string) Result {
	ctx, span := observe.StartSpan(ctx, "transcript.correct")
	defer span.End()
	return c.correctUnit(ctx, c.snapshot(ctx), text, extra)
}

// CorrectText is [Corrector.Correct] without extra context, returning only
// the corrected text.
func (c *Corrector) CorrectText(ctx context.Context, text string) string {
	return c.Correct(ctx, text, "").Corrected
}

func (c *Corrector) correctUnit(ctx context.Context, s *snapshot, text, extra string) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("transcript: correction failed, returning input unchanged",
				"panic", r,
				"text", text,
			)
			c.metrics.RecordCorrectionFailure(ctx)
			res = Result{Original: text, Corrected: text}
		}
		c.metrics.CorrectionDuration.Record(ctx, time.Since(start).Seconds())
	}()

	res = s.correct(text, extra)
	for _, corr := range res.Corrections {
		c.metrics.RecordCorrection(ctx, string(corr.Method))
		observe.Logger(ctx).Debug("transcript: corrected",
			"original", corr.Original,
			"corrected", corr.Corrected,
			"similarity", corr.Similarity,
			"method", corr.Method,
		)
	}
	return res
}

// CorrectRecognition corrects a recognition result in place: every
// sentence, then the top-level text. When the top-level text was the
// sentences joined by a common separator, it is rebuilt from the corrected
// sentences with that separator so both stay consistent; otherwise it is
// corrected on its own. A result with sentences but no text gets the
// sentences joined with the configured separator.
//
// The returned corrections are those of the sentences followed by those of
// an independently corrected top-level text.
func (c *Corrector) CorrectRecognition(ctx context.Context, r *asr.Result) []Correction {
	if r == nil {
		return nil
	}
	ctx, span := observe.StartSpan(ctx, "transcript.correct_recognition")
	defer span.End()

	s := c.snapshot(ctx)

	originals := make([]string, len(r.Sentences))
	for i := range r.Sentences {
		originals[i] = r.Sentences[i].Text
	}
	sep, joined := detectSeparator(r.Text, originals)

	var corrections []Correction
	for i := range r.Sentences {
		res := c.correctUnit(ctx, s, r.Sentences[i].Text, "")
		r.Sentences[i].Text = res.Corrected
		corrections = append(corrections, res.Corrections...)
	}

	switch {
	case len(r.Sentences) > 0 && r.Text == "":
		r.Text = joinSentences(r.Sentences, c.separator)
	case joined:
		r.Text = joinSentences(r.Sentences, sep)
	default:
		res := c.correctUnit(ctx, s, r.Text, "")
		r.Text = res.Corrected
		corrections = append(corrections, res.Corrections...)
	}
	return corrections
}

// detectSeparator reports whether text is parts joined by one separator and
// returns that separator.
func detectSeparator(text string, parts []string) (string, bool) {
	switch len(parts) {
	case 0:
		return "", false
	case 1:
		return "", text == parts[0]
	}
	if !strings.HasPrefix(text, parts[0]) {
		return "", false
	}
	rest := text[len(parts[0]):]
	i := strings.Index(rest, parts[1])
	if i < 0 {
		return "", false
	}
	sep := rest[:i]
	return sep, strings.Join(parts, sep) == text
}

func joinSentences(sentences []asr.Sentence, sep string) string {
	parts := make([]string, len(sentences))
	for i := range sentences {
		parts[i] = sentences[i].Text
	}
	return strings.Join(parts, sep)
}
