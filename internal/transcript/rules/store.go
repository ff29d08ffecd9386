package rules

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/MrWong99/voxfix/internal/transcript/phonetic"
)

// Source tells where a loaded [Set] came from.
type Source string

const (
	// SourceRules means the rule file was parsed and the cache rewritten.
	SourceRules Source = "rules"

	// SourceCache means the cache matched the rule file and was used as is.
	SourceCache Source = "cache"

	// SourceStaleCache means the rule file was unreadable and the last
	// cached rule set was used instead.
	SourceStaleCache Source = "stale-cache"

	// SourceEmpty means neither the rule file nor a cache was usable.
	SourceEmpty Source = "empty"
)

// Report describes the outcome of [Store.Load].
type Report struct {
	Source Source

	// SourceHash is the hex SHA-256 of the rule file content, empty when
	// the file could not be read.
	SourceHash string

	// Diagnostics lists per-line problems. Empty on a cache hit.
	Diagnostics []Diagnostic

	// Err is the error that forced a fallback source, if any.
	Err error
}

// Option configures a [Store].
type Option func(*Store)

// WithDefaultThreshold overrides [DefaultThreshold] for rules that do not
// set their own.
func WithDefaultThreshold(v float64) Option {
	return func(s *Store) {
		if v > 0 && v <= 1 {
			s.defaultThreshold = v
		}
	}
}

// WithIndex shares a phonetic index with the store. By default the store
// creates its own.
func WithIndex(idx *phonetic.Index) Option {
	return func(s *Store) {
		if idx != nil {
			s.index = idx
		}
	}
}

// Store loads rule sets from a rule file, backed by a derived cache file.
type Store struct {
	rulePath         string
	cachePath        string
	defaultThreshold float64
	index            *phonetic.Index
}

// NewStore returns a store reading rulePath and caching derived rules in
// cachePath. An empty cachePath disables the cache.
func NewStore(rulePath, cachePath string, opts ...Option) *Store {
	s := &Store{
		rulePath:         rulePath,
		cachePath:        cachePath,
		defaultThreshold: DefaultThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	if s.index == nil {
		s.index = phonetic.NewIndex()
	}
	return s
}

// RulePath returns the rule file path.
func (s *Store) RulePath() string { return s.rulePath }

// Index returns the phonetic index the store computes pinyin with.
func (s *Store) Index() *phonetic.Index { return s.index }

// Load returns the current rule set. It never fails: an unreadable rule file
// falls back to the last cache, then to an empty set; broken lines are
// reported in [Report.Diagnostics] and skipped.
func (s *Store) Load(ctx context.Context) (*Set, Report) {
	data, err := os.ReadFile(s.rulePath)
	if err != nil {
		slog.WarnContext(ctx, "rules: cannot read rule file", "path", s.rulePath, "err", err)
		if c, cerr := s.readCache(ctx); cerr == nil {
			return c.set(s.index), Report{Source: SourceStaleCache, SourceHash: c.SourceSHA256, Err: err}
		}
		return EmptySet(), Report{Source: SourceEmpty, Err: err}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if c, cerr := s.readCache(ctx); cerr == nil && c.fresh(hash, s.defaultThreshold) {
		set := c.set(s.index)
		slog.DebugContext(ctx, "rules: loaded from cache", "path", s.cachePath, "rules", set.Len())
		return set, Report{Source: SourceCache, SourceHash: hash}
	}

	parsed := Parse(bytes.NewReader(data))
	set, buildDiags := Build(parsed.Entries, s.index, s.defaultThreshold)
	diags := append(parsed.Diagnostics, buildDiags...)
	logDiagnostics(ctx, s.rulePath, diags)

	if s.cachePath != "" {
		if err := writeDerivedConfig(s.cachePath, newDerivedConfig(set, hash, s.defaultThreshold)); err != nil {
			slog.WarnContext(ctx, "rules: cannot write derived cache", "path", s.cachePath, "err", err)
		}
	}

	slog.InfoContext(ctx, "rules: loaded rule file",
		"path", s.rulePath,
		"rules", set.Len(),
		"diagnostics", len(diags),
	)
	return set, Report{Source: SourceRules, SourceHash: hash, Diagnostics: diags}
}

func (s *Store) readCache(ctx context.Context) (*derivedConfig, error) {
	if s.cachePath == "" {
		return nil, fs.ErrNotExist
	}
	c, err := readDerivedConfig(s.cachePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.WarnContext(ctx, "rules: cannot read derived cache", "path", s.cachePath, "err", err)
	}
	return c, err
}

func logDiagnostics(ctx context.Context, path string, diags []Diagnostic) {
	for _, d := range diags {
		level := slog.LevelWarn
		if d.Severity == SeverityError {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "rules: "+d.Message,
			"path", path,
			"line", d.Line,
			"content", d.Content,
		)
	}
}
