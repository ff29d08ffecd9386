package rules

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxfix/internal/atomicfile"
	"github.com/MrWong99/voxfix/internal/transcript/phonetic"
)

// cacheVersion is bumped whenever the derived config layout, the pinyin
// derivation or the merge rules change, so old caches are rebuilt instead
// of misread.
const cacheVersion = 2

// derivedConfig is the on-disk cache of a built [Set]. It is keyed by the
// SHA-256 of the rule file content rather than by modification time, so
// copies that preserve timestamps and clock skew cannot serve stale rules.
type derivedConfig struct {
	Version          int           `yaml:"version"`
	SourceSHA256     string        `yaml:"source_sha256"`
	DefaultThreshold float64       `yaml:"default_threshold"`
	GeneratedAt      time.Time     `yaml:"generated_at"`
	Rules            []derivedRule `yaml:"rules"`
}

type derivedRule struct {
	Target       string   `yaml:"target"`
	Pinyin       []string `yaml:"pinyin,flow"`
	Threshold    float64  `yaml:"threshold"`
	ContextWords []string `yaml:"context_words,flow,omitempty"`
	AliasWords   []string `yaml:"alias_words,flow,omitempty"`
	Lines        []int    `yaml:"lines,flow,omitempty"`
}

// fresh reports whether the cache was derived from the given rule file hash
// with the given default threshold.
func (c *derivedConfig) fresh(hash string, defaultThreshold float64) bool {
	return c.Version == cacheVersion &&
		c.SourceSHA256 == hash &&
		c.DefaultThreshold == defaultThreshold
}

func newDerivedConfig(set *Set, hash string, defaultThreshold float64) *derivedConfig {
	c := &derivedConfig{
		Version:          cacheVersion,
		SourceSHA256:     hash,
		DefaultThreshold: defaultThreshold,
		GeneratedAt:      time.Now().UTC().Truncate(time.Second),
		Rules:            make([]derivedRule, 0, set.Len()),
	}
	for _, r := range set.Rules() {
		c.Rules = append(c.Rules, derivedRule{
			Target:       r.Target,
			Pinyin:       r.Pinyin,
			Threshold:    r.Threshold,
			ContextWords: r.ContextWords,
			AliasWords:   r.AliasWords,
			Lines:        r.Lines,
		})
	}
	return c
}

// set rebuilds a [Set] from the cache and primes idx with the cached pinyin.
func (c *derivedConfig) set(idx *phonetic.Index) *Set {
	rules := make([]*Rule, 0, len(c.Rules))
	for _, dr := range c.Rules {
		r := &Rule{
			Target:       dr.Target,
			Pinyin:       dr.Pinyin,
			Threshold:    dr.Threshold,
			ContextWords: dr.ContextWords,
			AliasWords:   dr.AliasWords,
			Lines:        dr.Lines,
		}
		if len(r.Pinyin) == len([]rune(r.Target)) {
			idx.Prime(r.Target, r.Pinyin)
		} else {
			r.Pinyin = idx.Syllables(r.Target)
		}
		rules = append(rules, r)
	}
	s, _ := newSet(rules)
	return s
}

func readDerivedConfig(path string) (*derivedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &derivedConfig{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("rules: decode cache %q: %w", path, err)
	}
	return c, nil
}

func writeDerivedConfig(path string, c *derivedConfig) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("rules: encode cache: %w", err)
	}
	return atomicfile.Write(path, data, 0o644)
}
