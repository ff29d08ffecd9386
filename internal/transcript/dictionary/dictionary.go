// Package dictionary derives the tokenizer vocabulary from a rule set and
// caches it on disk next to the derived rule config.
//
// The cached file starts with a header line naming the SHA-256 of the rule
// file it was derived from, followed by one term per line:
//
//	# source 3f2a...
//	心智控制区
//	新知控制区
//	整场
package dictionary

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voxfix/internal/atomicfile"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
)

const headerPrefix = "# source "

// Terms returns every target, alias and context word of set, deduplicated
// and ordered by rune length descending, then lexicographically.
func Terms(set *rules.Set) []string {
	seen := make(map[string]struct{})
	add := func(words []string) {
		for _, w := range words {
			if w != "" {
				seen[w] = struct{}{}
			}
		}
	}
	add(set.Targets())
	add(set.Aliases())
	add(set.ContextWords())

	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b string) int {
		if c := cmp.Compare(utf8.RuneCountInString(b), utf8.RuneCountInString(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return out
}

// Builder maintains the cached dictionary file.
type Builder struct {
	path string
}

// NewBuilder returns a [Builder] caching terms in path. An empty path keeps
// the dictionary in memory only.
func NewBuilder(path string) *Builder {
	return &Builder{path: path}
}

// Path returns the dictionary file path.
func (b *Builder) Path() string { return b.path }

// Build returns the terms for set. When the cached file was derived from
// sourceHash it is read back; otherwise the terms are derived from set and
// the file rewritten. A write failure is returned together with the derived
// terms, which remain usable.
func (b *Builder) Build(ctx context.Context, set *rules.Set, sourceHash string) ([]string, error) {
	if b.path == "" || sourceHash == "" {
		return Terms(set), nil
	}

	if terms, err := b.read(sourceHash); err == nil {
		slog.DebugContext(ctx, "dictionary: loaded from cache", "path", b.path, "terms", len(terms))
		return terms, nil
	} else if !errors.Is(err, errStale) && !errors.Is(err, fs.ErrNotExist) {
		slog.WarnContext(ctx, "dictionary: cannot read cache", "path", b.path, "err", err)
	}

	terms := Terms(set)
	if err := atomicfile.Write(b.path, encode(sourceHash, terms), 0o644); err != nil {
		return terms, fmt.Errorf("dictionary: write %q: %w", b.path, err)
	}
	slog.InfoContext(ctx, "dictionary: rebuilt", "path", b.path, "terms", len(terms))
	return terms, nil
}

var errStale = errors.New("dictionary: cache derived from another rule file")

func (b *Builder) read(sourceHash string) ([]string, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, err
	}
	hash, terms, err := decode(data)
	if err != nil {
		return nil, err
	}
	if hash != sourceHash {
		return nil, errStale
	}
	return terms, nil
}

func encode(sourceHash string, terms []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(headerPrefix)
	buf.WriteString(sourceHash)
	buf.WriteByte('\n')
	for _, t := range terms {
		buf.WriteString(t)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func decode(data []byte) (hash string, terms []string, err error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() {
		return "", nil, fmt.Errorf("dictionary: empty file")
	}
	header := sc.Text()
	if !strings.HasPrefix(header, headerPrefix) {
		return "", nil, fmt.Errorf("dictionary: missing source header")
	}
	hash = strings.TrimSpace(strings.TrimPrefix(header, headerPrefix))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			terms = append(terms, line)
		}
	}
	if err := sc.Err(); err != nil {
		return "", nil, fmt.Errorf("dictionary: read: %w", err)
	}
	return hash, terms, nil
}
