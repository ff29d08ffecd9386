// Package rulefile manages edits to the hotword rule file: optimistic
// concurrency against the last read, validation, timestamped backups and a
// canonical ordering of the rewritten file.
package rulefile

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxfix/internal/atomicfile"
	"github.com/MrWong99/voxfix/internal/transcript/phonetic"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
)

const (
	backupPrefix = "keywords_"
	backupSuffix = ".backup"

	// backupLayout sorts lexicographically in time order.
	backupLayout = "20060102_150405.000"

	// mtimeTolerance absorbs timestamp rounding by clients.
	mtimeTolerance = time.Millisecond
)

// ErrConflict is returned by [Manager.Update] when the rule file changed
// after the caller read it.
var ErrConflict = errors.New("rulefile: file was modified since it was read")

// ValidationError is returned by [Manager.Update] when the new content has
// lines that would be rejected.
type ValidationError struct {
	Diagnostics []rules.Diagnostic
}

func (e *ValidationError) Error() string {
	n := 0
	for _, d := range e.Diagnostics {
		if d.Severity == rules.SeverityError {
			n++
		}
	}
	return fmt.Sprintf("rulefile: content has %d invalid line(s)", n)
}

// Content is a snapshot of the rule file.
type Content struct {
	Text    string
	ModTime time.Time
}

// Option configures a [Manager].
type Option func(*Manager)

// WithBackupKeep sets how many backups are retained. Default: 10.
func WithBackupKeep(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.keep = n
		}
	}
}

// WithIndex shares a phonetic index for validation.
func WithIndex(idx *phonetic.Index) Option {
	return func(m *Manager) {
		if idx != nil {
			m.index = idx
		}
	}
}

// WithDefaultThreshold sets the threshold validation assumes for rules
// without one. Default: [rules.DefaultThreshold].
func WithDefaultThreshold(v float64) Option {
	return func(m *Manager) {
		if v > 0 && v <= 1 {
			m.defaultThreshold = v
		}
	}
}

// WithClock replaces the clock used to name backups.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager reads and rewrites one rule file. Updates through the same
// Manager are serialized; writers in other processes are detected by the
// modification time check.
type Manager struct {
	path             string
	backupDir        string
	keep             int
	index            *phonetic.Index
	defaultThreshold float64
	now              func() time.Time

	mu sync.Mutex
}

// NewManager returns a [Manager] for the rule file at path, keeping backups
// in backupDir. An empty backupDir disables backups.
func NewManager(path, backupDir string, opts ...Option) *Manager {
	m := &Manager{
		path:             path,
		backupDir:        backupDir,
		keep:             10,
		defaultThreshold: rules.DefaultThreshold,
		now:              time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.index == nil {
		m.index = phonetic.NewIndex()
	}
	return m
}

// Path returns the managed rule file path.
func (m *Manager) Path() string { return m.path }

// Read returns the current content and modification time.
func (m *Manager) Read() (Content, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return Content{}, fmt.Errorf("rulefile: read %q: %w", m.path, err)
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return Content{}, fmt.Errorf("rulefile: stat %q: %w", m.path, err)
	}
	return Content{Text: string(data), ModTime: info.ModTime()}, nil
}

// Validate lints text as a rule file, including merge and alias collision
// warnings.
func (m *Manager) Validate(text string) []rules.Diagnostic {
	parsed := rules.Parse(strings.NewReader(text))
	_, buildDiags := rules.Build(parsed.Entries, m.index, m.defaultThreshold)
	diags := append(parsed.Diagnostics, buildDiags...)
	sort.SliceStable(diags, func(i, j int) bool { return diags[i].Line < diags[j].Line })
	return diags
}

// Update replaces the rule file with text. lastModified is the ModTime of
// the [Content] the edit was based on; a zero value skips the conflict
// check. Content with error diagnostics is rejected with a
// [*ValidationError]. The previous file is backed up before it is replaced,
// and the new file is written in canonical order: comments first, then rule
// lines ordered by [SortKey] of their target.
func (m *Manager) Update(text string, lastModified time.Time) (Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !lastModified.IsZero() {
		info, err := os.Stat(m.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Content{}, fmt.Errorf("rulefile: stat %q: %w", m.path, err)
		}
		if err != nil || absDuration(info.ModTime().Sub(lastModified)) > mtimeTolerance {
			return Content{}, ErrConflict
		}
	}

	if diags := m.Validate(text); rules.HasErrors(diags) {
		return Content{}, &ValidationError{Diagnostics: diags}
	}

	if err := m.backup(); err != nil {
		return Content{}, err
	}

	if err := atomicfile.Write(m.path, []byte(canonical(text)), 0o644); err != nil {
		return Content{}, fmt.Errorf("rulefile: write: %w", err)
	}
	slog.Info("rulefile: rule file updated", "path", m.path)
	return m.Read()
}

// Backups lists the retained backup file names, newest first.
func (m *Manager) Backups() ([]string, error) {
	if m.backupDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("rulefile: list backups: %w", err)
	}
	var names []string
	for _, e := range entries {
		if n := e.Name(); !e.IsDir() && strings.HasPrefix(n, backupPrefix) && strings.HasSuffix(n, backupSuffix) {
			names = append(names, n)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (m *Manager) backup() error {
	if m.backupDir == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("rulefile: no rule file to back up", "path", m.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("rulefile: read for backup: %w", err)
	}

	name := backupPrefix + m.now().Format(backupLayout) + backupSuffix
	if err := atomicfile.Write(filepath.Join(m.backupDir, name), data, 0o644); err != nil {
		return fmt.Errorf("rulefile: backup: %w", err)
	}
	slog.Info("rulefile: backup created", "file", name)

	m.pruneBackups()
	return nil
}

// pruneBackups removes all but the newest backups. Failures are logged
// only; a stale backup does not block an update.
func (m *Manager) pruneBackups() {
	names, err := m.Backups()
	if err != nil {
		slog.Warn("rulefile: cannot list backups", "err", err)
		return
	}
	if len(names) <= m.keep {
		return
	}
	for _, n := range names[m.keep:] {
		if err := os.Remove(filepath.Join(m.backupDir, n)); err != nil {
			slog.Warn("rulefile: cannot remove old backup", "file", n, "err", err)
			continue
		}
		slog.Debug("rulefile: removed old backup", "file", n)
	}
}

// canonical rewrites text with comments first, a blank line, then the rule
// lines ordered by the sort key of their target. Lines of the same target
// keep their relative order. Full-width punctuation is normalized.
func canonical(text string) string {
	type ruleLine struct {
		key  string
		text string
	}
	var comments []string
	var lines []ruleLine

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			comments = append(comments, line)
			continue
		}
		line = normalize(line)
		target := strings.Fields(line)[0]
		if e, _, ok := rules.ParseLine(line, lineNo); ok {
			target = e.Target
		}
		lines = append(lines, ruleLine{key: SortKey(target), text: line})
	}
	slices.SortStableFunc(lines, func(a, b ruleLine) int { return strings.Compare(a.key, b.key) })

	var b strings.Builder
	for _, c := range comments {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	if len(comments) > 0 && len(lines) > 0 {
		b.WriteByte('\n')
	}
	for _, l := range lines {
		b.WriteString(l.text)
		b.WriteByte('\n')
	}
	return b.String()
}

var fullWidth = strings.NewReplacer("，", ",", "（", "(", "）", ")")

func normalize(line string) string { return fullWidth.Replace(line) }

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
