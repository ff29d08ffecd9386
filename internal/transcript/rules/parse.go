package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// Entry is one parsed rule file line, before duplicate targets are merged.
type Entry struct {
	Target string

	// Threshold is only meaningful when HasThreshold is true.
	Threshold    float64
	HasThreshold bool

	Aliases []string
	Context []string

	Line int
}

// ParseResult is the outcome of [Parse].
type ParseResult struct {
	Entries     []Entry
	Diagnostics []Diagnostic
}

// fullWidth maps the full-width punctuation editors commonly type into its
// ASCII equivalent before a line is split.
var fullWidth = strings.NewReplacer("，", ",", "（", "(", "）", ")")

var (
	errUnclosedContext  = errors.New("context clause has mismatched parentheses")
	errMisorderedParens = errors.New("context clause parentheses are in the wrong order")
	errRepeatedContext  = errors.New("line has more than one context clause")
	errContextNotSuffix = errors.New("context clause must be the last element of the line")
)

// Parse reads a rule file. Invalid lines produce diagnostics and are skipped;
// Parse itself only reports problems through [ParseResult.Diagnostics].
func Parse(r io.Reader) *ParseResult {
	res := &ParseResult{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		e, diags, ok := ParseLine(sc.Text(), lineNo)
		res.Diagnostics = append(res.Diagnostics, diags...)
		if ok {
			res.Entries = append(res.Entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Line:     lineNo + 1,
			Severity: SeverityError,
			Message:  fmt.Sprintf("read aborted: %v", err),
		})
	}
	return res
}

// ParseLine parses a single rule file line. ok is false for blank lines,
// comments and lines that were rejected; rejected lines carry at least one
// [SeverityError] diagnostic.
func ParseLine(raw string, lineNo int) (e Entry, diags []Diagnostic, ok bool) {
	text := strings.TrimSpace(raw)
	if text == "" || strings.HasPrefix(text, "#") {
		return Entry{}, nil, false
	}

	warn := func(msg string) {
		diags = append(diags, Diagnostic{Line: lineNo, Severity: SeverityWarning, Message: msg, Content: text})
	}
	reject := func(msg string) (Entry, []Diagnostic, bool) {
		diags = append(diags, Diagnostic{Line: lineNo, Severity: SeverityError, Message: msg, Content: text})
		return Entry{}, diags, false
	}

	if strings.Contains(text, "  ") {
		warn("line contains redundant spaces")
	}

	body, context, err := splitContext(fullWidth.Replace(text))
	if err != nil {
		return reject(err.Error())
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return reject("line has no target")
	}

	target, removed := SanitizeTarget(fields[0])
	if removed != "" {
		warn(fmt.Sprintf("removed illegal characters %q from target", removed))
	}
	if err := ValidateTarget(target); err != nil {
		return reject(err.Error())
	}

	e = Entry{Target: target, Context: context, Line: lineNo}

	rest := fields[1:]
	if len(rest) > 0 {
		if v, isThreshold := parseThreshold(rest[0]); isThreshold {
			if v < MinThreshold || v > 1 {
				return reject(fmt.Sprintf("threshold %s is outside [%g, 1]", rest[0], MinThreshold))
			}
			e.Threshold, e.HasThreshold = v, true
			rest = rest[1:]
		}
	}
	e.Aliases = splitAliases(strings.Join(rest, " "))

	return e, diags, true
}

// parseThreshold is the numeric branch of the second-field parse: a token
// made only of digits and dots that parses as a float is a threshold;
// anything else belongs to the alias list.
func parseThreshold(tok string) (float64, bool) {
	if tok == "" {
		return 0, false
	}
	for _, r := range tok {
		if r != '.' && (r < '0' || r > '9') {
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// splitContext separates a trailing "(w1,w2)" clause from the rest of line.
func splitContext(line string) (body string, context []string, err error) {
	open := strings.IndexByte(line, '(')
	closing := strings.IndexByte(line, ')')
	switch {
	case open < 0 && closing < 0:
		return line, nil, nil
	case open < 0 || closing < 0:
		return "", nil, errUnclosedContext
	case closing < open:
		return "", nil, errMisorderedParens
	case strings.Count(line, "(") > 1 || strings.Count(line, ")") > 1:
		return "", nil, errRepeatedContext
	case strings.TrimSpace(line[closing+1:]) != "":
		return "", nil, errContextNotSuffix
	}

	seen := make(map[string]struct{})
	for _, w := range strings.Split(line[open+1:closing], ",") {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		context = append(context, w)
	}
	return strings.TrimSpace(line[:open]), context, nil
}

// splitAliases splits a comma-separated alias list. Whitespace inside an
// alias is removed and purely alphabetic ASCII aliases are dropped: English
// acronyms are not homophone victims.
func splitAliases(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, a := range strings.Split(s, ",") {
		a = strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, a)
		if a == "" || isPureASCIIAlpha(a) {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
