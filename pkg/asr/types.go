// Package asr defines the recognition result exchanged with the speech
// recognizer. Field names follow the recognizer's JSON output so results can
// be decoded, corrected and re-encoded without a translation layer.
//
// Only the text members are written from the struct when a decoded result is
// encoded again. Every other member, including ones this package does not
// know about such as "duration", is written back exactly as received.
package asr

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Result is one recognition result: a top-level transcript plus the timed
// sentence segments it was assembled from.
type Result struct {
	// Key is the recognizer's opaque request key.
	Key string `json:"key,omitempty"`

	// Text is the full transcript.
	Text string `json:"text"`

	// Sentences holds the timed segments. May be empty when the recognizer
	// ran without sentence splitting.
	Sentences []Sentence `json:"sentence_info,omitempty"`

	members map[string]json.RawMessage
}

// Sentence is a single timed segment of a [Result].
type Sentence struct {
	// Start and End are offsets in milliseconds from the start of the audio.
	Start int64 `json:"start"`
	End   int64 `json:"end"`

	// Text is the segment transcript.
	Text string `json:"sentence"`

	// Timestamps holds per-token [start, end] pairs in milliseconds.
	Timestamps [][2]int64 `json:"timestamp,omitempty"`

	// Speaker is the diarization speaker index.
	Speaker int `json:"spk"`

	members map[string]json.RawMessage
}

// UnmarshalJSON decodes r and remembers every member of the object.
func (r *Result) UnmarshalJSON(data []byte) error {
	type fields Result
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	*r = Result(f)
	r.members = members
	return nil
}

// MarshalJSON encodes r. text and sentence_info come from the struct; other
// members are copied from the decoded input, or taken from the struct when
// the input lacked them.
func (r Result) MarshalJSON() ([]byte, error) {
	out := copyMembers(r.members, 3)
	out["text"] = r.Text
	if _, ok := r.members["sentence_info"]; ok || r.Sentences != nil {
		out["sentence_info"] = r.Sentences
	}
	setAbsent(out, "key", r.Key, r.Key != "")
	return json.Marshal(out)
}

// UnmarshalJSON decodes s and remembers every member of the object.
func (s *Sentence) UnmarshalJSON(data []byte) error {
	type fields Sentence
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	*s = Sentence(f)
	s.members = members
	return nil
}

// MarshalJSON encodes s. sentence comes from the struct; timing and speaker
// members are copied from the decoded input, or taken from the struct when
// the input lacked them and they are set.
func (s Sentence) MarshalJSON() ([]byte, error) {
	out := copyMembers(s.members, 5)
	out["sentence"] = s.Text
	// start and end are always present in recognizer output.
	setAbsent(out, "start", s.Start, true)
	setAbsent(out, "end", s.End, true)
	setAbsent(out, "timestamp", s.Timestamps, len(s.Timestamps) > 0)
	setAbsent(out, "spk", s.Speaker, s.Speaker != 0)
	return json.Marshal(out)
}

func copyMembers(members map[string]json.RawMessage, extra int) map[string]any {
	out := make(map[string]any, len(members)+extra)
	for k, v := range members {
		out[k] = v
	}
	return out
}

// setAbsent sets out[key] to v when the decoded input had no such member and
// set is true.
func setAbsent(out map[string]any, key string, v any, set bool) {
	if _, ok := out[key]; ok || !set {
		return
	}
	out[key] = v
}

// tagPattern matches inline recognizer markup such as <|zh|> or <|NEUTRAL|>.
var tagPattern = regexp.MustCompile(`<\|[^|<>]*\|>`)

// StripTags removes inline language, emotion and event tags from text and
// trims surrounding whitespace.
func StripTags(text string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(text, ""))
}

// StripTags removes inline markup from the top-level text and every sentence.
// The correction engine expects plain text, so callers run this first.
func (r *Result) StripTags() {
	r.Text = StripTags(r.Text)
	for i := range r.Sentences {
		r.Sentences[i].Text = StripTags(r.Sentences[i].Text)
	}
}
