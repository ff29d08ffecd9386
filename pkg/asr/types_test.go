package asr_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/MrWong99/voxfix/pkg/asr"
)

func TestStripTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no tags", "普通文本", "普通文本"},
		{"leading tags", "<|zh|><|NEUTRAL|><|Speech|><|withitn|>我们先看一下。", "我们先看一下。"},
		{"inner tag", "前面<|EMO_UNKNOWN|>后面", "前面后面"},
		{"surrounding whitespace", "  <|zh|> 文本  ", "文本"},
		{"lone pipes kept", "a|b", "a|b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := asr.StripTags(tt.in); got != tt.want {
				t.Errorf("StripTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResult_DecodeAndStrip(t *testing.T) {
	t.Parallel()

	raw := `{
		"key": "rand_key",
		"text": "<|zh|><|NEUTRAL|>在心智控制取里面有一个检测点",
		"sentence_info": [
			{"start": 0, "end": 630, "sentence": "<|zh|>在心智控制取里面有一个检测点", "timestamp": [[0, 570], [570, 630]], "spk": 1}
		]
	}`

	var r asr.Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	r.StripTags()

	if r.Text != "在心智控制取里面有一个检测点" {
		t.Errorf("Text = %q", r.Text)
	}
	if len(r.Sentences) != 1 {
		t.Fatalf("len(Sentences) = %d, want 1", len(r.Sentences))
	}
	s := r.Sentences[0]
	if s.Text != "在心智控制取里面有一个检测点" {
		t.Errorf("Sentence.Text = %q", s.Text)
	}
	if s.End != 630 || s.Speaker != 1 || len(s.Timestamps) != 2 || s.Timestamps[1] != [2]int64{570, 630} {
		t.Errorf("non-text fields changed: %+v", s)
	}
}

func TestResult_ReencodeKeepsOtherMembers(t *testing.T) {
	t.Parallel()

	raw := `{"text":"<|zh|>x","duration":12.5,"timestamp":[[0,1]],` +
		`"sentence_info":[{"sentence":"x","start":0,"end":1,"emotion":"NEUTRAL"},{"sentence":"y","start":1,"end":2,"spk":0}]}`

	var r asr.Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	r.StripTags()
	r.Text = "改"
	r.Sentences[0].Text = "改一"

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got, want map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal re-encoded: %v", err)
	}
	wantRaw := `{"text":"改","duration":12.5,"timestamp":[[0,1]],` +
		`"sentence_info":[{"sentence":"改一","start":0,"end":1,"emotion":"NEUTRAL"},{"sentence":"y","start":1,"end":2,"spk":0}]}`
	if err := json.Unmarshal([]byte(wantRaw), &want); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("re-encoded = %s\nwant        %s", data, wantRaw)
	}
}

func TestResult_EncodeConstructed(t *testing.T) {
	t.Parallel()

	r := asr.Result{
		Text:      "今天",
		Sentences: []asr.Sentence{{Start: 0, End: 900, Text: "今天", Speaker: 2}},
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"text": "今天",
		"sentence_info": []any{
			map[string]any{"sentence": "今天", "start": 0.0, "end": 900.0, "spk": 2.0},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("encoded = %s", data)
	}
}
