package rules_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxfix/internal/transcript/phonetic"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
)

func buildFrom(t *testing.T, content string) (*rules.Set, []rules.Diagnostic) {
	t.Helper()
	res := rules.Parse(strings.NewReader(content))
	set, diags := rules.Build(res.Entries, phonetic.NewIndex(), rules.DefaultThreshold)
	return set, append(res.Diagnostics, diags...)
}

func TestBuild_MergesDuplicateTargets(t *testing.T) {
	t.Parallel()

	set, diags := buildFrom(t, strings.Join([]string{
		"整场 0.8 整厂 (互催)",
		"灵体 林提",
		"整场 0.85 正常 (主催)",
		"整场 0.7 争长",
	}, "\n"))

	r, ok := set.Rule("整场")
	if !ok {
		t.Fatal("rule 整场 missing")
	}
	if r.Threshold != 0.85 {
		t.Errorf("Threshold = %v, want 0.85", r.Threshold)
	}
	if want := []string{"争长", "整厂", "正常"}; !slices.Equal(r.AliasWords, want) {
		t.Errorf("AliasWords = %v, want %v", r.AliasWords, want)
	}
	if want := []string{"主催", "互催"}; !slices.Equal(r.ContextWords, want) {
		t.Errorf("ContextWords = %v, want %v", r.ContextWords, want)
	}
	if want := []int{1, 3, 4}; !slices.Equal(r.Lines, want) {
		t.Errorf("Lines = %v, want %v", r.Lines, want)
	}
	if want := []string{"zheng3", "chang3"}; !slices.Equal(r.Pinyin, want) {
		t.Errorf("Pinyin = %v, want %v", r.Pinyin, want)
	}

	var dupLines []int
	for _, d := range diags {
		if strings.Contains(d.Message, "duplicate target") {
			dupLines = append(dupLines, d.Line)
		}
	}
	if !slices.Equal(dupLines, []int{3, 4}) {
		t.Errorf("duplicate warnings on lines %v, want [3 4]", dupLines)
	}
}

func TestBuild_DefaultThresholdTakesPartInMerge(t *testing.T) {
	t.Parallel()

	set, _ := buildFrom(t, strings.Join([]string{
		"灵体 0.5",
		"灵体 林提",
		"整场 0.95",
		"整场 整厂",
		"主宰 0.6",
		"主宰 0.7 主在",
		"心智控制区",
	}, "\n"))

	tests := []struct {
		target string
		want   float64
	}{
		{"灵体", rules.DefaultThreshold},
		{"整场", 0.95},
		{"主宰", 0.7},
		{"心智控制区", rules.DefaultThreshold},
	}
	for _, tt := range tests {
		r, ok := set.Rule(tt.target)
		if !ok {
			t.Errorf("rule %s missing", tt.target)
			continue
		}
		if r.Threshold != tt.want {
			t.Errorf("%s threshold = %v, want %v", tt.target, r.Threshold, tt.want)
		}
	}
}

func TestBuild_AliasIndex(t *testing.T) {
	t.Parallel()

	set, diags := buildFrom(t, strings.Join([]string{
		"心智控制区 0.6 心智控制取,新知控制区",
		"灵体 林提,心智控制取",
		"整场 灵体",
	}, "\n"))

	tests := []struct {
		alias string
		want  string
		ok    bool
	}{
		{"心智控制取", "心智控制区", true},
		{"新知控制区", "心智控制区", true},
		{"林提", "灵体", true},
		{"灵体", "", false},
		{"不存在", "", false},
	}
	for _, tt := range tests {
		got, ok := set.AliasTarget(tt.alias)
		if got != tt.want || ok != tt.ok {
			t.Errorf("AliasTarget(%q) = %q, %v, want %q, %v", tt.alias, got, ok, tt.want, tt.ok)
		}
	}

	if r, _ := set.Rule("灵体"); !slices.Equal(r.AliasWords, []string{"林提"}) {
		t.Errorf("灵体 aliases = %v, want [林提]", r.AliasWords)
	}
	if r, _ := set.Rule("整场"); len(r.AliasWords) != 0 {
		t.Errorf("整场 aliases = %v, want none", r.AliasWords)
	}

	warnings := 0
	for _, d := range diags {
		if d.Severity == rules.SeverityWarning && strings.Contains(d.Message, "was dropped") {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("dropped-alias warnings = %d, want 2: %v", warnings, diags)
	}
}

func TestSet_Accessors(t *testing.T) {
	t.Parallel()

	set, _ := buildFrom(t, "整场 0.8 (互催)\n灵体 林提,零体 (主催,互催)\nDNA")

	if set.Len() != 3 {
		t.Errorf("Len() = %d, want 3", set.Len())
	}
	if want := []string{"DNA", "整场", "灵体"}; !slices.Equal(set.Targets(), want) {
		t.Errorf("Targets() = %v, want %v", set.Targets(), want)
	}
	if want := []string{"林提", "零体"}; !slices.Equal(set.Aliases(), want) {
		t.Errorf("Aliases() = %v, want %v", set.Aliases(), want)
	}
	if want := []string{"主催", "互催"}; !slices.Equal(set.ContextWords(), want) {
		t.Errorf("ContextWords() = %v, want %v", set.ContextWords(), want)
	}
	if !set.IsTarget("DNA") || set.IsTarget("林提") {
		t.Error("IsTarget reports wrong membership")
	}

	var got []string
	for _, r := range set.Rules() {
		got = append(got, r.Target)
	}
	if !slices.Equal(got, set.Targets()) {
		t.Errorf("Rules() order = %v, want %v", got, set.Targets())
	}
}

func TestEmptySet(t *testing.T) {
	t.Parallel()

	set := rules.EmptySet()
	if set.Len() != 0 || len(set.Targets()) != 0 || len(set.Aliases()) != 0 {
		t.Error("EmptySet is not empty")
	}
	if _, ok := set.Rule("x"); ok {
		t.Error("EmptySet.Rule found a rule")
	}
}

func TestRule_ContextSatisfied(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		context []string
		text    string
		want    bool
	}{
		{"no context words", nil, "anything", true},
		{"present", []string{"互催", "主催"}, "我们今晚互催一下", true},
		{"absent", []string{"互催"}, "这是正常的", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &rules.Rule{Target: "整场", ContextWords: tt.context}
			if got := r.ContextSatisfied(tt.text); got != tt.want {
				t.Errorf("ContextSatisfied(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestValidateTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		target  string
		wantErr bool
	}{
		{"心智控制区", false},
		{"DNA", false},
		{"A体", false},
		{"3号", false},
		{"灵", true},
		{"42", true},
		{"", true},
	}
	for _, tt := range tests {
		if err := rules.ValidateTarget(tt.target); (err != nil) != tt.wantErr {
			t.Errorf("ValidateTarget(%q) error = %v, wantErr %v", tt.target, err, tt.wantErr)
		}
	}
}
