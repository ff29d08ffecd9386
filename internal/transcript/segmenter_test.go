package transcript_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MrWong99/voxfix/internal/transcript"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
)

// Loading the embedded base dictionary is slow, so the gse-backed corrector
// is built once for all tests in this file.
var (
	gseOnce      sync.Once
	gseCorrector *transcript.Corrector
)

func segmenterCorrector(t *testing.T) *transcript.Corrector {
	t.Helper()
	gseOnce.Do(func() {
		dir := t.TempDir()
		path := writeRuleFile(t, dir,
			"整场 0.8 整厂 (互催)",
			"灵体 林提",
			"主宰 主在",
			"召唤",
		)
		gseCorrector = transcript.New(rules.NewStore(path, filepath.Join(dir, "rules.yaml")))
		if _, err := gseCorrector.Reload(context.Background()); err != nil {
			t.Fatalf("Reload: %v", err)
		}
	})
	if gseCorrector == nil {
		t.Fatal("segmenter corrector was not built")
	}
	if st := gseCorrector.Status(); st.Degraded {
		t.Fatalf("Status() = %+v, want a working segmenter", st)
	}
	return gseCorrector
}

func TestSegmenter_LeavesOrdinaryTextAlone(t *testing.T) {
	t.Parallel()
	c := segmenterCorrector(t)
	ctx := context.Background()

	for _, text := range []string{
		"他提出了一个问题，领导同意了。",
		"今天天气很好，我们一起去公园散步吧。",
		"会议将在下午三点开始，请大家准时参加。",
		"这个方案需要重新讨论一下。",
	} {
		res := c.Correct(ctx, text, "")
		if res.Corrected != text {
			t.Errorf("Correct(%q) = %q, want unchanged", text, res.Corrected)
		}
		if len(res.Corrections) != 0 {
			t.Errorf("Correct(%q) made corrections %+v", text, res.Corrections)
		}
	}
}

func TestSegmenter_ContextGate(t *testing.T) {
	t.Parallel()
	c := segmenterCorrector(t)
	ctx := context.Background()

	tests := []struct {
		text, extra, want string
	}{
		{"正常互催", "", "整场互催"},
		{"正常工作", "", "正常工作"},
		{"林提来了", "", "灵体来了"},
	}
	for _, tt := range tests {
		if got := c.Correct(ctx, tt.text, tt.extra).Corrected; got != tt.want {
			t.Errorf("Correct(%q, %q) = %q, want %q", tt.text, tt.extra, got, tt.want)
		}
	}
}

func TestSegmenter_Idempotent(t *testing.T) {
	t.Parallel()
	c := segmenterCorrector(t)
	ctx := context.Background()

	for _, text := range []string{
		"他提出了一个问题，领导同意了。",
		"正常互催",
		"正常工作",
		"林提来了，主在也来了",
	} {
		once := c.CorrectText(ctx, text)
		twice := c.Correct(ctx, once, "")
		if twice.Corrected != once || len(twice.Corrections) != 0 {
			t.Errorf("second pass over %q gave %q with %+v", once, twice.Corrected, twice.Corrections)
		}
	}
}
