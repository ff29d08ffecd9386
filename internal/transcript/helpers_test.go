package transcript_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/transcript"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
)

// fmmTokenizer is a forward maximum matching tokenizer over a fixed
// vocabulary. Runes outside any vocabulary word become single tokens.
type fmmTokenizer struct {
	vocab  map[string]struct{}
	maxLen int
}

func newFMM(words ...string) *fmmTokenizer {
	t := &fmmTokenizer{vocab: make(map[string]struct{}), maxLen: 1}
	for _, w := range words {
		t.vocab[w] = struct{}{}
		t.maxLen = max(t.maxLen, utf8.RuneCountInString(w))
	}
	return t
}

func (t *fmmTokenizer) Cut(text string) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); {
		n := min(t.maxLen, len(runes)-i)
		for ; n > 1; n-- {
			if _, ok := t.vocab[string(runes[i:i+n])]; ok {
				break
			}
		}
		out = append(out, string(runes[i:i+n]))
		i += n
	}
	return out
}

// commonWords is vocabulary the tests need besides the rule terms.
var commonWords = []string{"正常", "工作", "打开", "今天", "天气", "很好", "心智控制", "这是"}

func writeRuleFile(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "hotwords.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}
	return path
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// newCorrector builds a Corrector over a fresh rule file holding lines.
func newCorrector(t *testing.T, lines ...string) (*transcript.Corrector, string) {
	t.Helper()
	path := writeRuleFile(t, t.TempDir(), lines...)
	m, _ := testMetrics(t)
	c := transcript.New(rules.NewStore(path, ""),
		transcript.WithMetrics(m),
		transcript.WithTokenizerFactory(func(terms []string) (transcript.Tokenizer, error) {
			return newFMM(append(terms, commonWords...)...), nil
		}),
	)
	return c, path
}
