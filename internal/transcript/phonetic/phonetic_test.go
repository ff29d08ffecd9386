package phonetic_test

import (
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/voxfix/internal/transcript/phonetic"
)

func TestIndex_Syllables(t *testing.T) {
	t.Parallel()

	x := phonetic.NewIndex()

	tests := []struct {
		word string
		want []string
	}{
		{"中国", []string{"zhong1", "guo2"}},
		{"整场", []string{"zheng3", "chang3"}},
		{"A1体", []string{"a", "1", "ti3"}},
		{"DNA", []string{"d", "n", "a"}},
	}
	for _, tt := range tests {
		got := x.Syllables(tt.word)
		if !slices.Equal(got, tt.want) {
			t.Errorf("Syllables(%q) = %v, want %v", tt.word, got, tt.want)
		}
	}
}

func TestIndex_OneSyllablePerRune(t *testing.T) {
	t.Parallel()

	x := phonetic.NewIndex()
	for _, w := range []string{"心智控制区", "第3灵", "abc", "，。", "混合Mix词"} {
		if got, want := len(x.Syllables(w)), len([]rune(w)); got != want {
			t.Errorf("len(Syllables(%q)) = %d, want %d", w, got, want)
		}
	}
}

func TestIndex_Memoizes(t *testing.T) {
	t.Parallel()

	x := phonetic.NewIndex()
	x.Syllables("互催")
	x.Syllables("互催")
	if x.Len() != 1 {
		t.Errorf("Len() = %d, want 1", x.Len())
	}
}

func TestIndex_Prime(t *testing.T) {
	t.Parallel()

	x := phonetic.NewIndex()
	x.Prime("林体", []string{"lin2", "ti3"})
	if got := x.Syllables("林体"); !slices.Equal(got, []string{"lin2", "ti3"}) {
		t.Errorf("primed Syllables = %v", got)
	}

	// Length mismatch is ignored and the word is converted normally.
	x.Prime("灵体", []string{"only-one"})
	if got := x.Syllables("灵体"); len(got) != 2 {
		t.Errorf("Syllables after bad Prime = %v, want 2 syllables", got)
	}
}

func TestIndex_ConcurrentUse(t *testing.T) {
	t.Parallel()

	x := phonetic.NewIndex()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, w := range []string{"心智", "控制", "互催", "正常"} {
				x.Syllables(w)
			}
		}()
	}
	wg.Wait()
	if x.Len() != 4 {
		t.Errorf("Len() = %d, want 4", x.Len())
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"zheng3", "chang3"}, []string{"zheng3", "chang3"}, 1},
		{"tone differences", []string{"zheng4", "chang2"}, []string{"zheng3", "chang3"}, 5.0 / 6.0},
		{"one syllable off", []string{"qu3"}, []string{"qu1"}, 2.0 / 3.0},
		{"different length", []string{"a"}, []string{"a", "b"}, 0},
		{"empty", nil, nil, 0},
		{"disjoint", []string{"ab"}, []string{"cd"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := phonetic.Similarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	t.Parallel()

	x := phonetic.NewIndex()
	pairs := [][2]string{{"正常", "整场"}, {"心智控制取", "心智控制区"}, {"林提", "灵体"}}
	for _, p := range pairs {
		a, b := x.Syllables(p[0]), x.Syllables(p[1])
		if phonetic.Similarity(a, b) != phonetic.Similarity(b, a) {
			t.Errorf("Similarity not symmetric for %q/%q", p[0], p[1])
		}
	}
}
