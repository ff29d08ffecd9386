package rulefile

import (
	"fmt"
	"strings"
	"unicode"
)

var chineseDigits = map[rune]int{
	'零': 0, '一': 1, '二': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9, '十': 10,
}

// specialPrefixes are grouped in this order after the numbered spirits.
var specialPrefixes = []string{"主", "外", "体", "肉体", "复合", "集体"}

// SortKey orders targets in a rewritten rule file:
//
//	A  terms containing ASCII letters
//	B  "第N灵" terms, by N
//	C  "N灵" terms starting with a Chinese numeral, by N
//	D  terms with a special prefix, by prefix
//	E  everything else
//
// Keys end with the target itself so the order is total.
func SortKey(target string) string {
	runes := []rune(target)
	if len(runes) == 0 {
		return "E_"
	}

	for _, r := range runes {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return "A_" + target
		}
	}

	hasSpirit := strings.ContainsRune(target, '灵')
	if hasSpirit && runes[0] == '第' && len(runes) > 1 {
		if n, ok := numeral(runes[1]); ok {
			return fmt.Sprintf("B_%02d_%s", n, target)
		}
	}
	if hasSpirit {
		if n, ok := chineseDigits[runes[0]]; ok {
			return fmt.Sprintf("C_%02d_%s", n, target)
		}
	}

	for i, p := range specialPrefixes {
		if strings.HasPrefix(target, p) {
			return fmt.Sprintf("D_%02d_%s", i, target)
		}
	}
	return "E_" + target
}

func numeral(r rune) (int, bool) {
	if r >= '0' && r <= '9' {
		return int(r - '0'), true
	}
	n, ok := chineseDigits[r]
	return n, ok
}
