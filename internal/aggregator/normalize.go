package aggregator

import (
	"strings"
	"unicode"
)

// NormalizeSkill canonicalizes a raw skill label: trim, collapse internal
// whitespace runs to one space, lowercase. It reports false for non-strings
// and for labels that end up empty or carry no letter or digit.
func NormalizeSkill(raw any) (string, bool) {
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	key := strings.ToLower(strings.Join(strings.Fields(s), " "))
	if key == "" || !strings.ContainsFunc(key, isAlnum) {
		return "", false
	}
	return key, true
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
