package chunker

import (
	"strings"
	"unicode"
)

// EstimateTokens gives a rough token count. Latin words count ~1.33 tokens
// each and Hangul syllables ~0.8 tokens each.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	hangul := 0
	for _, r := range text {
		if unicode.Is(unicode.Hangul, r) {
			hangul++
		}
	}
	words := 0
	for _, w := range strings.Fields(text) {
		if !containsHangul(w) {
			words++
		}
	}
	tokens := int(float64(words)*1.33 + float64(hangul)*0.8)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func containsHangul(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
