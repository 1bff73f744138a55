package extract

import (
	"strings"
	"unicode"
)

// KeywordExtractor is the default extractor: lower-cased tokens with
// punctuation stripped, stop words and short words removed. Optionally
// adjacent keyword pairs are also emitted as "first_second" keys so that
// multi-word concepts in the graph can match.
type KeywordExtractor struct {
	MinLength int
	Bigrams   bool
}

// NewKeywordExtractor returns a keyword extractor with a minimum word length of 3
func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{MinLength: 3}
}

// Extract returns the keywords of text in order of first appearance
func (e *KeywordExtractor) Extract(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})

	minLen := e.MinLength
	if minLen < 1 {
		minLen = 1
	}

	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	prev := ""
	for _, word := range words {
		word = strings.Trim(word, "-_")
		if len([]rune(word)) < minLen || stopWords[word] {
			prev = ""
			continue
		}
		add(word)
		if e.Bigrams && prev != "" {
			add(prev + "_" + word)
		}
		prev = word
	}
	return keys
}
