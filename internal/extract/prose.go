package extract

import (
	"strings"

	"github.com/tsawler/prose/v3"
)

// ProseExtractor uses the prose NLP library: named entities become
// multi-word keys and nouns become single-word keys.
type ProseExtractor struct {
	// Nouns includes common and proper nouns in addition to entities
	Nouns bool
}

// NewProseExtractor creates a prose-based extractor that emits entities and nouns
func NewProseExtractor() *ProseExtractor {
	return &ProseExtractor{Nouns: true}
}

// Extract returns concept keys for text. Text prose cannot parse yields nil.
func (e *ProseExtractor) Extract(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		if k == "" || seen[k] || stopWords[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	for _, ent := range doc.Entities() {
		add(Normalize(ent.Text))
	}

	if e.Nouns {
		for _, tok := range doc.Tokens() {
			if !strings.HasPrefix(tok.Tag, "NN") {
				continue
			}
			word := strings.ToLower(strings.Trim(tok.Text, ".,!?;:'\"()[]{}"))
			if len(word) < 2 {
				continue
			}
			add(word)
		}
	}
	return keys
}
