// Package extract turns free text into candidate concept keys for the
// semantic network.
package extract

import (
	"strings"
)

// ConceptExtractor maps text to candidate concept keys. Implementations must
// be safe for concurrent use.
type ConceptExtractor interface {
	Extract(text string) []string
}

// Normalize converts a phrase into concept key form: lower case, with inner
// whitespace collapsed to underscores.
func Normalize(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), "_")
}

// stopWords are dropped by every extractor
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true,
	"i": true, "me": true, "my": true, "we": true, "our": true,
	"you": true, "your": true, "he": true, "she": true, "it": true,
	"they": true, "them": true, "their": true, "this": true, "that": true,
	"these": true, "those": true, "its": true, "his": true, "her": true,
	"what": true, "which": true, "who": true, "whom": true, "whose": true,
	"where": true, "when": true, "why": true, "how": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"than": true, "so": true, "as": true, "of": true, "at": true,
	"by": true, "for": true, "with": true, "about": true, "into": true,
	"to": true, "from": true, "in": true, "on": true, "up": true,
	"out": true, "off": true, "over": true, "under": true, "not": true,
	"all": true, "any": true, "some": true, "more": true, "most": true,
	"tell": true, "know": true,
}

// IsStopWord reports whether a lower-cased word is ignored by extractors
func IsStopWord(word string) bool {
	return stopWords[word]
}

// Chain runs several extractors and merges their keys, first occurrence wins
type Chain []ConceptExtractor

// Extract returns the de-duplicated union of every extractor's keys
func (c Chain) Extract(text string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, e := range c {
		for _, k := range e.Extract(text) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}
