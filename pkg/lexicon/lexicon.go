// Package lexicon provides the text handling shared by the concept store,
// the association extractor, and the embedding cache.
//
// Every component that compares text goes through the same normalisation so
// that "Dogs", "dogs " and "ＤＯＧＳ" land on the same index entry and the same
// cache key.
package lexicon

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// stopWords are dropped from term lists. Cue words used by the extractor
// (because, before, after, ...) are intentionally absent.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "am": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "at": {}, "for": {}, "with": {}, "and": {}, "or": {}, "but": {},
	"what": {}, "which": {}, "who": {}, "whom": {}, "how": {}, "why": {},
	"where": {}, "do": {}, "does": {}, "did": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "it": {}, "its": {}, "as": {}, "by": {},
	"from": {}, "into": {}, "about": {}, "can": {}, "could": {}, "should": {},
	"would": {}, "will": {}, "shall": {}, "may": {}, "might": {}, "must": {},
	"has": {}, "have": {}, "had": {}, "not": {}, "no": {}, "so": {}, "than": {},
	"too": {}, "very": {}, "i": {}, "you": {}, "he": {}, "she": {}, "we": {},
	"they": {}, "me": {}, "him": {}, "her": {}, "us": {}, "them": {}, "my": {},
	"your": {}, "our": {}, "their": {}, "there": {}, "here": {}, "some": {},
	"any": {}, "all": {}, "also": {}, "just": {},
}

// Normalize returns the canonical form of text: Unicode NFKC, lower case,
// whitespace collapsed to single spaces and trimmed.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Key returns a stable hash of the normalised text, hex encoded.
func Key(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Words splits normalised text into lower-case words, keeping stop words and
// order. Punctuation separates words.
func Words(text string) []string {
	return strings.FieldsFunc(Normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Terms returns the unique stemmed non-stop words of text in first-seen order.
func Terms(text string) []string {
	words := Words(text)
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if IsStopWord(w) {
			continue
		}
		t := Stem(w)
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

// TermSet returns Terms(text) as a set.
func TermSet(text string) map[string]struct{} {
	terms := Terms(text)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// IsStopWord reports whether w (already lower case) is a stop word.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Stem reduces an English plural to its singular form. It is deliberately
// small: the goal is that "mammals" and "mammal" share an index entry, not
// linguistic accuracy.
func Stem(w string) string {
	n := len(w)
	if n <= 3 {
		return w
	}
	switch {
	case strings.HasSuffix(w, "ies") && n > 4:
		return w[:n-3] + "y"
	case strings.HasSuffix(w, "sses"):
		return w[:n-2]
	case strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "ches"),
		strings.HasSuffix(w, "shes"), strings.HasSuffix(w, "zes"):
		return w[:n-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:n-1]
	}
	return w
}

// Overlap returns |a ∩ b| / |a ∪ b| (Jaccard). Empty sets give 0.
func Overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

// Coverage returns the fraction of query terms present in doc.
func Coverage(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hit := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}

// SameTerms reports whether a and b hold exactly the same terms.
func SameTerms(a, b map[string]struct{}) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for t := range a {
		if _, ok := b[t]; !ok {
			return false
		}
	}
	return true
}
