package bm25

import (
	"strings"
	"unicode"

	"github.com/blevesearch/go-porterstemmer"
	"github.com/blevesearch/segment"
)

// defaultStopWords is a small closed-class stop list for English prose;
// it is intentionally short — this is a financial-research corpus, not a
// general web crawl, so aggressive stopping would remove signal terms like
// "above"/"below" that matter for bias language.
var defaultStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {},
}

// TokenizeOptions controls how raw text becomes a term stream.
type TokenizeOptions struct {
	// Stemming applies the Porter stemmer to each term. Off by default.
	Stemming bool
	// StopWords overrides the default stop-word set when non-nil.
	StopWords map[string]struct{}
}

// Tokenize splits text on Unicode word boundaries, case-folds, drops
// stop words, and optionally stems each surviving term.
func Tokenize(text string, opts TokenizeOptions) []string {
	stop := opts.StopWords
	if stop == nil {
		stop = defaultStopWords
	}

	segmenter := segment.NewWordSegmenterDirect([]byte(text))
	terms := make([]string, 0, len(text)/6+1)

	for segmenter.Segment() {
		raw := segmenter.Bytes()
		if segmenter.Type() == segment.None {
			continue // punctuation / whitespace, not a word segment
		}
		term := strings.ToLower(string(raw))
		if !hasWordRune(term) {
			continue
		}
		if _, isStop := stop[term]; isStop {
			continue
		}
		if opts.Stemming {
			term = porterstemmer.StemString(term)
		}
		terms = append(terms, term)
	}
	return terms
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}
