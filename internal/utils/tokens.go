package utils

import (
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

var wordTokenizer = unicode.NewUnicodeTokenizer()

// Token is a word with its byte offsets in the text it was cut from.
type Token struct {
	Term  string
	Start int
	End   int
}

// Tokenize splits text into words using Unicode word boundaries.
// Terms are lowercased; offsets point into the original text.
func Tokenize(text string) []Token {
	stream := wordTokenizer.Tokenize([]byte(text))
	tokens := make([]Token, 0, len(stream))
	for _, tok := range stream {
		tokens = append(tokens, Token{
			Term:  NormalizeText(string(tok.Term)),
			Start: tok.Start,
			End:   tok.End,
		})
	}
	return tokens
}

// Terms returns just the lowercased words of text.
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}

// WordSet is the set of distinct lowercased words of a text, kept with
// the normalized text so two wordless texts can still be told apart.
type WordSet struct {
	normalized string
	words      map[string]struct{}
}

func NewWordSet(text string) WordSet {
	normalized := NormalizeText(text)
	words := make(map[string]struct{})
	for _, term := range Terms(normalized) {
		words[term] = struct{}{}
	}
	return WordSet{normalized: normalized, words: words}
}

// Jaccard is |A ∩ B| / |A ∪ B|. Two sets without any words score 1 when
// their normalized texts are equal and 0 otherwise.
func Jaccard(a, b WordSet) float64 {
	if len(a.words) == 0 || len(b.words) == 0 {
		if len(a.words) == 0 && len(b.words) == 0 && a.normalized == b.normalized {
			return 1
		}
		return 0
	}

	small, large := a.words, b.words
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for term := range small {
		if _, ok := large[term]; ok {
			intersection++
		}
	}
	union := len(a.words) + len(b.words) - intersection
	return float64(intersection) / float64(union)
}
