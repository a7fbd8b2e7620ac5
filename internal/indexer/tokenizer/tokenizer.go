// Package tokenizer turns raw bilingual (Spanish/English) text into search
// terms. Text is case-folded, stripped of diacritics and split on
// non-alphanumeric boundaries. There is no stemming and no stop-word list, so
// both languages are treated identically.
package tokenizer

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Transformer chains keep internal state, so each goroutine borrows its own.
var foldPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	},
}

// Normalize lower-cases text, removes diacritics and collapses runs of
// whitespace into single spaces. "Café  Ñandú" becomes "cafe nandu".
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	t := foldPool.Get().(transform.Transformer)
	folded, _, err := transform.String(t, text)
	t.Reset()
	foldPool.Put(t)
	if err != nil {
		folded = text
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Tokenize normalizes text and splits it into positioned tokens. Tokens of a
// single rune are dropped unless they are digits, so "5" survives but a
// stray "y" or "a" does not.
func Tokenize(text string) []Token {
	words := strings.FieldsFunc(Normalize(text), isSeparator)
	tokens := make([]Token, 0, len(words))
	for _, word := range words {
		if !keep(word) {
			continue
		}
		tokens = append(tokens, Token{Term: word, Position: len(tokens)})
	}
	return tokens
}

// Terms returns the distinct terms of text in first-seen order.
func Terms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok.Term]; ok {
			continue
		}
		seen[tok.Term] = struct{}{}
		terms = append(terms, tok.Term)
	}
	return terms
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func keep(word string) bool {
	if utf8.RuneCountInString(word) > 1 {
		return true
	}
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsDigit(r)
}
