// Package fts implements full-text indexing: tokenization, language
// detection, stemming, and the compact term-position structure stored as
// a per-document term-index blob for phrase search. The posting
// shape (exact bitmap term + optional distinct stemmed bitmap term) is
// grounded on the bleve scorch engine's analyze-then-batch pipeline
// (index/scorch/scorch.go's Analyze/Batch), generalized from bleve's
// TokenFrequencies to the simpler exact/stemmed pair the schema needs.
package fts

import (
	"strings"
	"unicode"

	"github.com/nyxmail/corestore/internal/store/schema"
)

// Token is one word extracted from a document field, carrying the byte
// offset, character length, sub-part id, and ordinal position the
// original design calls for.
type Token struct {
	Text     string
	Offset   int
	CharLen  int
	PartID   schema.PartID
	Position int
}

// Posting is the derived bitmap entry (or pair of entries) one token
// produces: the exact form, and — when stemming changes the word and the
// detected language is supported — a distinct stemmed form.
type Posting struct {
	Exact    string
	Stemmed  string
	Position int
}

// Tokenize splits text into word tokens. Word boundaries follow Unicode
// letter/digit runs; everything else (punctuation, whitespace) separates
// tokens. Offsets are byte offsets into text; CharLen is the rune count.
func Tokenize(text string, partID schema.PartID) []Token {
	var tokens []Token
	runes := []rune(text)
	pos := 0
	i := 0
	byteOffset := 0
	for i < len(runes) {
		if !unicode.IsLetter(runes[i]) && !unicode.IsDigit(runes[i]) {
			byteOffset += len(string(runes[i]))
			i++
			continue
		}
		start := i
		startByte := byteOffset
		for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
			byteOffset += len(string(runes[i]))
			i++
		}
		word := string(runes[start:i])
		tokens = append(tokens, Token{
			Text:     strings.ToLower(word),
			Offset:   startByte,
			CharLen:  i - start,
			PartID:   partID,
			Position: pos,
		})
		pos++
	}
	return tokens
}
