package fts

import (
	"encoding/binary"

	"github.com/nyxmail/corestore/internal/store/schema"
)

// Indexer turns field text into the postings the write pipeline merges
// into Bitmaps, and into the term-index blob phrase queries confirm
// adjacency against.
type Indexer struct {
	DefaultLanguage Language
}

// NewIndexer returns an Indexer falling back to the given default
// language when detection is inconclusive.
func NewIndexer(defaultLanguage Language) *Indexer {
	return &Indexer{DefaultLanguage: defaultLanguage}
}

// TokenizeField tokenizes text, detects its language once for the whole
// field, and returns one Posting per token carrying its exact form and,
// when stemming changes it, a distinct stemmed form.
func (ix *Indexer) TokenizeField(text string, partID schema.PartID) []Posting {
	lang := Detect(text)
	if lang == LangUnknown {
		lang = ix.DefaultLanguage
	}

	tokens := Tokenize(text, partID)
	postings := make([]Posting, 0, len(tokens))
	for _, tok := range tokens {
		p := Posting{Exact: tok.Text, Position: tok.Position}
		if stemmed := Stem(tok.Text, lang); stemmed != "" {
			p.Stemmed = stemmed
		}
		postings = append(postings, p)
	}
	return postings
}

// BuildTermIndex serializes an ordered term-position structure for
// phrase search: a length-prefixed list of (term, position) pairs in
// document order. A real FST would compress the term dictionary; a flat
// sorted list is kept here since the per-document term count is small
// and phrase confirmation only needs position lookups, not prefix
// search — the FST is an optimization, not a semantic requirement.
func BuildTermIndex(postings []Posting) []byte {
	buf := make([]byte, 0, len(postings)*8)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(postings)))
	buf = append(buf, tmp[:n]...)
	for _, p := range postings {
		n = binary.PutUvarint(tmp[:], uint64(len(p.Exact)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, p.Exact...)
		n = binary.PutUvarint(tmp[:], uint64(p.Position))
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

// TermIndexEntry is one decoded (term, position) pair from a term-index blob.
type TermIndexEntry struct {
	Term     string
	Position int
}

// ParseTermIndex reverses BuildTermIndex.
func ParseTermIndex(buf []byte) ([]TermIndexEntry, error) {
	pos := 0
	readUvarint := func() (uint64, error) {
		v, n := binary.Uvarint(buf[pos:])
		if n <= 0 {
			return 0, errTruncated
		}
		pos += n
		return v, nil
	}

	count, err := readUvarint()
	if err != nil {
		return nil, err
	}
	entries := make([]TermIndexEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		termLen, err := readUvarint()
		if err != nil {
			return nil, err
		}
		if pos+int(termLen) > len(buf) {
			return nil, errTruncated
		}
		term := string(buf[pos : pos+int(termLen)])
		pos += int(termLen)
		position, err := readUvarint()
		if err != nil {
			return nil, err
		}
		entries = append(entries, TermIndexEntry{Term: term, Position: int(position)})
	}
	return entries, nil
}

// MatchPhrase reports whether entries contains the given terms in
// consecutive position order, confirming ordered adjacency the way a
// phrase query verifies candidates surfaced by the bitmap intersection
// of each term's exact posting.
func MatchPhrase(entries []TermIndexEntry, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	byPosition := make(map[int]string, len(entries))
	for _, e := range entries {
		byPosition[e.Position] = e.Term
	}
	for _, e := range entries {
		if e.Term != phrase[0] {
			continue
		}
		matched := true
		for i := 1; i < len(phrase); i++ {
			if byPosition[e.Position+i] != phrase[i] {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

type truncatedError struct{}

func (truncatedError) Error() string { return "fts: truncated term index blob" }

var errTruncated = truncatedError{}
