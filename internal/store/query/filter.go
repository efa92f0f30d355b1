// Package query implements the boolean filter planner: a filter tree of
// And | Or | Not | Condition nodes evaluated with an explicit stack of
// frames against the Bitmaps/Indexes families, followed by multi-key
// sort and position/anchor pagination.
package query

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/schema"
)

// Op selects how a composite filter node combines its children.
type Op byte

const (
	OpAnd Op = iota
	OpOr
	OpNot
)

// Filter is one node of the filter tree: either a composite (Op +
// Children) or a leaf (Condition), never both.
type Filter struct {
	Op        Op
	Children  []*Filter
	Condition *Condition
}

func And(children ...*Filter) *Filter { return &Filter{Op: OpAnd, Children: children} }
func Or(children ...*Filter) *Filter  { return &Filter{Op: OpOr, Children: children} }
func Not(child *Filter) *Filter       { return &Filter{Op: OpNot, Children: []*Filter{child}} }
func Leaf(c *Condition) *Filter       { return &Filter{Condition: c} }

// ConditionKind is the closed set of leaf condition shapes.
type ConditionKind byte

const (
	CondKeyword ConditionKind = iota
	CondTag
	CondWord
	CondPhrase
	CondRange
	CondDocumentSet
)

// RangeOp selects the comparison a CondRange leaf performs.
type RangeOp byte

const (
	RangeEQ RangeOp = iota
	RangeGT
	RangeGTE
	RangeLT
	RangeLTE
)

// Condition is one leaf of the filter tree.
type Condition struct {
	Kind  ConditionKind
	Field schema.PropertyID

	Text    string   // CondKeyword value, CondTag tag name, CondWord token
	Phrase  []string // CondPhrase tokens, in order

	RangeOp RangeOp
	Value   document.Value // CondRange comparison operand

	DocumentSet *roaring.Bitmap // CondDocumentSet
}

func Keyword(field schema.PropertyID, value string) *Condition {
	return &Condition{Kind: CondKeyword, Field: field, Text: value}
}

func Tag(field schema.PropertyID, tag string) *Condition {
	return &Condition{Kind: CondTag, Field: field, Text: tag}
}

func Word(field schema.PropertyID, word string) *Condition {
	return &Condition{Kind: CondWord, Field: field, Text: word}
}

func Phrase(field schema.PropertyID, tokens ...string) *Condition {
	return &Condition{Kind: CondPhrase, Field: field, Phrase: tokens}
}

func Range(field schema.PropertyID, op RangeOp, value document.Value) *Condition {
	return &Condition{Kind: CondRange, Field: field, RangeOp: op, Value: value}
}

func DocumentSet(bitmap *roaring.Bitmap) *Condition {
	return &Condition{Kind: CondDocumentSet, DocumentSet: bitmap}
}
