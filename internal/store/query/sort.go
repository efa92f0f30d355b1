package query

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nyxmail/corestore/internal/store/schema"
)

// ComparatorKind selects how one sort key orders the result set.
type ComparatorKind byte

const (
	SortNone ComparatorKind = iota
	SortField
	SortDocumentSet
)

// Comparator is one entry of a sort specification; comparators apply in
// order, each breaking ties left by the previous one, with document id
// ascending as the final, implicit tie-break.
type Comparator struct {
	Kind        ComparatorKind
	Field       schema.PropertyID
	Ascending   bool
	DocumentSet *roaring.Bitmap // meaningful only for SortDocumentSet
}

func ByField(field schema.PropertyID, ascending bool) Comparator {
	return Comparator{Kind: SortField, Field: field, Ascending: ascending}
}

func ByDocumentSet(bitmap *roaring.Bitmap, ascending bool) Comparator {
	return Comparator{Kind: SortDocumentSet, DocumentSet: bitmap, Ascending: ascending}
}

// Page selects the pagination window over an already-sorted result set.
// Position and Anchor are mutually exclusive; when AnchorSet, Anchor
// names a document id to locate within the sorted results and Offset is
// applied relative to it. Position, when PositionSet, is a zero-based
// offset from the start (non-negative) or from the end (negative).
type Page struct {
	PositionSet    bool
	Position       int64
	AnchorSet      bool
	Anchor         uint32
	AnchorOffset   int64
	Limit          int64 // 0 means "no limit"
	CalculateTotal bool
}

// Result is what Query returns: the page of ordered document ids and,
// when requested, the total match count.
type Result struct {
	DocumentIDs []uint32
	Total       int // valid only when the request set CalculateTotal
}
