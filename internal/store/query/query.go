package query

import (
	"bytes"
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nyxmail/corestore/internal/store/blob"
	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/fts"
	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// Engine evaluates filter trees and sort/pagination requests against the
// KV-backed bitmaps, sorted indexes, and document blobs the write
// pipeline maintains.
type Engine struct {
	kv              kv.Engine
	blobs           *blob.Store
	schemas         *schema.Registry
	defaultLanguage fts.Language
}

// New wires a query Engine from its dependencies.
func New(kvEngine kv.Engine, blobs *blob.Store, schemas *schema.Registry, defaultLanguage fts.Language) *Engine {
	return &Engine{kv: kvEngine, blobs: blobs, schemas: schemas, defaultLanguage: defaultLanguage}
}

// Query runs filter against (account, collection), sorts the matches per
// comparators, and returns the page selected by p.
func (e *Engine) Query(ctx context.Context, account uint32, collection schema.Collection, filter *Filter, comparators []Comparator, p Page) (*Result, error) {
	sc := e.schemas.Get(collection)
	if sc == nil {
		return nil, storeerr.ErrInvalidProperty.WithDetails("unknown collection")
	}

	universe, err := e.liveSet(ctx, account, collection)
	if err != nil {
		return nil, err
	}

	matched := universe
	if filter != nil {
		matched, err = e.eval(ctx, account, collection, sc, filter, universe)
		if err != nil {
			return nil, err
		}
	}

	ids := matched.ToArray()
	if err := e.sortIDs(ctx, account, collection, sc, ids, comparators); err != nil {
		return nil, err
	}

	res := &Result{}
	if p.CalculateTotal {
		res.Total = len(ids)
	}
	res.DocumentIDs = paginate(ids, p)
	return res, nil
}

func (e *Engine) liveSet(ctx context.Context, account uint32, collection schema.Collection) (*roaring.Bitmap, error) {
	key := keycodec.Bitmap(account, byte(collection), 0xFE, nil, true)
	return e.bitmapAt(ctx, key)
}

func (e *Engine) bitmapAt(ctx context.Context, key []byte) (*roaring.Bitmap, error) {
	raw, err := e.kv.Get(ctx, key)
	if err == kv.ErrKeyNotFound {
		return roaring.New(), nil
	}
	if err != nil {
		return nil, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	bm := roaring.New()
	if _, err := bm.FromBuffer(raw); err != nil {
		return nil, storeerr.ErrCorrupted.WithCause(err)
	}
	return bm, nil
}

// frame is one level of the explicit evaluation stack: a composite
// node's operator, its not-yet-visited children, and the accumulator
// folded in from children visited so far. Using an explicit stack
// instead of native recursion keeps deep filter trees off the goroutine
// stack; the slice grows as needed, so nesting depth is not capped.
type frame struct {
	op       Op
	children []*Filter
	idx      int
	acc      *roaring.Bitmap
}

func (e *Engine) eval(ctx context.Context, account uint32, collection schema.Collection, sc *schema.CollectionSchema, root *Filter, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	if root.Condition != nil {
		return e.evalLeaf(ctx, account, collection, sc, root.Condition, universe)
	}

	stack := []*frame{{op: root.Op, children: root.Children}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if top.idx >= len(top.children) {
			result := finalize(top, universe)
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return result, nil
			}
			fold(stack[len(stack)-1], result)
			continue
		}

		child := top.children[top.idx]
		top.idx++

		if child.Condition != nil {
			res, err := e.evalLeaf(ctx, account, collection, sc, child.Condition, universe)
			if err != nil {
				return nil, err
			}
			fold(top, res)
			if top.op == OpAnd && top.acc != nil && top.acc.IsEmpty() {
				top.idx = len(top.children) // short-circuit: an empty And accumulator can't grow
			}
			continue
		}

		stack = append(stack, &frame{op: child.Op, children: child.Children})
	}
	return roaring.New(), nil
}

func fold(f *frame, result *roaring.Bitmap) {
	switch f.op {
	case OpNot:
		f.acc = result
	case OpOr:
		if f.acc == nil {
			f.acc = result
		} else {
			f.acc.Or(result)
		}
	default: // OpAnd
		if f.acc == nil {
			f.acc = result
		} else {
			f.acc.And(result)
		}
	}
}

func finalize(f *frame, universe *roaring.Bitmap) *roaring.Bitmap {
	if f.op == OpNot {
		if f.acc == nil {
			f.acc = roaring.New()
		}
		return roaring.AndNot(universe, f.acc)
	}
	if f.acc == nil {
		if f.op == OpAnd {
			return universe.Clone()
		}
		return roaring.New()
	}
	return f.acc
}

// evalLeaf evaluates one condition and intersects it against universe,
// satisfying "the accumulator is combined ... against the account's
// live-set bitmap" for every leaf uniformly.
func (e *Engine) evalLeaf(ctx context.Context, account uint32, collection schema.Collection, sc *schema.CollectionSchema, c *Condition, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	var raw *roaring.Bitmap
	var err error

	switch c.Kind {
	case CondKeyword, CondTag:
		f, ok := sc.Field(c.Field)
		if !ok || f.Options&(schema.OptKeyword) == 0 {
			return nil, storeerr.ErrUnsupportedFilter
		}
		raw, err = e.bitmapAt(ctx, keycodec.Bitmap(account, byte(collection), byte(c.Field), []byte(c.Text), true))

	case CondWord:
		f, ok := sc.Field(c.Field)
		if !ok || f.Options&(schema.OptTokenize|schema.OptFullText) == 0 {
			return nil, storeerr.ErrUnsupportedFilter
		}
		raw, err = e.evalWord(ctx, account, collection, c.Field, c.Text)

	case CondPhrase:
		f, ok := sc.Field(c.Field)
		if !ok || f.Options&schema.OptFullText == 0 {
			return nil, storeerr.ErrUnsupportedFilter
		}
		raw, err = e.evalPhrase(ctx, account, collection, c.Field, c.Phrase)

	case CondRange:
		f, ok := sc.Field(c.Field)
		if !ok || f.Options&schema.OptSortIndex == 0 {
			return nil, storeerr.ErrUnsupportedFilter
		}
		raw, err = e.evalRange(ctx, account, collection, c.Field, c.RangeOp, c.Value)

	case CondDocumentSet:
		raw = c.DocumentSet
		if raw == nil {
			raw = roaring.New()
		}

	default:
		return nil, storeerr.ErrUnsupportedFilter
	}

	if err != nil {
		return nil, err
	}
	return roaring.And(raw, universe), nil
}

func (e *Engine) evalWord(ctx context.Context, account uint32, collection schema.Collection, field schema.PropertyID, word string) (*roaring.Bitmap, error) {
	exact, err := e.bitmapAt(ctx, keycodec.Bitmap(account, byte(collection), byte(field), []byte(word), true))
	if err != nil {
		return nil, err
	}
	lang := fts.Detect(word)
	if lang == fts.LangUnknown {
		lang = e.defaultLanguage
	}
	if stemmed := fts.Stem(word, lang); stemmed != "" && stemmed != word {
		stemBM, err := e.bitmapAt(ctx, keycodec.Bitmap(account, byte(collection), byte(field), []byte(stemmed), false))
		if err != nil {
			return nil, err
		}
		exact.Or(stemBM)
	}
	return exact, nil
}

func (e *Engine) evalPhrase(ctx context.Context, account uint32, collection schema.Collection, field schema.PropertyID, phrase []string) (*roaring.Bitmap, error) {
	if len(phrase) == 0 {
		return roaring.New(), nil
	}
	candidates, err := e.bitmapAt(ctx, keycodec.Bitmap(account, byte(collection), byte(field), []byte(phrase[0]), true))
	if err != nil {
		return nil, err
	}
	for _, term := range phrase[1:] {
		bm, err := e.bitmapAt(ctx, keycodec.Bitmap(account, byte(collection), byte(field), []byte(term), true))
		if err != nil {
			return nil, err
		}
		candidates.And(bm)
	}

	result := roaring.New()
	it := candidates.Iterator()
	for it.HasNext() {
		docID := it.Next()
		hashKey := keycodec.Values(account, byte(collection), docID, keycodec.TermIndexField(byte(field)))
		hash, err := e.kv.Get(ctx, hashKey)
		if err == kv.ErrKeyNotFound {
			continue
		}
		if err != nil {
			return nil, storeerr.ErrInternal.WithDetails("reading term index for document").WithCause(err)
		}
		blobBytes, err := e.blobs.Get(ctx, hash, 0, 0)
		if err != nil {
			return nil, storeerr.ErrInternal.WithDetails("reading term index blob for document").WithCause(err)
		}
		entries, err := fts.ParseTermIndex(blobBytes)
		if err != nil {
			return nil, storeerr.ErrInternal.WithDetails("corrupted term index for document").WithCause(err)
		}
		if fts.MatchPhrase(entries, phrase) {
			result.Add(docID)
		}
	}
	return result, nil
}

func (e *Engine) evalRange(ctx context.Context, account uint32, collection schema.Collection, field schema.PropertyID, op RangeOp, target document.Value) (*roaring.Bitmap, error) {
	targetBytes, err := sortKeyBytes(target)
	if err != nil {
		return nil, err
	}

	prefix := keycodec.IndexFieldPrefix(account, byte(collection), byte(field))
	it, err := e.kv.NewIterator(ctx, prefix, kv.Forward)
	if err != nil {
		return nil, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	defer it.Close()

	result := roaring.New()
	for it.Next() {
		key := it.Key()
		if len(key) < len(prefix)+4 {
			continue
		}
		valueBytes := key[len(prefix) : len(key)-4]
		docID := beUint32(key[len(key)-4:])

		cmp := bytes.Compare(valueBytes, targetBytes)
		var match bool
		switch op {
		case RangeEQ:
			match = cmp == 0
		case RangeGT:
			match = cmp > 0
		case RangeGTE:
			match = cmp >= 0
		case RangeLT:
			match = cmp < 0
		case RangeLTE:
			match = cmp <= 0
		}
		if match {
			result.Add(docID)
		}
	}
	return result, nil
}

func sortKeyBytes(v document.Value) ([]byte, error) {
	switch v.Type {
	case schema.TypeUint:
		return keycodec.EncodeUint64(v.Uint), nil
	case schema.TypeInt:
		return keycodec.EncodeInt64(v.Int), nil
	case schema.TypeText:
		return keycodec.EncodeString(v.Text), nil
	default:
		return nil, storeerr.ErrUnsupportedFilter.WithDetails("range condition operand has no order-preserving encoding")
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// sortIDs reorders ids in place per comparators, applying each in turn as
// a tie-break on the previous, with document id ascending as the final
// tie-break.
func (e *Engine) sortIDs(ctx context.Context, account uint32, collection schema.Collection, sc *schema.CollectionSchema, ids []uint32, comparators []Comparator) error {
	if len(comparators) == 0 {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return nil
	}

	docs := make(map[uint32]*document.Document, len(ids))
	needsDoc := false
	for _, c := range comparators {
		if c.Kind == SortField {
			needsDoc = true
		}
	}
	if needsDoc {
		for _, id := range ids {
			raw, err := e.kv.Get(ctx, keycodec.Values(account, byte(collection), id, 0xFF))
			if err != nil {
				continue // a doc missing from Values mid-sort is treated as "sorts last"
			}
			doc, err := document.Decode(account, collection, id, raw)
			if err != nil {
				return storeerr.ErrCorrupted.WithCause(err)
			}
			docs[id] = doc
		}
	}

	var sortErr error
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		for _, c := range comparators {
			less, equal, err := compareOne(c, sc, docs, a, b)
			if err != nil {
				sortErr = err
				return false
			}
			if !equal {
				return less
			}
		}
		return a < b
	})
	return sortErr
}

func compareOne(c Comparator, sc *schema.CollectionSchema, docs map[uint32]*document.Document, a, b uint32) (less, equal bool, err error) {
	switch c.Kind {
	case SortDocumentSet:
		aIn, bIn := c.DocumentSet != nil && c.DocumentSet.Contains(a), c.DocumentSet != nil && c.DocumentSet.Contains(b)
		if aIn == bIn {
			return false, true, nil
		}
		if c.Ascending {
			return aIn, false, nil // members first
		}
		return bIn, false, nil // members last

	case SortField:
		f, ok := sc.Field(c.Field)
		if !ok {
			return false, false, storeerr.ErrUnsupportedSort
		}
		av, aok := valueOf(docs[a], c.Field)
		bv, bok := valueOf(docs[b], c.Field)
		if aok != bok {
			return aok, false, nil // missing values sort last regardless of direction
		}
		cmp := compareValues(f, av, aok, bv, bok)
		if cmp == 0 {
			return false, true, nil
		}
		if c.Ascending {
			return cmp < 0, false, nil
		}
		return cmp > 0, false, nil

	default:
		return false, true, nil
	}
}

func valueOf(doc *document.Document, field schema.PropertyID) (document.Value, bool) {
	if doc == nil {
		return document.Value{}, false
	}
	v, ok := doc.Properties[field]
	return v, ok
}

func compareValues(f schema.FieldSchema, a document.Value, aok bool, b document.Value, bok bool) int {
	if !aok && !bok {
		return 0
	}
	if !aok {
		return 1 // missing values sort last regardless of direction
	}
	if !bok {
		return -1
	}
	switch f.Type {
	case schema.TypeUint:
		return cmpUint64(a.Uint, b.Uint)
	case schema.TypeInt:
		return cmpInt64(a.Int, b.Int)
	case schema.TypeFloat:
		return cmpFloat64(a.Float, b.Float)
	case schema.TypeText:
		return bytes.Compare([]byte(a.Text), []byte(b.Text))
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// paginate applies position/anchor + limit over an already-sorted id
// slice.
func paginate(ids []uint32, p Page) []uint32 {
	start := 0
	switch {
	case p.AnchorSet:
		idx := indexOf(ids, p.Anchor)
		if idx < 0 {
			return nil
		}
		start = clamp(idx+int(p.AnchorOffset), 0, len(ids))
	case p.PositionSet:
		if p.Position >= 0 {
			start = clamp(int(p.Position), 0, len(ids))
		} else {
			start = clamp(len(ids)+int(p.Position), 0, len(ids))
		}
	}

	end := len(ids)
	if p.Limit > 0 && start+int(p.Limit) < end {
		end = start + int(p.Limit)
	}
	if start >= end {
		return nil
	}
	return append([]uint32{}, ids[start:end]...)
}

func indexOf(ids []uint32, id uint32) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
