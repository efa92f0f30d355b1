package query

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/nyxmail/corestore/internal/store/blob"
	"github.com/nyxmail/corestore/internal/store/changelog"
	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/fts"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/internal/store/write"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

// testRaftIDs is a single-node stand-in for internal/cluster/raft,
// assigning monotonically increasing indices under a fixed term.
type testRaftIDs struct{ next uint64 }

func (r *testRaftIDs) AssignRaftID(ctx context.Context) (uint64, uint64, error) {
	return 1, atomic.AddUint64(&r.next, 1), nil
}

type testHarness struct {
	engine   kv.Engine
	blobs    *blob.Store
	schemas  *schema.Registry
	pipeline *write.Pipeline
	qe       *Engine
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	engine, err := kv.Open(kv.DefaultConfig(t.TempDir()), logger.Default())
	if err != nil {
		t.Fatalf("open kv engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	blobs, err := blob.New(engine, blob.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}

	schemas := schema.NewRegistry()
	indexer := fts.NewIndexer(fts.LangEnglish)
	changes := changelog.New(engine)
	pipeline := write.NewPipeline(engine, schemas, indexer, blobs, changes, &testRaftIDs{})

	return &testHarness{
		engine:   engine,
		blobs:    blobs,
		schemas:  schemas,
		pipeline: pipeline,
		qe:       New(engine, blobs, schemas, fts.LangEnglish),
	}
}

func (h *testHarness) insertMail(t *testing.T, id uint32, subject string, receivedAt uint64) {
	t.Helper()
	ctx := context.Background()

	hash, err := h.blobs.StoreBytes(ctx, []byte("raw message bytes"))
	if err != nil {
		t.Fatalf("store blob: %v", err)
	}

	doc := document.New(1, schema.CollectionMail, id)
	doc.Set(schema.PropMailSubject, document.TextValue(subject))
	doc.Set(schema.PropMailFrom, document.TextValue("alice@example.com"))
	doc.Set(schema.PropMailReceivedAt, document.UintValue(receivedAt))
	doc.Set(schema.PropMailMessageID, document.TextValue("msg-"+subject))
	doc.Set(schema.PropMailThreadID, document.UintValue(uint64(id)))
	doc.Set(schema.PropMailBlobID, document.BlobValue(hash))

	_, err = h.pipeline.Write(ctx, &write.WriteBatch{
		Account:    1,
		Collection: schema.CollectionMail,
		Ops:        []write.DocOp{{Kind: write.OpInsert, Document: doc}},
	})
	if err != nil {
		t.Fatalf("insert mail %d: %v", id, err)
	}
}

func TestRangeFilterAndDescendingSort(t *testing.T) {
	h := newHarness(t)
	h.insertMail(t, 1, "first", 100)
	h.insertMail(t, 2, "second", 200)
	h.insertMail(t, 3, "third", 300)

	filter := Leaf(Range(schema.PropMailReceivedAt, RangeGT, document.UintValue(150)))
	res, err := h.qe.Query(context.Background(), 1, schema.CollectionMail, filter,
		[]Comparator{ByField(schema.PropMailReceivedAt, false)}, Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.DocumentIDs) != 2 || res.DocumentIDs[0] != 3 || res.DocumentIDs[1] != 2 {
		t.Fatalf("expected [3, 2] descending by receivedAt, got %v", res.DocumentIDs)
	}
}

func TestWordFilterMatchesStemmedForm(t *testing.T) {
	h := newHarness(t)
	h.insertMail(t, 1, "loving this product", 1)
	h.insertMail(t, 2, "completely unrelated", 2)

	filter := Leaf(Word(schema.PropMailSubject, "loved"))
	res, err := h.qe.Query(context.Background(), 1, schema.CollectionMail, filter, nil, Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.DocumentIDs) != 1 || res.DocumentIDs[0] != 1 {
		t.Fatalf("expected doc 1 to match via stemmed form, got %v", res.DocumentIDs)
	}
}

func TestAndFilterShortCircuitsOnEmptyAccumulator(t *testing.T) {
	h := newHarness(t)
	h.insertMail(t, 1, "alpha", 1)

	filter := And(
		Leaf(Word(schema.PropMailSubject, "nonexistentterm")),
		Leaf(Word(schema.PropMailSubject, "alpha")),
	)
	res, err := h.qe.Query(context.Background(), 1, schema.CollectionMail, filter, nil, Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.DocumentIDs) != 0 {
		t.Fatalf("expected no matches, got %v", res.DocumentIDs)
	}
}

func TestNotFilterComplementsLiveSet(t *testing.T) {
	h := newHarness(t)
	h.insertMail(t, 1, "keepme", 1)
	h.insertMail(t, 2, "excludeme", 2)

	filter := Not(Leaf(Word(schema.PropMailSubject, "excludeme")))
	res, err := h.qe.Query(context.Background(), 1, schema.CollectionMail, filter, nil, Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.DocumentIDs) != 1 || res.DocumentIDs[0] != 1 {
		t.Fatalf("expected only doc 1, got %v", res.DocumentIDs)
	}
}

func TestPaginationLimitAndPosition(t *testing.T) {
	h := newHarness(t)
	h.insertMail(t, 1, "a", 10)
	h.insertMail(t, 2, "b", 20)
	h.insertMail(t, 3, "c", 30)

	res, err := h.qe.Query(context.Background(), 1, schema.CollectionMail, nil,
		[]Comparator{ByField(schema.PropMailReceivedAt, true)},
		Page{PositionSet: true, Position: 1, Limit: 1, CalculateTotal: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("expected total 3, got %d", res.Total)
	}
	if len(res.DocumentIDs) != 1 || res.DocumentIDs[0] != 2 {
		t.Fatalf("expected page [2], got %v", res.DocumentIDs)
	}
}

func TestUnsupportedFilterOnUnindexedProperty(t *testing.T) {
	h := newHarness(t)
	h.insertMail(t, 1, "a", 10)

	filter := Leaf(Range(schema.PropMailMessageID, RangeEQ, document.TextValue("msg-a")))
	if _, err := h.qe.Query(context.Background(), 1, schema.CollectionMail, filter, nil, Page{}); err == nil {
		t.Fatalf("expected an error for a range filter on a non-sort-indexed property")
	}
}
