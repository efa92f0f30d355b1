package write

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/nyxmail/corestore/internal/store/blob"
	"github.com/nyxmail/corestore/internal/store/changelog"
	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/fts"
	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/query"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

type fixedRaftIDs struct{ next uint64 }

func (r *fixedRaftIDs) AssignRaftID(ctx context.Context) (uint64, uint64, error) {
	return 3, atomic.AddUint64(&r.next, 1), nil
}

type harness struct {
	engine   kv.Engine
	blobs    *blob.Store
	schemas  *schema.Registry
	changes  *changelog.Log
	pipeline *Pipeline
	qe       *query.Engine
}

func newHarness(t *testing.T) *harness {
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
	changes := changelog.New(engine)
	pipeline := NewPipeline(engine, schemas, fts.NewIndexer(fts.LangEnglish), blobs, changes, &fixedRaftIDs{})

	return &harness{
		engine:   engine,
		blobs:    blobs,
		schemas:  schemas,
		changes:  changes,
		pipeline: pipeline,
		qe:       query.New(engine, blobs, schemas, fts.LangEnglish),
	}
}

func (h *harness) mailDoc(t *testing.T, id uint32, subject, body string, receivedAt uint64) *document.Document {
	t.Helper()
	hash, err := h.blobs.StoreBytes(context.Background(), []byte("raw: "+subject))
	if err != nil {
		t.Fatalf("store blob: %v", err)
	}
	doc := document.New(1, schema.CollectionMail, id)
	doc.Set(schema.PropMailSubject, document.TextValue(subject))
	doc.Set(schema.PropMailFrom, document.TextValue("alice@example.com"))
	doc.Set(schema.PropMailReceivedAt, document.UintValue(receivedAt))
	doc.Set(schema.PropMailMessageID, document.TextValue("<"+subject+"@example.com>"))
	doc.Set(schema.PropMailThreadID, document.UintValue(uint64(id)))
	doc.Set(schema.PropMailBlobID, document.BlobValue(hash))
	if body != "" {
		doc.Set(schema.PropMailBody, document.TextValue(body))
	}
	return doc
}

func (h *harness) write(t *testing.T, op OpKind, doc *document.Document) *Changes {
	t.Helper()
	ch, err := h.pipeline.Write(context.Background(), &WriteBatch{
		Account:    doc.Account,
		Collection: doc.Collection,
		Ops:        []DocOp{{Kind: op, Document: doc}},
	})
	if err != nil {
		t.Fatalf("write op %d for doc %d: %v", op, doc.ID, err)
	}
	return ch
}

func TestInsertThenQueryByTag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.mailDoc(t, 10, "hello inbox", "", 100)
	doc.Tag(schema.PropMailMailboxIDs, "1")
	doc.Tag(schema.PropMailKeywords, "$seen")
	h.write(t, OpInsert, doc)

	res, err := h.qe.Query(ctx, 1, schema.CollectionMail,
		query.And(
			query.Leaf(query.Tag(schema.PropMailMailboxIDs, "1")),
			query.Leaf(query.Tag(schema.PropMailKeywords, "$seen")),
		), nil, query.Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.DocumentIDs) != 1 || res.DocumentIDs[0] != 10 {
		t.Fatalf("expected [10], got %v", res.DocumentIDs)
	}
}

func TestSortedRangeDescending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i, at := range []uint64{100, 200, 300} {
		h.write(t, OpInsert, h.mailDoc(t, uint32(i+1), "msg", "", at))
	}

	res, err := h.qe.Query(ctx, 1, schema.CollectionMail,
		query.Leaf(query.Range(schema.PropMailReceivedAt, query.RangeGT, document.UintValue(150))),
		[]query.Comparator{query.ByField(schema.PropMailReceivedAt, false)},
		query.Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	want := []uint32{3, 2}
	if len(res.DocumentIDs) != 2 || res.DocumentIDs[0] != want[0] || res.DocumentIDs[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, res.DocumentIDs)
	}
}

func TestPhraseSearchRejectsNearMiss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, OpInsert, h.mailDoc(t, 1, "a", "rustic bridge study", 1))
	h.write(t, OpInsert, h.mailDoc(t, 2, "b", "rustic study", 2))
	h.write(t, OpInsert, h.mailDoc(t, 3, "c", "rustic bent bridge study", 3))

	res, err := h.qe.Query(ctx, 1, schema.CollectionMail,
		query.Leaf(query.Phrase(schema.PropMailBody, "rustic", "bridge")),
		nil, query.Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.DocumentIDs) != 1 || res.DocumentIDs[0] != 1 {
		t.Fatalf("expected only doc 1 to match the phrase, got %v", res.DocumentIDs)
	}
}

func TestUpdateMovesSortedIndexEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.mailDoc(t, 5, "move me", "", 100)
	h.write(t, OpInsert, doc)

	modified := doc.Clone()
	modified.Set(schema.PropMailReceivedAt, document.UintValue(900))
	h.write(t, OpUpdate, modified)

	prefix := keycodec.IndexFieldPrefix(1, byte(schema.CollectionMail), byte(schema.PropMailReceivedAt))
	it, err := h.engine.NewIterator(ctx, prefix, kv.Forward)
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()

	var values []uint64
	for it.Next() {
		key := it.Key()
		valueBytes := key[len(prefix) : len(key)-4]
		if len(valueBytes) != 8 {
			t.Fatalf("unexpected index value width %d", len(valueBytes))
		}
		var v uint64
		for _, b := range valueBytes {
			v = v<<8 | uint64(b)
		}
		values = append(values, v)
	}
	if len(values) != 1 || values[0] != 900 {
		t.Fatalf("expected single index entry at 900, got %v", values)
	}
}

func TestDeleteClearsDerivedState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.mailDoc(t, 7, "bye", "transient body words", 50)
	doc.Tag(schema.PropMailMailboxIDs, "2")
	h.write(t, OpInsert, doc)

	blobHash := doc.Properties[schema.PropMailBlobID].Blob
	if rc, _ := h.blobs.Refcount(ctx, blobHash); rc != 1 {
		t.Fatalf("expected refcount 1 after insert, got %d", rc)
	}

	h.write(t, OpDelete, document.New(1, schema.CollectionMail, 7))

	if _, err := h.engine.Get(ctx, keycodec.Values(1, byte(schema.CollectionMail), 7, 0xFF)); err != kv.ErrKeyNotFound {
		t.Fatalf("document blob should be gone, got err=%v", err)
	}

	live, err := h.qe.Query(ctx, 1, schema.CollectionMail, nil, nil, query.Page{})
	if err != nil {
		t.Fatalf("query live set: %v", err)
	}
	if len(live.DocumentIDs) != 0 {
		t.Fatalf("live set should be empty, got %v", live.DocumentIDs)
	}

	tagged, err := h.qe.Query(ctx, 1, schema.CollectionMail,
		query.Leaf(query.Tag(schema.PropMailMailboxIDs, "2")), nil, query.Page{})
	if err != nil {
		t.Fatalf("query tag: %v", err)
	}
	if len(tagged.DocumentIDs) != 0 {
		t.Fatalf("tag bitmap should be cleared, got %v", tagged.DocumentIDs)
	}

	// The message blob and the body's term-index blob both lost their link.
	if rc, _ := h.blobs.Refcount(ctx, blobHash); rc != 0 {
		t.Fatalf("expected refcount 0 after delete, got %d", rc)
	}
}

func TestWriteAppendsChangeLogAndRaftEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ch := h.write(t, OpInsert, h.mailDoc(t, 1, "first", "", 10))
	if ch.ChangeID == 0 {
		t.Fatalf("expected a non-zero change id")
	}
	if !ch.TouchedCollections[schema.CollectionMail] {
		t.Fatalf("expected Mail in touched collections, got %v", ch.TouchedCollections)
	}

	entries, err := h.changes.GetChanges(ctx, 1, schema.CollectionMail, changelog.SinceQuery(0))
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if len(entries) != 1 || entries[0].ChangeID != ch.ChangeID {
		t.Fatalf("expected one change entry at id %d, got %+v", ch.ChangeID, entries)
	}

	raw, err := h.engine.Get(ctx, keycodec.RaftLog(3, ch.ChangeID))
	if err != nil {
		t.Fatalf("raft log entry missing: %v", err)
	}
	account, mask, ok := keycodec.DecodeRaftEntry(raw)
	if !ok {
		t.Fatalf("raft entry failed to decode: % x", raw)
	}
	if account != 1 {
		t.Fatalf("expected account 1, got %d", account)
	}
	bit, _ := schema.CollectionMail.Bit()
	if mask&(1<<bit) == 0 {
		t.Fatalf("raft entry mask %b should name the Mail collection", mask)
	}
}

func TestFailedValidationLeavesStoreUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Missing required fields: the batch must be rejected before any KV write.
	doc := document.New(1, schema.CollectionMail, 9)
	doc.Set(schema.PropMailSubject, document.TextValue("incomplete"))
	if _, err := h.pipeline.Write(ctx, &WriteBatch{
		Account: 1, Collection: schema.CollectionMail,
		Ops: []DocOp{{Kind: OpInsert, Document: doc}},
	}); err == nil {
		t.Fatalf("expected a schema violation")
	}

	res, err := h.qe.Query(ctx, 1, schema.CollectionMail, nil, nil, query.Page{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.DocumentIDs) != 0 {
		t.Fatalf("rejected batch must leave no trace, got %v", res.DocumentIDs)
	}
	entries, err := h.changes.GetChanges(ctx, 1, schema.CollectionMail, changelog.AllQuery())
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected batch must not log changes, got %d entries", len(entries))
	}
}
