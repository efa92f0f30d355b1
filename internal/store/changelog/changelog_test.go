package changelog

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

func newTestEngine(t *testing.T) kv.Engine {
	t.Helper()
	engine, err := kv.Open(kv.DefaultConfig(t.TempDir()), logger.Default())
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

const testCollection = schema.Collection(1)

func appendEntry(t *testing.T, engine kv.Engine, account uint32, e *Entry) {
	t.Helper()
	b := &kv.Batch{}
	Append(b, account, testCollection, e)
	if err := engine.Write(context.Background(), b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestAppendOmitsEmptyEntry(t *testing.T) {
	engine := newTestEngine(t)
	appendEntry(t, engine, 1, &Entry{ChangeID: 5})

	log := New(engine)
	entries, err := log.GetChanges(context.Background(), 1, testCollection, AllQuery())
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected an empty entry to be skipped, got %d entries", len(entries))
	}
}

func TestGetChangesSinceIsExclusive(t *testing.T) {
	engine := newTestEngine(t)
	appendEntry(t, engine, 1, &Entry{ChangeID: 1, Inserted: []uint32{10}})
	appendEntry(t, engine, 1, &Entry{ChangeID: 2, Inserted: []uint32{11}})
	appendEntry(t, engine, 1, &Entry{ChangeID: 3, Updated: []uint32{10}})

	log := New(engine)
	entries, err := log.GetChanges(context.Background(), 1, testCollection, SinceQuery(1))
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if len(entries) != 2 || entries[0].ChangeID != 2 || entries[1].ChangeID != 3 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestGetChangesSinceInclusive(t *testing.T) {
	engine := newTestEngine(t)
	appendEntry(t, engine, 1, &Entry{ChangeID: 1, Inserted: []uint32{10}})
	appendEntry(t, engine, 1, &Entry{ChangeID: 2, Inserted: []uint32{11}})

	log := New(engine)
	entries, err := log.GetChanges(context.Background(), 1, testCollection, SinceInclusiveQuery(2))
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if len(entries) != 1 || entries[0].ChangeID != 2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLatestChangeIDReturnsHighest(t *testing.T) {
	engine := newTestEngine(t)
	appendEntry(t, engine, 1, &Entry{ChangeID: 1, Inserted: []uint32{10}})
	appendEntry(t, engine, 1, &Entry{ChangeID: 7, Updated: []uint32{10}})

	log := New(engine)
	latest, err := log.LatestChangeID(context.Background(), 1, testCollection)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != 7 {
		t.Fatalf("expected latest change id 7, got %d", latest)
	}
}

func TestCompactCollapsesHistoryIntoSnapshot(t *testing.T) {
	engine := newTestEngine(t)
	appendEntry(t, engine, 1, &Entry{ChangeID: 1, Inserted: []uint32{10}})
	appendEntry(t, engine, 1, &Entry{ChangeID: 2, Inserted: []uint32{11}})
	appendEntry(t, engine, 1, &Entry{ChangeID: 3, Deleted: []uint32{10}})

	live := roaring.New()
	live.Add(11)

	log := New(engine)
	if err := log.Compact(context.Background(), 1, testCollection, 3, live); err != nil {
		t.Fatalf("compact: %v", err)
	}

	entries, err := log.GetChanges(context.Background(), 1, testCollection, AllQuery())
	if err != nil {
		t.Fatalf("get changes: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected compaction to collapse to 1 entry, got %d", len(entries))
	}
	if entries[0].Snapshot == nil || !entries[0].Snapshot.Contains(11) {
		t.Fatalf("expected snapshot entry to contain live id 11")
	}
}

func TestCollapseUpdateKindPrefersUpdateOverChildUpdate(t *testing.T) {
	update, childUpdate := CollapseUpdateKind(true, true)
	if !update || childUpdate {
		t.Fatalf("expected Update to win over ChildUpdate, got update=%v childUpdate=%v", update, childUpdate)
	}

	update, childUpdate = CollapseUpdateKind(true, false)
	if update || !childUpdate {
		t.Fatalf("expected ChildUpdate alone to be preserved, got update=%v childUpdate=%v", update, childUpdate)
	}
}
