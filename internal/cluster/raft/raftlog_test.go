package raft

import (
	"context"
	"testing"

	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

func newLogEngine(t *testing.T) kv.Engine {
	t.Helper()
	engine, err := kv.Open(kv.DefaultConfig(t.TempDir()), logger.Default())
	if err != nil {
		t.Fatalf("open kv engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func appendEntry(t *testing.T, engine kv.Engine, term, index uint64, account uint32, c schema.Collection) {
	t.Helper()
	bit, ok := c.Bit()
	if !ok {
		t.Fatalf("collection %v has no bit", c)
	}
	b := &kv.Batch{}
	b.Put(keycodec.RaftLog(term, index), keycodec.EncodeRaftEntry(account, 1<<bit))
	if err := engine.Write(context.Background(), b); err != nil {
		t.Fatalf("append raft entry: %v", err)
	}
}

func TestGetLastLogOnEmptyLog(t *testing.T) {
	engine := newLogEngine(t)
	_, found, err := GetLastLog(context.Background(), engine)
	if err != nil {
		t.Fatalf("get last log: %v", err)
	}
	if found {
		t.Fatalf("expected no entry on a fresh log")
	}
}

func TestGetLastLogReturnsTail(t *testing.T) {
	engine := newLogEngine(t)
	appendEntry(t, engine, 1, 1, 7, schema.CollectionMail)
	appendEntry(t, engine, 1, 2, 7, schema.CollectionMailbox)
	appendEntry(t, engine, 2, 3, 8, schema.CollectionMail)

	last, found, err := GetLastLog(context.Background(), engine)
	if err != nil || !found {
		t.Fatalf("get last log: found=%v err=%v", found, err)
	}
	if last.Term != 2 || last.Index != 3 || last.Account != 8 {
		t.Fatalf("expected (2,3) account 8, got (%d,%d) account %d", last.Term, last.Index, last.Account)
	}
}

func TestNeighborLookups(t *testing.T) {
	engine := newLogEngine(t)
	ctx := context.Background()
	appendEntry(t, engine, 1, 1, 1, schema.CollectionMail)
	appendEntry(t, engine, 1, 2, 1, schema.CollectionMail)
	appendEntry(t, engine, 2, 3, 1, schema.CollectionMail)

	prev, found, err := GetPrevRaftID(ctx, engine, 2, 3)
	if err != nil || !found {
		t.Fatalf("prev: found=%v err=%v", found, err)
	}
	if prev.Term != 1 || prev.Index != 2 {
		t.Fatalf("expected prev (1,2), got (%d,%d)", prev.Term, prev.Index)
	}

	next, found, err := GetNextRaftID(ctx, engine, 1, 1)
	if err != nil || !found {
		t.Fatalf("next: found=%v err=%v", found, err)
	}
	if next.Term != 1 || next.Index != 2 {
		t.Fatalf("expected next (1,2), got (%d,%d)", next.Term, next.Index)
	}

	if _, found, _ := GetNextRaftID(ctx, engine, 2, 3); found {
		t.Fatalf("tail entry must have no successor")
	}
	if _, found, _ := GetPrevRaftID(ctx, engine, 1, 1); found {
		t.Fatalf("head entry must have no predecessor")
	}
}

func TestCompactLogLeavesSnapshotEntry(t *testing.T) {
	engine := newLogEngine(t)
	ctx := context.Background()
	appendEntry(t, engine, 1, 1, 1, schema.CollectionMail)
	appendEntry(t, engine, 1, 2, 2, schema.CollectionMailbox)
	appendEntry(t, engine, 1, 3, 1, schema.CollectionMailbox)
	appendEntry(t, engine, 1, 4, 3, schema.CollectionMail)

	if err := CompactLog(ctx, engine, 3); err != nil {
		t.Fatalf("compact: %v", err)
	}

	// The first remaining entry is the snapshot at index 3.
	first, found, err := GetNextRaftID(ctx, engine, 0, 0)
	if err != nil || !found {
		t.Fatalf("first entry: found=%v err=%v", found, err)
	}
	if first.Index != 3 || !first.IsSnapshot() {
		t.Fatalf("expected snapshot at index 3, got index %d snapshot=%v", first.Index, first.IsSnapshot())
	}

	mailBit, _ := schema.CollectionMail.Bit()
	mailboxBit, _ := schema.CollectionMailbox.Bit()
	wantAccount1 := uint64(1<<mailBit | 1<<mailboxBit)
	foundAccount1 := false
	for mask, accounts := range first.Snapshot {
		for _, a := range accounts {
			if a == 1 {
				foundAccount1 = true
				if mask != wantAccount1 {
					t.Fatalf("account 1 mask: want %b, got %b", wantAccount1, mask)
				}
			}
		}
	}
	if !foundAccount1 {
		t.Fatalf("snapshot should cover account 1: %v", first.Snapshot)
	}

	// The uncompacted tail is untouched.
	last, found, err := GetLastLog(ctx, engine)
	if err != nil || !found {
		t.Fatalf("last: found=%v err=%v", found, err)
	}
	if last.Index != 4 || last.Account != 3 {
		t.Fatalf("expected tail (_,4) account 3, got (%d,%d) account %d", last.Term, last.Index, last.Account)
	}
}

func TestCompactLogFoldsPriorSnapshot(t *testing.T) {
	engine := newLogEngine(t)
	ctx := context.Background()
	appendEntry(t, engine, 1, 1, 5, schema.CollectionMail)
	if err := CompactLog(ctx, engine, 1); err != nil {
		t.Fatalf("first compact: %v", err)
	}
	appendEntry(t, engine, 1, 2, 5, schema.CollectionMailbox)
	if err := CompactLog(ctx, engine, 2); err != nil {
		t.Fatalf("second compact: %v", err)
	}

	last, found, err := GetLastLog(ctx, engine)
	if err != nil || !found || !last.IsSnapshot() {
		t.Fatalf("expected a snapshot tail, found=%v err=%v", found, err)
	}
	mailBit, _ := schema.CollectionMail.Bit()
	mailboxBit, _ := schema.CollectionMailbox.Bit()
	want := uint64(1<<mailBit | 1<<mailboxBit)
	got, ok := last.Snapshot[want]
	if !ok || len(got) != 1 || got[0] != 5 {
		t.Fatalf("expected account 5 under mask %b, got %v", want, last.Snapshot)
	}
}

func TestSingleNodeAllocatorResumesFromTail(t *testing.T) {
	engine := newLogEngine(t)
	ctx := context.Background()
	appendEntry(t, engine, 4, 17, 1, schema.CollectionMail)

	alloc, err := NewSingleNodeAllocator(ctx, engine)
	if err != nil {
		t.Fatalf("seed allocator: %v", err)
	}
	term, index, err := alloc.AssignRaftID(ctx)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if term != 4 || index != 18 {
		t.Fatalf("expected (4,18), got (%d,%d)", term, index)
	}
}
