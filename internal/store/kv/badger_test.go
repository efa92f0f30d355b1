package kv

import (
	"bytes"
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

func newEngine(t *testing.T) *BadgerEngine {
	t.Helper()
	e, err := Open(DefaultConfig(t.TempDir()), logger.Default())
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestBatchCommitsAllOperations(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	b := &Batch{}
	b.Put([]byte("Va"), []byte("1"))
	b.Put([]byte("Ia"), []byte("2"))
	b.Put([]byte("Ga"), []byte("3"))
	if err := e.Write(ctx, b); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, k := range []string{"Va", "Ia", "Ga"} {
		if _, err := e.Get(ctx, []byte(k)); err != nil {
			t.Fatalf("key %q should exist after batch commit: %v", k, err)
		}
	}
}

func TestBatchDeleteRemovesKey(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	b := &Batch{}
	b.Put([]byte("Vk"), []byte("v"))
	if err := e.Write(ctx, b); err != nil {
		t.Fatalf("write: %v", err)
	}

	b = &Batch{}
	b.Delete([]byte("Vk"))
	if err := e.Write(ctx, b); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.Get(ctx, []byte("Vk")); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestBitmapMergeSetsAndClearsBits(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	key := keycodec.Bitmap(1, 'M', 0xFE, nil, true)

	b := &Batch{}
	b.Merge(key, EncodeBitmapSetDelta(roaring.BitmapOf(1, 2, 3)))
	b.Merge(key, EncodeBitmapClearDelta(roaring.BitmapOf(2)))
	if err := e.Write(ctx, b); err != nil {
		t.Fatalf("write merges: %v", err)
	}

	raw, err := e.Get(ctx, key)
	if err != nil {
		t.Fatalf("get merged bitmap: %v", err)
	}
	bm := roaring.New()
	if _, err := bm.FromBuffer(raw); err != nil {
		t.Fatalf("decode bitmap: %v", err)
	}
	if !bm.Contains(1) || bm.Contains(2) || !bm.Contains(3) {
		t.Fatalf("expected {1,3}, got %v", bm.ToArray())
	}
}

func TestRefcountMergeAccumulates(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	key := keycodec.BlobRefcount(bytes.Repeat([]byte{0xAB}, 36))

	for _, d := range []int64{1, 1, 1, -2} {
		b := &Batch{}
		b.Merge(key, EncodeRefcountDelta(d))
		if err := e.Write(ctx, b); err != nil {
			t.Fatalf("merge %d: %v", d, err)
		}
	}

	raw, err := e.Get(ctx, key)
	if err != nil {
		t.Fatalf("get refcount: %v", err)
	}
	if got := DecodeRefcount(raw); got != 1 {
		t.Fatalf("expected refcount 1, got %d", got)
	}
}

func TestMergeOnUnregisteredFamilyFails(t *testing.T) {
	e := newEngine(t)
	b := &Batch{}
	b.Merge([]byte("Vno-merge-here"), []byte("x"))
	if err := e.Write(context.Background(), b); err == nil {
		t.Fatalf("expected an error merging on the Values family")
	}
}

func TestIteratorWalksPrefixInBothDirections(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	b := &Batch{}
	for _, k := range []string{"Ia1", "Ia2", "Ia3", "Ib1"} {
		b.Put([]byte(k), nil)
	}
	if err := e.Write(ctx, b); err != nil {
		t.Fatalf("write: %v", err)
	}

	collect := func(dir Direction) []string {
		it, err := e.NewIterator(ctx, []byte("Ia"), dir)
		if err != nil {
			t.Fatalf("iterator: %v", err)
		}
		defer it.Close()
		var out []string
		for it.Next() {
			out = append(out, string(it.Key()))
		}
		return out
	}

	fwd := collect(Forward)
	if len(fwd) != 3 || fwd[0] != "Ia1" || fwd[2] != "Ia3" {
		t.Fatalf("forward scan wrong: %v", fwd)
	}
	bwd := collect(Backward)
	if len(bwd) != 3 || bwd[0] != "Ia3" || bwd[2] != "Ia1" {
		t.Fatalf("backward scan wrong: %v", bwd)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	b := &Batch{}
	b.Put([]byte("Vsnap"), []byte("payload"))
	if err := e.Write(ctx, b); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := e.SaveSnapshot(ctx)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	defer r.Close()

	restored := newEngine(t)
	if err := restored.LoadSnapshot(ctx, r); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	got, err := restored.Get(ctx, []byte("Vsnap"))
	if err != nil {
		t.Fatalf("get after restore: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected restored payload, got %q", got)
	}
}
