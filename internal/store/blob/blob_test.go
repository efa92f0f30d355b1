package blob

import (
	"context"
	"testing"

	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kvDir := t.TempDir()
	blobDir := t.TempDir()

	engine, err := kv.Open(kv.DefaultConfig(kvDir), logger.Default())
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	s, err := New(engine, DefaultConfig(blobDir))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStoreBytesIsIdempotentByContentHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h1, err := s.StoreBytes(ctx, []byte("hello world"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	h2, err := s.StoreBytes(ctx, []byte("hello world"))
	if err != nil {
		t.Fatalf("store again: %v", err)
	}
	if string(h1) != string(h2) {
		t.Fatalf("expected identical content to produce identical hash")
	}

	got, err := s.Get(ctx, h1, 0, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("expected round-tripped bytes, got %q", got)
	}
}

func TestGetRespectsByteRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.StoreBytes(ctx, []byte("0123456789"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := s.Get(ctx, hash, 2, 5)
	if err != nil {
		t.Fatalf("get range: %v", err)
	}
	if string(got) != "234" {
		t.Fatalf("expected \"234\", got %q", got)
	}
}

func TestGetUnknownHashReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fake := Hash{Length: 3}
	if _, err := s.Get(ctx, fake.Bytes(), 0, 0); err == nil {
		t.Fatalf("expected an error for an unstored hash")
	}
}

func TestLinkAndUnlinkTrackRefcount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.StoreBytes(ctx, []byte("attachment bytes"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := s.Link(ctx, hash, 7, 'M', 1); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := s.Link(ctx, hash, 7, 'M', 2); err != nil {
		t.Fatalf("link: %v", err)
	}
	rc, err := s.Refcount(ctx, hash)
	if err != nil {
		t.Fatalf("refcount: %v", err)
	}
	if rc != 2 {
		t.Fatalf("expected refcount 2 after two links, got %d", rc)
	}

	if err := s.Unlink(ctx, hash, 7, 'M', 1); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	rc, err = s.Refcount(ctx, hash)
	if err != nil {
		t.Fatalf("refcount: %v", err)
	}
	if rc != 1 {
		t.Fatalf("expected refcount 1 after one unlink, got %d", rc)
	}
}

func TestPurgeReclaimsZeroRefcountBlobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.StoreBytes(ctx, []byte("orphaned"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Link(ctx, hash, 1, 'M', 1); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := s.Unlink(ctx, hash, 1, 'M', 1); err != nil {
		t.Fatalf("unlink: %v", err)
	}

	_, purgedBlobs, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purgedBlobs != 1 {
		t.Fatalf("expected 1 purged blob, got %d", purgedBlobs)
	}

	if _, err := s.Get(ctx, hash, 0, 0); err == nil {
		t.Fatalf("expected purged blob to be gone")
	}
}
