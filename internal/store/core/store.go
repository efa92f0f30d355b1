// Package core assembles the storage components into the store boundary
// protocol front-ends consume: atomic writes, document/tag/bitmap
// reads, change-log reads with collapse, queries, blob access, and
// principal resolution — one facade over the write pipeline, query
// engine, change log, blob store, and ACL resolver so callers never
// reach into the KV engine or key codec directly.
package core

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nyxmail/corestore/internal/acl"
	"github.com/nyxmail/corestore/internal/store/blob"
	"github.com/nyxmail/corestore/internal/store/changelog"
	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/query"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/internal/store/write"
	"github.com/nyxmail/corestore/pkg/cmap"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// Store is the boundary facade. All methods are safe for concurrent use.
type Store struct {
	engine     kv.Engine
	schemas    *schema.Registry
	pipeline   *write.Pipeline
	queries    *query.Engine
	blobs      *blob.Store
	changes    *changelog.Log
	principals *acl.PrincipalResolver

	createMu    sync.Mutex // guards first-use creation in the two maps below
	allocators  *cmap.Map[string, *idAllocator]
	threadLocks *cmap.Map[uint32, *sync.Mutex]
}

// New wires a Store from the already-constructed storage components.
func New(engine kv.Engine, schemas *schema.Registry, pipeline *write.Pipeline, queries *query.Engine, blobs *blob.Store, changes *changelog.Log, principals *acl.PrincipalResolver) *Store {
	return &Store{
		engine:      engine,
		schemas:     schemas,
		pipeline:    pipeline,
		queries:     queries,
		blobs:       blobs,
		changes:     changes,
		principals:  principals,
		allocators:  cmap.New[string, *idAllocator](),
		threadLocks: cmap.New[uint32, *sync.Mutex](),
	}
}

// Write applies wb atomically and returns the assigned change id plus the
// bitmap of collections touched.
func (s *Store) Write(ctx context.Context, wb *write.WriteBatch) (*write.Changes, error) {
	return s.pipeline.Write(ctx, wb)
}

// GetDocumentValue returns one stored property of a document. present is
// false when the document exists but does not carry the property.
func (s *Store) GetDocumentValue(ctx context.Context, account uint32, collection schema.Collection, doc uint32, field schema.PropertyID) (document.Value, bool, error) {
	sc := s.schemas.Get(collection)
	if sc == nil {
		return document.Value{}, false, storeerr.ErrInvalidProperty.WithDetails("unknown collection")
	}
	if _, ok := sc.Field(field); !ok {
		return document.Value{}, false, storeerr.ErrInvalidProperty.WithDetails("property not declared by collection schema")
	}
	d, err := s.loadDocument(ctx, account, collection, doc)
	if err != nil {
		return document.Value{}, false, err
	}
	v, ok := d.Properties[field]
	return v, ok, nil
}

// GetDocument loads a full document.
func (s *Store) GetDocument(ctx context.Context, account uint32, collection schema.Collection, doc uint32) (*document.Document, error) {
	return s.loadDocument(ctx, account, collection, doc)
}

// GetDocumentIDs returns the live-set bitmap for (account, collection).
// The returned bitmap is a private copy; callers may mutate it.
func (s *Store) GetDocumentIDs(ctx context.Context, account uint32, collection schema.Collection) (*roaring.Bitmap, error) {
	return s.bitmapAt(ctx, keycodec.Bitmap(account, byte(collection), liveSetField, nil, true))
}

// GetTag returns the bitmap of document ids carrying tag under field.
func (s *Store) GetTag(ctx context.Context, account uint32, collection schema.Collection, field schema.PropertyID, tag string) (*roaring.Bitmap, error) {
	return s.bitmapAt(ctx, keycodec.Bitmap(account, byte(collection), byte(field), []byte(tag), true))
}

// DocumentHasTag reports whether a single document currently carries tag
// under field — the point lookup behind get_document_tag_id.
func (s *Store) DocumentHasTag(ctx context.Context, account uint32, collection schema.Collection, doc uint32, field schema.PropertyID, tag string) (bool, error) {
	bm, err := s.GetTag(ctx, account, collection, field, tag)
	if err != nil {
		return false, err
	}
	return bm.Contains(doc), nil
}

// Exists reports whether a document id is live in (account, collection).
func (s *Store) Exists(ctx context.Context, account uint32, collection schema.Collection, doc uint32) (bool, error) {
	_, err := s.engine.Get(ctx, keycodec.Values(account, byte(collection), doc, documentBlobField))
	if err == kv.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	return true, nil
}

// GetChanges reads the change log for (account, collection) and collapses
// overlapping operations, one net record per id.
func (s *Store) GetChanges(ctx context.Context, account uint32, collection schema.Collection, q changelog.Query) (*changelog.Collapsed, error) {
	entries, err := s.changes.GetChanges(ctx, account, collection, q)
	if err != nil {
		return nil, err
	}
	return changelog.Collapse(entries), nil
}

// QueryPair is one result of a mail query: the thread the document
// belongs to and the document itself.
type QueryPair struct {
	ThreadID   uint32
	DocumentID uint32
}

// Query evaluates filter and sort against (account, collection),
// returning ordered document ids.
func (s *Store) Query(ctx context.Context, account uint32, collection schema.Collection, filter *query.Filter, comparators []query.Comparator, p query.Page) (*query.Result, error) {
	return s.queries.Query(ctx, account, collection, filter, comparators, p)
}

// QueryMail evaluates a query against the Mail collection and returns
// (thread_id, document_id) pairs in sort order, resolving each result's
// thread id from its stored properties.
func (s *Store) QueryMail(ctx context.Context, account uint32, filter *query.Filter, comparators []query.Comparator, p query.Page) ([]QueryPair, error) {
	res, err := s.queries.Query(ctx, account, schema.CollectionMail, filter, comparators, p)
	if err != nil {
		return nil, err
	}
	pairs := make([]QueryPair, 0, len(res.DocumentIDs))
	for _, id := range res.DocumentIDs {
		d, err := s.loadDocument(ctx, account, schema.CollectionMail, id)
		if err != nil {
			return nil, err
		}
		v := d.Properties[schema.PropMailThreadID]
		pairs = append(pairs, QueryPair{ThreadID: uint32(v.Uint), DocumentID: id})
	}
	return pairs, nil
}

// BlobStore writes data content-addressed and returns the canonical hash key.
func (s *Store) BlobStore(ctx context.Context, data []byte) ([]byte, error) {
	return s.blobs.StoreBytes(ctx, data)
}

// BlobGet reads the byte range [start, end) of a stored blob; end == 0
// reads to EOF.
func (s *Store) BlobGet(ctx context.Context, hash []byte, start, end int64) ([]byte, error) {
	return s.blobs.Get(ctx, hash, start, end)
}

// BlobLink records that a document references hash, incrementing the refcount.
func (s *Store) BlobLink(ctx context.Context, hash []byte, account uint32, collection schema.Collection, doc uint32) error {
	return s.blobs.Link(ctx, hash, account, byte(collection), doc)
}

// BlobAccountHasAccess reports whether account may fetch hash.
func (s *Store) BlobAccountHasAccess(ctx context.Context, hash []byte, account uint32) (bool, error) {
	return s.blobs.AccountHasAccess(ctx, hash, account)
}

// PrincipalToID resolves a normalized email to the owning account id.
func (s *Store) PrincipalToID(ctx context.Context, email string) (uint32, error) {
	return s.principals.PrincipalToID(ctx, email)
}

// PrincipalToEmail resolves a principal id back to its primary email.
func (s *Store) PrincipalToEmail(ctx context.Context, principalID uint32) (string, error) {
	return s.principals.PrincipalToEmail(ctx, principalID)
}

// ExpandRecipient expands an email to the account ids mail for it should
// be delivered to (one for an individual or alias, the member list for a
// mailing list).
func (s *Store) ExpandRecipient(ctx context.Context, email string) ([]uint32, error) {
	return s.principals.ExpandRecipient(ctx, email)
}

// Authenticate verifies email+secret against the directory and returns
// the authenticated account id.
func (s *Store) Authenticate(ctx context.Context, email, secret string) (uint32, error) {
	return s.principals.Authenticate(ctx, email, secret)
}

// ChangeLog exposes the underlying change-log reader for cluster catch-up.
func (s *Store) ChangeLog() *changelog.Log { return s.changes }

// Pipeline exposes the write pipeline for callers that need ApplyAt
// (the Raft FSM) rather than the leader-side Write path.
func (s *Store) Pipeline() *write.Pipeline { return s.pipeline }

const (
	// liveSetField is the reserved Bitmaps field id the write pipeline
	// stores the per-collection live-set bitmap under.
	liveSetField = 0xFE
	// documentBlobField is the reserved Values field id holding the
	// serialized document property blob.
	documentBlobField = 0xFF
)

func (s *Store) loadDocument(ctx context.Context, account uint32, collection schema.Collection, id uint32) (*document.Document, error) {
	raw, err := s.engine.Get(ctx, keycodec.Values(account, byte(collection), id, documentBlobField))
	if err == kv.ErrKeyNotFound {
		return nil, storeerr.ErrDocumentNotFound
	}
	if err != nil {
		return nil, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	return document.Decode(account, collection, id, raw)
}

func (s *Store) bitmapAt(ctx context.Context, key []byte) (*roaring.Bitmap, error) {
	raw, err := s.engine.Get(ctx, key)
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
