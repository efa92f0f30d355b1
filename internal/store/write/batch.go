// Package write implements the write pipeline: it consumes a WriteBatch
// describing one or more Insert/Update/Delete document operations and
// produces one atomic multi-family KV write touching the live-set
// bitmap, Values, Indexes, tag Bitmaps, full-text postings, Blob
// link/unlink refcounts, ACL entries, a change-log entry, and a Raft log
// entry — all inside a single kv.Batch, so readers never observe a
// partial write.
package write

import (
	"context"
	"sync"

	"github.com/nyxmail/corestore/internal/store/blob"
	"github.com/nyxmail/corestore/internal/store/changelog"
	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/fts"
	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// OpKind selects the kind of document operation within a WriteBatch.
type OpKind byte

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

// DocOp is one document-level operation within a WriteBatch.
type DocOp struct {
	Kind     OpKind
	Document *document.Document // the desired post-write state (for OpDelete, only its ID is read)
}

// WriteBatch groups one or more document operations that must commit
// atomically, scoped to a single (account, collection) so the
// per-collection write lock can serialize it against concurrent writers.
type WriteBatch struct {
	Account    uint32
	Collection schema.Collection
	Ops        []DocOp
}

// Changes is returned by Write on success: the assigned change id (equal
// to the Raft index of the commit) and the bitmap of collections touched
// — here always the single collection the batch targeted, but kept as a
// set to match the Raft log entry's shape.
type Changes struct {
	ChangeID         uint64
	TouchedCollections map[schema.Collection]bool
}

// Pipeline owns the per-collection write locks and wires together the
// schema registry, full-text indexer, blob store, change log, and the
// raft-index allocator a caller supplies.
type Pipeline struct {
	engine   kv.Engine
	schemas  *schema.Registry
	indexer  *fts.Indexer
	blobs    *blob.Store
	changes  *changelog.Log
	nextRaft RaftIndexAllocator

	locksMu sync.Mutex
	locks   map[lockKey]*sync.Mutex
}

type lockKey struct {
	account    uint32
	collection schema.Collection
}

// RaftIndexAllocator assigns the next (term, index) under a shared
// counter; on a single-node deployment it can be a trivial atomic
// counter, on a cluster it is backed by internal/cluster/raft.
type RaftIndexAllocator interface {
	AssignRaftID(ctx context.Context) (term, index uint64, err error)
}

// NewPipeline wires a write pipeline from its dependencies.
func NewPipeline(engine kv.Engine, schemas *schema.Registry, indexer *fts.Indexer, blobs *blob.Store, changes *changelog.Log, raftIDs RaftIndexAllocator) *Pipeline {
	return &Pipeline{
		engine:   engine,
		schemas:  schemas,
		indexer:  indexer,
		blobs:    blobs,
		changes:  changes,
		nextRaft: raftIDs,
		locks:    make(map[lockKey]*sync.Mutex),
	}
}

// ChangeLog returns the change-log reader this pipeline appends to, so
// what Write has committed can be read back.
func (p *Pipeline) ChangeLog() *changelog.Log { return p.changes }

func (p *Pipeline) lockFor(account uint32, collection schema.Collection) *sync.Mutex {
	key := lockKey{account, collection}
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}

// Write applies wb atomically, assigning the commit its (term, index)
// from the pipeline's own RaftIndexAllocator. cmd/corestore-server calls
// Write in single-node and clustered mode alike, so its writes do not
// enter the Raft log. Only batches proposed through internal/cluster/raft's
// Node.Propose are applied through ApplyAt, at the (term, index) their log
// entry was committed at.
func (p *Pipeline) Write(ctx context.Context, wb *WriteBatch) (*Changes, error) {
	sc := p.schemas.Get(wb.Collection)
	if sc == nil {
		return nil, storeerr.ErrInvalidProperty.WithDetails("unknown collection")
	}

	lock := p.lockFor(wb.Account, wb.Collection)
	lock.Lock()
	defer lock.Unlock()

	builder, changeEntry, err := p.build(ctx, wb, sc)
	if err != nil {
		return nil, err
	}
	if changeEntry.Inserted == nil && changeEntry.Updated == nil && changeEntry.Deleted == nil {
		return &Changes{TouchedCollections: map[schema.Collection]bool{}}, nil
	}

	term, index, err := p.nextRaft.AssignRaftID(ctx)
	if err != nil {
		return nil, storeerr.ErrInternal.WithCause(err)
	}
	return p.commit(ctx, wb, builder, changeEntry, term, index)
}

// ApplyAt applies wb atomically using a (term, index) pair already
// committed elsewhere — the shape internal/cluster/raft's FSM needs,
// since a replicated Raft log entry's index is fixed at commit time and
// must not be re-derived independently on every replica. Unlike Write,
// it does not take the per-collection lock itself: the FSM applies log
// entries one at a time in log order, so no concurrent writer can exist
// for the same (account, collection) while Apply runs.
func (p *Pipeline) ApplyAt(ctx context.Context, wb *WriteBatch, term, index uint64) (*Changes, error) {
	sc := p.schemas.Get(wb.Collection)
	if sc == nil {
		return nil, storeerr.ErrInvalidProperty.WithDetails("unknown collection")
	}

	builder, changeEntry, err := p.build(ctx, wb, sc)
	if err != nil {
		return nil, err
	}
	if changeEntry.Inserted == nil && changeEntry.Updated == nil && changeEntry.Deleted == nil {
		return &Changes{TouchedCollections: map[schema.Collection]bool{}}, nil
	}
	return p.commit(ctx, wb, builder, changeEntry, term, index)
}

// build folds every document op in wb into a batchBuilder and the
// change-log entry describing it, without assigning a change id or
// writing anything.
func (p *Pipeline) build(ctx context.Context, wb *WriteBatch, sc *schema.CollectionSchema) (*batchBuilder, *changelog.Entry, error) {
	builder := &batchBuilder{
		engine:  p.engine,
		indexer: p.indexer,
		blobs:   p.blobs,
		account: wb.Account,
		coll:    wb.Collection,
		batch:   &kv.Batch{},
	}

	var changeEntry changelog.Entry
	for _, op := range wb.Ops {
		switch op.Kind {
		case OpInsert:
			if err := document.InsertValidate(op.Document, sc); err != nil {
				return nil, nil, err
			}
			if err := builder.insert(ctx, op.Document, sc); err != nil {
				return nil, nil, err
			}
			changeEntry.Inserted = append(changeEntry.Inserted, op.Document.ID)

		case OpUpdate:
			source, err := loadDocument(ctx, p.engine, wb.Account, wb.Collection, op.Document.ID)
			if err != nil {
				return nil, nil, err
			}
			diff, changed := document.Merge(source, op.Document)
			if !changed {
				continue
			}
			if err := document.MergeValidate(op.Document, sc); err != nil {
				return nil, nil, err
			}
			if err := builder.update(ctx, source, op.Document, diff, sc); err != nil {
				return nil, nil, err
			}
			changeEntry.Updated = append(changeEntry.Updated, op.Document.ID)

		case OpDelete:
			source, err := loadDocument(ctx, p.engine, wb.Account, wb.Collection, op.Document.ID)
			if err != nil {
				return nil, nil, err
			}
			if err := builder.delete(ctx, source, sc); err != nil {
				return nil, nil, err
			}
			changeEntry.Deleted = append(changeEntry.Deleted, op.Document.ID)
		}
	}
	return builder, &changeEntry, nil
}

// commit assigns changeEntry the id index, appends the change-log and
// raft-log entries to builder's batch, and writes it atomically.
func (p *Pipeline) commit(ctx context.Context, wb *WriteBatch, builder *batchBuilder, changeEntry *changelog.Entry, term, index uint64) (*Changes, error) {
	changeEntry.ChangeID = index

	changelog.Append(builder.batch, wb.Account, wb.Collection, changeEntry)
	appendRaftEntry(builder.batch, term, index, wb.Account, wb.Collection)

	if err := p.engine.Write(ctx, builder.batch); err != nil {
		return nil, storeerr.ErrStorageUnavailable.WithCause(err)
	}

	return &Changes{
		ChangeID:           index,
		TouchedCollections: map[schema.Collection]bool{wb.Collection: true},
	}, nil
}

// Engine exposes the underlying KV engine so internal/cluster/raft can
// drive Raft snapshot persist/restore from the same storage the write
// pipeline commits into.
func (p *Pipeline) Engine() kv.Engine { return p.engine }

func appendRaftEntry(b *kv.Batch, term, index uint64, account uint32, collection schema.Collection) {
	var mask uint64
	if bit, ok := collection.Bit(); ok {
		mask = 1 << bit
	}
	b.Put(keycodec.RaftLog(term, index), keycodec.EncodeRaftEntry(account, mask))
}

func loadDocument(ctx context.Context, engine kv.Engine, account uint32, collection schema.Collection, id uint32) (*document.Document, error) {
	raw, err := engine.Get(ctx, keycodec.Values(account, byte(collection), id, 0xFF))
	if err != nil {
		if err == kv.ErrKeyNotFound {
			return nil, storeerr.ErrDocumentNotFound
		}
		return nil, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	return document.Decode(account, collection, id, raw)
}
