// Package changelog implements the per-(account, collection) ordered
// change log: one entry per committed write recording which document ids
// were inserted, updated, "child-updated" (a referenced object changed
// without the document's own properties changing), or deleted, plus
// compaction into periodic snapshot entries.
package changelog

import (
	"context"
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// Entry is one change-log record. ChangeID is assigned by the write
// pipeline from the Raft commit index, so change ids are monotonic and
// globally ordered per (account, collection).
type Entry struct {
	ChangeID     uint64
	Inserted     []uint32
	Updated      []uint32
	ChildUpdated []uint32
	Deleted      []uint32

	// Snapshot holds the bitmap of live document ids as of ChangeID, set
	// only on entries produced by Compact; nil on ordinary entries.
	Snapshot *roaring.Bitmap
}

func (e *Entry) isEmpty() bool {
	return len(e.Inserted)+len(e.Updated)+len(e.ChildUpdated)+len(e.Deleted) == 0 && e.Snapshot == nil
}

// Append serializes entry and stages it as a Put within batch, keyed
// under (account, collection, change_id). An empty entry (no ids in any
// list) is never written by the write pipeline, but GetChanges tolerates
// one being present on read regardless, since a compacted snapshot entry
// is legitimately "empty" of ordinary deltas.
func Append(batch *kv.Batch, account uint32, collection schema.Collection, entry *Entry) {
	if entry.isEmpty() {
		return
	}
	batch.Put(keycodec.ChangeLog(account, byte(collection), entry.ChangeID), encode(entry))
}

func encode(e *Entry) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte

	putUvarint := func(v uint64) {
		n := binary.PutUvarint(tmp[:], v)
		buf = append(buf, tmp[:n]...)
	}
	putIDs := func(ids []uint32) {
		putUvarint(uint64(len(ids)))
		for _, id := range ids {
			putUvarint(uint64(id))
		}
	}

	hasSnapshot := byte(0)
	if e.Snapshot != nil {
		hasSnapshot = 1
	}
	buf = append(buf, hasSnapshot)
	putIDs(e.Inserted)
	putIDs(e.Updated)
	putIDs(e.ChildUpdated)
	putIDs(e.Deleted)
	if e.Snapshot != nil {
		body, _ := e.Snapshot.ToBytes()
		putUvarint(uint64(len(body)))
		buf = append(buf, body...)
	}
	return buf
}

func decode(changeID uint64, buf []byte) (*Entry, error) {
	pos := 0
	readUvarint := func() (uint64, error) {
		v, n := binary.Uvarint(buf[pos:])
		if n <= 0 {
			return 0, storeerr.ErrLogCorrupt
		}
		pos += n
		return v, nil
	}
	readIDs := func() ([]uint32, error) {
		count, err := readUvarint()
		if err != nil {
			return nil, err
		}
		ids := make([]uint32, 0, count)
		for i := uint64(0); i < count; i++ {
			v, err := readUvarint()
			if err != nil {
				return nil, err
			}
			ids = append(ids, uint32(v))
		}
		return ids, nil
	}

	if len(buf) < 1 {
		return nil, storeerr.ErrLogCorrupt
	}
	hasSnapshot := buf[0]
	pos = 1

	e := &Entry{ChangeID: changeID}
	var err error
	if e.Inserted, err = readIDs(); err != nil {
		return nil, err
	}
	if e.Updated, err = readIDs(); err != nil {
		return nil, err
	}
	if e.ChildUpdated, err = readIDs(); err != nil {
		return nil, err
	}
	if e.Deleted, err = readIDs(); err != nil {
		return nil, err
	}
	if hasSnapshot == 1 {
		n, err := readUvarint()
		if err != nil {
			return nil, err
		}
		if pos+int(n) > len(buf) {
			return nil, storeerr.ErrLogCorrupt
		}
		bm := roaring.New()
		if _, err := bm.FromBuffer(buf[pos : pos+int(n)]); err != nil {
			return nil, storeerr.ErrLogCorrupt.WithCause(err)
		}
		e.Snapshot = bm
	}
	return e, nil
}

// Query selects which entries GetChanges returns.
type Query struct {
	All               bool
	Since             uint64 // exclusive lower bound
	SinceInclusive     uint64
	SinceInclusiveSet  bool
	RangeLo, RangeHi   uint64
	RangeSet           bool
}

// SinceQuery returns a Query matching every entry with change id > since.
func SinceQuery(since uint64) Query { return Query{Since: since} }

// SinceInclusiveQuery returns a Query matching every entry with change id >= since.
func SinceInclusiveQuery(since uint64) Query {
	return Query{SinceInclusive: since, SinceInclusiveSet: true}
}

// RangeInclusiveQuery returns a Query matching lo <= change id <= hi.
func RangeInclusiveQuery(lo, hi uint64) Query { return Query{RangeLo: lo, RangeHi: hi, RangeSet: true} }

// AllQuery returns a Query matching every entry in the log.
func AllQuery() Query { return Query{All: true} }

// Log reads the change log maintained by Append; it is handed to the
// write pipeline's Pipeline and to core.Store so both sides agree on
// entry encoding.
type Log struct {
	engine kv.Engine
}

// New wraps engine as a change-log reader.
func New(engine kv.Engine) *Log { return &Log{engine: engine} }

// GetChanges returns the entries for (account, collection) matching q, in
// ascending change-id order.
func (l *Log) GetChanges(ctx context.Context, account uint32, collection schema.Collection, q Query) ([]*Entry, error) {
	prefix := keycodec.ChangeLogCollectionPrefix(account, byte(collection))
	it, err := l.engine.NewIterator(ctx, prefix, kv.Forward)
	if err != nil {
		return nil, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	defer it.Close()

	var out []*Entry
	for it.Next() {
		key := it.Key()
		if len(key) < len(prefix)+8 {
			continue
		}
		changeID := binary.BigEndian.Uint64(key[len(prefix):])

		switch {
		case q.All:
		case q.RangeSet:
			if changeID < q.RangeLo || changeID > q.RangeHi {
				continue
			}
		case q.SinceInclusiveSet:
			if changeID < q.SinceInclusive {
				continue
			}
		default:
			if changeID <= q.Since {
				continue
			}
		}

		val, err := it.Value()
		if err != nil {
			return nil, storeerr.ErrStorageUnavailable.WithCause(err)
		}
		entry, err := decode(changeID, val)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// LatestChangeID returns the highest change id recorded for (account,
// collection), or 0 if no entry exists yet.
func (l *Log) LatestChangeID(ctx context.Context, account uint32, collection schema.Collection) (uint64, error) {
	prefix := keycodec.ChangeLogCollectionPrefix(account, byte(collection))
	it, err := l.engine.NewIterator(ctx, prefix, kv.Backward)
	if err != nil {
		return 0, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	defer it.Close()

	if !it.Next() {
		return 0, nil
	}
	key := it.Key()
	if len(key) < len(prefix)+8 {
		return 0, storeerr.ErrLogCorrupt
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), nil
}

// Compact replaces every entry with change id <= upTo with a single
// snapshot entry at upTo carrying the live-id bitmap, collapsing history
// a client fetching "changes since X > upTo" no longer needs. live is the
// current live-set bitmap for (account, collection), read from the
// Bitmaps family by the caller.
func (l *Log) Compact(ctx context.Context, account uint32, collection schema.Collection, upTo uint64, live *roaring.Bitmap) error {
	prefix := keycodec.ChangeLogCollectionPrefix(account, byte(collection))
	it, err := l.engine.NewIterator(ctx, prefix, kv.Forward)
	if err != nil {
		return storeerr.ErrStorageUnavailable.WithCause(err)
	}

	var toDelete [][]byte
	for it.Next() {
		key := it.Key()
		if len(key) < len(prefix)+8 {
			continue
		}
		changeID := binary.BigEndian.Uint64(key[len(prefix):])
		if changeID > upTo {
			break
		}
		toDelete = append(toDelete, append([]byte{}, key...))
	}
	it.Close()

	b := &kv.Batch{}
	for _, key := range toDelete {
		b.Delete(key)
	}
	b.Put(keycodec.ChangeLog(account, byte(collection), upTo), encode(&Entry{ChangeID: upTo, Snapshot: live}))
	return l.engine.Write(ctx, b)
}

// CollapseUpdateKind resolves Open Question 2: when a document receives
// both a ChildUpdate and an ordinary property Update within the same
// uncompacted change-log window, the collapsed record reports it as an
// ordinary Update — a property change is the stronger signal a client
// resyncing state needs to see.
func CollapseUpdateKind(sawChildUpdate, sawUpdate bool) (update, childUpdate bool) {
	if sawUpdate {
		return true, false
	}
	return false, sawChildUpdate
}
