package write

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nyxmail/corestore/internal/store/blob"
	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/fts"
	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/schema"
)

// batchBuilder accumulates the derived KV operations for one WriteBatch
// into a single kv.Batch: live-set bitmap, value blob, sorted indexes,
// tag and posting bitmaps, blob links. The change-log and raft-log
// entries are appended by Pipeline.Write once every document op has been
// folded in.
type batchBuilder struct {
	engine  kv.Engine
	indexer *fts.Indexer
	blobs   *blob.Store
	account uint32
	coll    schema.Collection
	batch   *kv.Batch
}

func (b *batchBuilder) liveSetKey() []byte {
	// The live-set bitmap is stored as a single Bitmaps-family entry keyed
	// by a reserved field id (0xFE) with no term/tag suffix, one per
	// (account, collection).
	return keycodec.Bitmap(b.account, byte(b.coll), 0xFE, nil, true)
}

func (b *batchBuilder) insert(ctx context.Context, doc *document.Document, sc *schema.CollectionSchema) error {
	live := roaring.New()
	live.Add(doc.ID)
	b.batch.Merge(b.liveSetKey(), kv.EncodeBitmapSetDelta(live))

	b.batch.Put(keycodec.Values(b.account, byte(b.coll), doc.ID, 0xFF), document.Encode(doc))

	for propID, v := range doc.Properties {
		f, ok := sc.Field(propID)
		if !ok {
			continue
		}
		if err := b.applyFieldWrite(ctx, doc.ID, f, document.Value{}, v, true); err != nil {
			return err
		}
		if len(v.Tags) > 0 {
			b.applyTagDelta(doc.ID, f, v.Tags, true)
		}
	}
	return nil
}

func (b *batchBuilder) update(ctx context.Context, source, modified *document.Document, diff *document.Diff, sc *schema.CollectionSchema) error {
	b.batch.Put(keycodec.Values(b.account, byte(b.coll), modified.ID, 0xFF), document.Encode(modified))

	for _, change := range diff.Changes {
		f, ok := sc.Field(change.Property)
		if !ok {
			continue
		}
		switch change.Kind {
		case document.ChangeSet:
			if err := b.applyFieldWrite(ctx, modified.ID, f, change.Old, change.New, true); err != nil {
				return err
			}
		case document.ChangeCleared:
			if err := b.applyFieldWrite(ctx, modified.ID, f, change.Old, document.Value{}, false); err != nil {
				return err
			}
		case document.ChangeTagsAdded:
			b.applyTagDelta(modified.ID, f, change.TagsAdded, true)
		case document.ChangeTagsRemoved:
			b.applyTagDelta(modified.ID, f, change.TagsRemoved, false)
		}
	}
	return nil
}

func (b *batchBuilder) delete(ctx context.Context, source *document.Document, sc *schema.CollectionSchema) error {
	live := roaring.New()
	live.Add(source.ID)
	b.batch.Merge(b.liveSetKey(), kv.EncodeBitmapClearDelta(live))

	b.batch.Delete(keycodec.Values(b.account, byte(b.coll), source.ID, 0xFF))

	for propID, v := range source.Properties {
		f, ok := sc.Field(propID)
		if !ok {
			continue
		}
		if err := b.applyFieldWrite(ctx, source.ID, f, v, document.Value{}, false); err != nil {
			return err
		}
		if len(v.Tags) > 0 {
			b.applyTagDelta(source.ID, f, v.Tags, false)
		}
	}
	return nil
}

// applyFieldWrite emits the sorted-index delta, full-text postings, and
// blob link/unlink for one property's old -> new transition. present is
// false when new represents a cleared property.
func (b *batchBuilder) applyFieldWrite(ctx context.Context, docID uint32, f schema.FieldSchema, oldV, newV document.Value, present bool) error {
	if f.Options&schema.OptSortIndex != 0 {
		if old, ok := sortIndexBytes(oldV); ok {
			b.batch.Delete(keycodec.Index(b.account, byte(b.coll), byte(f.ID), old, docID))
		}
		if present {
			if nb, ok := sortIndexBytes(newV); ok {
				b.batch.Put(keycodec.Index(b.account, byte(b.coll), byte(f.ID), nb, docID), nil)
			}
		}
	}

	if f.Options&(schema.OptTokenize|schema.OptFullText) != 0 {
		if oldV.Type == schema.TypeText && oldV.Text != "" {
			for _, p := range b.indexer.TokenizeField(oldV.Text, f.PartID) {
				b.batch.Merge(keycodec.Bitmap(b.account, byte(b.coll), byte(f.ID), []byte(p.Exact), true), kv.EncodeBitmapClearDelta(singleBit(docID)))
				if p.Stemmed != "" && p.Stemmed != p.Exact {
					b.batch.Merge(keycodec.Bitmap(b.account, byte(b.coll), byte(f.ID), []byte(p.Stemmed), false), kv.EncodeBitmapClearDelta(singleBit(docID)))
				}
			}
		}

		shadowKey := keycodec.Values(b.account, byte(b.coll), docID, keycodec.TermIndexField(byte(f.ID)))
		if f.Options&schema.OptFullText != 0 {
			if old, err := b.engine.Get(ctx, shadowKey); err == nil && len(old) > 0 {
				b.blobs.UnlinkInBatch(b.batch, old, b.account, byte(b.coll), docID)
				b.batch.Delete(shadowKey)
			}
		}

		if present && newV.Type == schema.TypeText {
			postings := b.indexer.TokenizeField(newV.Text, f.PartID)
			for _, p := range postings {
				b.batch.Merge(keycodec.Bitmap(b.account, byte(b.coll), byte(f.ID), []byte(p.Exact), true), kv.EncodeBitmapSetDelta(singleBit(docID)))
				if p.Stemmed != "" && p.Stemmed != p.Exact {
					b.batch.Merge(keycodec.Bitmap(b.account, byte(b.coll), byte(f.ID), []byte(p.Stemmed), false), kv.EncodeBitmapSetDelta(singleBit(docID)))
				}
			}
			if f.Options&schema.OptFullText != 0 {
				termIndex := fts.BuildTermIndex(postings)
				hash, err := b.blobs.StoreBytes(ctx, termIndex)
				if err != nil {
					return err
				}
				b.batch.Put(shadowKey, hash)
				b.blobs.LinkInBatch(b.batch, hash, b.account, byte(b.coll), docID)
			}
		}
	}

	if f.Type == schema.TypeBlobRef {
		if len(oldV.Blob) > 0 {
			b.blobs.UnlinkInBatch(b.batch, oldV.Blob, b.account, byte(b.coll), docID)
		}
		if present && len(newV.Blob) > 0 {
			b.blobs.LinkInBatch(b.batch, newV.Blob, b.account, byte(b.coll), docID)
		}
	}
	return nil
}

func (b *batchBuilder) applyTagDelta(docID uint32, f schema.FieldSchema, tags []string, add bool) {
	bits := singleBit(docID)
	delta := kv.EncodeBitmapClearDelta(bits)
	if add {
		delta = kv.EncodeBitmapSetDelta(bits)
	}
	for _, tag := range tags {
		b.batch.Merge(keycodec.Bitmap(b.account, byte(b.coll), byte(f.ID), []byte(tag), true), delta)
	}
}

func singleBit(id uint32) *roaring.Bitmap {
	bm := roaring.New()
	bm.Add(id)
	return bm
}

func sortIndexBytes(v document.Value) ([]byte, bool) {
	switch v.Type {
	case schema.TypeUint:
		return keycodec.EncodeUint64(v.Uint), true
	case schema.TypeInt:
		return keycodec.EncodeInt64(v.Int), true
	case schema.TypeText:
		if v.Text == "" {
			return nil, false
		}
		return keycodec.EncodeString(v.Text), true
	default:
		return nil, false
	}
}
