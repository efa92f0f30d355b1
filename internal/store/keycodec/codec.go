// Package keycodec encodes every logical key named by the data model into a
// single order-preserving byte string. Numeric components are big-endian so
// lexicographic byte ordering matches numeric ordering, which lets range
// scans over Indexes and tail scans over Logs walk keys in application
// order without a secondary sort.
//
// A one-byte family discriminator prefixes every key, keeping value,
// index, bitmap, blob, and log keys from colliding in one Badger
// keyspace.
package keycodec

import (
	"encoding/binary"
	"fmt"
)

// Family is the one-byte discriminator prefixing every encoded key.
type Family byte

const (
	FamilyValues  Family = 'V'
	FamilyIndexes Family = 'I'
	FamilyBitmaps Family = 'B'
	FamilyBlobs   Family = 'L'
	FamilyLogs    Family = 'G'
)

// CodecError indicates a programmer error in key construction (e.g. a zero
// account id, an oversized value). It should never occur in normal
// operation; malformed keys read back off disk are DataCorruption, not
// CodecError — see pkg/storeerr.
type CodecError struct {
	Op  string
	Msg string
}

func (e *CodecError) Error() string { return fmt.Sprintf("keycodec: %s: %s", e.Op, e.Msg) }

func putUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// Values encodes (account, collection, document, field) -> Values key.
// Scanning with the 10-byte prefix returned by ValuesDocumentPrefix walks
// every field of one document.
func Values(account uint32, collection byte, document uint32, field byte) []byte {
	buf := make([]byte, 0, 1+4+1+4+1)
	buf = append(buf, byte(FamilyValues))
	buf = putUint32(buf, account)
	buf = append(buf, collection)
	buf = putUint32(buf, document)
	buf = append(buf, field)
	return buf
}

// ValuesDocumentPrefix returns the prefix shared by every field of one document.
func ValuesDocumentPrefix(account uint32, collection byte, document uint32) []byte {
	buf := make([]byte, 0, 1+4+1+4)
	buf = append(buf, byte(FamilyValues))
	buf = putUint32(buf, account)
	buf = append(buf, collection)
	buf = putUint32(buf, document)
	return buf
}

// ValuesCollectionPrefix returns the prefix shared by every document in a collection.
func ValuesCollectionPrefix(account uint32, collection byte) []byte {
	buf := make([]byte, 0, 1+4+1)
	buf = append(buf, byte(FamilyValues))
	buf = putUint32(buf, account)
	buf = append(buf, collection)
	return buf
}

// Index encodes (account, collection, field, value_bytes, document) -> Indexes key.
// valueBytes must already be big-endian/order-preserving encoded by the caller
// (see EncodeUint64, EncodeInt64, EncodeString below).
func Index(account uint32, collection, field byte, valueBytes []byte, document uint32) []byte {
	buf := make([]byte, 0, 1+4+1+1+len(valueBytes)+4)
	buf = append(buf, byte(FamilyIndexes))
	buf = putUint32(buf, account)
	buf = append(buf, collection, field)
	buf = append(buf, valueBytes...)
	buf = putUint32(buf, document)
	return buf
}

// IndexFieldPrefix returns the prefix for a range scan over one indexed field.
func IndexFieldPrefix(account uint32, collection, field byte) []byte {
	buf := make([]byte, 0, 1+4+1+1)
	buf = append(buf, byte(FamilyIndexes))
	buf = putUint32(buf, account)
	buf = append(buf, collection, field)
	return buf
}

// IndexRangeKey builds a scan boundary (account, collection, field, valueBytes)
// with no trailing document id, used as a start/end bound for range queries.
func IndexRangeKey(account uint32, collection, field byte, valueBytes []byte) []byte {
	buf := make([]byte, 0, 1+4+1+1+len(valueBytes))
	buf = append(buf, byte(FamilyIndexes))
	buf = putUint32(buf, account)
	buf = append(buf, collection, field)
	buf = append(buf, valueBytes...)
	return buf
}

// Bitmap encodes (account, collection, field, term|tag, is_exact) -> Bitmaps key.
// termOrTag is a caller-supplied byte string (a tag name, a stemmed or exact
// token). isExact distinguishes the exact-match posting from the
// stemmed/tokenized posting for the same term, per the full-text indexing
// design.
func Bitmap(account uint32, collection, field byte, termOrTag []byte, isExact bool) []byte {
	buf := make([]byte, 0, 1+4+1+1+len(termOrTag)+1)
	buf = append(buf, byte(FamilyBitmaps))
	buf = putUint32(buf, account)
	buf = append(buf, collection, field)
	buf = append(buf, termOrTag...)
	if isExact {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// BitmapFieldPrefix returns the prefix shared by every term/tag under one field.
func BitmapFieldPrefix(account uint32, collection, field byte) []byte {
	buf := make([]byte, 0, 1+4+1+1)
	buf = append(buf, byte(FamilyBitmaps))
	buf = putUint32(buf, account)
	buf = append(buf, collection, field)
	return buf
}

// BlobRefcount encodes the canonical (blob_hash) -> refcount key.
func BlobRefcount(hash []byte) []byte {
	buf := make([]byte, 0, 1+len(hash))
	buf = append(buf, byte(FamilyBlobs))
	buf = append(buf, hash...)
	return buf
}

// BlobLink encodes the reverse link (blob_hash, account, collection, document) key,
// letting the blob GC enumerate which documents still reference a hash.
func BlobLink(hash []byte, account uint32, collection byte, document uint32) []byte {
	buf := make([]byte, 0, 1+len(hash)+1+4+1+4)
	buf = append(buf, byte(FamilyBlobs))
	buf = append(buf, hash...)
	buf = append(buf, 0xFF) // separator: blob hash keys are a fixed 36 bytes, but keep it explicit
	buf = putUint32(buf, account)
	buf = append(buf, collection)
	buf = putUint32(buf, document)
	return buf
}

// BlobLinkPrefix returns the prefix for scanning all reverse links of one blob hash.
func BlobLinkPrefix(hash []byte) []byte {
	buf := make([]byte, 0, 1+len(hash)+1)
	buf = append(buf, byte(FamilyBlobs))
	buf = append(buf, hash...)
	buf = append(buf, 0xFF)
	return buf
}

// ChangeLog encodes (account, collection, change_id) -> Logs/Change key.
func ChangeLog(account uint32, collection byte, changeID uint64) []byte {
	buf := make([]byte, 0, 1+1+4+1+8)
	buf = append(buf, byte(FamilyLogs), 'C')
	buf = putUint32(buf, account)
	buf = append(buf, collection)
	buf = putUint64(buf, changeID)
	return buf
}

// ChangeLogCollectionPrefix returns the prefix for a tail scan of one collection's change log.
func ChangeLogCollectionPrefix(account uint32, collection byte) []byte {
	buf := make([]byte, 0, 1+1+4+1)
	buf = append(buf, byte(FamilyLogs), 'C')
	buf = putUint32(buf, account)
	buf = append(buf, collection)
	return buf
}

// IDAllocator encodes the per-(account, collection) document-id
// high-water-mark key, a Logs-family sibling of the change log ('C') and
// raft log ('R') sub-keyspaces. The stored value is the highest document
// id ever assigned, so a restart resumes the sequence instead of reusing
// the ids of since-deleted documents.
func IDAllocator(account uint32, collection byte) []byte {
	buf := make([]byte, 0, 1+1+4+1)
	buf = append(buf, byte(FamilyLogs), 'A')
	buf = putUint32(buf, account)
	buf = append(buf, collection)
	return buf
}

// RaftLog encodes (term, index) -> Logs/Raft key.
func RaftLog(term, index uint64) []byte {
	buf := make([]byte, 0, 1+1+8+8)
	buf = append(buf, byte(FamilyLogs), 'R')
	buf = putUint64(buf, term)
	buf = putUint64(buf, index)
	return buf
}

// RaftLogPrefix returns the family+kind prefix for scanning the whole raft log.
func RaftLogPrefix() []byte {
	return []byte{byte(FamilyLogs), 'R'}
}

// Raft log entry value tags: an ordinary per-write entry, or the
// snapshot entry compaction leaves behind.
const (
	RaftEntryTag    = 0x01
	RaftSnapshotTag = 0x02
)

// EncodeRaftEntry builds an ENTRY-tagged raft log value: tag byte, then
// account id (u32 little-endian) and the touched-collections bitmask
// (u64 little-endian, one bit per collection).
func EncodeRaftEntry(account uint32, collections uint64) []byte {
	buf := make([]byte, 1+4+8)
	buf[0] = RaftEntryTag
	binary.LittleEndian.PutUint32(buf[1:5], account)
	binary.LittleEndian.PutUint64(buf[5:13], collections)
	return buf
}

// DecodeRaftEntry reverses EncodeRaftEntry. ok is false when val is not a
// well-formed ENTRY value.
func DecodeRaftEntry(val []byte) (account uint32, collections uint64, ok bool) {
	if len(val) != 13 || val[0] != RaftEntryTag {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint32(val[1:5]), binary.LittleEndian.Uint64(val[5:13]), true
}

// EncodeRaftSnapshot builds a SNAPSHOT-tagged raft log value: tag byte,
// then for each group of accounts sharing a touched-collections mask, the
// mask (varint), the account count (varint), and the account ids
// (varints).
func EncodeRaftSnapshot(groups map[uint64][]uint32) []byte {
	buf := []byte{RaftSnapshotTag}
	var tmp [binary.MaxVarintLen64]byte
	put := func(v uint64) {
		n := binary.PutUvarint(tmp[:], v)
		buf = append(buf, tmp[:n]...)
	}
	for mask, accounts := range groups {
		put(mask)
		put(uint64(len(accounts)))
		for _, a := range accounts {
			put(uint64(a))
		}
	}
	return buf
}

// DecodeRaftSnapshot reverses EncodeRaftSnapshot.
func DecodeRaftSnapshot(val []byte) (map[uint64][]uint32, bool) {
	if len(val) < 1 || val[0] != RaftSnapshotTag {
		return nil, false
	}
	groups := make(map[uint64][]uint32)
	pos := 1
	read := func() (uint64, bool) {
		v, n := binary.Uvarint(val[pos:])
		if n <= 0 {
			return 0, false
		}
		pos += n
		return v, true
	}
	for pos < len(val) {
		mask, ok := read()
		if !ok {
			return nil, false
		}
		count, ok := read()
		if !ok {
			return nil, false
		}
		accounts := make([]uint32, 0, count)
		for i := uint64(0); i < count; i++ {
			a, ok := read()
			if !ok {
				return nil, false
			}
			accounts = append(accounts, uint32(a))
		}
		groups[mask] = accounts
	}
	return groups, true
}

// TermIndexField derives the shadow Values field byte a full-text field's
// term-index blob hash is stored under: the high bit set distinguishes it
// from the field's own declared id, so the phrase-query lookup and
// get_document_value(field) never collide over the same Values key.
func TermIndexField(id byte) byte { return 0x80 | id }

// EncodeUint64 order-preserving-encodes an unsigned integer for use as an Indexes value_bytes component.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// EncodeInt64 order-preserving-encodes a signed integer by flipping the sign bit,
// so two's-complement negative numbers still sort before positive ones
// lexicographically.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

// DecodeInt64 reverses EncodeInt64.
func DecodeInt64(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf) ^ (1 << 63))
}

// EncodeString encodes a string for use as an Indexes value_bytes component.
// Byte-wise comparison of UTF-8 already matches codepoint ordering, so this
// is the identity transform with a length cap enforced by the caller's
// schema, not here.
func EncodeString(s string) []byte { return []byte(s) }
