package raft

import (
	"context"
	"encoding/binary"

	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// LogEntry is one entry of the RaftLog family (Logs 'R'): the
// (term, index) a committed write landed at, tagged per the log entry
// format. An ordinary ENTRY names the account and the bitmask of
// collections it touched; a SNAPSHOT entry (left behind by CompactLog)
// instead carries, per touched-collections mask, the account ids whose
// history the snapshot absorbed.
type LogEntry struct {
	Term  uint64
	Index uint64

	Account     uint32
	Collections uint64 // touched-collections mask; one bit per schema.Collection.Bit()

	Snapshot map[uint64][]uint32 // mask -> account ids; nil on ordinary entries
}

// IsSnapshot reports whether this entry was produced by CompactLog.
func (e *LogEntry) IsSnapshot() bool { return e.Snapshot != nil }

func decodeRaftLogKey(prefix, key []byte) (term, index uint64, ok bool) {
	if len(key) < len(prefix)+16 {
		return 0, 0, false
	}
	rest := key[len(prefix):]
	return binary.BigEndian.Uint64(rest[:8]), binary.BigEndian.Uint64(rest[8:16]), true
}

func decodeRaftLogValue(term, index uint64, val []byte) (*LogEntry, error) {
	if len(val) < 1 {
		return nil, storeerr.ErrLogCorrupt
	}
	switch val[0] {
	case keycodec.RaftEntryTag:
		account, mask, ok := keycodec.DecodeRaftEntry(val)
		if !ok {
			return nil, storeerr.ErrLogCorrupt
		}
		return &LogEntry{Term: term, Index: index, Account: account, Collections: mask}, nil
	case keycodec.RaftSnapshotTag:
		groups, ok := keycodec.DecodeRaftSnapshot(val)
		if !ok {
			return nil, storeerr.ErrLogCorrupt
		}
		return &LogEntry{Term: term, Index: index, Snapshot: groups}, nil
	default:
		return nil, storeerr.ErrLogCorrupt
	}
}

// GetLastLog returns the most recently committed raft log entry, or
// found=false on an empty log (a fresh single-node deployment before its
// first write).
func GetLastLog(ctx context.Context, engine kv.Engine) (entry *LogEntry, found bool, err error) {
	prefix := keycodec.RaftLogPrefix()
	it, err := engine.NewIterator(ctx, prefix, kv.Backward)
	if err != nil {
		return nil, false, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	defer it.Close()
	if !it.Next() {
		return nil, false, nil
	}
	term, index, ok := decodeRaftLogKey(prefix, it.Key())
	if !ok {
		return nil, false, storeerr.ErrLogCorrupt
	}
	val, err := it.Value()
	if err != nil {
		return nil, false, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	entry, err = decodeRaftLogValue(term, index, val)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// GetPrevRaftID returns the entry immediately preceding (term, index)
// in commit order, used by a follower walking backward to find where its
// local log diverges from the leader's.
func GetPrevRaftID(ctx context.Context, engine kv.Engine, term, index uint64) (entry *LogEntry, found bool, err error) {
	prefix := keycodec.RaftLogPrefix()
	it, err := engine.NewIterator(ctx, prefix, kv.Forward)
	if err != nil {
		return nil, false, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	defer it.Close()

	var best *LogEntry
	for it.Next() {
		t, i, ok := decodeRaftLogKey(prefix, it.Key())
		if !ok {
			continue
		}
		if t > term || (t == term && i >= index) {
			break
		}
		val, err := it.Value()
		if err != nil {
			return nil, false, storeerr.ErrStorageUnavailable.WithCause(err)
		}
		best, err = decodeRaftLogValue(t, i, val)
		if err != nil {
			return nil, false, err
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return best, true, nil
}

// GetNextRaftID returns the entry immediately following (term, index),
// used to resume a follower's catch-up replay from the last entry it has
// already applied.
func GetNextRaftID(ctx context.Context, engine kv.Engine, term, index uint64) (entry *LogEntry, found bool, err error) {
	prefix := keycodec.RaftLogPrefix()
	it, err := engine.NewIterator(ctx, prefix, kv.Forward)
	if err != nil {
		return nil, false, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	defer it.Close()

	for it.Next() {
		t, i, ok := decodeRaftLogKey(prefix, it.Key())
		if !ok {
			continue
		}
		if t < term || (t == term && i <= index) {
			continue
		}
		val, err := it.Value()
		if err != nil {
			return nil, false, storeerr.ErrStorageUnavailable.WithCause(err)
		}
		entry, err = decodeRaftLogValue(t, i, val)
		if err != nil {
			return nil, false, err
		}
		return entry, true, nil
	}
	return nil, false, nil
}

// CompactLog replaces every RaftLog entry with index <= upTo by a
// single SNAPSHOT entry at upTo carrying, per touched-collections mask,
// the union of account ids
// whose entries the compaction absorbed. Index, not (term, index), is
// the comparison key: entries are appended in the exact order their
// index increases, so scanning the keyspace forward visits them in index
// order regardless of term.
func CompactLog(ctx context.Context, engine kv.Engine, upTo uint64) error {
	prefix := keycodec.RaftLogPrefix()
	it, err := engine.NewIterator(ctx, prefix, kv.Forward)
	if err != nil {
		return storeerr.ErrStorageUnavailable.WithCause(err)
	}

	var toDelete [][]byte
	var lastTerm uint64
	perAccount := make(map[uint32]uint64)
	for it.Next() {
		term, index, ok := decodeRaftLogKey(prefix, it.Key())
		if !ok {
			continue
		}
		if index > upTo {
			break
		}
		val, verr := it.Value()
		if verr != nil {
			it.Close()
			return storeerr.ErrStorageUnavailable.WithCause(verr)
		}
		entry, derr := decodeRaftLogValue(term, index, val)
		if derr != nil {
			it.Close()
			return derr
		}
		if entry.IsSnapshot() {
			// Fold a previous compaction's summary into this one.
			for mask, accounts := range entry.Snapshot {
				for _, a := range accounts {
					perAccount[a] |= mask
				}
			}
		} else {
			perAccount[entry.Account] |= entry.Collections
		}
		lastTerm = term
		toDelete = append(toDelete, append([]byte{}, it.Key()...))
	}
	it.Close()

	if len(toDelete) == 0 {
		return nil
	}

	groups := make(map[uint64][]uint32)
	for account, mask := range perAccount {
		groups[mask] = append(groups[mask], account)
	}

	b := &kv.Batch{}
	for _, key := range toDelete {
		b.Delete(key)
	}
	b.Put(keycodec.RaftLog(lastTerm, upTo), keycodec.EncodeRaftSnapshot(groups))
	return engine.Write(ctx, b)
}
