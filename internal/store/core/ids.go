package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// idAllocator is the in-process counter for one (account, collection).
// next is the last id handed out; the same value is persisted as a
// high-water mark so a restart never reissues an id, even one whose
// document has since been deleted.
type idAllocator struct {
	mu   sync.Mutex
	next uint32
}

func allocKey(account uint32, collection schema.Collection) string {
	return fmt.Sprintf("%d/%c", account, byte(collection))
}

// AssignDocumentID returns a fresh, monotonically increasing document id
// for (account, collection). Ids start at 1; 0 is never assigned.
func (s *Store) AssignDocumentID(ctx context.Context, account uint32, collection schema.Collection) (uint32, error) {
	if s.schemas.Get(collection) == nil {
		return 0, storeerr.ErrInvalidProperty.WithDetails("unknown collection")
	}

	key := allocKey(account, collection)
	alloc, ok := s.allocators.Get(key)
	if !ok {
		s.createMu.Lock()
		if alloc, ok = s.allocators.Get(key); !ok {
			seeded, err := s.seedAllocator(ctx, account, collection)
			if err != nil {
				s.createMu.Unlock()
				return 0, err
			}
			s.allocators.Set(key, seeded)
			alloc = seeded
		}
		s.createMu.Unlock()
	}

	alloc.mu.Lock()
	defer alloc.mu.Unlock()
	id := alloc.next + 1

	b := &kv.Batch{}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], id)
	b.Put(keycodec.IDAllocator(account, byte(collection)), buf[:])
	if err := s.engine.Write(ctx, b); err != nil {
		return 0, storeerr.ErrStorageUnavailable.WithCause(err)
	}

	alloc.next = id
	return id, nil
}

// seedAllocator recovers the counter from the persisted high-water mark,
// falling back to the live-set maximum for stores written before the
// mark existed.
func (s *Store) seedAllocator(ctx context.Context, account uint32, collection schema.Collection) (*idAllocator, error) {
	raw, err := s.engine.Get(ctx, keycodec.IDAllocator(account, byte(collection)))
	if err == nil && len(raw) == 4 {
		return &idAllocator{next: binary.BigEndian.Uint32(raw)}, nil
	}
	if err != nil && err != kv.ErrKeyNotFound {
		return nil, storeerr.ErrStorageUnavailable.WithCause(err)
	}

	live, err := s.GetDocumentIDs(ctx, account, collection)
	if err != nil {
		return nil, err
	}
	if live.IsEmpty() {
		return &idAllocator{next: 0}, nil
	}
	return &idAllocator{next: live.Maximum()}, nil
}
