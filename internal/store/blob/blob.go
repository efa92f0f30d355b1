// Package blob implements content-addressed blob storage: SHA-256+length
// addressed files laid out under hash-prefix directories, a refcount
// tracked via the KV engine's Blobs merge operator, and a per-hash lock
// map serializing concurrent stores of identical content. Reference
// changes commit through internal/store/kv batches, so a blob's links
// and its refcount always move together.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// Config tunes the on-disk layout and temporary-blob lifetime.
type Config struct {
	BasePath   string
	HashLevels int           // number of leading hex-encoded digest bytes used as directory levels
	TempTTL    time.Duration // how long a store_temporary blob survives before purge
}

// DefaultConfig returns the default layout and TTL settings.
func DefaultConfig(basePath string) Config {
	return Config{BasePath: basePath, HashLevels: 2, TempTTL: 1 * time.Hour}
}

// Hash is a content-addressed blob identifier: SHA-256 digest + length.
type Hash struct {
	Digest [32]byte
	Length uint32
}

// Bytes returns the canonical 36-byte key used as the KV refcount key.
func (h Hash) Bytes() []byte {
	buf := make([]byte, 36)
	copy(buf, h.Digest[:])
	binary.LittleEndian.PutUint32(buf[32:], h.Length)
	return buf
}

func hashFromBytes(b []byte) (Hash, bool) {
	if len(b) != 36 {
		return Hash{}, false
	}
	var h Hash
	copy(h.Digest[:], b[:32])
	h.Length = binary.LittleEndian.Uint32(b[32:])
	return h, true
}

// Store is the content-addressed blob store.
type Store struct {
	engine kv.Engine
	cfg    Config

	locksMu sync.Mutex
	locks   map[[32]byte]*sync.Mutex
}

// New constructs a Store over engine, creating the base directory if needed.
func New(engine kv.Engine, cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create base path: %w", err)
	}
	return &Store{engine: engine, cfg: cfg, locks: make(map[[32]byte]*sync.Mutex)}, nil
}

func (s *Store) lockFor(digest [32]byte) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[digest]
	if !ok {
		l = &sync.Mutex{}
		s.locks[digest] = l
	}
	return l
}

func (s *Store) pathFor(h Hash) string {
	hexDigest := fmt.Sprintf("%x", h.Digest)
	dirs := make([]string, 0, s.cfg.HashLevels)
	for i := 0; i < s.cfg.HashLevels && i*2+2 <= len(hexDigest); i++ {
		dirs = append(dirs, hexDigest[i*2:i*2+2])
	}
	filename := base32.StdEncoding.EncodeToString(h.Digest[:])
	parts := append([]string{s.cfg.BasePath}, dirs...)
	parts = append(parts, filename)
	return filepath.Join(parts...)
}

// StoreBytes writes data under its content hash if not already present,
// returning the canonical 36-byte hash key. It does not link the blob to
// any document; callers use Link/LinkInBatch for that.
func (s *Store) StoreBytes(ctx context.Context, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	h := Hash{Digest: digest, Length: uint32(len(data))}

	lock := s.lockFor(digest)
	lock.Lock()
	defer lock.Unlock()

	path := s.pathFor(h)
	if _, err := os.Stat(path); err == nil {
		return h.Bytes(), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storeerr.ErrInternal.WithCause(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, storeerr.ErrInternal.WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, storeerr.ErrInternal.WithCause(err)
	}

	key := keycodec.BlobRefcount(h.Bytes())
	if _, err := s.engine.Get(ctx, key); err == kv.ErrKeyNotFound {
		b := &kv.Batch{}
		b.Put(key, kv.EncodeRefcountDelta(0))
		if err := s.engine.Write(ctx, b); err != nil {
			return nil, storeerr.ErrStorageUnavailable.WithCause(err)
		}
	}

	return h.Bytes(), nil
}

// Link increments the refcount and records the reverse link for
// (hash, account, collection, document).
func (s *Store) Link(ctx context.Context, hash []byte, account uint32, collection byte, document uint32) error {
	b := &kv.Batch{}
	s.LinkInBatch(b, hash, account, collection, document)
	return s.engine.Write(ctx, b)
}

// LinkInBatch stages a link within an in-progress write pipeline batch,
// so blob reference changes commit atomically with the document write
// that introduced them.
func (s *Store) LinkInBatch(b *kv.Batch, hash []byte, account uint32, collection byte, document uint32) {
	b.Put(keycodec.BlobLink(hash, account, collection, document), nil)
	b.Merge(keycodec.BlobRefcount(hash), kv.EncodeRefcountDelta(1))
}

// Unlink decrements the refcount and removes the reverse link.
func (s *Store) Unlink(ctx context.Context, hash []byte, account uint32, collection byte, document uint32) error {
	b := &kv.Batch{}
	s.UnlinkInBatch(b, hash, account, collection, document)
	return s.engine.Write(ctx, b)
}

// UnlinkInBatch is the batch-staged counterpart to LinkInBatch.
func (s *Store) UnlinkInBatch(b *kv.Batch, hash []byte, account uint32, collection byte, document uint32) {
	b.Delete(keycodec.BlobLink(hash, account, collection, document))
	b.Merge(keycodec.BlobRefcount(hash), kv.EncodeRefcountDelta(-1))
}

// Get reads the byte range [start, end) of the blob identified by hash.
// end == 0 means "read to EOF".
func (s *Store) Get(ctx context.Context, hash []byte, start, end int64) ([]byte, error) {
	h, ok := hashFromBytes(hash)
	if !ok {
		return nil, storeerr.ErrBlobHashInvalid
	}
	f, err := os.Open(s.pathFor(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storeerr.ErrBlobNotFound
		}
		return nil, storeerr.ErrInternal.WithCause(err)
	}
	defer f.Close()

	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return nil, storeerr.ErrInternal.WithCause(err)
		}
	}
	if end == 0 {
		return io.ReadAll(f)
	}
	buf := make([]byte, end-start)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, storeerr.ErrInternal.WithCause(err)
	}
	return buf[:n], nil
}

// Refcount reads the current refcount for a blob hash.
func (s *Store) Refcount(ctx context.Context, hash []byte) (int64, error) {
	v, err := s.engine.Get(ctx, keycodec.BlobRefcount(hash))
	if err == kv.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	return kv.DecodeRefcount(v), nil
}

// temporaryFamily namespaces store_temporary entries so Purge can scan
// them independently of canonical blob refcount keys.
var temporaryFamily = append([]byte{byte(keycodec.FamilyBlobs)}, 'T')

// StoreTemporary stores data keyed under a temporary family with a TTL,
// returning the creation timestamp and the content hash.
func (s *Store) StoreTemporary(ctx context.Context, account uint32, data []byte) (time.Time, []byte, error) {
	hash, err := s.StoreBytes(ctx, data)
	if err != nil {
		return time.Time{}, nil, err
	}
	now := time.Now()
	key := append(append([]byte{}, temporaryFamily...), keycodec.EncodeUint64(uint64(now.UnixNano()))...)
	key = append(key, keycodec.EncodeUint64(uint64(account))...)

	b := &kv.Batch{}
	b.Put(key, hash)
	s.LinkInBatch(b, hash, account, 0, 0)
	if err := s.engine.Write(ctx, b); err != nil {
		return time.Time{}, nil, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	return now, hash, nil
}

// Purge iterates temporary keys, deleting those whose age exceeds the
// configured TTL (decrementing refcount), then iterates canonical blob
// keys and deletes the file and key for any blob whose refcount has
// reached zero. The refcount invariant permits a transient over-count
// but never an under-count, so "delete iff 0" is always safe.
func (s *Store) Purge(ctx context.Context) (purgedTemp int, purgedBlobs int, err error) {
	now := time.Now()
	it, err := s.engine.NewIterator(ctx, temporaryFamily, kv.Forward)
	if err != nil {
		return 0, 0, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	defer it.Close()

	var staleKeys [][]byte
	var staleHashes [][]byte
	var staleAccounts []uint32
	for it.Next() {
		key := it.Key()
		if len(key) < len(temporaryFamily)+8 {
			continue
		}
		tsBytes := key[len(temporaryFamily) : len(temporaryFamily)+8]
		nanos := int64(binary.BigEndian.Uint64(tsBytes))
		created := time.Unix(0, nanos)
		if now.Sub(created) <= s.cfg.TempTTL {
			continue
		}
		val, verr := it.Value()
		if verr != nil {
			continue
		}
		account := uint32(0)
		if len(key) >= len(temporaryFamily)+16 {
			account = uint32(binary.BigEndian.Uint64(key[len(temporaryFamily)+8 : len(temporaryFamily)+16]))
		}
		staleKeys = append(staleKeys, append([]byte{}, key...))
		staleHashes = append(staleHashes, val)
		staleAccounts = append(staleAccounts, account)
	}

	if len(staleKeys) > 0 {
		b := &kv.Batch{}
		for i, key := range staleKeys {
			b.Delete(key)
			s.UnlinkInBatch(b, staleHashes[i], staleAccounts[i], 0, 0)
		}
		if err := s.engine.Write(ctx, b); err != nil {
			return 0, 0, storeerr.ErrStorageUnavailable.WithCause(err)
		}
		purgedTemp = len(staleKeys)
	}

	blobIt, err := s.engine.NewIterator(ctx, []byte{byte(keycodec.FamilyBlobs)}, kv.Forward)
	if err != nil {
		return purgedTemp, 0, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	defer blobIt.Close()

	var deadHashes [][]byte
	for blobIt.Next() {
		key := blobIt.Key()
		if len(key) != 1+36 || bytes.HasPrefix(key, temporaryFamily) {
			continue // not a canonical refcount key (e.g. it's a reverse link or temp entry)
		}
		val, verr := blobIt.Value()
		if verr != nil {
			continue
		}
		if kv.DecodeRefcount(val) <= 0 {
			deadHashes = append(deadHashes, append([]byte{}, key[1:]...))
		}
	}

	for _, hb := range deadHashes {
		h, ok := hashFromBytes(hb)
		if !ok {
			continue
		}
		b := &kv.Batch{}
		b.Delete(keycodec.BlobRefcount(hb))
		if err := s.engine.Write(ctx, b); err != nil {
			continue
		}
		os.Remove(s.pathFor(h))
		purgedBlobs++
	}

	return purgedTemp, purgedBlobs, nil
}

// AccountHasAccess reports whether any document owned by account still
// links hash, by scanning the blob's reverse-link keys. It backs the
// blob_account_has_access boundary operation: a client may only fetch a
// blob some document it can see references.
func (s *Store) AccountHasAccess(ctx context.Context, hash []byte, account uint32) (bool, error) {
	prefix := keycodec.BlobLinkPrefix(hash)
	it, err := s.engine.NewIterator(ctx, prefix, kv.Forward)
	if err != nil {
		return false, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	defer it.Close()

	for it.Next() {
		key := it.Key()
		if len(key) < len(prefix)+4 {
			continue
		}
		if binary.BigEndian.Uint32(key[len(prefix):len(prefix)+4]) == account {
			return true, nil
		}
	}
	return false, nil
}
