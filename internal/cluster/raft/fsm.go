package raft

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/nyxmail/corestore/internal/store/write"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
	"github.com/nyxmail/corestore/pkg/crypto/adaptive"
)

// snapshotAAD binds a snapshot ciphertext to its purpose, so a
// misconfigured cipher can't be reused to decrypt unrelated data.
const snapshotAAD = "corestore-raft-snapshot"

// FSM applies committed Raft log entries against a write.Pipeline. The
// FSM's state IS the KV engine the pipeline writes into — no separate
// in-memory state machine exists to drift — and Snapshot/Restore delegate
// straight to pipeline.Engine()'s own SaveSnapshot/LoadSnapshot, so a
// Raft snapshot is exactly a point-in-time copy of the document store.
type FSM struct {
	pipeline *write.Pipeline
	logger   logger.Logger
	cipher   adaptive.Cipher // optional, set via WithSnapshotCipher
}

// Option configures an FSM at construction time.
type Option func(*FSM)

// WithSnapshotCipher encrypts every Raft snapshot this FSM produces (and
// decrypts every one it restores) with cipher, sealing the
// gzip-compressed byte stream Persist hands the Raft snapshot sink. A
// nil cipher (the default) leaves snapshots in plaintext, matching a
// single-node deployment with no configured cluster.gossip_secret_key.
func WithSnapshotCipher(c adaptive.Cipher) Option {
	return func(f *FSM) { f.cipher = c }
}

// NewFSM wires an FSM to apply replicated writes against pipeline.
func NewFSM(pipeline *write.Pipeline, log logger.Logger, opts ...Option) *FSM {
	if log == nil {
		log = logger.Default()
	}
	f := &FSM{pipeline: pipeline, logger: log}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Apply decodes one committed log entry and applies it to the pipeline
// at the entry's own (term, index), so every replica assigns the write
// the identical change id. A decode failure means the Raft log itself is
// corrupt or was written by an incompatible version — unrecoverable, so
// the FSM panics rather than silently diverging from its peers. A
// pipeline error (e.g. updating a document deleted by a since-applied
// entry) is a legitimate, deterministic outcome every replica reaches
// identically, so it is returned as the Apply response, not panicked.
func (f *FSM) Apply(l *raft.Log) interface{} {
	cmd, err := DecodeCommand(l.Data)
	if err != nil {
		f.logger.Error("FATAL: failed to decode raft log entry", "error", err, "index", l.Index, "term", l.Term)
		panic(fmt.Sprintf("raft FSM.Apply: decode failed at index=%d: %v", l.Index, err))
	}

	changes, err := f.pipeline.ApplyAt(context.Background(), cmd.writeBatch(), l.Term, l.Index)
	if err != nil {
		f.logger.Error("raft log entry rejected by write pipeline", "error", err, "index", l.Index, "account", cmd.Account, "collection", string(cmd.Collection))
		return err
	}
	return changes
}

// Snapshot captures the KV engine's current on-disk state for Raft log
// compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	r, err := f.pipeline.Engine().SaveSnapshot(context.Background())
	if err != nil {
		return nil, fmt.Errorf("raft snapshot: %w", err)
	}
	return &fsmSnapshot{r: r, cipher: f.cipher}, nil
}

// Restore replaces the KV engine's entire contents with a snapshot taken
// by Snapshot, called by Raft when a follower catches up from a
// compacted log.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	var gzSrc io.Reader = r
	if f.cipher != nil {
		ciphertext, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("raft restore: read ciphertext: %w", err)
		}
		plaintext, err := f.cipher.Decrypt(ciphertext, []byte(snapshotAAD))
		if err != nil {
			return fmt.Errorf("raft restore: decrypt snapshot: %w", err)
		}
		gzSrc = bytes.NewReader(plaintext)
	}

	gz, err := gzip.NewReader(gzSrc)
	if err != nil {
		return fmt.Errorf("raft restore: create gzip reader: %w", err)
	}
	defer gz.Close()
	if err := f.pipeline.Engine().LoadSnapshot(context.Background(), gz); err != nil {
		return fmt.Errorf("raft restore: load snapshot: %w", err)
	}
	f.logger.Info("fsm state restored from raft snapshot", "encrypted", f.cipher != nil)
	return nil
}

// fsmSnapshot adapts the engine's raw snapshot reader to raft.FSMSnapshot,
// gzip-compressing it in transit and optionally sealing the compressed
// bytes with cipher before handing them to the sink.
type fsmSnapshot struct {
	r      io.ReadCloser
	cipher adaptive.Cipher
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		defer s.r.Close()

		var gzBuf bytes.Buffer
		gz := gzip.NewWriter(&gzBuf)
		if _, err := io.Copy(gz, s.r); err != nil {
			return fmt.Errorf("compress snapshot: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}

		if s.cipher == nil {
			_, err := sink.Write(gzBuf.Bytes())
			return err
		}

		ciphertext, err := s.cipher.Encrypt(gzBuf.Bytes(), []byte(snapshotAAD))
		if err != nil {
			return fmt.Errorf("encrypt snapshot: %w", err)
		}
		_, err = sink.Write(ciphertext)
		return err
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() { s.r.Close() }
