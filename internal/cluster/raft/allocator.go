package raft

import (
	"context"
	"sync/atomic"

	"github.com/nyxmail/corestore/internal/store/kv"
)

// SingleNodeAllocator is the production write.RaftIndexAllocator for a
// deployment running without peers: it assigns ids under a fixed term
// from an in-process counter, seeded from the RaftLog family's existing
// tail so a restart resumes the sequence rather than reusing ids.
// cmd/corestore-server uses it in clustered deployments too; only
// entries submitted through Node.Propose take their (term, index) from
// hashicorp/raft's own commit instead.
type SingleNodeAllocator struct {
	term uint64
	next uint64
}

// NewSingleNodeAllocator seeds the counter from engine's current RaftLog
// tail via GetLastLog.
func NewSingleNodeAllocator(ctx context.Context, engine kv.Engine) (*SingleNodeAllocator, error) {
	last, found, err := GetLastLog(ctx, engine)
	if err != nil {
		return nil, err
	}
	if !found {
		return &SingleNodeAllocator{term: 1, next: 0}, nil
	}
	return &SingleNodeAllocator{term: last.Term, next: last.Index}, nil
}

// AssignRaftID implements write.RaftIndexAllocator.
func (a *SingleNodeAllocator) AssignRaftID(ctx context.Context) (term, index uint64, err error) {
	return a.term, atomic.AddUint64(&a.next, 1), nil
}
