// Package raft implements the cluster replication boundary:
// a hashicorp/raft node that replicates document writes across the
// cluster and an FSM that applies committed entries against the write
// pipeline, so every replica derives the identical change id for a
// commit.
package raft

import (
	"encoding/json"
	"math"

	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/internal/store/write"
)

// Command is the Raft log entry payload for a replicated document write:
// the WriteBatch a client proposed, reduced to its JSON-safe fields so
// every replica's FSM can decode and apply it identically.
type Command struct {
	Account    uint32
	Collection schema.Collection
	Ops        []write.DocOp
}

// EncodeCommand serializes cmd for Node.Propose / raft.Apply.
func EncodeCommand(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// DecodeCommand deserializes a Raft log entry back into a Command; a
// failure here means the log itself is corrupt, which FSM.Apply treats
// as unrecoverable.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, err
	}
	// JSON decodes every object-property number as float64; restore the
	// integer kinds the document codec and ACL grant masks expect, so a
	// follower's replay serializes byte-identically to the leader's write.
	for _, op := range cmd.Ops {
		if op.Document == nil {
			continue
		}
		for _, v := range op.Document.Properties {
			normalizeObj(v.Obj)
		}
	}
	return cmd, nil
}

func normalizeObj(m map[string]any) {
	for k, v := range m {
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			continue
		}
		if f >= 0 {
			m[k] = uint64(f)
		} else {
			m[k] = int64(f)
		}
	}
}

func (c Command) writeBatch() *write.WriteBatch {
	return &write.WriteBatch{Account: c.Account, Collection: c.Collection, Ops: c.Ops}
}
