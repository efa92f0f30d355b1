package changelog

import "github.com/RoaringBitmap/roaring/v2"

// Collapsed is the net effect of a run of change-log entries, with
// overlapping operations on the same id resolved deterministically:
//
//   - inserted then updated stays an insert
//   - updated more than once stays a single update
//   - child-updated then updated is promoted to update (strongest wins)
//   - inserted then deleted vanishes from the result entirely
//   - updated then deleted becomes a delete
//
// Snapshot, when non-nil, carries the live-id bitmap of the most recent
// compaction entry found within the run; the id lists then describe only
// the entries after it.
type Collapsed struct {
	FromChangeID uint64
	ToChangeID   uint64
	Inserted     []uint32
	Updated      []uint32
	ChildUpdated []uint32
	Deleted      []uint32
	Snapshot     *roaring.Bitmap
}

type collapseState byte

const (
	stateInserted collapseState = iota
	stateUpdated
	stateChildUpdated
	stateDeleted
)

// Collapse folds entries (in ascending change-id order, as GetChanges
// returns them) into one Collapsed record.
func Collapse(entries []*Entry) *Collapsed {
	out := &Collapsed{}
	if len(entries) == 0 {
		return out
	}
	out.FromChangeID = entries[0].ChangeID
	out.ToChangeID = entries[len(entries)-1].ChangeID

	states := make(map[uint32]collapseState)
	var order []uint32

	touch := func(id uint32) {
		if _, seen := states[id]; !seen {
			order = append(order, id)
		}
	}

	for _, e := range entries {
		if e.Snapshot != nil {
			// A compaction entry resets history: everything before it is
			// summarized by the snapshot bitmap.
			out.Snapshot = e.Snapshot
			states = make(map[uint32]collapseState)
			order = order[:0]
		}
		for _, id := range e.Inserted {
			touch(id)
			states[id] = stateInserted
		}
		for _, id := range e.Updated {
			prev, seen := states[id]
			touch(id)
			if seen && prev == stateInserted {
				continue // insert absorbs the update
			}
			states[id] = stateUpdated
		}
		for _, id := range e.ChildUpdated {
			prev, seen := states[id]
			touch(id)
			if seen && (prev == stateInserted || prev == stateUpdated) {
				continue // the stronger kind already recorded wins
			}
			states[id] = stateChildUpdated
		}
		for _, id := range e.Deleted {
			prev, seen := states[id]
			if seen && prev == stateInserted {
				// Inserted and deleted within the run: net no-op.
				delete(states, id)
				continue
			}
			touch(id)
			states[id] = stateDeleted
		}
	}

	for _, id := range order {
		st, ok := states[id]
		if !ok {
			continue
		}
		switch st {
		case stateInserted:
			out.Inserted = append(out.Inserted, id)
		case stateUpdated:
			out.Updated = append(out.Updated, id)
		case stateChildUpdated:
			out.ChildUpdated = append(out.ChildUpdated, id)
		case stateDeleted:
			out.Deleted = append(out.Deleted, id)
		}
	}
	return out
}
