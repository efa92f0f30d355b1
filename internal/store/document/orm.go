package document

import "github.com/nyxmail/corestore/internal/store/schema"

// ChangeKind classifies how a single property differs between a source
// document and its modified working copy.
type ChangeKind byte

const (
	ChangeNone ChangeKind = iota
	ChangeSet
	ChangeCleared
	ChangeTagsAdded
	ChangeTagsRemoved
)

// PropertyChange is one property's delta, as computed by Merge.
type PropertyChange struct {
	Property schema.PropertyID
	Kind     ChangeKind
	Old      Value
	New      Value
	TagsAdded   []string
	TagsRemoved []string
}

// Diff holds the full "changes since source" the write pipeline needs to
// compute value writes, sorted-index updates, and tag bitmap deltas for
// one document update.
type Diff struct {
	Changes []PropertyChange
}

// HasChanges reports whether the working copy differs from source at all.
func (d *Diff) HasChanges() bool { return len(d.Changes) > 0 }

// Merge computes the diff between source (the loaded, unmodified
// document) and modified (the caller's working copy), returning the diff
// and whether any change exists. It never mutates either argument; the
// caller applies the returned diff to persist the modified document's
// property blob and emit the derived updates it implies.
func Merge(source, modified *Document) (*Diff, bool) {
	diff := &Diff{}

	seen := make(map[schema.PropertyID]bool, len(modified.Properties)+len(source.Properties))
	for id := range modified.Properties {
		seen[id] = true
	}
	for id := range source.Properties {
		seen[id] = true
	}

	for id := range seen {
		oldV, hadOld := source.Properties[id]
		newV, hasNew := modified.Properties[id]

		switch {
		case !hadOld && hasNew:
			diff.Changes = append(diff.Changes, PropertyChange{Property: id, Kind: ChangeSet, New: newV})
		case hadOld && !hasNew:
			diff.Changes = append(diff.Changes, PropertyChange{Property: id, Kind: ChangeCleared, Old: oldV})
		case hadOld && hasNew:
			if oldV.Equal(newV) {
				continue
			}
			if len(oldV.Tags) > 0 || len(newV.Tags) > 0 {
				added, removed := tagDelta(oldV.Tags, newV.Tags)
				if len(added) > 0 {
					diff.Changes = append(diff.Changes, PropertyChange{Property: id, Kind: ChangeTagsAdded, TagsAdded: added, New: newV})
				}
				if len(removed) > 0 {
					diff.Changes = append(diff.Changes, PropertyChange{Property: id, Kind: ChangeTagsRemoved, TagsRemoved: removed, Old: oldV})
				}
				continue
			}
			diff.Changes = append(diff.Changes, PropertyChange{Property: id, Kind: ChangeSet, Old: oldV, New: newV})
		}
	}

	return diff, diff.HasChanges()
}

func tagDelta(old, new []string) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, t := range old {
		oldSet[t] = true
	}
	newSet := make(map[string]bool, len(new))
	for _, t := range new {
		newSet[t] = true
	}
	for t := range newSet {
		if !oldSet[t] {
			added = append(added, t)
		}
	}
	for t := range oldSet {
		if !newSet[t] {
			removed = append(removed, t)
		}
	}
	return added, removed
}
