package changelog

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
)

func TestCollapseInsertAbsorbsUpdate(t *testing.T) {
	got := Collapse([]*Entry{
		{ChangeID: 1, Inserted: []uint32{7}},
		{ChangeID: 2, Updated: []uint32{7}},
	})
	if len(got.Inserted) != 1 || got.Inserted[0] != 7 {
		t.Fatalf("expected [7] inserted, got %v", got.Inserted)
	}
	if len(got.Updated) != 0 {
		t.Fatalf("update should collapse into the insert, got %v", got.Updated)
	}
}

func TestCollapseInsertThenDeleteVanishes(t *testing.T) {
	got := Collapse([]*Entry{
		{ChangeID: 1, Inserted: []uint32{1}},
		{ChangeID: 2, Updated: []uint32{1}},
		{ChangeID: 3, Deleted: []uint32{1}},
		{ChangeID: 4, Inserted: []uint32{2}},
		{ChangeID: 5, Updated: []uint32{2}},
	})
	if len(got.Deleted) != 0 {
		t.Fatalf("insert+delete should vanish, got deleted=%v", got.Deleted)
	}
	if len(got.Inserted) != 1 || got.Inserted[0] != 2 {
		t.Fatalf("expected [2] inserted, got %v", got.Inserted)
	}
	if len(got.Updated) != 0 {
		t.Fatalf("expected no updates, got %v", got.Updated)
	}
}

func TestCollapseUpdateThenDeleteBecomesDelete(t *testing.T) {
	got := Collapse([]*Entry{
		{ChangeID: 1, Updated: []uint32{9}},
		{ChangeID: 2, Deleted: []uint32{9}},
	})
	if len(got.Deleted) != 1 || got.Deleted[0] != 9 {
		t.Fatalf("expected [9] deleted, got %v", got.Deleted)
	}
	if len(got.Updated) != 0 {
		t.Fatalf("expected no updates, got %v", got.Updated)
	}
}

func TestCollapsePromotesChildUpdateToUpdate(t *testing.T) {
	got := Collapse([]*Entry{
		{ChangeID: 1, ChildUpdated: []uint32{4}},
		{ChangeID: 2, Updated: []uint32{4}},
	})
	if len(got.Updated) != 1 || got.Updated[0] != 4 {
		t.Fatalf("expected [4] updated, got updated=%v child=%v", got.Updated, got.ChildUpdated)
	}
	if len(got.ChildUpdated) != 0 {
		t.Fatalf("child-update should be promoted away, got %v", got.ChildUpdated)
	}
}

func TestCollapseRepeatedUpdatesStaySingle(t *testing.T) {
	got := Collapse([]*Entry{
		{ChangeID: 1, Updated: []uint32{3}},
		{ChangeID: 2, Updated: []uint32{3}},
		{ChangeID: 3, Updated: []uint32{3}},
	})
	if len(got.Updated) != 1 || got.Updated[0] != 3 {
		t.Fatalf("expected one update for 3, got %v", got.Updated)
	}
}

func TestCollapseSnapshotResetsPrecedingHistory(t *testing.T) {
	snap := roaring.BitmapOf(1, 2, 3)
	got := Collapse([]*Entry{
		{ChangeID: 1, Inserted: []uint32{1}},
		{ChangeID: 2, Inserted: []uint32{2}},
		{ChangeID: 3, Snapshot: snap},
		{ChangeID: 4, Inserted: []uint32{5}},
	})
	if got.Snapshot == nil || !got.Snapshot.Equals(snap) {
		t.Fatalf("expected the snapshot bitmap to carry through")
	}
	if len(got.Inserted) != 1 || got.Inserted[0] != 5 {
		t.Fatalf("only post-snapshot entries should survive, got %v", got.Inserted)
	}
}

func TestCollapseBoundsReportFirstAndLastChangeID(t *testing.T) {
	got := Collapse([]*Entry{
		{ChangeID: 11, Inserted: []uint32{1}},
		{ChangeID: 15, Updated: []uint32{1}},
	})
	if got.FromChangeID != 11 || got.ToChangeID != 15 {
		t.Fatalf("expected bounds 11..15, got %d..%d", got.FromChangeID, got.ToChangeID)
	}
}
