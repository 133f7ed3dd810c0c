package schedule

import (
	"testing"
	"time"
)

func TestHistoryBoundedWindow(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHistory(3, nil)
	for i := 0; i < 5; i++ {
		h.Append(rec(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), 1, 0))
	}
	if h.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", h.Len())
	}
	snap := h.Snapshot()
	if snap[0].ID != "c" || snap[2].ID != "e" {
		t.Fatalf("unexpected window: %+v", snap)
	}
	recent := h.Recent(2)
	if len(recent) != 2 || recent[0].ID != "e" || recent[1].ID != "d" {
		t.Fatalf("unexpected recent: %+v", recent)
	}
	last, ok := h.Last()
	if !ok || last.ID != "e" {
		t.Fatalf("unexpected last: %+v", last)
	}
}

func TestHistorySeedSorted(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []Record{
		rec("new", base.Add(2*time.Hour), 1, 0),
		rec("mid", base.Add(time.Hour), 1, 0),
		rec("old", base, 1, 0),
	}
	h := NewHistory(2, seed)
	snap := h.Snapshot()
	if len(snap) != 2 || snap[0].ID != "mid" || snap[1].ID != "new" {
		t.Fatalf("unexpected seed window: %+v", snap)
	}
	if seed[0].ID != "new" {
		t.Fatalf("seed slice was reordered")
	}
}

func TestHistorySnapshotIsCopy(t *testing.T) {
	t.Parallel()
	h := NewHistory(0, nil)
	h.Append(rec("a", time.Now(), 1, 0))
	snap := h.Snapshot()
	snap[0].ID = "mutated"
	if got, _ := h.Last(); got.ID != "a" {
		t.Fatalf("snapshot aliases internal storage")
	}
}

func TestRecordCheck(t *testing.T) {
	t.Parallel()
	now := time.Now()
	good := rec("ok", now, 2, 1)
	if err := good.Check(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := good
	bad.Succeeded = 2
	if bad.Check() == nil {
		t.Fatalf("expected count mismatch error")
	}
	bad = good
	bad.StartedAt = now.Add(time.Hour)
	if bad.Check() == nil {
		t.Fatalf("expected ordering error")
	}
}
