package schedule

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// DefaultHistoryWindow is the number of records kept in memory.
const DefaultHistoryWindow = 100

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

// Record is one completed run. Records are never mutated after creation.
type Record struct {
	ID          string    `json:"id"`
	Cadence     Cadence   `json:"cadence"`
	Trigger     Trigger   `json:"trigger,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	// Error is set when the run could not evaluate its probes at all.
	Error string `json:"error,omitempty"`
}

// Degraded reports whether any part of the run failed.
func (r Record) Degraded() bool { return r.Failed > 0 || r.Error != "" }

// Check verifies the record's internal invariants.
func (r Record) Check() error {
	if r.ID == "" {
		return errors.New("record: missing id")
	}
	if !r.Cadence.Valid() {
		return fmt.Errorf("record %s: invalid cadence", r.ID)
	}
	if r.Processed < 0 || r.Succeeded < 0 || r.Failed < 0 {
		return fmt.Errorf("record %s: negative count", r.ID)
	}
	if r.Succeeded+r.Failed != r.Processed {
		return fmt.Errorf("record %s: succeeded(%d)+failed(%d) != processed(%d)", r.ID, r.Succeeded, r.Failed, r.Processed)
	}
	if r.CompletedAt.Before(r.StartedAt) {
		return fmt.Errorf("record %s: completedAt before startedAt", r.ID)
	}
	return nil
}

func (r Record) Duration() time.Duration { return r.CompletedAt.Sub(r.StartedAt) }

// History is the bounded in-memory read window over past runs, oldest first.
// Appends past the limit drop the oldest entry; the durable store keeps its
// own retention.
type History struct {
	mu      sync.RWMutex
	limit   int
	records []Record
}

// NewHistory builds a window of at most limit records. seed may be in any
// order; it is sorted by completion time.
func NewHistory(limit int, seed []Record) *History {
	if limit <= 0 {
		limit = DefaultHistoryWindow
	}
	h := &History{limit: limit}
	if len(seed) > 0 {
		recs := append([]Record(nil), seed...)
		sortRecords(recs)
		if len(recs) > limit {
			recs = recs[len(recs)-limit:]
		}
		h.records = recs
	}
	return h
}

func (h *History) Append(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	if over := len(h.records) - h.limit; over > 0 {
		h.records = append(h.records[:0:0], h.records[over:]...)
	}
}

// Snapshot returns a copy of every record, oldest first.
func (h *History) Snapshot() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Record(nil), h.records...)
}

// Recent returns up to n records, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]Record, 0, n)
	for i := len(h.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.records[i])
	}
	return out
}

// Last returns the most recent record.
func (h *History) Last() (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return Record{}, false
	}
	return h.records[len(h.records)-1], true
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

func sortRecords(recs []Record) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		return a.CompletedAt.Compare(b.CompletedAt)
	})
}
