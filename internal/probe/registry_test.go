package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoprobe/internal/schedule"
	logx "geoprobe/pkg/logx"
)

type fakeStore struct {
	mu     sync.Mutex
	probes map[string]Probe
	lists  int
	failOn string
}

func newFakeStore(ps ...Probe) *fakeStore {
	s := &fakeStore{probes: map[string]Probe{}}
	for _, p := range ps {
		s.probes[p.ID] = p
	}
	return s
}

func (s *fakeStore) ListProbes(context.Context) ([]Probe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.failOn == "list" {
		return nil, errors.New("store down")
	}
	out := make([]Probe, 0, len(s.probes))
	for _, p := range s.probes {
		out = append(out, clone(p))
	}
	return out, nil
}

func (s *fakeStore) GetProbe(_ context.Context, id string) (Probe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.probes[id]
	if !ok {
		return Probe{}, fmt.Errorf("%w: %s", ErrUnknownProbe, id)
	}
	return clone(p), nil
}

func (s *fakeStore) PutProbe(_ context.Context, p Probe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[p.ID] = clone(p)
	return nil
}

func (s *fakeStore) MarkProbesRun(_ context.Context, runs map[string]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range runs {
		if p, ok := s.probes[id]; ok {
			at := at
			p.LastRunAt = &at
			s.probes[id] = p
		}
	}
	return nil
}

func sampleProbes() []Probe {
	return []Probe{
		{ID: "c", Text: "q3", Cadence: schedule.Daily, Active: true},
		{ID: "a", Text: "q1", Cadence: schedule.Daily, Active: true},
		{ID: "b", Text: "q2", Cadence: schedule.Daily, Active: false},
		{ID: "d", Text: "q4", Cadence: schedule.Weekly, Active: true},
	}
}

func TestEligibleForFiltersAndSorts(t *testing.T) {
	t.Parallel()
	r := NewRegistry(newFakeStore(sampleProbes()...), time.Minute, logx.Nop())
	got, err := r.EligibleFor(context.Background(), schedule.Daily)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	monthly, err := r.EligibleFor(context.Background(), schedule.Monthly)
	require.NoError(t, err)
	assert.Empty(t, monthly)
}

func TestSnapshotIsCached(t *testing.T) {
	t.Parallel()
	st := newFakeStore(sampleProbes()...)
	r := NewRegistry(st, time.Minute, logx.Nop())
	for i := 0; i < 3; i++ {
		_, err := r.List(context.Background(), Filter{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, st.lists)

	r.Invalidate()
	_, err := r.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, st.lists)
}

func TestSnapshotExpires(t *testing.T) {
	t.Parallel()
	st := newFakeStore(sampleProbes()...)
	r := NewRegistry(st, 20*time.Millisecond, logx.Nop())
	_, err := r.List(context.Background(), Filter{})
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	_, err = r.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, st.lists)
}

func TestSetCadenceAffectsOnlyLaterSnapshots(t *testing.T) {
	t.Parallel()
	r := NewRegistry(newFakeStore(sampleProbes()...), time.Minute, logx.Nop())
	ctx := context.Background()

	inFlight, err := r.EligibleFor(ctx, schedule.Daily)
	require.NoError(t, err)

	p, err := r.SetCadence(ctx, "a", schedule.Weekly)
	require.NoError(t, err)
	assert.Equal(t, schedule.Weekly, p.Cadence)

	require.Len(t, inFlight, 2)
	assert.Equal(t, schedule.Daily, inFlight[0].Cadence, "in-flight snapshot must not change")

	daily, err := r.EligibleFor(ctx, schedule.Daily)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "c", daily[0].ID)

	weekly, err := r.EligibleFor(ctx, schedule.Weekly)
	require.NoError(t, err)
	assert.Len(t, weekly, 2)
}

func TestSetActive(t *testing.T) {
	t.Parallel()
	r := NewRegistry(newFakeStore(sampleProbes()...), time.Minute, logx.Nop())
	ctx := context.Background()
	_, err := r.SetActive(ctx, "b", true)
	require.NoError(t, err)
	daily, err := r.EligibleFor(ctx, schedule.Daily)
	require.NoError(t, err)
	assert.Len(t, daily, 3)

	_, err = r.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrUnknownProbe)

	_, err = r.SetCadence(ctx, "a", schedule.CadenceNone)
	assert.Error(t, err)
}

func TestMarkRun(t *testing.T) {
	t.Parallel()
	r := NewRegistry(newFakeStore(sampleProbes()...), time.Minute, logx.Nop())
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 9, 0, 5, 0, time.UTC)
	require.NoError(t, r.MarkRun(ctx, map[string]time.Time{"a": at, "ghost": at}))

	p, err := r.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, p.LastRunAt)
	assert.True(t, p.LastRunAt.Equal(at))

	_, err = r.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownProbe)
}

func TestSeedInsertsOnlyMissing(t *testing.T) {
	t.Parallel()
	st := newFakeStore(Probe{ID: "a", Text: "original", Cadence: schedule.Daily, Active: false})
	r := NewRegistry(st, time.Minute, logx.Nop())
	added, err := r.Seed(context.Background(), []Probe{
		{ID: "a", Text: "from config", Cadence: schedule.Weekly, Active: true},
		{ID: "z", Text: "new", Cadence: schedule.Monthly, Active: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	a, err := r.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "original", a.Text)
	_, err = r.Get(context.Background(), "z")
	require.NoError(t, err)
}

func TestListPropagatesStoreError(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.failOn = "list"
	r := NewRegistry(st, time.Minute, logx.Nop())
	_, err := r.EligibleFor(context.Background(), schedule.Daily)
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	t.Parallel()
	short := "hello"
	assert.Equal(t, short, Preview(short))

	long := make([]byte, 0, 600)
	for len(long) < 499 {
		long = append(long, 'x')
	}
	long = append(long, "éé"...)
	got := Preview(string(long))
	assert.Len(t, got, 499)
}
