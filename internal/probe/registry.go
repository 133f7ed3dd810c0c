package probe

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"geoprobe/internal/schedule"
	logx "geoprobe/pkg/logx"
)

const (
	DefaultRegistryTTL = 5 * time.Minute
	snapshotKey        = "probes"
)

// Registry is a read-through cache over the probe store. Mutations write
// through to the store and refresh the cached snapshot; a run works on a
// copy taken at its start, so changes only affect later runs.
type Registry struct {
	store Store
	log   logx.Logger

	// mu serializes writes and reloads so a stale load never overwrites a
	// fresher snapshot.
	mu    sync.Mutex
	cache *ttlcache.Cache[string, []Probe]
}

func NewRegistry(store Store, ttl time.Duration, log logx.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultRegistryTTL
	}
	return &Registry{
		store: store,
		log:   log,
		cache: ttlcache.New[string, []Probe](
			ttlcache.WithTTL[string, []Probe](ttl),
			ttlcache.WithDisableTouchOnHit[string, []Probe](),
		),
	}
}

// snapshot returns the cached probe list, loading it when missing or expired.
// The returned slice is shared and must not be modified.
func (r *Registry) snapshot(ctx context.Context) ([]Probe, error) {
	if item := r.cache.Get(snapshotKey); item != nil {
		return item.Value(), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if item := r.cache.Get(snapshotKey); item != nil {
		return item.Value(), nil
	}
	return r.reloadLocked(ctx)
}

func (r *Registry) reloadLocked(ctx context.Context) ([]Probe, error) {
	list, err := r.store.ListProbes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load probes: %w", err)
	}
	list = slices.Clone(list)
	slices.SortFunc(list, func(a, b Probe) int { return strings.Compare(a.ID, b.ID) })
	r.cache.Set(snapshotKey, list, ttlcache.DefaultTTL)
	r.log.Debug("probe snapshot loaded", logx.Int("count", len(list)))
	return list, nil
}

// Invalidate drops the cached snapshot.
func (r *Registry) Invalidate() {
	r.cache.Delete(snapshotKey)
}

// EligibleFor returns copies of the active probes assigned to c, sorted by id.
func (r *Registry) EligibleFor(ctx context.Context, c schedule.Cadence) ([]Probe, error) {
	return r.List(ctx, Filter{Cadence: c, ActiveOnly: true})
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Cadence      schedule.Cadence
	ActiveOnly   bool
	InactiveOnly bool
}

func (f Filter) match(p Probe) bool {
	if f.Cadence != schedule.CadenceNone && p.Cadence != f.Cadence {
		return false
	}
	if f.ActiveOnly && !p.Active {
		return false
	}
	if f.InactiveOnly && p.Active {
		return false
	}
	return true
}

func (r *Registry) List(ctx context.Context, f Filter) ([]Probe, error) {
	all, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Probe, 0, len(all))
	for _, p := range all {
		if f.match(p) {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

func (r *Registry) Get(ctx context.Context, id string) (Probe, error) {
	all, err := r.snapshot(ctx)
	if err != nil {
		return Probe{}, err
	}
	i, ok := slices.BinarySearchFunc(all, id, func(p Probe, id string) int { return strings.Compare(p.ID, id) })
	if !ok {
		return Probe{}, fmt.Errorf("%w: %s", ErrUnknownProbe, id)
	}
	return clone(all[i]), nil
}

// SetCadence moves a probe to another cadence.
func (r *Registry) SetCadence(ctx context.Context, id string, c schedule.Cadence) (Probe, error) {
	if !c.Valid() {
		return Probe{}, fmt.Errorf("invalid cadence %d", uint8(c))
	}
	return r.update(ctx, id, func(p *Probe) { p.Cadence = c })
}

func (r *Registry) SetActive(ctx context.Context, id string, active bool) (Probe, error) {
	return r.update(ctx, id, func(p *Probe) { p.Active = active })
}

func (r *Registry) update(ctx context.Context, id string, mutate func(*Probe)) (Probe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.GetProbe(ctx, id)
	if err != nil {
		return Probe{}, err
	}
	mutate(&p)
	if err := r.store.PutProbe(ctx, p); err != nil {
		return Probe{}, fmt.Errorf("save probe %s: %w", id, err)
	}
	if _, err := r.reloadLocked(ctx); err != nil {
		// The write landed; drop the snapshot so the next read retries.
		r.cache.Delete(snapshotKey)
		r.log.Warn("probe snapshot reload failed", logx.String("probe", id), logx.Err(err))
	}
	return clone(p), nil
}

// MarkRun records when each probe last took part in a run.
func (r *Registry) MarkRun(ctx context.Context, runs map[string]time.Time) error {
	if len(runs) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.MarkProbesRun(ctx, runs); err != nil {
		return fmt.Errorf("mark probes run: %w", err)
	}
	if _, err := r.reloadLocked(ctx); err != nil {
		r.cache.Delete(snapshotKey)
		return err
	}
	return nil
}

// Seed inserts the given probes that the store does not have yet and
// returns how many were added. Existing probes are never overwritten.
func (r *Registry) Seed(ctx context.Context, seed []Probe) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.ListProbes(ctx)
	if err != nil {
		return 0, fmt.Errorf("load probes: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[p.ID] = true
	}
	added := 0
	for _, p := range seed {
		if have[p.ID] {
			continue
		}
		if err := r.store.PutProbe(ctx, p); err != nil {
			return added, fmt.Errorf("seed probe %s: %w", p.ID, err)
		}
		have[p.ID] = true
		added++
	}
	if added > 0 {
		r.cache.Delete(snapshotKey)
	}
	return added, nil
}
