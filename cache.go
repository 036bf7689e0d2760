package sqlmap

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DeserializerState is a compiled projection together with the layout hash
// it was built for. It is replaced as a whole, never mutated.
type DeserializerState struct {
	Hash  uint64
	proj  projection
	parts []projection // multi-mapping, one per sub-type
}

// CacheInfo is the per-Identity cache record.
type CacheInfo struct {
	bind         atomic.Pointer[paramBinder]
	deserializer atomic.Pointer[DeserializerState]
	lastUsed     atomic.Int64
}

// Deserializer returns the current state, or nil while unset.
func (ci *CacheInfo) Deserializer() *DeserializerState { return ci.deserializer.Load() }

// binder returns the cached parameter binder, compiling it on first use.
// Concurrent first callers may each compile; the last store wins.
func (ci *CacheInfo) binder(compile func() (*paramBinder, error)) (*paramBinder, error) {
	if b := ci.bind.Load(); b != nil {
		return b, nil
	}
	b, err := compile()
	if err != nil {
		return nil, err
	}
	ci.bind.Store(b)
	return b, nil
}

// Stats is a point-in-time view of a PlanCache.
type Stats struct {
	Hits      int64 // deserializer reused
	Misses    int64 // deserializer unset or stale
	Compiles  int64 // projections built and stored
	Evictions int64
	Size      int
	HitRate   float64
}

// PlanCache maps identities to their cached plans. It is safe for concurrent
// use; inserts are lock-free and stale plans are swapped, not edited.
type PlanCache struct {
	entries   sync.Map // Identity -> *CacheInfo
	clock     atomic.Int64
	size      atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	compiles  atomic.Int64
	evictions atomic.Int64
}

// GetOrCreate returns the record for id, inserting an empty one if absent.
func (c *PlanCache) GetOrCreate(id Identity) *CacheInfo {
	var info *CacheInfo
	if v, ok := c.entries.Load(id); ok {
		info = v.(*CacheInfo)
	} else {
		v, loaded := c.entries.LoadOrStore(id, &CacheInfo{})
		if !loaded {
			c.size.Add(1)
		}
		info = v.(*CacheInfo)
	}
	info.lastUsed.Store(c.clock.Add(1))
	return info
}

// deserializer returns info's state when its hash matches cols; otherwise it
// builds a new state and swaps it in. drift reports that a previous state
// existed for a different layout.
func (c *PlanCache) deserializer(info *CacheInfo, cols []Column, build func(hash uint64) (*DeserializerState, error)) (st *DeserializerState, drift bool, err error) {
	hash := layoutHash(cols)
	old := info.deserializer.Load()
	if old != nil && old.Hash == hash {
		c.hits.Add(1)
		return old, false, nil
	}
	c.misses.Add(1)
	st, err = build(hash)
	if err != nil {
		return nil, false, err
	}
	c.compiles.Add(1)
	info.deserializer.Store(st)
	return st, old != nil, nil
}

// Len reports the number of cached identities.
func (c *PlanCache) Len() int { return int(c.size.Load()) }

func (c *PlanCache) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Compiles:  c.compiles.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Trim evicts least-recently-used identities until at most max remain and
// reports how many were removed. Callers holding a *CacheInfo keep using it.
func (c *PlanCache) Trim(max int) int {
	type aged struct {
		id   Identity
		info *CacheInfo
		tick int64
	}
	var all []aged
	c.entries.Range(func(k, v any) bool {
		info := v.(*CacheInfo)
		all = append(all, aged{id: k.(Identity), info: info, tick: info.lastUsed.Load()})
		return true
	})
	if len(all) <= max {
		return 0
	}
	sort.Slice(all, func(i, j int) bool { return all[i].tick < all[j].tick })
	n := 0
	for _, a := range all[:len(all)-max] {
		if c.entries.CompareAndDelete(a.id, a.info) {
			c.size.Add(-1)
			n++
		}
	}
	c.evictions.Add(int64(n))
	return n
}

// Purge drops every cached identity.
func (c *PlanCache) Purge() {
	c.entries.Range(func(k, v any) bool {
		if c.entries.CompareAndDelete(k, v) {
			c.size.Add(-1)
		}
		return true
	})
}
