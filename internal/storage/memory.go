package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/datadavev/mnstatus/internal/registry"
)

type snapshot struct {
	nodes   []registry.Node
	fetched time.Time
}

// snapshotLoader is implemented by caches that know when a list was fetched.
type snapshotLoader interface {
	LoadSnapshot(ctx context.Context, baseURL string, maxAge time.Duration) ([]registry.Node, time.Time, bool, error)
}

// Memory keeps recent node lists in process, in front of an optional
// persistent cache. Entries expire after ttl.
type Memory struct {
	lru  *expirable.LRU[string, snapshot]
	next registry.Cache
	now  func() time.Time
}

// NewMemory creates a Memory holding up to size node lists. next may be nil.
func NewMemory(size int, ttl time.Duration, next registry.Cache) *Memory {
	return &Memory{
		lru:  expirable.NewLRU[string, snapshot](size, nil, ttl),
		next: next,
		now:  time.Now,
	}
}

// LoadNodes returns the in-process copy when it is younger than maxAge,
// falling back to the next cache. maxAge <= 0 accepts any age.
func (m *Memory) LoadNodes(ctx context.Context, baseURL string, maxAge time.Duration) ([]registry.Node, bool, error) {
	if s, ok := m.lru.Get(baseURL); ok {
		if maxAge <= 0 || m.now().Sub(s.fetched) <= maxAge {
			return withoutStatus(s.nodes), true, nil
		}
	}
	if m.next == nil {
		return nil, false, nil
	}
	nodes, fetched, ok, err := m.loadNext(ctx, baseURL, maxAge)
	if err != nil || !ok {
		return nil, false, err
	}
	m.lru.Add(baseURL, snapshot{nodes: withoutStatus(nodes), fetched: fetched})
	return nodes, true, nil
}

// loadNext reads the next cache. The fetch time is the snapshot's own when
// the next cache records one, so a copy never outlives the original's age.
func (m *Memory) loadNext(ctx context.Context, baseURL string, maxAge time.Duration) ([]registry.Node, time.Time, bool, error) {
	if sl, ok := m.next.(snapshotLoader); ok {
		return sl.LoadSnapshot(ctx, baseURL, maxAge)
	}
	nodes, ok, err := m.next.LoadNodes(ctx, baseURL, maxAge)
	return nodes, m.now(), ok, err
}

// SaveNodes stores nodes in process and in the next cache.
func (m *Memory) SaveNodes(ctx context.Context, baseURL string, nodes []registry.Node) error {
	m.lru.Add(baseURL, snapshot{nodes: withoutStatus(nodes), fetched: m.now()})
	if m.next == nil {
		return nil
	}
	return m.next.SaveNodes(ctx, baseURL, nodes)
}

// Purge drops the in-process copy for baseURL, or every copy when baseURL
// is empty.
func (m *Memory) Purge(baseURL string) {
	if baseURL == "" {
		m.lru.Purge()
		return
	}
	m.lru.Remove(baseURL)
}

func withoutStatus(nodes []registry.Node) []registry.Node {
	out := make([]registry.Node, len(nodes))
	copy(out, nodes)
	for i := range out {
		out[i].Status = nil
	}
	return out
}
