package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryLogger keeps entries in memory. Tests and ephemeral tooling use it
// in place of the store-backed logger; filter and ordering semantics match
// StoreLogger at second granularity.
type MemoryLogger struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) Log(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryLogger) Query(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.filtered(f)
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *MemoryLogger) Count(_ context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filtered(f)), nil
}

func (m *MemoryLogger) Aggregate(_ context.Context, by AggregateBy, f Filter) ([]Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var key func(e Entry) string
	switch by {
	case ByAction:
		key = func(e Entry) string { return e.Action }
	case ByResourceType:
		key = func(e Entry) string { return e.ResourceType }
	case ByDay:
		key = func(e Entry) string { return e.CreatedAt.UTC().Format("2006-01-02") }
	default:
		return nil, fmt.Errorf("unknown aggregate dimension %q", by)
	}

	counts := make(map[string]int)
	for _, e := range m.filtered(f) {
		counts[key(e)]++
	}
	buckets := make([]Bucket, 0, len(counts))
	for k, n := range counts {
		buckets = append(buckets, Bucket{Key: k, Count: n})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets, nil
}

func (m *MemoryLogger) Close() error { return nil }

// Entries returns a snapshot in insertion order.
func (m *MemoryLogger) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Reset drops everything recorded so far.
func (m *MemoryLogger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// filtered must be called with the lock held.
func (m *MemoryLogger) filtered(f Filter) []Entry {
	var matched []Entry
	for _, e := range m.entries {
		if f.ID != "" && e.ID != f.ID {
			continue
		}
		if f.ParentID != nil && e.ParentID != *f.ParentID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.ResourceType != "" && e.ResourceType != f.ResourceType {
			continue
		}
		if f.ResourceID != "" && e.ResourceID != f.ResourceID {
			continue
		}
		if f.StartTime != nil && e.CreatedAt.Unix() < f.StartTime.Unix() {
			continue
		}
		if f.EndTime != nil && e.CreatedAt.Unix() > f.EndTime.Unix() {
			continue
		}
		matched = append(matched, e)
	}
	return matched
}
