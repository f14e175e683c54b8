package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Job states tracked by a Registry.
const (
	StateQueued    = "queued"
	StateActive    = "active"
	StateDelayed   = "delayed"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Retention bounds how long settled job keys block re-enqueue.
type Retention struct {
	Completed     time.Duration
	CompletedKeep int64
	Failed        time.Duration
	// InFlight caps how long a queued/active key lives if its owner dies.
	InFlight time.Duration
}

func DefaultRetention() Retention {
	return Retention{
		Completed:     time.Hour,
		CompletedKeep: 1000,
		Failed:        24 * time.Hour,
		InFlight:      7 * 24 * time.Hour,
	}
}

// Registry holds the identity of every live or retained job and is what
// makes enqueue idempotent.
type Registry interface {
	// Claim registers key as queued; false if the key is already known.
	Claim(ctx context.Context, key string) (bool, error)
	SetState(ctx context.Context, key, state string) error
	Complete(ctx context.Context, key string) error
	Fail(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
	Counts(ctx context.Context) (active, completed, failed int64, err error)
	Purge(ctx context.Context) error
}

type memEntry struct {
	state   string
	expires time.Time
	settled time.Time
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu        sync.Mutex
	retention Retention
	entries   map[string]*memEntry
	now       func() time.Time
}

func NewMemoryRegistry(r Retention) *MemoryRegistry {
	return &MemoryRegistry{retention: r, entries: map[string]*memEntry{}, now: time.Now}
}

func (m *MemoryRegistry) live(key string, now time.Time) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !now.Before(e.expires) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *MemoryRegistry) Claim(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.live(key, now) != nil {
		return false, nil
	}
	m.entries[key] = &memEntry{state: StateQueued, expires: m.expiry(now, m.retention.InFlight)}
	return true, nil
}

func (m *MemoryRegistry) SetState(ctx context.Context, key, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := m.live(key, now)
	if e == nil {
		e = &memEntry{}
		m.entries[key] = e
	}
	e.state = state
	e.expires = m.expiry(now, m.retention.InFlight)
	return nil
}

func (m *MemoryRegistry) Complete(ctx context.Context, key string) error {
	return m.settle(key, StateCompleted, m.retention.Completed)
}

func (m *MemoryRegistry) Fail(ctx context.Context, key string) error {
	return m.settle(key, StateFailed, m.retention.Failed)
}

func (m *MemoryRegistry) settle(key, state string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[key] = &memEntry{state: state, expires: m.expiry(now, ttl), settled: now}
	m.trimCompleted()
	return nil
}

func (m *MemoryRegistry) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryRegistry) Counts(ctx context.Context) (active, completed, failed int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key := range m.entries {
		e := m.live(key, now)
		if e == nil {
			continue
		}
		switch e.state {
		case StateActive:
			active++
		case StateCompleted:
			completed++
		case StateFailed:
			failed++
		}
	}
	return active, completed, failed, nil
}

func (m *MemoryRegistry) Purge(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key := range m.entries {
		m.live(key, now)
	}
	m.trimCompleted()
	return nil
}

// State returns the live state of key, or "" if unknown.
func (m *MemoryRegistry) State(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key, m.now()); e != nil {
		return e.state
	}
	return ""
}

// trimCompleted keeps only the most recent CompletedKeep completed keys.
func (m *MemoryRegistry) trimCompleted() {
	if m.retention.CompletedKeep <= 0 {
		return
	}
	type item struct {
		key string
		at  time.Time
	}
	var done []item
	for k, e := range m.entries {
		if e.state == StateCompleted {
			done = append(done, item{k, e.settled})
		}
	}
	excess := int64(len(done)) - m.retention.CompletedKeep
	if excess <= 0 {
		return
	}
	sort.Slice(done, func(i, j int) bool { return done[i].at.Before(done[j].at) })
	for _, it := range done[:excess] {
		delete(m.entries, it.key)
	}
}

func (m *MemoryRegistry) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

var _ Registry = (*MemoryRegistry)(nil)
