// Package lock serializes advances of the same session token.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned when another caller is advancing the same key.
var ErrHeld = errors.New("lock held")

// Locker grants at most one holder per key. TryAcquire never waits for the
// current holder; it fails with ErrHeld instead.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), err error)
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// MutexMap is an in-process Locker.
type MutexMap struct {
	mu      sync.Mutex
	entries map[string]*entry
}

var _ Locker = (*MutexMap)(nil)

// NewMutexMap creates an empty MutexMap.
func NewMutexMap() *MutexMap {
	return &MutexMap{entries: make(map[string]*entry)}
}

// TryAcquire implements Locker.
func (m *MutexMap) TryAcquire(_ context.Context, key string) (func(), error) {
	e := m.ref(key)
	if !e.mu.TryLock() {
		m.unref(key, e)
		return nil, ErrHeld
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.unref(key, e)
		})
	}, nil
}

func (m *MutexMap) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	return e
}

// unref drops the entry once nobody references it, so the map only holds
// keys that are in use.
func (m *MutexMap) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len reports the number of keys currently tracked.
func (m *MutexMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
