package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

// MemoryStore keeps checkpoints in process memory. It backs tests and
// single-node development runs.
type MemoryStore struct {
	mu      sync.RWMutex
	latest  map[string]Record
	history map[string]map[int64]Record
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		latest:  make(map[string]Record),
		history: make(map[string]map[int64]Record),
	}
}

func copyRecord(r Record) Record {
	r.Snapshot = append([]byte(nil), r.Snapshot...)
	return r
}

// Load returns the latest checkpoint for token.
func (m *MemoryStore) Load(_ context.Context, token string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, unavailable("load checkpoint", fmt.Errorf("store closed"))
	}
	rec, ok := m.latest[token]
	if !ok {
		return nil, nil
	}
	rec = copyRecord(rec)
	return &rec, nil
}

// LoadAt returns the historical checkpoint at step.
func (m *MemoryStore) LoadAt(_ context.Context, token string, step int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, unavailable("load checkpoint history", fmt.Errorf("store closed"))
	}
	rec, ok := m.history[token][step]
	if !ok {
		return nil, nil
	}
	rec = copyRecord(rec)
	return &rec, nil
}

// Save writes rec with an optimistic step check.
func (m *MemoryStore) Save(_ context.Context, rec *Record, expectedStep int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return unavailable("save checkpoint", fmt.Errorf("store closed"))
	}

	cur, ok := m.latest[rec.Token]
	switch {
	case expectedStep == 0 && ok:
		return fmt.Errorf("%w: token %s already exists", domain.ErrConflict, rec.Token)
	case expectedStep != 0 && (!ok || cur.Step != expectedStep):
		return fmt.Errorf("%w: token %s is no longer at step %d", domain.ErrConflict, rec.Token, expectedStep)
	}

	stored := copyRecord(*rec)
	if ok {
		stored.CreatedAt = cur.CreatedAt
	}
	m.latest[rec.Token] = stored
	if m.history[rec.Token] == nil {
		m.history[rec.Token] = make(map[int64]Record)
	}
	hist := copyRecord(*rec)
	hist.CreatedAt = rec.UpdatedAt
	m.history[rec.Token][rec.Step] = hist
	return nil
}

// History lists past checkpoints for token, newest first.
func (m *MemoryStore) History(_ context.Context, token string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, unavailable("query checkpoint history", fmt.Errorf("store closed"))
	}
	if limit <= 0 {
		limit = 50
	}
	out := make([]Record, 0, len(m.history[token]))
	for _, r := range m.history[token] {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step > out[j].Step })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Expire removes open sessions untouched for longer than ttl.
func (m *MemoryStore) Expire(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := time.Now().Add(-ttl)
	var n int64
	for token, rec := range m.latest {
		if rec.Terminal || !rec.UpdatedAt.Before(threshold) {
			continue
		}
		delete(m.latest, token)
		delete(m.history, token)
		n++
	}
	return n, nil
}

// Ping reports whether the store is open.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return unavailable("ping", fmt.Errorf("store closed"))
	}
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
