package checkpoint

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// PendingSave is a checkpoint the store refused after the caller had already
// been given the result it describes.
type PendingSave struct {
	Record       Record
	ExpectedStep int64
	Attempts     int
	FailedAt     time.Time
}

// Pending buffers failed checkpoint writes until the next call for the same
// token reconciles them. Entries that are never reconciled age out.
type Pending struct {
	c *cache.Cache
}

// NewPending creates a write-behind buffer holding entries for ttl.
func NewPending(ttl time.Duration) *Pending {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Pending{c: cache.New(ttl, ttl/4)}
}

// Put stashes a failed save, replacing any older one for the same token.
func (p *Pending) Put(rec Record, expectedStep int64) {
	attempts := 1
	if prev, ok := p.Get(rec.Token); ok {
		attempts = prev.Attempts + 1
		// A newer save still has to land on top of the older stored step.
		if prev.Record.Step < rec.Step {
			expectedStep = prev.ExpectedStep
		}
	}
	p.c.SetDefault(rec.Token, PendingSave{
		Record:       copyRecord(rec),
		ExpectedStep: expectedStep,
		Attempts:     attempts,
		FailedAt:     time.Now(),
	})
}

// Get returns the stashed save for token.
func (p *Pending) Get(token string) (PendingSave, bool) {
	v, ok := p.c.Get(token)
	if !ok {
		return PendingSave{}, false
	}
	return v.(PendingSave), true
}

// Drop forgets the stashed save for token.
func (p *Pending) Drop(token string) {
	p.c.Delete(token)
}

// Len reports the number of unreconciled saves.
func (p *Pending) Len() int {
	return p.c.ItemCount()
}
