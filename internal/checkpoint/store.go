// Package checkpoint persists session snapshots keyed by session token.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

// Record is one persisted snapshot of a session.
type Record struct {
	Token     string    `json:"token"`
	Step      int64     `json:"step"`
	Snapshot  []byte    `json:"snapshot"`
	Terminal  bool      `json:"terminal"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the durable checkpoint store.
type Store interface {
	// Load returns the latest record for token, or nil when absent.
	Load(ctx context.Context, token string) (*Record, error)

	// Save overwrites the latest record and appends it to history. It fails
	// with domain.ErrConflict unless the stored step equals expectedStep
	// (0 meaning no record exists yet).
	Save(ctx context.Context, rec *Record, expectedStep int64) error

	// History lists past records for token, newest first. It never writes.
	History(ctx context.Context, token string, limit int) ([]Record, error)

	// LoadAt returns the historical record at step, or nil when absent.
	LoadAt(ctx context.Context, token string, step int64) (*Record, error)

	// Expire removes non-terminal sessions untouched for longer than ttl.
	Expire(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// Encode serializes st into a record at step.
func Encode(st domain.SessionState, step int64, now time.Time) (*Record, error) {
	st.Version = domain.SchemaVersion
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode session state: %w", err)
	}
	created := st.CreatedAt
	if created.IsZero() {
		created = now
	}
	return &Record{
		Token:     st.Token,
		Step:      step,
		Snapshot:  data,
		Terminal:  st.Terminal(),
		CreatedAt: created,
		UpdatedAt: now,
	}, nil
}

// Decode restores the session state held by rec. Anything that cannot be
// read back faithfully is reported as domain.ErrStateUnreadable.
func Decode(rec *Record) (domain.SessionState, error) {
	var st domain.SessionState
	if rec == nil || len(rec.Snapshot) == 0 {
		return st, fmt.Errorf("%w: empty snapshot", domain.ErrStateUnreadable)
	}
	if err := json.Unmarshal(rec.Snapshot, &st); err != nil {
		return st, fmt.Errorf("%w: token %s step %d: %v", domain.ErrStateUnreadable, rec.Token, rec.Step, err)
	}
	if st.Version != domain.SchemaVersion {
		return st, fmt.Errorf("%w: token %s: schema version %d, want %d",
			domain.ErrStateUnreadable, rec.Token, st.Version, domain.SchemaVersion)
	}
	if st.Token != rec.Token {
		return st, fmt.Errorf("%w: snapshot token %q does not match record %q",
			domain.ErrStateUnreadable, st.Token, rec.Token)
	}
	for id, g := range st.Gaps {
		if err := g.Validate(); err != nil {
			return st, fmt.Errorf("%w: %v", domain.ErrStateUnreadable, err)
		}
		if g.ID != id {
			return st, fmt.Errorf("%w: gap keyed %q carries id %q", domain.ErrStateUnreadable, id, g.ID)
		}
	}
	if st.Gaps == nil {
		st.Gaps = make(map[string]domain.Gap)
	}
	if st.Resolved == nil {
		st.Resolved = make(map[string]bool)
	}
	return st, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}
