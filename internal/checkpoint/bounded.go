package checkpoint

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultOpTimeout bounds a single store operation.
const DefaultOpTimeout = 15 * time.Second

// Bounded caps concurrent access to an inner Store and gives every operation a
// deadline. Waiting for a slot or exceeding the deadline fails with
// domain.ErrStoreUnavailable, so a wedged backend never blocks callers.
type Bounded struct {
	inner   Store
	sem     *semaphore.Weighted
	timeout time.Duration
}

var _ Store = (*Bounded)(nil)

// NewBounded wraps inner with at most maxConns concurrent operations.
func NewBounded(inner Store, maxConns int, timeout time.Duration) *Bounded {
	if maxConns <= 0 {
		maxConns = 25
	}
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return &Bounded{
		inner:   inner,
		sem:     semaphore.NewWeighted(int64(maxConns)),
		timeout: timeout,
	}
}

// do runs fn under the semaphore. The slot is released when fn returns, even
// if the caller has already given up on it.
func (b *Bounded) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	if err := b.sem.Acquire(ctx, 1); err != nil {
		cancel()
		return unavailable(op, fmt.Errorf("no connection available: %w", err))
	}

	done := make(chan error, 1)
	go func() {
		defer b.sem.Release(1)
		defer cancel()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return unavailable(op, fmt.Errorf("timed out after %s: %w", b.timeout, ctx.Err()))
	}
}

// Load implements Store.
func (b *Bounded) Load(ctx context.Context, token string) (*Record, error) {
	var rec *Record
	err := b.do(ctx, "load checkpoint", func(ctx context.Context) error {
		var err error
		rec, err = b.inner.Load(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// LoadAt implements Store.
func (b *Bounded) LoadAt(ctx context.Context, token string, step int64) (*Record, error) {
	var rec *Record
	err := b.do(ctx, "load checkpoint history", func(ctx context.Context) error {
		var err error
		rec, err = b.inner.LoadAt(ctx, token, step)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Save implements Store.
func (b *Bounded) Save(ctx context.Context, rec *Record, expectedStep int64) error {
	return b.do(ctx, "save checkpoint", func(ctx context.Context) error {
		return b.inner.Save(ctx, rec, expectedStep)
	})
}

// History implements Store.
func (b *Bounded) History(ctx context.Context, token string, limit int) ([]Record, error) {
	var out []Record
	err := b.do(ctx, "query checkpoint history", func(ctx context.Context) error {
		var err error
		out, err = b.inner.History(ctx, token, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Expire implements Store.
func (b *Bounded) Expire(ctx context.Context, ttl time.Duration) (int64, error) {
	var n int64
	err := b.do(ctx, "expire checkpoints", func(ctx context.Context) error {
		var err error
		n, err = b.inner.Expire(ctx, ttl)
		return err
	})
	return n, err
}

// Ping implements Store.
func (b *Bounded) Ping(ctx context.Context) error {
	return b.do(ctx, "ping", b.inner.Ping)
}

// Close closes the inner store.
func (b *Bounded) Close() error {
	return b.inner.Close()
}
