package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/interviewd/internal/domain"
)

func TestLocalWatchFiltersByToken(t *testing.T) {
	bus := NewLocal(nil)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Watch(ctx, "tok-a")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Event{Type: TypeTurn, Token: "tok-b", Step: 1}))
	require.NoError(t, bus.Publish(ctx, Event{
		Type:       TypeCompleted,
		Token:      "tok-a",
		Step:       3,
		Completion: &domain.Completion{Reason: domain.ReasonComplete},
	}))

	select {
	case e := <-ch:
		assert.Equal(t, "tok-a", e.Token)
		assert.Equal(t, TypeCompleted, e.Type)
		require.NotNil(t, e.Completion)
		assert.Equal(t, domain.ReasonComplete, e.Completion.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}

func (f *failingPublisher) Close() error { return nil }

func TestMultiTriesEveryPublisher(t *testing.T) {
	a, b := &failingPublisher{}, &failingPublisher{}
	m := NewMulti(nil, a, Noop{}, b)

	err := m.Publish(context.Background(), Event{Type: TypeTurn, Token: "tok"})
	assert.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.NoError(t, m.Close())
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "interviews.completed", Subject(TypeCompleted))
}
