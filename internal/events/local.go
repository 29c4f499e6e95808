package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic carries every interview event on the in-process bus.
const Topic = "interview.events"

// Local is an in-process bus backed by a watermill Go channel. Watchers
// subscribe to follow a single session.
type Local struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

var _ Publisher = (*Local)(nil)

// NewLocal creates the in-process bus.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewStdLogger(false, false),
		),
		logger: logger,
	}
}

// Publish implements Publisher.
func (l *Local) Publish(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("token", e.Token)
	msg.Metadata.Set("type", e.Type)
	if err := l.pubSub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Watch streams the events of token until ctx ends.
func (l *Local) Watch(ctx context.Context, token string) (<-chan Event, error) {
	messages, err := l.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to events: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			if msg.Metadata.Get("token") != token {
				msg.Ack()
				continue
			}
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				l.logger.Warn("dropping undecodable event", "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close implements Publisher.
func (l *Local) Close() error {
	return l.pubSub.Close()
}
