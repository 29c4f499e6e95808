package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream that stores interview events.
const StreamName = "INTERVIEWS"

// NATSPublisher sends events to JetStream under interviews.<type>.
type NATSPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to url and ensures the stream exists.
func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("interviewd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"interviews.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		// The stream may be managed elsewhere; publishing still works if it exists.
		logger.Warn("failed to ensure JetStream stream", "stream", StreamName, "error", err)
	}

	return &NATSPublisher{nc: nc, js: js}, nil
}

// Subject returns the subject an event of type t is published on.
func Subject(t string) string {
	return "interviews." + t
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(e.Type)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(fmt.Sprintf("%s:%d:%s", e.Token, e.Step, e.Type))); err != nil {
		return fmt.Errorf("publish event to subject %s: %w", subject, err)
	}
	return nil
}

// Close implements Publisher.
func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
