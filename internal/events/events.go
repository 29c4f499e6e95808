// Package events publishes interview lifecycle events.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

// Event types.
const (
	TypeTurn      = "turn"
	TypeCompleted = "completed"
)

// Event is published after a successful advance.
type Event struct {
	Type       string             `json:"type"`
	Token      string             `json:"token"`
	Step       int64              `json:"step"`
	Turn       *domain.TurnAudit  `json:"turn,omitempty"`
	Completion *domain.Completion `json:"completion,omitempty"`
	At         time.Time          `json:"at"`
}

// Publisher delivers events. Publish failures never fail an advance.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards events.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }

// Multi fans an event out to every publisher.
type Multi struct {
	pubs   []Publisher
	logger *slog.Logger
}

// NewMulti combines pubs into one Publisher.
func NewMulti(logger *slog.Logger, pubs ...Publisher) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{pubs: pubs, logger: logger}
}

// Publish implements Publisher. Every publisher is tried.
func (m *Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Publish(ctx, e); err != nil {
			m.logger.Warn("event publish failed", "type", e.Type, "token", e.Token, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Publisher.
func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.pubs {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
