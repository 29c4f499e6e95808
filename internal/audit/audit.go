// Package audit writes an NDJSON trail of every processed answer and every
// completed interview.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ashureev/interviewd/internal/domain"
)

// Entry types.
const (
	TypeTurn       = "turn"
	TypeCompletion = "completion"
)

// Entry is one line of the audit trail.
type Entry struct {
	Type       string             `json:"type"`
	Token      string             `json:"token"`
	Step       int64              `json:"step"`
	Turn       *domain.TurnAudit  `json:"turn,omitempty"`
	Completion *domain.Completion `json:"completion,omitempty"`
	At         time.Time          `json:"at"`
}

// Sink receives audit entries. Log must not block the caller.
type Sink interface {
	Log(e Entry)
	Close() error
}

// Noop discards entries.
type Noop struct{}

// Log implements Sink.
func (Noop) Log(Entry) {}

// Close implements Sink.
func (Noop) Close() error { return nil }

// Config controls the file sink.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	// Rotation of the global log, in megabytes and days.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FileSink appends entries to one file per session and optionally to a
// rotated global file. Writes happen on a background goroutine.
type FileSink struct {
	cfg    Config
	queue  chan Entry
	global io.WriteCloser
	logger *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ Sink = (*FileSink)(nil)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// New returns a FileSink, or Noop when cfg is disabled.
func New(cfg Config, logger *slog.Logger) (Sink, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return NewFileSink(cfg, logger)
}

// NewFileSink creates the audit directory and starts the writer.
func NewFileSink(cfg Config, logger *slog.Logger) (*FileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	s := &FileSink{
		cfg:    cfg,
		queue:  make(chan Entry, cfg.QueueSize),
		logger: logger,
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0755); err != nil {
			return nil, fmt.Errorf("create global audit directory: %w", err)
		}
		s.global = &lumberjack.Logger{
			Filename:   cfg.GlobalPath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
			Compress:   true,
		}
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Log queues e. A full queue drops the entry with a warning.
func (s *FileSink) Log(e Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case s.queue <- e:
	default:
		s.logger.Warn("audit queue full, dropping entry", "token", e.Token, "type", e.Type)
	}
}

// Close drains the queue and closes the files.
func (s *FileSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		s.wg.Wait()
		if s.global != nil {
			err = s.global.Close()
		}
	})
	return err
}

func (s *FileSink) run() {
	defer s.wg.Done()
	for e := range s.queue {
		line, err := json.Marshal(e)
		if err != nil {
			s.logger.Warn("failed to encode audit entry", "token", e.Token, "error", err)
			continue
		}
		line = append(line, '\n')

		if err := s.appendSession(e.Token, line); err != nil {
			s.logger.Warn("failed to write session audit", "token", e.Token, "error", err)
		}
		if s.global != nil {
			if _, err := s.global.Write(line); err != nil {
				s.logger.Warn("failed to write global audit", "error", err)
			}
		}
	}
}

// SessionPath is the per-session audit file for token.
func (s *FileSink) SessionPath(token string) string {
	name := unsafeName.ReplaceAllString(token, "_")
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.cfg.Dir, name+".ndjson")
}

func (s *FileSink) appendSession(token string, line []byte) error {
	f, err := os.OpenFile(s.SessionPath(token), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
