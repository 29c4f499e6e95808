// Package workflow runs the interview: it loads a session checkpoint, steps
// through discovery or answer processing until the next question or the end,
// and saves the result.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/interviewd/internal/audit"
	"github.com/ashureev/interviewd/internal/checkpoint"
	"github.com/ashureev/interviewd/internal/coverage"
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/events"
	"github.com/ashureev/interviewd/internal/interpreter"
	"github.com/ashureev/interviewd/internal/lock"
)

// Interpreter classifies answers and phrases questions.
// *interpreter.Adapter satisfies it.
type Interpreter interface {
	Interpret(ctx context.Context, answer string, qc domain.QuestionContext) domain.Interpretation
	Question(ctx context.Context, req interpreter.ComposeRequest) string
}

// Prefiller sources fixed-question gaps. *coverage.Prefiller satisfies it.
type Prefiller interface {
	Prefill(ctx context.Context, corpus string, set domain.QuestionSet, minConfidence float64, maxProbes int) (coverage.Result, error)
}

// Discoverer sources open-ended gaps. *coverage.Discoverer satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, corpus string, maxProbes int) ([]domain.Gap, error)
}

// Catalog resolves question set references. *questionset.Catalog satisfies it.
type Catalog interface {
	Get(ref string) (domain.QuestionSet, bool)
}

// DefaultOpenIntro opens open-ended interviews.
const DefaultOpenIntro = "Thanks for taking the time. I have a few questions to fill in details your background didn't cover."

// DefaultReplayWindow bounds step-less replay detection.
const DefaultReplayWindow = 2 * time.Minute

// Engine drives interviews. It holds no per-session state between calls.
type Engine struct {
	store      checkpoint.Store
	locker     lock.Locker
	interp     Interpreter
	prefiller  Prefiller
	discoverer Discoverer
	catalog    Catalog

	pending   *checkpoint.Pending
	audit     audit.Sink
	publisher events.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	settings  map[domain.Mode]domain.Settings
	openIntro string
	maxSteps  int
	replayFor time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSettings replaces the default settings for mode.
func WithSettings(mode domain.Mode, s domain.Settings) Option {
	return func(e *Engine) { e.settings[mode] = s }
}

// WithPending shares a write-behind buffer.
func WithPending(p *checkpoint.Pending) Option {
	return func(e *Engine) {
		if p != nil {
			e.pending = p
		}
	}
}

// WithAudit sends turn and completion records to sink.
func WithAudit(sink audit.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.audit = sink
		}
	}
}

// WithPublisher publishes turn and completion events.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithOpenIntro sets the introduction of open-ended interviews.
func WithOpenIntro(text string) Option {
	return func(e *Engine) { e.openIntro = text }
}

// WithMaxSteps bounds the number of steps of one call.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithReplayWindow sets how long a retried answer without a step is
// recognized as the last applied one. Zero disables it.
func WithReplayWindow(d time.Duration) Option {
	return func(e *Engine) { e.replayFor = d }
}

// New creates an Engine.
func New(store checkpoint.Store, locker lock.Locker, interp Interpreter, prefiller Prefiller, discoverer Discoverer, catalog Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		locker:     locker,
		interp:     interp,
		prefiller:  prefiller,
		discoverer: discoverer,
		catalog:    catalog,
		pending:    checkpoint.NewPending(time.Hour),
		audit:      audit.Noop{},
		publisher:  events.Noop{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/ashureev/interviewd/internal/workflow"),
		now:        time.Now,
		settings: map[domain.Mode]domain.Settings{
			domain.ModeOpenEnded: domain.DefaultSettings(domain.ModeOpenEnded),
			domain.ModeFixed:     domain.DefaultSettings(domain.ModeFixed),
		},
		openIntro: DefaultOpenIntro,
		maxSteps:  32,
		replayFor: DefaultReplayWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Question is the next question to put to the respondent.
type Question struct {
	GapID     string         `json:"gap_id"`
	Kind      domain.GapKind `json:"kind"`
	Text      string         `json:"text"`
	Intro     string         `json:"intro,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Attribute string         `json:"attribute,omitempty"`
	Targets   []string       `json:"targets,omitempty"`
	FollowUp  bool           `json:"follow_up"`
	Probe     int            `json:"probe"`
}

// Result is returned by every advancing call. Exactly one of Question and
// Completion is set.
type Result struct {
	Token        string             `json:"token"`
	Step         int64              `json:"step"`
	Question     *Question          `json:"question,omitempty"`
	Completion   *domain.Completion `json:"completion,omitempty"`
	Completeness float64            `json:"completeness"`
	Turn         *domain.TurnAudit  `json:"turn,omitempty"`

	// Replayed is set when the answer had already been applied.
	Replayed bool `json:"replayed,omitempty"`
}

// Done reports whether the interview has finished.
func (r Result) Done() bool {
	return r.Completion != nil
}

// StartRequest begins an interview.
type StartRequest struct {
	Token           string  `json:"token,omitempty"`
	Corpus          string  `json:"corpus"`
	Mode            string  `json:"mode,omitempty"`
	QuestionSetRef  string  `json:"question_set,omitempty"`
	MinCompleteness float64 `json:"min_completeness,omitempty"`
}

// ContinueRequest answers the pending question. Step, when set, is the step
// of the result that carried the question and makes retries idempotent.
type ContinueRequest struct {
	Token  string `json:"token"`
	Answer string `json:"answer"`
	Step   *int64 `json:"step,omitempty"`
}

func (e *Engine) settingsFor(mode domain.Mode) domain.Settings {
	if s, ok := e.settings[mode]; ok {
		return s
	}
	return domain.DefaultSettings(mode)
}
