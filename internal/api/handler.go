// Package api provides the HTTP surface of the interview engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/events"
	"github.com/ashureev/interviewd/internal/token"
	"github.com/ashureev/interviewd/internal/workflow"
)

// Engine is the workflow surface the handlers need. *workflow.Engine
// satisfies it.
type Engine interface {
	Start(ctx context.Context, req workflow.StartRequest) (workflow.Result, error)
	Continue(ctx context.Context, req workflow.ContinueRequest) (workflow.Result, error)
	Advance(ctx context.Context, token string, answer *string) (workflow.Result, error)
	History(ctx context.Context, token string, limit int) ([]workflow.HistoryEntry, error)
	StateAt(ctx context.Context, token string, step int64) (domain.SessionState, error)
}

// Catalog lists the available question sets.
type Catalog interface {
	List() []domain.QuestionSet
}

// Watcher follows the events of one session.
type Watcher interface {
	Watch(ctx context.Context, token string) (<-chan events.Event, error)
}

// Options tune the handlers.
type Options struct {
	MaxRequestBodySize int64
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	RateLimit          int
	RateWindow         time.Duration
	AllowedOrigins     []string
}

// DefaultOptions returns the stock handler tuning.
func DefaultOptions() Options {
	return Options{
		MaxRequestBodySize: 1 << 20,
		KeepaliveInterval:  10 * time.Second,
		RetryDelay:         5 * time.Second,
		RateLimit:          30,
		RateWindow:         time.Minute,
		AllowedOrigins:     []string{"*"},
	}
}

// Handler serves the interview API.
type Handler struct {
	engine   Engine
	catalog  Catalog
	watcher  Watcher
	validate *validator.Validate
	limiter  *RateLimiter
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a Handler. watcher may be nil, which disables the
// event stream route.
func NewHandler(engine Engine, catalog Catalog, watcher Watcher, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = def.MaxRequestBodySize
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = def.KeepaliveInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = def.RateLimit
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = def.RateWindow
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = def.AllowedOrigins
	}
	return &Handler{
		engine:   engine,
		catalog:  catalog,
		watcher:  watcher,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  NewRateLimiter(opts.RateLimit, opts.RateWindow),
		opts:     opts,
		logger:   logger,
	}
}

// Close stops background work.
func (h *Handler) Close() {
	h.limiter.Stop()
}

// RegisterRoutes mounts the interview routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/question-sets", h.ListQuestionSets)
		r.Post("/interviews", h.StartInterview)

		r.Route("/interviews/{token}", func(r chi.Router) {
			r.Use(token.Middleware)
			r.Get("/", h.GetInterview)
			r.Post("/answers", h.Answer)
			r.Get("/history", h.History)
			r.Get("/steps/{step}", h.StateAt)
			r.Get("/ws", h.ServeWS)
			if h.watcher != nil {
				r.Get("/events", h.StreamEvents)
			}
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorBody is the payload of every failed call.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps an engine error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnknownSession):
		return http.StatusNotFound, "unknown_session"
	case errors.Is(err, domain.ErrStaleStep):
		return http.StatusConflict, "stale_step"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrNoPendingQuestion):
		return http.StatusUnprocessableEntity, "no_pending_question"
	case errors.Is(err, domain.ErrUnknownQuestionSet):
		return http.StatusNotFound, "unknown_question_set"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, domain.ErrCapability):
		return http.StatusBadGateway, "capability_failed"
	case errors.Is(err, domain.ErrStateUnreadable):
		return http.StatusInternalServerError, "state_unreadable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "code", code, "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	JSON(w, status, errorBody{Error: msg, Code: code})
}

// decode reads a size-limited JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		JSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_request"})
		return false
	}
	return true
}
