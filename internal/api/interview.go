package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/interviewd/internal/token"
	"github.com/ashureev/interviewd/internal/workflow"
)

// startRequest is the body of POST /api/interviews.
type startRequest struct {
	Token           string  `json:"token" validate:"omitempty,max=128"`
	Corpus          string  `json:"corpus" validate:"required"`
	Mode            string  `json:"mode" validate:"omitempty,oneof=open_ended fixed_question_set"`
	QuestionSet     string  `json:"question_set" validate:"required_if=Mode fixed_question_set"`
	MinCompleteness float64 `json:"min_completeness" validate:"gte=0,lte=1"`
}

// answerRequest is the body of POST /api/interviews/{token}/answers.
type answerRequest struct {
	Answer string `json:"answer" validate:"required"`
	Step   *int64 `json:"step" validate:"omitempty,gte=1"`
}

// wantsStream reports whether the client asked for progress events.
func wantsStream(r *http.Request) bool {
	if r.URL.Query().Get("stream") == "1" {
		return true
	}
	return r.Header.Get("Accept") == "text/event-stream"
}

// StartInterview handles POST /api/interviews.
func (h *Handler) StartInterview(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow("start:" + token.IPFromRequest(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var body startRequest
	if !h.decode(w, r, &body) {
		return
	}
	req := workflow.StartRequest{
		Token:           body.Token,
		Corpus:          body.Corpus,
		Mode:            body.Mode,
		QuestionSetRef:  body.QuestionSet,
		MinCompleteness: body.MinCompleteness,
	}
	if req.Token == "" {
		req.Token = token.New()
	}

	h.logger.Info("Interview start request",
		"token", req.Token,
		"mode", req.Mode,
		"question_set", req.QuestionSetRef,
		"corpus_length", len(req.Corpus),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	if wantsStream(r) {
		h.streamCall(w, r, req.Token, func(ctx context.Context) (workflow.Result, error) {
			return h.engine.Start(ctx, req)
		})
		return
	}

	res, err := h.engine.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// Answer handles POST /api/interviews/{token}/answers.
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	tok := token.FromContext(r.Context())
	if !h.limiter.Allow("answer:" + tok) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var body answerRequest
	if !h.decode(w, r, &body) {
		return
	}
	req := workflow.ContinueRequest{Token: tok, Answer: body.Answer, Step: body.Step}

	h.logger.Debug("Interview answer",
		"token", tok,
		"answer_length", len(body.Answer),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	if wantsStream(r) {
		h.streamCall(w, r, tok, func(ctx context.Context) (workflow.Result, error) {
			return h.engine.Continue(ctx, req)
		})
		return
	}

	res, err := h.engine.Continue(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// GetInterview handles GET /api/interviews/{token}: the pending question or
// the completion, without changing anything.
func (h *Handler) GetInterview(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Advance(r.Context(), token.FromContext(r.Context()), nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// History handles GET /api/interviews/{token}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := h.engine.History(r.Context(), token.FromContext(r.Context()), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"history": entries})
}

// StateAt handles GET /api/interviews/{token}/steps/{step}.
func (h *Handler) StateAt(w http.ResponseWriter, r *http.Request) {
	step, err := strconv.ParseInt(chi.URLParam(r, "step"), 10, 64)
	if err != nil || step < 1 {
		Error(w, http.StatusBadRequest, "step must be a positive integer")
		return
	}
	st, err := h.engine.StateAt(r.Context(), token.FromContext(r.Context()), step)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// ListQuestionSets handles GET /api/question-sets.
func (h *Handler) ListQuestionSets(w http.ResponseWriter, _ *http.Request) {
	type summary struct {
		Ref       string `json:"ref"`
		Version   string `json:"version,omitempty"`
		Title     string `json:"title,omitempty"`
		Questions int    `json:"questions"`
	}
	var out []summary
	if h.catalog != nil {
		for _, s := range h.catalog.List() {
			out = append(out, summary{Ref: s.Ref, Version: s.Version, Title: s.Title, Questions: len(s.Questions)})
		}
	}
	if out == nil {
		out = []summary{}
	}
	JSON(w, http.StatusOK, map[string]any{"question_sets": out})
}
