package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/interviewd/internal/audit"
	"github.com/ashureev/interviewd/internal/checkpoint"
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/events"
	"github.com/ashureev/interviewd/internal/lock"
	"github.com/ashureev/interviewd/internal/token"
)

// loaded is a session as read at the start of a call.
type loaded struct {
	st     domain.SessionState
	step   int64
	stored int64 // step the store actually holds
	exists bool
}

// Start begins an interview, or returns where an existing one stands.
func (e *Engine) Start(ctx context.Context, req StartRequest) (res Result, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Start")
	defer func() { endSpan(span, err) }()

	if req.Token == "" {
		req.Token = token.New()
	}
	tok, err := token.Parse(req.Token)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("session.token", tok))

	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		return Result{}, err
	}
	corpus := strings.TrimSpace(req.Corpus)
	if corpus == "" {
		return Result{}, domain.ErrEmptyCorpus
	}
	var set domain.QuestionSet
	if mode == domain.ModeFixed {
		if strings.TrimSpace(req.QuestionSetRef) == "" {
			return Result{}, domain.ErrQuestionSetRequired
		}
		var ok bool
		if set, ok = e.catalog.Get(req.QuestionSetRef); !ok {
			return Result{}, fmt.Errorf("%w: %q", domain.ErrUnknownQuestionSet, req.QuestionSetRef)
		}
	}
	settings := e.settingsFor(mode)
	if req.MinCompleteness != 0 {
		settings.MinCompleteness = req.MinCompleteness
	}
	if err := settings.Validate(); err != nil {
		return Result{}, err
	}

	release, err := e.acquire(ctx, tok)
	if err != nil {
		return Result{}, err
	}
	defer release()

	cur, err := e.load(ctx, tok)
	if err != nil {
		return Result{}, err
	}
	if cur.exists {
		e.logger.Info("start called for existing session", "token", tok, "step", cur.step, "terminal", cur.st.Terminal())
		return e.resultFor(cur.st, cur.step), nil
	}

	now := e.now().UTC()
	st := domain.NewSessionState(tok, mode, set.Ref, settings, now)
	st.Intro = set.Intro
	if mode == domain.ModeOpenEnded {
		st.Intro = e.openIntro
	}

	r := &run{e: e, corpus: corpus, set: set}
	st, trail, err := e.graph(r).Run(ctx, stepSource, st)
	if err != nil {
		e.logger.Error("interview start failed", "token", tok, "trail", trail, "error", err)
		return Result{}, err
	}

	step, err := e.save(ctx, st, 1, 0)
	if err != nil {
		return Result{}, err
	}
	res = e.resultFor(st, step)
	if res.Done() {
		e.emitCompletion(ctx, st, step)
	}
	e.logger.Info("interview started",
		"token", tok,
		"mode", mode,
		"gaps", len(st.Gaps),
		"prefilled", len(st.Prefilled),
		"done", res.Done(),
	)
	return res, nil
}

// Continue applies an answer to the pending question.
func (e *Engine) Continue(ctx context.Context, req ContinueRequest) (res Result, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Continue")
	defer func() { endSpan(span, err) }()

	tok, err := token.Parse(req.Token)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("session.token", tok))
	answer := strings.TrimSpace(req.Answer)
	if answer == "" {
		return Result{}, domain.ErrEmptyAnswer
	}

	release, err := e.acquire(ctx, tok)
	if err != nil {
		return Result{}, err
	}
	defer release()

	cur, err := e.load(ctx, tok)
	if err != nil {
		return Result{}, err
	}
	if !cur.exists {
		return Result{}, domain.ErrUnknownSession
	}

	digest := answerDigest(answer)
	if req.Step != nil && *req.Step != cur.step {
		if r := cur.st.LastAnswer; r != nil && r.Step == *req.Step && r.Digest == digest {
			return e.replay(cur), nil
		}
		return Result{}, fmt.Errorf("%w: answer targets step %d, session is at step %d", domain.ErrStaleStep, *req.Step, cur.step)
	}
	if req.Step == nil && e.isRetry(cur, digest) {
		return e.replay(cur), nil
	}
	if !cur.st.Pending() {
		return Result{}, domain.ErrNoPendingQuestion
	}

	r := &run{e: e, answer: answer}
	st, trail, err := e.graph(r).Run(ctx, stepInterpret, cur.st)
	if err != nil {
		e.logger.Error("interview continue failed", "token", tok, "trail", trail, "error", err)
		return Result{}, err
	}
	st.LastAnswer = &domain.AnswerReceipt{Step: cur.step, Digest: digest, At: e.now().UTC()}

	step, err := e.save(ctx, st, cur.step+1, cur.stored)
	if err != nil {
		return Result{}, err
	}
	res = e.resultFor(st, step)
	res.Turn = lastTurnAudit(st, step)
	if res.Turn != nil {
		res.Turn.RawClassification = r.interp.Raw
		res.Turn.Error = r.interp.Error
		e.emitTurn(ctx, *res.Turn)
	}
	if res.Done() {
		e.emitCompletion(ctx, st, step)
	}
	return res, nil
}

// Advance is the generic entry point: a nil answer reports the pending
// question or the completion without changing anything, a non-nil answer
// continues the interview.
func (e *Engine) Advance(ctx context.Context, tok string, answer *string) (Result, error) {
	if answer != nil {
		return e.Continue(ctx, ContinueRequest{Token: tok, Answer: *answer})
	}
	st, step, err := e.State(ctx, tok)
	if err != nil {
		return Result{}, err
	}
	return e.resultFor(st, step), nil
}

// State returns the latest state of a session and its step.
func (e *Engine) State(ctx context.Context, tok string) (domain.SessionState, int64, error) {
	tok, err := token.Parse(tok)
	if err != nil {
		return domain.SessionState{}, 0, err
	}
	cur, err := e.load(ctx, tok)
	if err != nil {
		return domain.SessionState{}, 0, err
	}
	if !cur.exists {
		return domain.SessionState{}, 0, domain.ErrUnknownSession
	}
	return cur.st, cur.step, nil
}

// StateAt reads the historical state at step. It never writes.
func (e *Engine) StateAt(ctx context.Context, tok string, step int64) (domain.SessionState, error) {
	tok, err := token.Parse(tok)
	if err != nil {
		return domain.SessionState{}, err
	}
	rec, err := e.store.LoadAt(ctx, tok, step)
	if err != nil {
		return domain.SessionState{}, err
	}
	if rec == nil {
		return domain.SessionState{}, fmt.Errorf("%w: no step %d", domain.ErrUnknownSession, step)
	}
	return checkpoint.Decode(rec)
}

// HistoryEntry summarizes one stored step.
type HistoryEntry struct {
	Step              int64                    `json:"step"`
	At                string                   `json:"at"`
	Terminal          bool                     `json:"terminal"`
	TurnsAsked        int                      `json:"turns_asked"`
	Completeness      float64                  `json:"completeness"`
	ActiveGapID       string                   `json:"active_gap_id,omitempty"`
	TerminationReason domain.TerminationReason `json:"termination_reason,omitempty"`
	Error             string                   `json:"error,omitempty"`
}

// History lists the stored steps of a session, newest first.
func (e *Engine) History(ctx context.Context, tok string, limit int) ([]HistoryEntry, error) {
	tok, err := token.Parse(tok)
	if err != nil {
		return nil, err
	}
	recs, err := e.store.History(ctx, tok, limit)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.ErrUnknownSession
	}
	out := make([]HistoryEntry, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		entry := HistoryEntry{
			Step:     rec.Step,
			At:       rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Terminal: rec.Terminal,
		}
		st, err := checkpoint.Decode(rec)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.TurnsAsked = st.TurnsAsked
			entry.Completeness = st.Completeness
			entry.ActiveGapID = st.ActiveGapID
			entry.TerminationReason = st.TerminationReason
		}
		out = append(out, entry)
	}
	return out, nil
}

func (e *Engine) acquire(ctx context.Context, tok string) (func(), error) {
	release, err := e.locker.TryAcquire(ctx, tok)
	if errors.Is(err, lock.ErrHeld) {
		return nil, fmt.Errorf("%w: token %s", domain.ErrConflict, tok)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return release, nil
}

// load reads the latest checkpoint and reconciles it with a save that failed
// after an earlier call had already returned its result.
func (e *Engine) load(ctx context.Context, tok string) (loaded, error) {
	rec, err := e.store.Load(ctx, tok)
	if err != nil {
		return loaded{}, err
	}
	var stored int64
	if rec != nil {
		stored = rec.Step
	}

	if p, ok := e.pending.Get(tok); ok {
		switch {
		case p.Record.Step <= stored:
			e.pending.Drop(tok)
		case p.ExpectedStep != stored:
			e.logger.Warn("discarding unsaved checkpoint, session moved on", "token", tok, "pending_step", p.Record.Step, "stored_step", stored)
			e.pending.Drop(tok)
		default:
			pr := p.Record
			err := e.store.Save(ctx, &pr, p.ExpectedStep)
			switch {
			case err == nil:
				e.logger.Info("reconciled unsaved checkpoint", "token", tok, "step", pr.Step)
				e.pending.Drop(tok)
				stored = pr.Step
			case errors.Is(err, domain.ErrConflict):
				e.logger.Warn("discarding unsaved checkpoint after conflict", "token", tok, "step", pr.Step)
				e.pending.Drop(tok)
				if rec, err = e.store.Load(ctx, tok); err != nil {
					return loaded{}, err
				}
				if rec != nil {
					stored = rec.Step
				}
				return e.decodeLoaded(rec, stored)
			default:
				e.logger.Warn("checkpoint still unsaved, continuing from memory", "token", tok, "step", pr.Step, "error", err)
			}
			rec = &pr
		}
	}
	return e.decodeLoaded(rec, stored)
}

func (e *Engine) decodeLoaded(rec *checkpoint.Record, stored int64) (loaded, error) {
	if rec == nil {
		return loaded{}, nil
	}
	st, err := checkpoint.Decode(rec)
	if err != nil {
		e.logger.Error("checkpoint unreadable", "token", rec.Token, "step", rec.Step, "error", err)
		return loaded{}, err
	}
	return loaded{st: st, step: rec.Step, stored: stored, exists: true}, nil
}

// save persists st as step. A conflicting write means another caller saved
// this step first and is returned. Any other failed write is buffered and
// the computed result still returned; the next call for the token
// reconciles it.
func (e *Engine) save(ctx context.Context, st domain.SessionState, step, expected int64) (int64, error) {
	rec, err := checkpoint.Encode(st, step, e.now().UTC())
	if err != nil {
		e.logger.Error("failed to encode checkpoint", "token", st.Token, "error", err)
		return step, nil
	}
	err = e.store.Save(ctx, rec, expected)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		e.logger.Warn("checkpoint save lost to a concurrent writer",
			"token", st.Token,
			"step", step,
			"expected_step", expected,
		)
		return 0, fmt.Errorf("%w: step %d of %s was saved by another caller", domain.ErrConflict, step, st.Token)
	default:
		e.logger.Warn("checkpoint save failed after successful step, buffering",
			"token", st.Token,
			"step", step,
			"expected_step", expected,
			"error", err,
		)
		e.pending.Put(*rec, expected)
	}
	return step, nil
}

// isRetry reports whether an answer sent without a step repeats the answer
// that produced the current step, recently enough to be a client retry.
func (e *Engine) isRetry(cur loaded, digest string) bool {
	r := cur.st.LastAnswer
	if r == nil || e.replayFor <= 0 || r.Digest != digest || r.Step+1 != cur.step {
		return false
	}
	return !r.At.IsZero() && e.now().Sub(r.At) <= e.replayFor
}

func (e *Engine) replay(cur loaded) Result {
	e.logger.Info("replaying already applied answer", "token", cur.st.Token, "step", cur.step)
	res := e.resultFor(cur.st, cur.step)
	res.Turn = lastTurnAudit(cur.st, cur.step)
	res.Replayed = true
	return res
}

func (e *Engine) resultFor(st domain.SessionState, step int64) Result {
	res := Result{Token: st.Token, Step: step, Completeness: st.Completeness}
	if st.Terminal() {
		c := completion(st)
		res.Completion = &c
		return res
	}
	if qc := st.ActiveQuestion; qc != nil {
		q := &Question{
			GapID:     qc.GapID,
			Kind:      qc.Kind,
			Text:      qc.Prompt,
			Subject:   qc.Subject,
			Attribute: qc.Attribute,
			Targets:   append([]string(nil), qc.Targets...),
			FollowUp:  qc.FollowUp,
			Probe:     qc.Probe,
		}
		if len(st.Turns) == 0 {
			q.Intro = st.Intro
		}
		res.Question = q
	}
	return res
}

func completion(st domain.SessionState) domain.Completion {
	return domain.Completion{
		Reason:       st.TerminationReason,
		Message:      domain.CompletionMessage(st.TerminationReason),
		Completeness: st.Completeness,
		Summary:      st.Summarize(),
	}
}

func lastTurnAudit(st domain.SessionState, step int64) *domain.TurnAudit {
	n := len(st.Turns)
	if n == 0 {
		return nil
	}
	t := st.Turns[n-1]
	return &domain.TurnAudit{
		Token:          st.Token,
		Step:           step,
		Context:        t.Question,
		Answer:         t.Answer,
		Classification: t.Classification,
		Outcome:        t.Outcome,
		Action:         st.LastAction,
		Degraded:       t.Degraded,
		At:             t.At,
	}
}

func (e *Engine) emitTurn(ctx context.Context, t domain.TurnAudit) {
	e.audit.Log(audit.Entry{Type: audit.TypeTurn, Token: t.Token, Step: t.Step, Turn: &t, At: t.At})
	if err := e.publisher.Publish(ctx, events.Event{
		Type:  events.TypeTurn,
		Token: t.Token,
		Step:  t.Step,
		Turn:  &t,
		At:    t.At,
	}); err != nil {
		e.logger.Warn("failed to publish turn event", "token", t.Token, "error", err)
	}
}

func (e *Engine) emitCompletion(ctx context.Context, st domain.SessionState, step int64) {
	c := completion(st)
	now := e.now().UTC()
	e.audit.Log(audit.Entry{Type: audit.TypeCompletion, Token: st.Token, Step: step, Completion: &c, At: now})
	if err := e.publisher.Publish(ctx, events.Event{
		Type:       events.TypeCompleted,
		Token:      st.Token,
		Step:       step,
		Completion: &c,
		At:         now,
	}); err != nil {
		e.logger.Warn("failed to publish completion event", "token", st.Token, "error", err)
	}
	e.logger.Info("interview finished",
		"token", st.Token,
		"reason", st.TerminationReason,
		"completeness", st.Completeness,
		"turns", len(st.Turns),
	)
}

func answerDigest(answer string) string {
	sum := sha256.Sum256([]byte(answer))
	return hex.EncodeToString(sum[:16])
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
