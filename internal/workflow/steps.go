package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/gap"
	"github.com/ashureev/interviewd/internal/interpreter"
	"github.com/ashureev/interviewd/internal/policy"
)

// Step names.
const (
	stepSource      = "source"
	stepDecideStart = "decide_start"
	stepSelect      = "select"
	stepAsk         = "ask"
	stepInterpret   = "interpret"
	stepUpdate      = "update"
	stepDecide      = "decide"
	stepFinalize    = "finalize"
)

// run carries the inputs and intermediate values of one call.
type run struct {
	e      *Engine
	corpus string
	set    domain.QuestionSet
	answer string
	interp domain.Interpretation
}

func (e *Engine) graph(r *run) *Graph {
	return NewGraph(e.maxSteps).
		AddStep(stepSource, r.source).
		AddEdge(stepSource, stepDecideStart).
		AddStep(stepDecideStart, r.decideStart).
		AddRoute(stepDecideStart, routeByAction).
		AddStep(stepSelect, r.selectGap).
		AddRoute(stepSelect, routeAfterSelect).
		AddStep(stepAsk, r.ask).
		AddEdge(stepAsk, End).
		AddStep(stepInterpret, r.interpret).
		AddEdge(stepInterpret, stepUpdate).
		AddStep(stepUpdate, r.update).
		AddEdge(stepUpdate, stepDecide).
		AddStep(stepDecide, r.decide).
		AddRoute(stepDecide, routeByAction).
		AddStep(stepFinalize, r.finalize).
		AddEdge(stepFinalize, End)
}

func routeByAction(st domain.SessionState) string {
	switch policy.Action(st.LastAction) {
	case policy.ActionFinalize:
		return stepFinalize
	case policy.ActionFollowUp:
		return stepAsk
	default:
		return stepSelect
	}
}

func routeAfterSelect(st domain.SessionState) string {
	if st.Terminal() {
		return stepFinalize
	}
	return stepAsk
}

// source discovers or prefills the gaps of a new session.
func (r *run) source(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	s := st.Settings
	switch st.Mode {
	case domain.ModeFixed:
		notify(ctx, StageAssessingCoverage, fmt.Sprintf("Checking your background against %d questions", len(r.set.Questions)))
		res, err := r.e.prefiller.Prefill(ctx, r.corpus, r.set, s.PrefillConfidence, s.MaxProbes)
		if err != nil {
			return st, fmt.Errorf("prefill: %w", err)
		}
		for _, g := range res.Gaps {
			st.AddGap(g)
		}
		st.Prefilled = append(st.Prefilled, res.Filled...)
	default:
		notify(ctx, StageDiscovering, "Reading your background")
		gaps, err := r.e.discoverer.Discover(ctx, r.corpus, s.MaxProbes)
		if err != nil {
			return st, fmt.Errorf("discover: %w", err)
		}
		for _, g := range gaps {
			st.AddGap(g)
		}
	}
	st.Completeness = policy.Completeness(st)
	return st, nil
}

func (r *run) decideStart(_ context.Context, st domain.SessionState) (domain.SessionState, error) {
	return applyDecision(st, policy.DecideStart(st)), nil
}

func (r *run) decide(_ context.Context, st domain.SessionState) (domain.SessionState, error) {
	var c domain.Classification
	if n := len(st.Turns); n > 0 {
		c = st.Turns[n-1].Classification
	}
	return applyDecision(st, policy.Decide(st, c)), nil
}

func applyDecision(st domain.SessionState, d policy.Decision) domain.SessionState {
	st.LastAction = string(d.Action)
	switch d.Action {
	case policy.ActionFinalize:
		st.Finish(d.Reason)
	case policy.ActionContinue:
		st.ActiveGapID = ""
	}
	return st
}

// selectGap activates the most urgent eligible gap, or finishes the
// interview when none is left.
func (r *run) selectGap(_ context.Context, st domain.SessionState) (domain.SessionState, error) {
	id, ok := gap.Select(st.Gaps, st.Resolved, st.Settings)
	if !ok {
		st.LastAction = string(policy.ActionFinalize)
		st.Finish(domain.ReasonNoGaps)
		return st, nil
	}
	st.ActiveGapID = id
	return st, nil
}

// ask phrases the question for the active gap and pauses the run.
func (r *run) ask(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	g, ok := st.ActiveGap()
	if !ok {
		return st, fmt.Errorf("no active gap to ask about")
	}

	qc := domain.ContextFor(g)
	qc.OpenTargets = openTargets(st, g)
	req := interpreter.ComposeRequest{
		Context:  qc,
		FollowUp: g.ProbesAttempted > 0,
	}
	if n := len(g.ProbeHistory); n > 0 {
		req.LastKind = g.ProbeHistory[n-1]
	}
	if prev, ok := lastAnswerFor(st, g.ID); ok {
		req.PreviousAnswer = prev
	}

	notify(ctx, StageComposing, "Preparing the next question")
	prompt := r.e.interp.Question(ctx, req)
	qc.Prompt = prompt
	if g.Fixed == nil {
		qc.QuestionText = prompt
	}
	qc.FollowUp = req.FollowUp
	qc.AskedAt = r.e.now().UTC()

	st.ActiveQuestion = &qc
	st.TurnsAsked++
	st.UpdatedAt = qc.AskedAt
	return st, nil
}

// openTargets lists the other unresolved attribute gaps of the same subject,
// which an answer may fill in passing.
func openTargets(st domain.SessionState, active domain.Gap) []domain.TargetRef {
	if active.Attribute == nil {
		return nil
	}
	var out []domain.TargetRef
	for id, g := range st.Gaps {
		if id == active.ID || g.Attribute == nil || st.IsResolved(id) {
			continue
		}
		if !strings.EqualFold(g.Attribute.Subject, active.Attribute.Subject) {
			continue
		}
		out = append(out, domain.TargetRef{
			GapID:     id,
			Subject:   g.Attribute.Subject,
			Attribute: g.Attribute.Attribute,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GapID < out[j].GapID })
	return out
}

func lastAnswerFor(st domain.SessionState, gapID string) (string, bool) {
	for i := len(st.Turns) - 1; i >= 0; i-- {
		if st.Turns[i].Question.GapID == gapID {
			return st.Turns[i].Answer, true
		}
	}
	return "", false
}

func (r *run) interpret(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	if st.ActiveQuestion == nil {
		return st, domain.ErrNoPendingQuestion
	}
	notify(ctx, StageInterpreting, "Reading your answer")
	r.interp = r.e.interp.Interpret(ctx, r.answer, *st.ActiveQuestion)
	return st, nil
}

func (r *run) update(_ context.Context, st domain.SessionState) (domain.SessionState, error) {
	next, _ := policy.Apply(st, r.answer, r.interp, r.e.now().UTC())
	return next, nil
}

func (r *run) finalize(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	notify(ctx, StageFinalizing, "Wrapping up")
	if !st.Terminal() {
		st.Finish(domain.ReasonNoGaps)
	}
	st.Completeness = policy.Completeness(st)
	st.UpdatedAt = r.e.now().UTC()
	return st, nil
}
