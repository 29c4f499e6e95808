package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/interviewd/internal/domain"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func openState(t *testing.T) domain.SessionState {
	t.Helper()
	st := domain.NewSessionState("tok", domain.ModeOpenEnded, "", domain.DefaultSettings(domain.ModeOpenEnded), now)
	st.AddGap(domain.NewAttributeGap("Billing", "scale", "project", 0.9, 3))
	st.AddGap(domain.NewAttributeGap("Billing", "duration", "project", 0.6, 3))
	return activate(st, domain.AttributeGapID("Billing", "scale"))
}

func fixedState(t *testing.T) domain.SessionState {
	t.Helper()
	st := domain.NewSessionState("tok", domain.ModeFixed, "set", domain.DefaultSettings(domain.ModeFixed), now)
	q := domain.Question{ID: "team", Text: "How big was your team?", Targets: []string{"team_size"}, Required: true}
	g := domain.NewFixedGap(q, 2)
	st.AddGap(g)
	return activate(st, g.ID)
}

func activate(st domain.SessionState, id string) domain.SessionState {
	st.ActiveGapID = id
	qc := domain.ContextFor(st.Gaps[id])
	st.ActiveQuestion = &qc
	return st
}

func interp(kind domain.AnswerKind, engaged bool, detail int) domain.Interpretation {
	return domain.Interpretation{Classification: domain.Classification{Kind: kind, Engaged: engaged, Detail: detail}}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	st := openState(t)
	next, _ := Apply(st, "answer", interp(domain.AnswerPartial, true, 2), now)

	assert.Empty(t, st.Turns)
	assert.Equal(t, 0, st.Gaps[st.ActiveGapID].ProbesAttempted)
	assert.NotNil(t, st.ActiveQuestion)

	require.Len(t, next.Turns, 1)
	assert.Nil(t, next.ActiveQuestion)
	assert.Equal(t, 1, next.Gaps[st.ActiveGapID].ProbesAttempted)
	assert.Equal(t, []domain.AnswerKind{domain.AnswerPartial}, next.Gaps[st.ActiveGapID].ProbeHistory)
}

func TestApplyAttributeValueResolves(t *testing.T) {
	st := openState(t)
	v := "40k rps"
	in := interp(domain.AnswerDirect, true, 4)
	in.Updates = []domain.AttributeUpdate{{GapID: st.ActiveGapID, Value: &v}}

	next, out := Apply(st, "about 40k rps", in, now)

	assert.True(t, out.Resolved)
	assert.Equal(t, domain.RuleValueSet, out.Rule)
	assert.Equal(t, "40k rps", *next.Gaps[st.ActiveGapID].Attribute.Value)
	assert.Equal(t, 0.5, next.Completeness)
}

func TestApplyAttributeWithoutValueStaysOpen(t *testing.T) {
	st := openState(t)
	next, out := Apply(st, "it was big", interp(domain.AnswerDirect, true, 5), now)
	assert.False(t, out.Resolved)
	assert.False(t, next.IsResolved(st.ActiveGapID))
}

func TestApplyFixedRules(t *testing.T) {
	tests := []struct {
		name    string
		probes  int
		in      domain.Interpretation
		want    domain.ResolutionRule
		counted bool
	}{
		{"direct detailed", 0, interp(domain.AnswerDirect, true, 3), domain.RuleDirectDetail, true},
		{"direct but thin", 0, interp(domain.AnswerDirect, true, 2), domain.RuleNone, false},
		{"relaxed on second probe", 1, interp(domain.AnswerPartial, true, 2), domain.RuleRelaxedDetail, true},
		{"forced at limit", 1, interp(domain.AnswerPartial, true, 1), domain.RuleForced, false},
		{"skip", 0, domain.Interpretation{Classification: domain.Classification{Kind: domain.AnswerPartial, Detail: 1, Skipped: true}}, domain.RuleSkipped, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := fixedState(t)
			g := st.Gaps[st.ActiveGapID]
			for i := 0; i < tt.probes; i++ {
				g.ProbesAttempted++
				g.ProbeHistory = append(g.ProbeHistory, domain.AnswerPartial)
			}
			st.Gaps[g.ID] = g

			next, out := Apply(st, "answer", tt.in, now)
			assert.Equal(t, tt.want, out.Rule)
			assert.Equal(t, tt.want != domain.RuleNone, next.IsResolved(g.ID))
			if tt.counted {
				assert.Equal(t, 1.0, next.Completeness)
			} else {
				assert.Equal(t, 0.0, next.Completeness)
			}
		})
	}
}

func TestApplyCrossGapUpdate(t *testing.T) {
	st := openState(t)
	other := domain.AttributeGapID("Billing", "duration")
	v := "two years"
	in := interp(domain.AnswerPartial, true, 2)
	in.Updates = []domain.AttributeUpdate{{GapID: other, Value: &v}, {GapID: "attr:unknown:gap", Value: &v}}

	next, out := Apply(st, "for two years", in, now)

	assert.Equal(t, []string{other}, out.AlsoResolved)
	assert.True(t, next.IsResolved(other))
	assert.Equal(t, domain.RuleValueSet, next.Gaps[other].Resolution)
	assert.False(t, out.Resolved)
}

func TestApplyEngagementCounter(t *testing.T) {
	st := openState(t)
	st, _ = Apply(st, "x", interp(domain.AnswerOffTopic, false, 1), now)
	assert.Equal(t, 1, st.ConsecutiveLowQuality)

	st = activate(st, st.ActiveGapID)
	st, _ = Apply(st, "huh?", interp(domain.AnswerClarification, false, 1), now)
	assert.Equal(t, 0, st.ConsecutiveLowQuality, "clarification counts as engaged")
	assert.True(t, st.Turns[1].Classification.Engaged)
}

func TestApplySkipCountsAsEngaged(t *testing.T) {
	st := openState(t)
	id := st.ActiveGapID
	st, _ = Apply(st, "x", interp(domain.AnswerOffTopic, false, 1), now)
	st, _ = Apply(activate(st, id), "y", interp(domain.AnswerOffTopic, false, 1), now)
	require.Equal(t, 2, st.ConsecutiveLowQuality)

	other := domain.AttributeGapID("Billing", "duration")
	skip := domain.Interpretation{Classification: domain.Classification{Kind: domain.AnswerPartial, Detail: 1, Skipped: true}}
	st, out := Apply(activate(st, other), "rather not say", skip, now)

	assert.Equal(t, domain.RuleSkipped, out.Rule)
	assert.Equal(t, 0, st.ConsecutiveLowQuality, "a skip is a deliberate answer, not disengagement")
	assert.Equal(t, 0.5, st.Completeness, "skipped gaps count toward completeness")
	assert.NotEqual(t, domain.ReasonDisengaged, Decide(st, st.Turns[2].Classification).Reason)
}

func TestCompleteness(t *testing.T) {
	st := domain.NewSessionState("tok", domain.ModeFixed, "set", domain.DefaultSettings(domain.ModeFixed), now)
	assert.Equal(t, 1.0, Completeness(st), "nothing to learn is complete")

	st.Prefilled = []domain.CoverageRecord{{GapID: "q:a"}}
	g := domain.NewFixedGap(domain.Question{ID: "b", Text: "B?", Targets: []string{"b"}}, 2)
	st.AddGap(g)
	assert.Equal(t, 0.5, Completeness(st))

	g.Resolution = domain.RuleForced
	st.Gaps[g.ID] = g
	st.MarkResolved(g.ID)
	assert.Equal(t, 0.5, Completeness(st))

	g.Resolution = domain.RuleDirectDetail
	st.Gaps[g.ID] = g
	assert.Equal(t, 1.0, Completeness(st))
}

func TestDecidePriority(t *testing.T) {
	t.Run("disengaged beats everything", func(t *testing.T) {
		st := openState(t)
		st.ConsecutiveLowQuality = 3
		d := Decide(st, domain.Classification{Kind: domain.AnswerClarification, Detail: 1})
		assert.Equal(t, ActionFinalize, d.Action)
		assert.Equal(t, domain.ReasonDisengaged, d.Reason)
	})

	t.Run("clarification follows up", func(t *testing.T) {
		st := openState(t)
		d := Decide(st, domain.Classification{Kind: domain.AnswerClarification, Detail: 1})
		assert.Equal(t, ActionFollowUp, d.Action)
	})

	t.Run("thin answer follows up while probes remain", func(t *testing.T) {
		st := openState(t)
		d := Decide(st, domain.Classification{Kind: domain.AnswerPartial, Engaged: true, Detail: 2})
		assert.Equal(t, ActionFollowUp, d.Action)
	})

	t.Run("detailed answer moves on", func(t *testing.T) {
		st := openState(t)
		d := Decide(st, domain.Classification{Kind: domain.AnswerDirect, Engaged: true, Detail: 4})
		assert.Equal(t, ActionContinue, d.Action)
	})

	t.Run("complete", func(t *testing.T) {
		st := openState(t)
		for id := range st.Gaps {
			g := st.Gaps[id]
			g.Resolution = domain.RuleValueSet
			st.Gaps[id] = g
			st.MarkResolved(id)
		}
		d := Decide(st, domain.Classification{Kind: domain.AnswerDirect, Engaged: true, Detail: 4})
		assert.Equal(t, ActionFinalize, d.Action)
		assert.Equal(t, domain.ReasonComplete, d.Reason)
	})

	t.Run("no gaps left", func(t *testing.T) {
		st := openState(t)
		for id := range st.Gaps {
			g := st.Gaps[id]
			g.Resolution = domain.RuleForced
			st.Gaps[id] = g
			st.MarkResolved(id)
		}
		d := Decide(st, domain.Classification{Kind: domain.AnswerPartial, Engaged: true, Detail: 1})
		assert.Equal(t, ActionFinalize, d.Action)
		assert.Equal(t, domain.ReasonNoGaps, d.Reason)
	})
}

func TestDecideStart(t *testing.T) {
	st := domain.NewSessionState("tok", domain.ModeFixed, "set", domain.DefaultSettings(domain.ModeFixed), now)
	st.Prefilled = []domain.CoverageRecord{{GapID: "q:a"}}
	d := DecideStart(st)
	assert.Equal(t, ActionFinalize, d.Action)
	assert.Equal(t, domain.ReasonPrefillCovered, d.Reason)

	open := domain.NewSessionState("tok", domain.ModeOpenEnded, "", domain.DefaultSettings(domain.ModeOpenEnded), now)
	d = DecideStart(open)
	assert.Equal(t, domain.ReasonNoGaps, d.Reason)

	assert.Equal(t, ActionContinue, DecideStart(openState(t)).Action)
}
