package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGapIDsAreStable(t *testing.T) {
	a := NewAttributeGap("Checkout Service", "Team Size", "project", 0.9, 3)
	b := NewAttributeGap("  checkout service ", "team_size", "project", 0.6, 3)
	assert.Equal(t, "attr:checkout-service:team-size", a.ID)
	assert.Equal(t, a.ID, b.ID)

	q := Question{Text: "How big was your team?", Targets: []string{"team_size"}}
	assert.Equal(t, FixedGapID(q.StableID()), NewFixedGap(q, 2).ID)
	assert.Equal(t, q.StableID(), Question{Text: " How big was your team? "}.StableID())
	assert.Equal(t, "q:team", NewFixedGap(Question{ID: "team", Text: "x", Targets: []string{"t"}}, 2).ID)
}

func TestGapValidate(t *testing.T) {
	g := NewAttributeGap("Billing", "scale", "project", 0.9, 3)
	require.NoError(t, g.Validate())

	g.Fixed = &FixedQuestionGap{QuestionID: "x"}
	assert.Error(t, g.Validate())

	f := NewFixedGap(Question{ID: "a", Text: "A?", Targets: []string{"a"}}, 2)
	require.NoError(t, f.Validate())
	f.Kind = "mystery"
	assert.Error(t, f.Validate())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeOpenEnded, m)

	m, err = ParseMode("fixed_question_set")
	require.NoError(t, err)
	assert.Equal(t, ModeFixed, m)

	_, err = ParseMode("freeform")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDefaultSettings(t *testing.T) {
	open := DefaultSettings(ModeOpenEnded)
	fixed := DefaultSettings(ModeFixed)
	assert.Equal(t, 0.9, open.MinCompleteness)
	assert.Equal(t, 3, open.MaxProbes)
	assert.Equal(t, 1.0, fixed.MinCompleteness)
	assert.Equal(t, 2, fixed.MaxProbes)
	assert.NoError(t, open.Validate())
	assert.NoError(t, fixed.Validate())

	bad := open
	bad.MaxProbes = 0
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}

func TestValidationErrorsMatchFamily(t *testing.T) {
	for _, err := range []error{ErrUnknownSession, ErrNoPendingQuestion, ErrEmptyCorpus, ErrStaleStep} {
		assert.True(t, errors.Is(err, ErrValidation), err.Error())
	}
	assert.False(t, errors.Is(ErrConflict, ErrValidation))
	assert.False(t, errors.Is(ErrUnknownSession, ErrEmptyCorpus))
}

func TestCloneIsDeep(t *testing.T) {
	st := NewSessionState("tok", ModeOpenEnded, "", DefaultSettings(ModeOpenEnded), time.Now())
	g := NewAttributeGap("Billing", "scale", "project", 0.9, 3)
	st.AddGap(g)
	qc := ContextFor(g)
	st.ActiveQuestion = &qc
	st.AppendTurn(Turn{Question: qc, Answer: "a"})

	c := st.Clone()
	cg := c.Gaps[g.ID]
	v := "big"
	cg.Attribute.Value = &v
	cg.ProbeHistory = append(cg.ProbeHistory, AnswerDirect)
	c.Gaps[g.ID] = cg
	c.MarkResolved(g.ID)
	c.ActiveQuestion.Prompt = "changed"
	c.Turns[0].Answer = "b"

	assert.Nil(t, st.Gaps[g.ID].Attribute.Value)
	assert.Empty(t, st.Gaps[g.ID].ProbeHistory)
	assert.False(t, st.IsResolved(g.ID))
	assert.Empty(t, st.ActiveQuestion.Prompt)
	assert.Equal(t, "a", st.Turns[0].Answer)
}

func TestAddGapAssignsSequence(t *testing.T) {
	st := NewSessionState("tok", ModeOpenEnded, "", DefaultSettings(ModeOpenEnded), time.Now())
	assert.True(t, st.AddGap(NewAttributeGap("A", "scale", "", 0.5, 3)))
	assert.True(t, st.AddGap(NewAttributeGap("B", "scale", "", 0.5, 3)))
	assert.False(t, st.AddGap(NewAttributeGap("A", "scale", "", 0.9, 3)))
	assert.Equal(t, 0, st.Gaps[AttributeGapID("A", "scale")].Seq)
	assert.Equal(t, 1, st.Gaps[AttributeGapID("B", "scale")].Seq)
	assert.Equal(t, 0.5, st.Gaps[AttributeGapID("A", "scale")].Severity)
}

func TestFinishAndSummary(t *testing.T) {
	st := NewSessionState("tok", ModeFixed, "set", DefaultSettings(ModeFixed), time.Now())
	g := NewFixedGap(Question{ID: "a", Text: "A?", Targets: []string{"a"}}, 2)
	st.AddGap(g)
	st.Prefilled = []CoverageRecord{{GapID: "q:b"}}
	st.TurnsAsked = 2
	st.AppendTurn(Turn{Classification: Classification{Kind: AnswerPartial, Detail: 2}})
	st.AppendTurn(Turn{Classification: Classification{Kind: AnswerPartial, Skipped: true}})
	st.MarkResolved(g.ID)

	st.ActiveGapID = g.ID
	st.Finish(ReasonComplete)
	assert.True(t, st.Terminal())
	assert.False(t, st.Pending())
	assert.Empty(t, st.ActiveGapID)

	sum := st.Summarize()
	assert.Equal(t, Summary{QuestionsAsked: 2, Answered: 1, Skipped: 1, Resolved: 2, Prefilled: 1, Total: 2}, sum)
	assert.NotEmpty(t, CompletionMessage(ReasonComplete))
}

func TestClassificationNormalized(t *testing.T) {
	tests := []struct {
		name string
		in   Classification
		want Classification
	}{
		{"unknown kind reads as partial", Classification{Kind: "weird", Detail: 0}, Classification{Kind: AnswerPartial, Detail: 1}},
		{"detail clamped high", Classification{Kind: AnswerDirect, Engaged: true, Detail: 7}, Classification{Kind: AnswerDirect, Engaged: true, Detail: 5}},
		{"clarification is engaged", Classification{Kind: AnswerClarification, Detail: 2}, Classification{Kind: AnswerClarification, Engaged: true, Detail: 2}},
		{"skip is engaged", Classification{Kind: AnswerPartial, Detail: 1, Skipped: true}, Classification{Kind: AnswerPartial, Engaged: true, Detail: 1, Skipped: true}},
		{"off topic untouched", Classification{Kind: AnswerOffTopic, Detail: 1}, Classification{Kind: AnswerOffTopic, Detail: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalized())
		})
	}
}
