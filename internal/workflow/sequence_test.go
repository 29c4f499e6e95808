package workflow

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/gap"
)

func randomInterpretation(rng *rand.Rand) domain.Interpretation {
	switch rng.IntN(6) {
	case 0:
		return classified(domain.AnswerDirect, true, 3+rng.IntN(3))
	case 1:
		return classified(domain.AnswerPartial, true, 1+rng.IntN(3))
	case 2:
		return classified(domain.AnswerOffTopic, false, 1)
	case 3:
		return classified(domain.AnswerClarification, false, 1)
	case 4:
		return domain.Interpretation{Classification: domain.Classification{Kind: domain.AnswerPartial, Detail: 1, Skipped: true}}
	default:
		return classified(domain.AnswerPartial, false, rng.IntN(7)-1)
	}
}

func TestRandomSequencesKeepInvariants(t *testing.T) {
	modes := []StartRequest{
		{Corpus: "I built the checkout service."},
		{Corpus: "I worked on a team.", Mode: string(domain.ModeFixed), QuestionSetRef: "onboarding"},
	}
	for _, req := range modes {
		for seed := uint64(1); seed <= 25; seed++ {
			name := fmt.Sprintf("%s/seed-%d", domain.ModeOpenEnded, seed)
			if req.Mode != "" {
				name = fmt.Sprintf("%s/seed-%d", req.Mode, seed)
			}
			t.Run(name, func(t *testing.T) {
				ctx := context.Background()
				rng := rand.New(rand.NewPCG(seed, 7))
				f := newFixture(t, twoGaps(), nil)

				req := req
				req.Token = fmt.Sprintf("tok-seq-%d", seed)
				res, err := f.engine.Start(ctx, req)
				require.NoError(t, err)

				prev, _, err := f.engine.State(ctx, req.Token)
				require.NoError(t, err)

				for i := 0; !res.Done(); i++ {
					require.Less(t, i, 60, "interview did not finish")

					f.interp.push(randomInterpretation(rng))
					res = answer(t, f, req.Token, fmt.Sprintf("answer %d", i))

					st, step, err := f.engine.State(ctx, req.Token)
					require.NoError(t, err)
					assert.Equal(t, prev.TurnsAsked+boolInt(!res.Done()), st.TurnsAsked)
					assert.Equal(t, int64(i+2), step)
					assert.Equal(t, res.Completeness, st.Completeness)
					assert.GreaterOrEqual(t, st.Completeness, 0.0)
					assert.LessOrEqual(t, st.Completeness, 1.0)
					assert.GreaterOrEqual(t, st.Completeness, prev.Completeness, "completeness never drops")
					assert.LessOrEqual(t, st.ConsecutiveLowQuality, st.Settings.DisengageAfter)

					require.Len(t, st.Gaps, len(prev.Gaps))
					for id, g := range st.Gaps {
						before := prev.Gaps[id]
						assert.GreaterOrEqual(t, g.ProbesAttempted, before.ProbesAttempted, id)
						assert.Len(t, g.ProbeHistory, g.ProbesAttempted, id)
						if prev.IsResolved(id) {
							assert.True(t, st.IsResolved(id), "%s was unresolved", id)
							assert.Equal(t, before.Resolution, g.Resolution, id)
						}
						if !st.IsResolved(id) {
							assert.Less(t, g.ProbesAttempted, gap.EffectiveMaxProbes(g, st.Settings), id)
						}
					}
					prev = st
				}
			})
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestFixedClarificationStreakAndForcedResolution(t *testing.T) {
	teamID := domain.FixedGapID("team")
	clarify := classified(domain.AnswerClarification, false, 1)

	tests := []struct {
		name      string
		maxProbes int
		wantMax   []int
		wantRule  []domain.ResolutionRule
	}{
		{
			// The limit is reached before three clarifications in a row.
			name:      "limit before streak",
			maxProbes: 2,
			wantMax:   []int{2, 2, 4},
			wantRule:  []domain.ResolutionRule{domain.RuleNone, domain.RuleForced, domain.RuleForced},
		},
		{
			name:      "streak raises limit",
			maxProbes: 3,
			wantMax:   []int{3, 3, 5, 5, 5},
			wantRule:  []domain.ResolutionRule{domain.RuleNone, domain.RuleNone, domain.RuleNone, domain.RuleNone, domain.RuleForced},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := domain.DefaultSettings(domain.ModeFixed)
			s.MaxProbes = tt.maxProbes
			f := newFixture(t, nil, nil, WithSettings(domain.ModeFixed, s))

			res, err := f.engine.Start(ctx, StartRequest{
				Token:          "tok-fixed-clar",
				Corpus:         "I worked on a team.",
				Mode:           string(domain.ModeFixed),
				QuestionSetRef: "onboarding",
			})
			require.NoError(t, err)
			require.Equal(t, teamID, res.Question.GapID)

			for i := range tt.wantMax {
				f.interp.push(clarify)
				res = answer(t, f, "tok-fixed-clar", fmt.Sprintf("sorry, what do you mean? (%d)", i))

				require.False(t, res.Done())
				require.NotNil(t, res.Question)
				assert.Equal(t, teamID, res.Question.GapID, "clarification always follows up on the same question")
				assert.True(t, res.Question.FollowUp)
				require.NotNil(t, res.Turn)
				assert.Equal(t, tt.wantMax[i], res.Turn.Outcome.EffectiveMax, "answer %d", i)

				st, _, err := f.engine.State(ctx, "tok-fixed-clar")
				require.NoError(t, err)
				g := st.Gaps[teamID]
				assert.Equal(t, i+1, g.ProbesAttempted)
				assert.Equal(t, tt.wantRule[i], g.Resolution, "answer %d", i)
				assert.Equal(t, tt.wantRule[i] != domain.RuleNone, st.IsResolved(teamID))
				assert.Equal(t, 0, st.ConsecutiveLowQuality)
				assert.Equal(t, 0.0, st.Completeness, "forced resolution adds no knowledge")
			}

			// A substantive answer moves on to the next question.
			f.interp.push(classified(domain.AnswerPartial, true, 1))
			res = answer(t, f, "tok-fixed-clar", "it was about eight people")
			require.NotNil(t, res.Question)
			assert.Equal(t, domain.FixedGapID("stack"), res.Question.GapID)
		})
	}
}
