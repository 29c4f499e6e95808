// Package policy merges interpreted answers into session state and decides
// whether the interview continues.
package policy

import (
	"time"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/gap"
)

// Apply merges one interpreted answer into st and returns the new state.
// st is not modified; the active gap must be set.
func Apply(st domain.SessionState, answer string, in domain.Interpretation, now time.Time) (domain.SessionState, domain.GapOutcome) {
	next := st.Clone()
	c := in.Classification.Normalized()

	g, ok := next.ActiveGap()
	if !ok {
		return next, domain.GapOutcome{}
	}

	g.ProbesAttempted++
	g.ProbeHistory = append(g.ProbeHistory, c.Kind)
	eff := gap.EffectiveMaxProbes(g, next.Settings)

	out := domain.GapOutcome{
		GapID:           g.ID,
		ProbesAttempted: g.ProbesAttempted,
		EffectiveMax:    eff,
	}
	wasResolved := next.IsResolved(g.ID)

	for _, u := range in.Updates {
		if u.Value == nil {
			continue
		}
		if u.GapID == g.ID {
			if g.Attribute == nil || wasResolved {
				continue
			}
			v := *u.Value
			g.Attribute.Value = &v
			out.Value = &v
			out.Rule = domain.RuleValueSet
			continue
		}
		other, ok := next.Gaps[u.GapID]
		if !ok || other.Attribute == nil || next.IsResolved(other.ID) {
			continue
		}
		v := *u.Value
		other.Attribute.Value = &v
		other.Resolution = domain.RuleValueSet
		next.Gaps[other.ID] = other
		next.MarkResolved(other.ID)
		out.AlsoResolved = append(out.AlsoResolved, other.ID)
	}

	if !wasResolved && out.Rule == domain.RuleNone {
		out.Rule = resolutionRule(g, c, eff, next.Settings)
	}
	if !wasResolved && out.Rule != domain.RuleNone {
		g.Resolution = out.Rule
		next.MarkResolved(g.ID)
	}
	out.Resolved = next.IsResolved(g.ID)
	next.Gaps[g.ID] = g

	if c.Engaged {
		next.ConsecutiveLowQuality = 0
	} else {
		next.ConsecutiveLowQuality++
	}

	var qc domain.QuestionContext
	if next.ActiveQuestion != nil {
		qc = *next.ActiveQuestion
	}
	next.AppendTurn(domain.Turn{
		Question:       qc,
		Answer:         answer,
		Classification: c,
		Outcome:        out,
		Degraded:       in.Degraded,
		At:             now,
	})
	next.ActiveQuestion = nil
	next.Completeness = Completeness(next)
	next.UpdatedAt = now
	return next, out
}

func resolutionRule(g domain.Gap, c domain.Classification, eff int, s domain.Settings) domain.ResolutionRule {
	if c.Skipped {
		return domain.RuleSkipped
	}
	if g.Fixed != nil {
		if c.Kind == domain.AnswerDirect && c.Engaged && c.Detail >= s.DirectDetailAtLeast {
			return domain.RuleDirectDetail
		}
		if g.ProbesAttempted >= s.RelaxedAfterProbes && c.Detail >= s.RelaxedDetailAtLeast {
			return domain.RuleRelaxedDetail
		}
	}
	if g.ProbesAttempted >= eff {
		return domain.RuleForced
	}
	return domain.RuleNone
}

// Completeness is resolved/total, counting prefilled gaps on both sides.
// Forced resolutions close a gap without adding knowledge and are not
// counted. An interview with nothing to learn is complete.
func Completeness(st domain.SessionState) float64 {
	total := len(st.Gaps) + len(st.Prefilled)
	if total == 0 {
		return 1.0
	}
	resolved := len(st.Prefilled)
	for id, ok := range st.Resolved {
		g, exists := st.Gaps[id]
		if ok && exists && g.Resolution != domain.RuleForced {
			resolved++
		}
	}
	c := float64(resolved) / float64(total)
	if c > 1 {
		c = 1
	}
	return c
}
