package policy

import (
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/gap"
)

// Action is what the engine does after an answer has been merged.
type Action string

const (
	ActionContinue Action = "continue"
	ActionFollowUp Action = "follow_up"
	ActionFinalize Action = "finalize"
)

// Decision pairs an action with its reason.
type Decision struct {
	Action Action                   `json:"action"`
	Reason domain.TerminationReason `json:"reason,omitempty"`
	Note   string                   `json:"note,omitempty"`
}

// Decide evaluates the termination rules in priority order against the
// state produced by Apply and the classification of the last answer.
func Decide(st domain.SessionState, c domain.Classification) Decision {
	s := st.Settings
	c = c.Normalized()

	if st.ConsecutiveLowQuality >= s.DisengageAfter {
		return Decision{Action: ActionFinalize, Reason: domain.ReasonDisengaged}
	}
	if c.Kind == domain.AnswerClarification {
		return Decision{Action: ActionFollowUp, Note: "clarification"}
	}
	if g, ok := st.ActiveGap(); ok && c.Detail < s.FollowUpDetailBelow && !st.IsResolved(g.ID) {
		if g.ProbesAttempted < gap.EffectiveMaxProbes(g, s) {
			return Decision{Action: ActionFollowUp, Note: "probe for detail"}
		}
	}
	return decideCoverage(st)
}

// DecideStart is evaluated once gaps have been discovered or prefilled,
// before any question is asked.
func DecideStart(st domain.SessionState) Decision {
	if st.Mode == domain.ModeFixed && len(st.Gaps) == 0 && len(st.Prefilled) > 0 {
		return Decision{Action: ActionFinalize, Reason: domain.ReasonPrefillCovered}
	}
	return decideCoverage(st)
}

func decideCoverage(st domain.SessionState) Decision {
	if Completeness(st) >= st.Settings.MinCompleteness && len(st.Gaps) > 0 {
		return Decision{Action: ActionFinalize, Reason: domain.ReasonComplete}
	}
	if _, ok := gap.Select(st.Gaps, st.Resolved, st.Settings); !ok {
		return Decision{Action: ActionFinalize, Reason: domain.ReasonNoGaps}
	}
	return Decision{Action: ActionContinue}
}
