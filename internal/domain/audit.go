package domain

import "time"

// TurnAudit is the export of one processed answer: exactly what the
// interpreter saw, what it returned, and what the updater did with it.
type TurnAudit struct {
	Token             string          `json:"token"`
	Step              int64           `json:"step"`
	Context           QuestionContext `json:"context"`
	Answer            string          `json:"answer"`
	RawClassification map[string]any  `json:"raw_classification,omitempty"`
	Classification    Classification  `json:"classification"`
	Outcome           GapOutcome      `json:"outcome"`
	Action            string          `json:"action"`
	Degraded          bool            `json:"degraded,omitempty"`
	Error             string          `json:"error,omitempty"`
	At                time.Time       `json:"at"`
}

// Completion describes a finished interview.
type Completion struct {
	Reason       TerminationReason `json:"reason"`
	Message      string            `json:"message"`
	Completeness float64           `json:"completeness"`
	Summary      Summary           `json:"summary"`
}

// CompletionMessage returns the closing line shown for reason.
func CompletionMessage(reason TerminationReason) string {
	switch reason {
	case ReasonComplete:
		return "Thanks, that covers everything we needed."
	case ReasonPrefillCovered:
		return "Your background already answers every question, so there is nothing left to ask."
	case ReasonNoGaps:
		return "That's all the questions we have. Thanks for your time."
	case ReasonDisengaged:
		return "Let's stop here for now. Thanks for the answers you gave."
	default:
		return "The interview has ended."
	}
}
