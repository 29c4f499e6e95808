package domain

import (
	"fmt"
	"time"
)

// Mode selects how gaps are sourced at interview start.
type Mode string

const (
	ModeOpenEnded Mode = "open_ended"
	ModeFixed     Mode = "fixed_question_set"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOpenEnded, ModeFixed:
		return Mode(s), nil
	case "":
		return ModeOpenEnded, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrValidation, s)
	}
}

// AnswerKind classifies an answer.
type AnswerKind string

const (
	AnswerDirect        AnswerKind = "direct"
	AnswerPartial       AnswerKind = "partial"
	AnswerOffTopic      AnswerKind = "off_topic"
	AnswerClarification AnswerKind = "clarification_request"
)

// Valid reports whether k is one of the known kinds.
func (k AnswerKind) Valid() bool {
	switch k {
	case AnswerDirect, AnswerPartial, AnswerOffTopic, AnswerClarification:
		return true
	}
	return false
}

// Classification is the engagement judgment for one answer.
type Classification struct {
	Kind    AnswerKind `json:"answer_kind"`
	Engaged bool       `json:"engaged"`
	Detail  int        `json:"detail_score"`
	Skipped bool       `json:"skipped,omitempty"`
}

// Normalized returns c with detail clamped to 1..5 and unknown kinds read
// as partial. Clarification requests and skips count as engaged.
func (c Classification) Normalized() Classification {
	if !c.Kind.Valid() {
		c.Kind = AnswerPartial
	}
	c.Detail = min(max(c.Detail, 1), 5)
	if c.Kind == AnswerClarification || c.Skipped {
		c.Engaged = true
	}
	return c
}

// TerminationReason explains why an interview finished.
type TerminationReason string

const (
	ReasonDisengaged     TerminationReason = "disengaged"
	ReasonComplete       TerminationReason = "complete"
	ReasonNoGaps         TerminationReason = "no_gaps"
	ReasonPrefillCovered TerminationReason = "prefill_covered"
)

// ResolutionRule names the rule that resolved a gap.
type ResolutionRule string

const (
	RuleNone          ResolutionRule = ""
	RuleValueSet      ResolutionRule = "value_set"
	RuleDirectDetail  ResolutionRule = "direct_detail"
	RuleRelaxedDetail ResolutionRule = "relaxed_detail"
	RuleForced        ResolutionRule = "forced"
	RuleSkipped       ResolutionRule = "skipped"
)

// GapOutcome records what one answer did to its gap.
type GapOutcome struct {
	GapID           string         `json:"gap_id"`
	Resolved        bool           `json:"resolved"`
	Rule            ResolutionRule `json:"rule,omitempty"`
	ProbesAttempted int            `json:"probes_attempted"`
	EffectiveMax    int            `json:"effective_max_probes"`
	Value           *string        `json:"value,omitempty"`
	AlsoResolved    []string       `json:"also_resolved,omitempty"`
}

// Turn is one question/answer exchange.
type Turn struct {
	Index          int             `json:"index"`
	Question       QuestionContext `json:"question"`
	Answer         string          `json:"answer"`
	Classification Classification  `json:"classification"`
	Outcome        GapOutcome      `json:"outcome"`
	Degraded       bool            `json:"degraded,omitempty"`
	At             time.Time       `json:"at"`
}

// CoverageRecord is the audit entry for a question filled from the corpus.
type CoverageRecord struct {
	GapID        string            `json:"gap_id"`
	QuestionID   string            `json:"question_id"`
	QuestionText string            `json:"question_text"`
	Targets      []string          `json:"targets"`
	Required     bool              `json:"required"`
	Evidence     map[string]string `json:"evidence"`
	Confidence   float64           `json:"confidence"`
}

// AnswerReceipt identifies the last answer applied to a session.
type AnswerReceipt struct {
	Step   int64     `json:"step"`
	Digest string    `json:"digest"`
	At     time.Time `json:"at,omitempty"`
}
