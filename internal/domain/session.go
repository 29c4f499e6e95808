// Package domain contains the core types of the interview engine.
package domain

import (
	"time"
)

// SchemaVersion is bumped whenever SessionState changes incompatibly.
const SchemaVersion = 1

// SessionState is the root aggregate persisted once per session token.
type SessionState struct {
	Version        int    `json:"version"`
	Token          string `json:"token"`
	Mode           Mode   `json:"mode"`
	QuestionSetRef string `json:"question_set_ref,omitempty"`
	Intro          string `json:"intro,omitempty"`

	Turns          []Turn           `json:"turns"`
	Gaps           map[string]Gap   `json:"gaps"`
	Resolved       map[string]bool  `json:"resolved"`
	Prefilled      []CoverageRecord `json:"prefilled,omitempty"`
	ActiveGapID    string           `json:"active_gap_id,omitempty"`
	ActiveQuestion *QuestionContext `json:"active_question,omitempty"`

	Completeness          float64           `json:"completeness"`
	ConsecutiveLowQuality int               `json:"consecutive_low_quality"`
	TurnsAsked            int               `json:"turns_asked"`
	ShouldContinue        bool              `json:"should_continue"`
	TerminationReason     TerminationReason `json:"termination_reason,omitempty"`

	// LastAction is the routing decision of the latest step: continue,
	// follow_up or finalize.
	LastAction string `json:"last_action,omitempty"`

	Settings   Settings       `json:"settings"`
	NextSeq    int            `json:"next_seq"`
	LastAnswer *AnswerReceipt `json:"last_answer,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewSessionState returns an empty state ready for gap discovery.
func NewSessionState(token string, mode Mode, setRef string, settings Settings, now time.Time) SessionState {
	return SessionState{
		Version:        SchemaVersion,
		Token:          token,
		Mode:           mode,
		QuestionSetRef: setRef,
		Gaps:           make(map[string]Gap),
		Resolved:       make(map[string]bool),
		ShouldContinue: true,
		Settings:       settings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AddGap inserts g, assigning its creation sequence. Existing ids are kept.
func (s *SessionState) AddGap(g Gap) bool {
	if _, exists := s.Gaps[g.ID]; exists {
		return false
	}
	if s.Gaps == nil {
		s.Gaps = make(map[string]Gap)
	}
	g.Seq = s.NextSeq
	s.NextSeq++
	s.Gaps[g.ID] = g
	return true
}

// AppendTurn extends the turn log. The log is never rewritten.
func (s *SessionState) AppendTurn(t Turn) {
	t.Index = len(s.Turns)
	s.Turns = append(s.Turns, t)
}

// RecentTurns returns the last n turns.
func (s *SessionState) RecentTurns(n int) []Turn {
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// MarkResolved records id as resolved.
func (s *SessionState) MarkResolved(id string) {
	if s.Resolved == nil {
		s.Resolved = make(map[string]bool)
	}
	s.Resolved[id] = true
}

// IsResolved reports whether id has been resolved.
func (s *SessionState) IsResolved(id string) bool {
	return s.Resolved[id]
}

// ActiveGap returns the gap referenced by ActiveGapID.
func (s *SessionState) ActiveGap() (Gap, bool) {
	if s.ActiveGapID == "" {
		return Gap{}, false
	}
	g, ok := s.Gaps[s.ActiveGapID]
	return g, ok
}

// Pending reports whether a question is waiting for an answer.
func (s *SessionState) Pending() bool {
	return s.ShouldContinue && s.ActiveQuestion != nil
}

// Terminal reports whether the interview has finished.
func (s *SessionState) Terminal() bool {
	return !s.ShouldContinue && s.TerminationReason != ""
}

// Finish marks the session terminal.
func (s *SessionState) Finish(reason TerminationReason) {
	s.ShouldContinue = false
	s.TerminationReason = reason
	s.ActiveQuestion = nil
	s.ActiveGapID = ""
}

// Summary counts what happened during the interview.
type Summary struct {
	QuestionsAsked int `json:"questions_asked"`
	Answered       int `json:"answered"`
	Skipped        int `json:"skipped"`
	Resolved       int `json:"resolved"`
	Prefilled      int `json:"prefilled"`
	Total          int `json:"total"`
}

// Summarize computes the interview summary.
func (s *SessionState) Summarize() Summary {
	sum := Summary{
		QuestionsAsked: s.TurnsAsked,
		Prefilled:      len(s.Prefilled),
		Total:          len(s.Gaps) + len(s.Prefilled),
	}
	for _, t := range s.Turns {
		if t.Classification.Skipped {
			sum.Skipped++
			continue
		}
		sum.Answered++
	}
	for id := range s.Resolved {
		if _, ok := s.Gaps[id]; ok {
			sum.Resolved++
		}
	}
	sum.Resolved += len(s.Prefilled)
	return sum
}

// Clone returns a deep copy so steps can work on their own value.
func (s SessionState) Clone() SessionState {
	out := s
	out.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.Question = t.Question.clone()
		t.Outcome.AlsoResolved = append([]string(nil), t.Outcome.AlsoResolved...)
		if t.Outcome.Value != nil {
			v := *t.Outcome.Value
			t.Outcome.Value = &v
		}
		out.Turns[i] = t
	}
	out.Gaps = make(map[string]Gap, len(s.Gaps))
	for id, g := range s.Gaps {
		out.Gaps[id] = g.Clone()
	}
	out.Resolved = make(map[string]bool, len(s.Resolved))
	for id, v := range s.Resolved {
		out.Resolved[id] = v
	}
	out.Prefilled = make([]CoverageRecord, len(s.Prefilled))
	for i, rec := range s.Prefilled {
		rec.Targets = append([]string(nil), rec.Targets...)
		ev := make(map[string]string, len(rec.Evidence))
		for k, v := range rec.Evidence {
			ev[k] = v
		}
		rec.Evidence = ev
		out.Prefilled[i] = rec
	}
	if s.ActiveQuestion != nil {
		qc := s.ActiveQuestion.clone()
		out.ActiveQuestion = &qc
	}
	if s.LastAnswer != nil {
		r := *s.LastAnswer
		out.LastAnswer = &r
	}
	return out
}

func (qc QuestionContext) clone() QuestionContext {
	out := qc
	out.Targets = append([]string(nil), qc.Targets...)
	out.OpenTargets = append([]TargetRef(nil), qc.OpenTargets...)
	if qc.KnownValue != nil {
		v := *qc.KnownValue
		out.KnownValue = &v
	}
	return out
}
