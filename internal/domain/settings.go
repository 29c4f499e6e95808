package domain

import "fmt"

// Settings holds the per-session thresholds used by selection, resolution
// and termination. They are persisted with the session.
type Settings struct {
	MinCompleteness      float64 `json:"min_completeness"`
	MaxProbes            int     `json:"max_probes"`
	DisengageAfter       int     `json:"disengage_after"`
	FollowUpDetailBelow  int     `json:"follow_up_detail_below"`
	DirectDetailAtLeast  int     `json:"direct_detail_at_least"`
	RelaxedAfterProbes   int     `json:"relaxed_after_probes"`
	RelaxedDetailAtLeast int     `json:"relaxed_detail_at_least"`
	ClarificationStreak  int     `json:"clarification_streak"`
	ClarificationBonus   int     `json:"clarification_bonus"`
	OffTopicStreak       int     `json:"off_topic_streak"`
	PrefillConfidence    float64 `json:"prefill_confidence"`
}

// DefaultSettings returns the stock thresholds for mode.
func DefaultSettings(mode Mode) Settings {
	s := Settings{
		MinCompleteness:      0.9,
		MaxProbes:            3,
		DisengageAfter:       3,
		FollowUpDetailBelow:  3,
		DirectDetailAtLeast:  3,
		RelaxedAfterProbes:   2,
		RelaxedDetailAtLeast: 2,
		ClarificationStreak:  3,
		ClarificationBonus:   2,
		OffTopicStreak:       2,
		PrefillConfidence:    0.7,
	}
	if mode == ModeFixed {
		s.MinCompleteness = 1.0
		s.MaxProbes = 2
	}
	return s
}

// Validate rejects thresholds that would make the policy meaningless.
func (s Settings) Validate() error {
	switch {
	case s.MinCompleteness < 0 || s.MinCompleteness > 1:
		return fmt.Errorf("%w: min completeness %.2f outside [0,1]", ErrValidation, s.MinCompleteness)
	case s.MaxProbes < 1:
		return fmt.Errorf("%w: max probes must be >= 1", ErrValidation)
	case s.DisengageAfter < 1:
		return fmt.Errorf("%w: disengage threshold must be >= 1", ErrValidation)
	case s.ClarificationStreak < 1 || s.OffTopicStreak < 1:
		return fmt.Errorf("%w: outcome streaks must be >= 1", ErrValidation)
	case s.ClarificationBonus < 0:
		return fmt.Errorf("%w: clarification bonus must be >= 0", ErrValidation)
	case s.PrefillConfidence < 0 || s.PrefillConfidence > 1:
		return fmt.Errorf("%w: prefill confidence outside [0,1]", ErrValidation)
	}
	return nil
}
