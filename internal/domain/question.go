package domain

import (
	"fmt"
	"sort"
	"time"
)

// Question is one entry of a fixed question set.
type Question struct {
	ID       string   `json:"id,omitempty" yaml:"id"`
	Text     string   `json:"text" yaml:"text" validate:"required"`
	Targets  []string `json:"targets" yaml:"targets" validate:"required,min=1,dive,required"`
	Required bool     `json:"required" yaml:"required"`
	Order    int      `json:"order" yaml:"order"`
	Category string   `json:"category,omitempty" yaml:"category"`
}

// StableID returns the configured id or one derived from the question text.
func (q Question) StableID() string {
	if q.ID != "" {
		return q.ID
	}
	return contentID(q.Text)
}

// QuestionSet is a named, versioned list of questions.
type QuestionSet struct {
	Ref       string     `json:"ref" yaml:"ref" validate:"required"`
	Version   string     `json:"version,omitempty" yaml:"version"`
	Title     string     `json:"title,omitempty" yaml:"title"`
	Intro     string     `json:"intro,omitempty" yaml:"intro"`
	Questions []Question `json:"questions" yaml:"questions" validate:"required,min=1,dive"`
}

// Ordered returns the questions sorted by Order, keeping file order for ties.
func (s QuestionSet) Ordered() []Question {
	out := append([]Question(nil), s.Questions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// CheckUnique reports duplicate question ids.
func (s QuestionSet) CheckUnique() error {
	seen := make(map[string]struct{}, len(s.Questions))
	for _, q := range s.Questions {
		id := q.StableID()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("question set %s: duplicate question id %q", s.Ref, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// TargetRef names an open gap an answer may fill besides the active one.
type TargetRef struct {
	GapID     string `json:"gap_id"`
	Subject   string `json:"subject,omitempty"`
	Attribute string `json:"attribute,omitempty"`
}

// QuestionContext is the full description of the pending question. It is
// handed verbatim to the interpreter so nothing has to be inferred.
type QuestionContext struct {
	GapID        string      `json:"gap_id"`
	Kind         GapKind     `json:"kind"`
	Subject      string      `json:"subject,omitempty"`
	Attribute    string      `json:"attribute,omitempty"`
	Targets      []string    `json:"targets,omitempty"`
	QuestionText string      `json:"question_text"`
	Prompt       string      `json:"prompt,omitempty"`
	KnownValue   *string     `json:"known_value,omitempty"`
	FollowUp     bool        `json:"follow_up"`
	Probe        int         `json:"probe"`
	OpenTargets  []TargetRef `json:"open_targets,omitempty"`
	AskedAt      time.Time   `json:"asked_at"`
}

// ContextFor builds the question context for g without question text.
func ContextFor(g Gap) QuestionContext {
	qc := QuestionContext{
		GapID: g.ID,
		Kind:  g.Kind,
		Probe: g.ProbesAttempted + 1,
	}
	switch {
	case g.Attribute != nil:
		qc.Subject = g.Attribute.Subject
		qc.Attribute = g.Attribute.Attribute
		if g.Attribute.Value != nil {
			v := *g.Attribute.Value
			qc.KnownValue = &v
		}
	case g.Fixed != nil:
		qc.Targets = append([]string(nil), g.Fixed.Targets...)
		qc.QuestionText = g.Fixed.QuestionText
	}
	return qc
}
