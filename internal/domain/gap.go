package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// GapKind tags the variant carried by a Gap.
type GapKind string

const (
	// GapKindAttribute is an open-ended gap about one attribute of a subject.
	GapKindAttribute GapKind = "attribute"
	// GapKindFixed is a gap backed by a question from a fixed question set.
	GapKindFixed GapKind = "fixed_question"
)

// Gap is a unit of missing knowledge the interview tries to resolve.
// Exactly one of Attribute or Fixed is set, matching Kind.
type Gap struct {
	ID              string       `json:"id"`
	Kind            GapKind      `json:"kind"`
	Category        string       `json:"category"`
	Severity        float64      `json:"severity"`
	ProbesAttempted int          `json:"probes_attempted"`
	MaxProbes       int          `json:"max_probes"`
	ProbeHistory    []AnswerKind `json:"probe_history,omitempty"`

	// Seq records creation order and breaks selection ties.
	Seq        int            `json:"seq"`
	Resolution ResolutionRule `json:"resolution,omitempty"`

	Attribute *AttributeGap     `json:"attribute,omitempty"`
	Fixed     *FixedQuestionGap `json:"fixed,omitempty"`
}

// AttributeGap targets a single unknown attribute of a named subject.
type AttributeGap struct {
	Subject   string  `json:"subject"`
	Attribute string  `json:"attribute"`
	Value     *string `json:"value,omitempty"`
}

// FixedQuestionGap targets one question of a fixed question set.
type FixedQuestionGap struct {
	QuestionID    string    `json:"question_id"`
	QuestionText  string    `json:"question_text"`
	Targets       []string  `json:"targets"`
	Required      bool      `json:"required"`
	SequenceOrder int       `json:"sequence_order"`
	Evidence      *Evidence `json:"evidence,omitempty"`
}

// Evidence is the provenance attached by coverage prefill.
type Evidence struct {
	ByTarget   map[string]string `json:"by_target,omitempty"`
	Confidence float64           `json:"confidence"`
}

// NewAttributeGap builds an attribute gap with a stable content-derived id.
func NewAttributeGap(subject, attribute, category string, severity float64, maxProbes int) Gap {
	return Gap{
		ID:        AttributeGapID(subject, attribute),
		Kind:      GapKindAttribute,
		Category:  category,
		Severity:  severity,
		MaxProbes: maxProbes,
		Attribute: &AttributeGap{Subject: subject, Attribute: attribute},
	}
}

// NewFixedGap builds a fixed-question gap for q.
func NewFixedGap(q Question, maxProbes int) Gap {
	severity := 0.5
	if q.Required {
		severity = 1.0
	}
	category := q.Category
	if category == "" {
		category = "question"
	}
	return Gap{
		ID:        FixedGapID(q.StableID()),
		Kind:      GapKindFixed,
		Category:  category,
		Severity:  severity,
		MaxProbes: maxProbes,
		Fixed: &FixedQuestionGap{
			QuestionID:    q.StableID(),
			QuestionText:  q.Text,
			Targets:       append([]string(nil), q.Targets...),
			Required:      q.Required,
			SequenceOrder: q.Order,
		},
	}
}

// AttributeGapID returns the id for the (subject, attribute) pair.
func AttributeGapID(subject, attribute string) string {
	return "attr:" + Slug(subject) + ":" + Slug(attribute)
}

// FixedGapID returns the id for a question id.
func FixedGapID(questionID string) string {
	return "q:" + questionID
}

// Slug lowercases s and folds every run of non-alphanumerics into one dash.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func contentID(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return "h" + hex.EncodeToString(sum[:6])
}

// Validate checks the variant invariant.
func (g Gap) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("gap id is empty")
	}
	switch g.Kind {
	case GapKindAttribute:
		if g.Attribute == nil || g.Fixed != nil {
			return fmt.Errorf("gap %s: attribute kind must carry only the attribute variant", g.ID)
		}
	case GapKindFixed:
		if g.Fixed == nil || g.Attribute != nil {
			return fmt.Errorf("gap %s: fixed kind must carry only the fixed variant", g.ID)
		}
	default:
		return fmt.Errorf("gap %s: unknown kind %q", g.ID, g.Kind)
	}
	if g.MaxProbes < 0 || g.ProbesAttempted < 0 {
		return fmt.Errorf("gap %s: negative probe counters", g.ID)
	}
	return nil
}

// SequenceOrder returns the question order for fixed gaps.
func (g Gap) SequenceOrder() (int, bool) {
	if g.Fixed == nil {
		return 0, false
	}
	return g.Fixed.SequenceOrder, true
}

// LastOutcomes returns up to n most recent probe outcomes, oldest first.
func (g Gap) LastOutcomes(n int) []AnswerKind {
	if n >= len(g.ProbeHistory) {
		return g.ProbeHistory
	}
	return g.ProbeHistory[len(g.ProbeHistory)-n:]
}

// Clone returns a deep copy.
func (g Gap) Clone() Gap {
	out := g
	out.ProbeHistory = append([]AnswerKind(nil), g.ProbeHistory...)
	if g.Attribute != nil {
		a := *g.Attribute
		if a.Value != nil {
			v := *a.Value
			a.Value = &v
		}
		out.Attribute = &a
	}
	if g.Fixed != nil {
		f := *g.Fixed
		f.Targets = append([]string(nil), g.Fixed.Targets...)
		if g.Fixed.Evidence != nil {
			ev := Evidence{Confidence: g.Fixed.Evidence.Confidence}
			if g.Fixed.Evidence.ByTarget != nil {
				ev.ByTarget = make(map[string]string, len(g.Fixed.Evidence.ByTarget))
				for k, v := range g.Fixed.Evidence.ByTarget {
					ev.ByTarget[k] = v
				}
			}
			f.Evidence = &ev
		}
		out.Fixed = &f
	}
	return out
}
