// Package interpreter talks to the external extraction capability.
package interpreter

import (
	"context"

	"github.com/ashureev/interviewd/internal/domain"
)

// Capability is the external text understanding service. It only classifies
// and extracts; it never decides what the interview does next.
type Capability interface {
	// Extract discovers subjects and their attributes in background text.
	Extract(ctx context.Context, req ExtractRequest) (*Extraction, error)

	// AssessCoverage judges whether the corpus already answers one question.
	AssessCoverage(ctx context.Context, req CoverageRequest) (*CoverageAssessment, error)

	// Interpret classifies an answer against an explicit question context.
	Interpret(ctx context.Context, req InterpretRequest) (*RawInterpretation, error)

	// Compose phrases the next question.
	Compose(ctx context.Context, req ComposeRequest) (*Composition, error)
}

// ExtractRequest asks for subject profiles found in Corpus.
type ExtractRequest struct {
	Corpus     string   `json:"corpus"`
	Attributes []string `json:"attributes"`
}

// SubjectProfile is one subject with the attributes the corpus reveals.
// A nil attribute value means unknown.
type SubjectProfile struct {
	Name       string             `json:"name"`
	Category   string             `json:"category,omitempty"`
	Confidence float64            `json:"confidence"`
	Attributes map[string]*string `json:"attributes"`
}

// Extraction is the result of Extract.
type Extraction struct {
	Subjects []SubjectProfile `json:"subjects"`
}

// CoverageRequest describes one question to check against the corpus.
type CoverageRequest struct {
	Corpus       string   `json:"corpus"`
	QuestionID   string   `json:"question_id"`
	QuestionText string   `json:"question_text"`
	Targets      []string `json:"targets"`
}

// CoverageAssessment is the capability's judgment for one question.
type CoverageAssessment struct {
	Filled     bool              `json:"is_filled"`
	Confidence float64           `json:"confidence"`
	Evidence   map[string]string `json:"evidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// InterpretRequest carries the answer and the full question context.
type InterpretRequest struct {
	Answer  string                 `json:"answer"`
	Context domain.QuestionContext `json:"context"`
}

// RawInterpretation is the capability output before normalization.
type RawInterpretation struct {
	AnswerKind string             `json:"answer_kind"`
	Engaged    bool               `json:"engaged"`
	Detail     int                `json:"detail_score"`
	Skip       bool               `json:"skip_requested,omitempty"`
	Updates    map[string]*string `json:"updates,omitempty"`
}

// ComposeRequest asks for the wording of the next question.
type ComposeRequest struct {
	Context        domain.QuestionContext `json:"context"`
	FollowUp       bool                   `json:"follow_up"`
	LastKind       domain.AnswerKind      `json:"last_kind,omitempty"`
	PreviousAnswer string                 `json:"previous_answer,omitempty"`
}

// Composition is the phrased question.
type Composition struct {
	Text string `json:"text"`
}
