package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/interviewd/internal/domain"
)

// DefaultCallTimeout bounds one capability call.
const DefaultCallTimeout = 60 * time.Second

// Adapter wraps a Capability with explicit-context calls, normalization and
// local fallbacks.
type Adapter struct {
	capability Capability
	logger     *slog.Logger
	timeout    time.Duration
	tracer     trace.Tracer
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAdapter creates an Adapter around c.
func NewAdapter(c Capability, logger *slog.Logger, opts ...AdapterOption) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		capability: c,
		logger:     logger,
		timeout:    DefaultCallTimeout,
		tracer:     otel.Tracer("github.com/ashureev/interviewd/internal/interpreter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Interpret classifies answer against qc. It never fails: capability errors
// and unusable output degrade to a low-detail partial answer with no updates.
func (a *Adapter) Interpret(ctx context.Context, answer string, qc domain.QuestionContext) domain.Interpretation {
	ctx, span := a.tracer.Start(ctx, "interpreter.Interpret", trace.WithAttributes(
		attribute.String("gap.id", qc.GapID),
		attribute.Int("probe", qc.Probe),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.capability.Interpret(ctx, InterpretRequest{Answer: answer, Context: qc})
	if err == nil && raw == nil {
		err = fmt.Errorf("empty interpretation")
	}
	if err == nil && !domain.AnswerKind(raw.AnswerKind).Valid() {
		err = fmt.Errorf("unparseable answer kind %q", raw.AnswerKind)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "degraded")
		a.logger.Warn("interpretation failed, degrading turn",
			"gap_id", qc.GapID,
			"error", err,
		)
		return Fallback(err)
	}

	out := domain.Interpretation{
		Classification: domain.Classification{
			Kind:    domain.AnswerKind(raw.AnswerKind),
			Engaged: raw.Engaged,
			Detail:  raw.Detail,
			Skipped: raw.Skip,
		},
		Raw: rawMap(raw),
	}
	out.Classification = out.Classification.Normalized()
	out.Updates = matchUpdates(raw.Updates, qc, a.logger)
	span.SetAttributes(
		attribute.String("answer.kind", string(out.Classification.Kind)),
		attribute.Int("answer.detail", out.Classification.Detail),
	)
	return out
}

// Fallback is the interpretation used when the capability cannot answer.
func Fallback(err error) domain.Interpretation {
	out := domain.Interpretation{
		Classification: domain.Classification{
			Kind:    domain.AnswerPartial,
			Engaged: true,
			Detail:  1,
		},
		Degraded: true,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// matchUpdates keeps only updates addressed to gaps named in qc. Values are
// never matched by comparing answer text.
func matchUpdates(updates map[string]*string, qc domain.QuestionContext, logger *slog.Logger) []domain.AttributeUpdate {
	if len(updates) == 0 {
		return nil
	}
	allowed := map[string]bool{qc.GapID: true}
	for _, t := range qc.OpenTargets {
		allowed[t.GapID] = true
	}

	var out []domain.AttributeUpdate
	for _, id := range sortedKeys(updates) {
		if !allowed[id] {
			logger.Debug("dropping update for gap outside question context", "gap_id", id, "active_gap_id", qc.GapID)
			continue
		}
		v := NormalizeValue(updates[id])
		if v == nil {
			continue
		}
		out = append(out, domain.AttributeUpdate{GapID: id, Value: v})
	}
	return out
}

var emptyValues = map[string]bool{
	"":              true,
	"unknown":       true,
	"n/a":           true,
	"na":            true,
	"none":          true,
	"null":          true,
	"not specified": true,
	"not mentioned": true,
}

func sortedKeys(m map[string]*string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeValue trims v and maps placeholder answers to nil.
func NormalizeValue(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if emptyValues[strings.ToLower(s)] {
		return nil
	}
	return &s
}

func rawMap(raw *RawInterpretation) map[string]any {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// Question phrases the question for qc, falling back to a template when the
// capability is unavailable.
func (a *Adapter) Question(ctx context.Context, req ComposeRequest) string {
	ctx, span := a.tracer.Start(ctx, "interpreter.Compose", trace.WithAttributes(
		attribute.String("gap.id", req.Context.GapID),
		attribute.Bool("follow_up", req.FollowUp),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	comp, err := a.capability.Compose(ctx, req)
	if err == nil && comp != nil && strings.TrimSpace(comp.Text) != "" {
		return strings.TrimSpace(comp.Text)
	}
	if err != nil {
		span.RecordError(err)
		a.logger.Warn("question composition failed, using template", "gap_id", req.Context.GapID, "error", err)
	}
	return TemplateQuestion(req)
}

// TemplateQuestion renders a plain question for req.
func TemplateQuestion(req ComposeRequest) string {
	qc := req.Context
	if qc.Kind == domain.GapKindFixed {
		switch {
		case req.FollowUp && req.LastKind == domain.AnswerClarification:
			return "Let me put it another way: " + qc.QuestionText
		case req.FollowUp:
			return "Could you expand on that with a concrete example? " + qc.QuestionText
		default:
			return qc.QuestionText
		}
	}

	attr := strings.ReplaceAll(qc.Attribute, "_", " ")
	switch {
	case req.FollowUp && req.LastKind == domain.AnswerClarification:
		return fmt.Sprintf("To clarify, I'm asking about the %s of your work with %s. For example, how long, how deep, or at what scale?", attr, qc.Subject)
	case req.FollowUp:
		return fmt.Sprintf("Could you give a specific example that shows the %s of your work with %s?", attr, qc.Subject)
	default:
		return fmt.Sprintf("Could you tell me about the %s of your work with %s?", attr, qc.Subject)
	}
}

// Extract calls the capability for open-ended discovery.
func (a *Adapter) Extract(ctx context.Context, req ExtractRequest) (*Extraction, error) {
	ctx, span := a.tracer.Start(ctx, "interpreter.Extract")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ext, err := a.capability.Extract(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: extract: %v", domain.ErrCapability, err)
	}
	if ext == nil {
		return &Extraction{}, nil
	}
	return ext, nil
}

// AssessCoverage calls the capability for one coverage judgment.
func (a *Adapter) AssessCoverage(ctx context.Context, req CoverageRequest) (*CoverageAssessment, error) {
	ctx, span := a.tracer.Start(ctx, "interpreter.AssessCoverage", trace.WithAttributes(
		attribute.String("question.id", req.QuestionID),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.capability.AssessCoverage(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: assess coverage: %v", domain.ErrCapability, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: assess coverage: empty result", domain.ErrCapability)
	}
	return res, nil
}
