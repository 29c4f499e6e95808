package interpreter

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/interviewd/internal/domain"
)

type fakeCapability struct {
	raw       *RawInterpretation
	err       error
	compose   *Composition
	extract   *Extraction
	assess    *CoverageAssessment
	lastInput InterpretRequest
}

func (f *fakeCapability) Extract(context.Context, ExtractRequest) (*Extraction, error) {
	return f.extract, f.err
}

func (f *fakeCapability) AssessCoverage(context.Context, CoverageRequest) (*CoverageAssessment, error) {
	return f.assess, f.err
}

func (f *fakeCapability) Interpret(_ context.Context, req InterpretRequest) (*RawInterpretation, error) {
	f.lastInput = req
	return f.raw, f.err
}

func (f *fakeCapability) Compose(context.Context, ComposeRequest) (*Composition, error) {
	return f.compose, f.err
}

func strPtr(s string) *string { return &s }

func attrContext() domain.QuestionContext {
	return domain.QuestionContext{
		GapID:     domain.AttributeGapID("Billing", "scale"),
		Kind:      domain.GapKindAttribute,
		Subject:   "Billing",
		Attribute: "scale",
		Probe:     1,
		OpenTargets: []domain.TargetRef{
			{GapID: domain.AttributeGapID("Billing", "duration"), Subject: "Billing", Attribute: "duration"},
		},
	}
}

func TestInterpretNormalizesAndFiltersUpdates(t *testing.T) {
	qc := attrContext()
	capability := &fakeCapability{raw: &RawInterpretation{
		AnswerKind: "direct",
		Engaged:    true,
		Detail:     9,
		Updates: map[string]*string{
			qc.GapID: strPtr("  10k orders a day "),
			domain.AttributeGapID("Billing", "duration"): strPtr("N/A"),
			domain.AttributeGapID("Search", "scale"):     strPtr("huge"),
		},
	}}
	a := NewAdapter(capability, slog.Default())

	got := a.Interpret(context.Background(), "We did 10k orders a day", qc)

	assert.False(t, got.Degraded)
	assert.Equal(t, domain.AnswerDirect, got.Classification.Kind)
	assert.Equal(t, 5, got.Classification.Detail)
	require.Len(t, got.Updates, 1)
	assert.Equal(t, qc.GapID, got.Updates[0].GapID)
	assert.Equal(t, "10k orders a day", *got.Updates[0].Value)
	assert.Equal(t, "direct", got.Raw["answer_kind"])
	assert.Equal(t, qc, capability.lastInput.Context)
}

func TestInterpretClarificationIsEngaged(t *testing.T) {
	a := NewAdapter(&fakeCapability{raw: &RawInterpretation{AnswerKind: "clarification_request", Detail: 0}}, nil)
	got := a.Interpret(context.Background(), "what do you mean?", attrContext())
	assert.True(t, got.Classification.Engaged)
	assert.Equal(t, 1, got.Classification.Detail)
}

func TestInterpretUnknownKindReadsAsPartial(t *testing.T) {
	a := NewAdapter(&fakeCapability{raw: &RawInterpretation{AnswerKind: "rambling", Engaged: true, Detail: 2}}, nil)
	got := a.Interpret(context.Background(), "well, it depends", attrContext())
	assert.Equal(t, domain.AnswerPartial, got.Classification.Kind)
	assert.Equal(t, got.Classification, got.Classification.Normalized())
}

func TestInterpretDegrades(t *testing.T) {
	tests := []struct {
		name string
		cap  *fakeCapability
	}{
		{"capability error", &fakeCapability{err: errors.New("deadline exceeded")}},
		{"empty result", &fakeCapability{}},
		{"unknown kind", &fakeCapability{raw: &RawInterpretation{AnswerKind: "rambling", Detail: 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewAdapter(tt.cap, nil).Interpret(context.Background(), "answer", attrContext())
			assert.True(t, got.Degraded)
			assert.NotEmpty(t, got.Error)
			assert.Equal(t, domain.AnswerPartial, got.Classification.Kind)
			assert.True(t, got.Classification.Engaged)
			assert.Equal(t, 1, got.Classification.Detail)
			assert.Empty(t, got.Updates)
		})
	}
}

func TestQuestionFallsBackToTemplate(t *testing.T) {
	req := ComposeRequest{Context: attrContext()}

	a := NewAdapter(&fakeCapability{compose: &Composition{Text: "  How big did Billing get? "}}, nil)
	assert.Equal(t, "How big did Billing get?", a.Question(context.Background(), req))

	a = NewAdapter(&fakeCapability{err: errors.New("unavailable")}, nil)
	assert.Equal(t, "Could you tell me about the scale of your work with Billing?", a.Question(context.Background(), req))

	req.FollowUp = true
	req.LastKind = domain.AnswerClarification
	assert.Contains(t, a.Question(context.Background(), req), "To clarify")
}

func TestTemplateQuestionFixed(t *testing.T) {
	req := ComposeRequest{Context: domain.QuestionContext{Kind: domain.GapKindFixed, QuestionText: "How big was your team?"}}
	assert.Equal(t, "How big was your team?", TemplateQuestion(req))

	req.FollowUp = true
	assert.Equal(t, "Could you expand on that with a concrete example? How big was your team?", TemplateQuestion(req))
}

func TestExtractAndAssessWrapCapabilityErrors(t *testing.T) {
	a := NewAdapter(&fakeCapability{err: errors.New("boom")}, nil)

	_, err := a.Extract(context.Background(), ExtractRequest{Corpus: "x"})
	assert.ErrorIs(t, err, domain.ErrCapability)

	_, err = a.AssessCoverage(context.Background(), CoverageRequest{QuestionID: "q1"})
	assert.ErrorIs(t, err, domain.ErrCapability)

	a = NewAdapter(&fakeCapability{}, nil)
	ext, err := a.Extract(context.Background(), ExtractRequest{Corpus: "x"})
	require.NoError(t, err)
	assert.Empty(t, ext.Subjects)
}

func TestNormalizeValue(t *testing.T) {
	assert.Nil(t, NormalizeValue(nil))
	assert.Nil(t, NormalizeValue(strPtr("  Unknown ")))
	assert.Nil(t, NormalizeValue(strPtr("")))
	assert.Equal(t, "3 years", *NormalizeValue(strPtr(" 3 years")))
}

type fakeInvoker struct {
	method string
	in     map[string]any
	reply  map[string]any
	err    error
}

func (f *fakeInvoker) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.method = method
	f.in = args.(*structpb.Struct).AsMap()
	if f.err != nil {
		return f.err
	}
	out, err := structpb.NewStruct(f.reply)
	if err != nil {
		return err
	}
	reply.(*structpb.Struct).Fields = out.Fields
	return nil
}

func TestGRPCCapabilityInterpret(t *testing.T) {
	inv := &fakeInvoker{reply: map[string]any{
		"answer_kind":  "partial",
		"engaged":      true,
		"detail_score": 2,
		"updates":      map[string]any{"attr:billing:scale": "large"},
	}}
	c := &GRPCCapability{cfg: DefaultGRPCConfig("localhost:0"), logger: slog.Default(), invoker: inv}

	raw, err := c.Interpret(context.Background(), InterpretRequest{Answer: "quite large", Context: attrContext()})
	require.NoError(t, err)
	assert.Equal(t, methodInterpret, inv.method)
	assert.Equal(t, "quite large", inv.in["answer"])
	assert.Equal(t, "partial", raw.AnswerKind)
	assert.Equal(t, 2, raw.Detail)
	require.NotNil(t, raw.Updates["attr:billing:scale"])
	assert.Equal(t, "large", *raw.Updates["attr:billing:scale"])
}

func TestGRPCCapabilityError(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("rpc error: code = Unavailable")}
	c := &GRPCCapability{cfg: DefaultGRPCConfig("localhost:0"), logger: slog.Default(), invoker: inv}

	_, err := c.Compose(context.Background(), ComposeRequest{Context: attrContext()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), methodCompose)
}

func TestNewGRPCCapabilityRequiresAddress(t *testing.T) {
	_, err := NewGRPCCapability(GRPCConfig{}, nil)
	assert.Error(t, err)
}
