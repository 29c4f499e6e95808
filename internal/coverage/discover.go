package coverage

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/interpreter"
)

// DefaultAttributes are the attributes probed for every discovered subject.
var DefaultAttributes = []string{
	"duration",
	"depth",
	"autonomy",
	"scale",
	"constraints",
	"production_vs_prototype",
}

// Extractor discovers subjects in a corpus. *interpreter.Adapter satisfies it.
type Extractor interface {
	Extract(ctx context.Context, req interpreter.ExtractRequest) (*interpreter.Extraction, error)
}

// Discoverer turns unknown subject attributes into attribute gaps.
type Discoverer struct {
	extractor  Extractor
	attributes []string
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewDiscoverer creates a Discoverer. Empty attrs selects DefaultAttributes.
func NewDiscoverer(e Extractor, attrs []string, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(attrs) == 0 {
		attrs = DefaultAttributes
	}
	return &Discoverer{
		extractor:  e,
		attributes: attrs,
		logger:     logger,
		tracer:     otel.Tracer("github.com/ashureev/interviewd/internal/coverage"),
	}
}

// Discover returns one gap per unknown (subject, attribute) pair, ordered by
// subject as the corpus lists them.
func (d *Discoverer) Discover(ctx context.Context, corpus string, maxProbes int) ([]domain.Gap, error) {
	ctx, span := d.tracer.Start(ctx, "coverage.Discover", trace.WithAttributes(
		attribute.Int("corpus.length", len(corpus)),
		attribute.Int("discover.attributes", len(d.attributes)),
	))
	defer span.End()

	ext, err := d.extractor.Extract(ctx, interpreter.ExtractRequest{
		Corpus:     corpus,
		Attributes: d.attributes,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var gaps []domain.Gap
	seen := make(map[string]bool)
	for _, subj := range ext.Subjects {
		name := strings.TrimSpace(subj.Name)
		if name == "" {
			continue
		}
		unknown := d.unknownAttributes(subj)
		if len(unknown) == 0 {
			continue
		}
		severity := Severity(len(unknown), subj.Confidence)
		category := subj.Category
		if category == "" {
			category = "subject"
		}
		for _, attr := range unknown {
			g := domain.NewAttributeGap(name, attr, category, severity, maxProbes)
			if seen[g.ID] {
				continue
			}
			seen[g.ID] = true
			gaps = append(gaps, g)
		}
	}

	span.SetAttributes(
		attribute.Int("discover.subjects", len(ext.Subjects)),
		attribute.Int("discover.gaps", len(gaps)),
	)
	d.logger.Info("gap discovery complete", "subjects", len(ext.Subjects), "gaps", len(gaps))
	return gaps, nil
}

// unknownAttributes lists the configured attributes that have no usable
// value, in configuration order.
func (d *Discoverer) unknownAttributes(subj interpreter.SubjectProfile) []string {
	var unknown []string
	for _, attr := range d.attributes {
		if interpreter.NormalizeValue(subj.Attributes[attr]) == nil {
			unknown = append(unknown, attr)
		}
	}
	return unknown
}

// Severity ranks a subject by how much is unknown about it and how strongly
// the corpus asserts it.
func Severity(unknown int, confidence float64) float64 {
	switch {
	case unknown >= 3 && confidence >= 0.7:
		return 0.9
	case unknown >= 2:
		return 0.6
	default:
		return 0.3
	}
}
