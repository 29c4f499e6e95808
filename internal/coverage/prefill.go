// Package coverage sources gaps: it prefills fixed question sets from
// background text and discovers open-ended attribute gaps.
package coverage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/interpreter"
)

// Assessor judges coverage of one question. *interpreter.Adapter satisfies it.
type Assessor interface {
	AssessCoverage(ctx context.Context, req interpreter.CoverageRequest) (*interpreter.CoverageAssessment, error)
}

// Result is the outcome of Prefill.
type Result struct {
	Gaps   []domain.Gap            `json:"gaps"`
	Filled []domain.CoverageRecord `json:"filled"`
}

// Config tunes the prefiller.
type Config struct {
	Workers      int
	CacheTTL     time.Duration
	CacheCleanup time.Duration
}

// DefaultConfig returns the stock prefill tuning.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		CacheTTL:     time.Hour,
		CacheCleanup: 10 * time.Minute,
	}
}

// Prefiller marks questions already answered by a corpus.
type Prefiller struct {
	assessor Assessor
	cfg      Config
	cache    *cache.Cache
	logger   *slog.Logger
}

// NewPrefiller creates a Prefiller.
func NewPrefiller(a Assessor, cfg Config, logger *slog.Logger) *Prefiller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Prefiller{
		assessor: a,
		cfg:      cfg,
		cache:    cache.New(cfg.CacheTTL, cfg.CacheCleanup),
		logger:   logger,
	}
}

type assessment struct {
	filled     bool
	failed     bool
	confidence float64
	evidence   map[string]string
}

// Prefill assesses every question independently. Any doubt leaves a question
// unfilled. minConfidence and maxProbes come from the session settings.
func (p *Prefiller) Prefill(ctx context.Context, corpus string, set domain.QuestionSet, minConfidence float64, maxProbes int) (Result, error) {
	questions := set.Ordered()
	key := cacheKey(corpus, set)

	var results []assessment
	if cached, ok := p.cache.Get(key); ok {
		results = cached.([]assessment)
		p.logger.Debug("coverage cache hit", "question_set", set.Ref)
	} else {
		var err error
		results, err = p.assessAll(ctx, corpus, questions)
		if err != nil {
			return Result{}, err
		}
		if !anyFailed(results) {
			p.cache.Set(key, results, cache.DefaultExpiration)
		}
	}

	var res Result
	for i, q := range questions {
		a := results[i]
		g := domain.NewFixedGap(q, maxProbes)
		if a.filled && a.confidence >= minConfidence {
			res.Filled = append(res.Filled, domain.CoverageRecord{
				GapID:        g.ID,
				QuestionID:   g.Fixed.QuestionID,
				QuestionText: q.Text,
				Targets:      append([]string(nil), q.Targets...),
				Required:     q.Required,
				Evidence:     maps.Clone(a.evidence),
				Confidence:   a.confidence,
			})
			continue
		}
		if len(a.evidence) > 0 {
			g.Fixed.Evidence = &domain.Evidence{ByTarget: maps.Clone(a.evidence), Confidence: a.confidence}
		}
		res.Gaps = append(res.Gaps, g)
	}

	p.logger.Info("coverage prefill complete",
		"question_set", set.Ref,
		"questions", len(questions),
		"filled", len(res.Filled),
		"open", len(res.Gaps),
	)
	return res, nil
}

func (p *Prefiller) assessAll(ctx context.Context, corpus string, questions []domain.Question) ([]assessment, error) {
	results := make([]assessment, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, q := range questions {
		g.Go(func() error {
			results[i] = p.assessOne(gctx, corpus, q)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Prefiller) assessOne(ctx context.Context, corpus string, q domain.Question) assessment {
	res, err := p.assessor.AssessCoverage(ctx, interpreter.CoverageRequest{
		Corpus:       corpus,
		QuestionID:   q.StableID(),
		QuestionText: q.Text,
		Targets:      q.Targets,
	})
	if err != nil {
		p.logger.Warn("coverage assessment failed, treating question as open",
			"question_id", q.StableID(),
			"error", err,
		)
		return assessment{failed: true}
	}

	evidence := make(map[string]string, len(q.Targets))
	complete := true
	for _, target := range q.Targets {
		ev := strings.TrimSpace(res.Evidence[target])
		if ev == "" {
			complete = false
			continue
		}
		evidence[target] = ev
	}
	return assessment{
		filled:     res.Filled && complete && len(q.Targets) > 0,
		confidence: clamp01(res.Confidence),
		evidence:   evidence,
	}
}

// cacheKey covers the corpus and the question content, so an edited set
// never reuses stale assessments.
func cacheKey(corpus string, set domain.QuestionSet) string {
	h := sha256.New()
	h.Write([]byte(corpus))
	h.Write([]byte{0})
	h.Write([]byte(set.Ref + "@" + set.Version))
	for _, q := range set.Ordered() {
		h.Write([]byte{0})
		h.Write([]byte(q.StableID() + "\x1f" + q.Text + "\x1f" + strings.Join(q.Targets, "\x1f")))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func anyFailed(results []assessment) bool {
	for _, a := range results {
		if a.failed {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Flush drops cached assessments.
func (p *Prefiller) Flush() {
	p.cache.Flush()
}
