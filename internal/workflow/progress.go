package workflow

import "context"

// Stage names a long-running part of a call.
type Stage string

// Progress stages.
const (
	StageDiscovering       Stage = "discovering"
	StageAssessingCoverage Stage = "assessing_coverage"
	StageInterpreting      Stage = "interpreting"
	StageComposing         Stage = "composing"
	StageFinalizing        Stage = "finalizing"
)

// Progress is an advisory notification. It never affects control flow.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// Observer receives progress notifications. It is called synchronously and
// must return quickly.
type Observer func(Progress)

type observerKey struct{}

// WithObserver attaches obs to ctx so the engine reports progress to it.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	if obs == nil {
		return ctx
	}
	return context.WithValue(ctx, observerKey{}, obs)
}

func notify(ctx context.Context, stage Stage, msg string) {
	if obs, ok := ctx.Value(observerKey{}).(Observer); ok {
		obs(Progress{Stage: stage, Message: msg})
	}
}
