// Package gap picks the next gap to probe.
package gap

import (
	"github.com/ashureev/interviewd/internal/domain"
)

// EffectiveMaxProbes applies the adaptive limit to g.
//
// A streak of clarification requests raises the limit, a streak of off-topic
// answers caps it at the probes already spent. The cap wins when both apply.
func EffectiveMaxProbes(g domain.Gap, s domain.Settings) int {
	limit := g.MaxProbes
	if streak(g, domain.AnswerClarification, s.ClarificationStreak) {
		limit += s.ClarificationBonus
	}
	if streak(g, domain.AnswerOffTopic, s.OffTopicStreak) && g.ProbesAttempted < limit {
		limit = g.ProbesAttempted
	}
	return limit
}

func streak(g domain.Gap, kind domain.AnswerKind, n int) bool {
	if n <= 0 || len(g.ProbeHistory) < n {
		return false
	}
	for _, k := range g.LastOutcomes(n) {
		if k != kind {
			return false
		}
	}
	return true
}

// Eligible reports whether g may still be probed.
func Eligible(g domain.Gap, resolved map[string]bool, s domain.Settings) bool {
	if resolved[g.ID] {
		return false
	}
	return g.ProbesAttempted < EffectiveMaxProbes(g, s)
}

// Select returns the id of the most urgent eligible gap.
// Ties on severity go to the lowest sequence order, then to creation order.
func Select(gaps map[string]domain.Gap, resolved map[string]bool, s domain.Settings) (string, bool) {
	var (
		best  domain.Gap
		found bool
	)
	for _, g := range gaps {
		if !Eligible(g, resolved, s) {
			continue
		}
		if !found || before(g, best) {
			best = g
			found = true
		}
	}
	if !found {
		return "", false
	}
	return best.ID, true
}

func before(a, b domain.Gap) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	ao, aok := a.SequenceOrder()
	bo, bok := b.SequenceOrder()
	if aok && bok && ao != bo {
		return ao < bo
	}
	if aok != bok {
		return aok
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// Remaining counts the eligible gaps.
func Remaining(gaps map[string]domain.Gap, resolved map[string]bool, s domain.Settings) int {
	n := 0
	for _, g := range gaps {
		if Eligible(g, resolved, s) {
			n++
		}
	}
	return n
}
