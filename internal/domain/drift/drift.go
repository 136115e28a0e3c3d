// Package drift scores how far an agent's recent behavior has moved from
// its own rolling baseline. Five weighted signals sum to a 0-100 score;
// the score feeds the drift-detection verification check.
package drift

import (
	"fmt"
	"math"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

const (
	// RecentWindow is the number of trailing actions compared against
	// the baseline.
	RecentWindow = 20
	// DefaultBaselineDepth is the default number of prior actions the
	// baseline may span.
	DefaultBaselineDepth = 500
	// minBaseline is the smallest baseline worth comparing against.
	minBaseline = 20
	// FailThreshold is the score at which the drift check fails.
	FailThreshold = 50
)

// Signal caps. The five caps sum to 100.
const (
	maxDecisionShift  = 25
	maxRiskElevation  = 25
	maxNewToolEntropy = 20
	maxChainFrequency = 15
	maxCallVelocity   = 15
)

// Signal names as persisted in verification details.
const (
	SignalDecisionShift  = "decision-distribution"
	SignalRiskElevation  = "risk-elevation"
	SignalNewToolEntropy = "new-tool-entropy"
	SignalChainFrequency = "chain-pattern-frequency"
	SignalCallVelocity   = "call-velocity"
)

// Signal is one weighted drift component.
type Signal struct {
	Name   string `json:"name"`
	Value  int    `json:"value"`
	Max    int    `json:"max"`
	Detail string `json:"detail,omitempty"`
}

// Score is the aggregated drift result for one agent.
type Score struct {
	Total         int
	Signals       []Signal
	RecentCount   int
	BaselineCount int
}

// Compute splits an oldest-first history into the recent window (the
// trailing RecentWindow actions) and the baseline (everything before it)
// and scores the five signals. The second return is false when the
// history is too short to yield a meaningful comparison; callers skip
// drift detection in that case.
func Compute(history []action.Action, now time.Time) (Score, bool) {
	if len(history) <= RecentWindow {
		return Score{}, false
	}
	recent := history[len(history)-RecentWindow:]
	base := history[:len(history)-RecentWindow]
	if len(base) < minBaseline {
		return Score{}, false
	}

	signals := []Signal{
		decisionShift(recent, base),
		riskElevation(recent, base),
		newToolEntropy(recent, base),
		chainFrequency(recent, base),
		callVelocity(recent, base, now),
	}
	total := 0
	for _, s := range signals {
		total += s.Value
	}
	return Score{
		Total:         total,
		Signals:       signals,
		RecentCount:   len(recent),
		BaselineCount: len(base),
	}, true
}

// decisionShift is the total variation distance between the recent and
// baseline decision distributions, scaled to its cap.
func decisionShift(recent, base []action.Action) Signal {
	decisions := []action.Decision{action.DecisionAllow, action.DecisionReview, action.DecisionBlock}
	tv := 0.0
	for _, d := range decisions {
		tv += math.Abs(share(recent, d) - share(base, d))
	}
	tv /= 2
	return Signal{
		Name:   SignalDecisionShift,
		Value:  scaled(tv, maxDecisionShift),
		Max:    maxDecisionShift,
		Detail: fmt.Sprintf("distribution distance %.2f", tv),
	}
}

func share(actions []action.Action, d action.Decision) float64 {
	n := 0
	for _, a := range actions {
		if a.Decision == d {
			n++
		}
	}
	return float64(n) / float64(len(actions))
}

// riskElevation scores the increase in mean risk, reaching its cap at a
// 40-point elevation.
func riskElevation(recent, base []action.Action) Signal {
	diff := meanRisk(recent) - meanRisk(base)
	if diff < 0 {
		diff = 0
	}
	return Signal{
		Name:   SignalRiskElevation,
		Value:  scaled(diff/40, maxRiskElevation),
		Max:    maxRiskElevation,
		Detail: fmt.Sprintf("mean risk up %.1f", diff),
	}
}

func meanRisk(actions []action.Action) float64 {
	sum := 0
	for _, a := range actions {
		sum += a.Risk
	}
	return float64(sum) / float64(len(actions))
}

// newToolEntropy scores the share of recent actions whose tool never
// appears in the baseline.
func newToolEntropy(recent, base []action.Action) Signal {
	known := make(map[string]struct{}, len(base))
	for _, a := range base {
		known[a.Tool] = struct{}{}
	}
	novel := 0
	for _, a := range recent {
		if _, ok := known[a.Tool]; !ok {
			novel++
		}
	}
	frac := float64(novel) / float64(len(recent))
	return Signal{
		Name:   SignalNewToolEntropy,
		Value:  scaled(frac, maxNewToolEntropy),
		Max:    maxNewToolEntropy,
		Detail: fmt.Sprintf("%d of %d tools unseen in baseline", novel, len(recent)),
	}
}

// chainFrequency scores the rise in chain-pattern hits, reaching its cap
// at a 50-percentage-point increase.
func chainFrequency(recent, base []action.Action) Signal {
	diff := chainRate(recent) - chainRate(base)
	if diff < 0 {
		diff = 0
	}
	return Signal{
		Name:   SignalChainFrequency,
		Value:  scaled(diff/0.5, maxChainFrequency),
		Max:    maxChainFrequency,
		Detail: fmt.Sprintf("chain hit rate up %.2f", diff),
	}
}

func chainRate(actions []action.Action) float64 {
	n := 0
	for _, a := range actions {
		if a.ChainPattern != "" {
			n++
		}
	}
	return float64(n) / float64(len(actions))
}

// callVelocity scores the increase in call rate, reaching its cap when
// the recent rate is five times the baseline rate.
func callVelocity(recent, base []action.Action, now time.Time) Signal {
	recentRate := ratePerMinute(len(recent), now.Sub(recent[0].Timestamp))
	baseRate := ratePerMinute(len(base), base[len(base)-1].Timestamp.Sub(base[0].Timestamp))
	ratio := recentRate / baseRate
	excess := 0.0
	if ratio > 1 {
		excess = (ratio - 1) / 4
	}
	return Signal{
		Name:   SignalCallVelocity,
		Value:  scaled(excess, maxCallVelocity),
		Max:    maxCallVelocity,
		Detail: fmt.Sprintf("rate ratio %.2f", ratio),
	}
}

func ratePerMinute(n int, span time.Duration) float64 {
	if span < time.Minute {
		span = time.Minute
	}
	return float64(n) / span.Minutes()
}

// scaled converts a 0..1 fraction to an integer signal value clamped to
// its cap.
func scaled(frac float64, max int) int {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return int(math.Round(frac * float64(max)))
}
