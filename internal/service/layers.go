package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/chain"
	"github.com/Verdict-Labs/verdict/internal/domain/policy"
	"github.com/Verdict-Labs/verdict/internal/domain/risk"
	"github.com/Verdict-Labs/verdict/internal/domain/session"
)

// layerKillSwitch is layer 1: when the switch is engaged every call is
// blocked at maximum risk and nothing else runs.
func (e *Engine) layerKillSwitch(_ context.Context, st *pipeline) (action.TraceStep, bool) {
	if !e.deps.Kill.Engaged() {
		return action.TraceStep{Outcome: action.StepPass}, false
	}
	st.decision = action.DecisionBlock
	st.risk = killBlockRisk
	st.explanation = "kill switch engaged"
	return action.TraceStep{
		Outcome:   action.StepBlock,
		RiskDelta: killBlockRisk,
		Detail:    "kill switch engaged",
	}, true
}

// layerFirewall is layer 2: the flattened args, the normalized tool
// name, and the caller prompt are scanned against the injection pattern
// set. Any finding blocks.
func (e *Engine) layerFirewall(_ context.Context, st *pipeline) (action.TraceStep, bool) {
	res := e.deps.Firewall.ScanAll(st.norm.Tool, st.norm.Flat, action.Sanitize(st.req.Context.Prompt))
	if !res.Detected {
		return action.TraceStep{Outcome: action.StepPass}, false
	}
	ids := res.MatchedIDs()
	st.decision = action.DecisionBlock
	st.risk = firewallBlockRisk
	st.policyIDs = append(st.policyIDs, ids...)
	st.explanation = "injection firewall: " + strings.Join(ids, ", ")
	return action.TraceStep{
		Outcome:    action.StepBlock,
		RiskDelta:  firewallBlockRisk,
		MatchedIDs: ids,
		Detail:     fmt.Sprintf("%d findings: %s", len(res.Findings), strings.Join(ids, ", ")),
	}, true
}

// layerScope is layer 3: a non-empty caller allow-list must admit the
// tool.
func (e *Engine) layerScope(_ context.Context, st *pipeline) (action.TraceStep, bool) {
	if st.req.Context.ScopePermits(st.norm.Tool) {
		return action.TraceStep{Outcome: action.StepPass}, false
	}
	st.decision = action.DecisionBlock
	st.risk = scopeBlockRisk
	st.explanation = fmt.Sprintf("tool %q outside caller scope", st.norm.Tool)
	return action.TraceStep{
		Outcome:   action.StepBlock,
		RiskDelta: scopeBlockRisk,
		Detail:    fmt.Sprintf("tool %q not in allowed set of %d", st.norm.Tool, len(st.req.Context.AllowedTools)),
	}, true
}

// layerPolicy is layer 4: the call is matched against the merged policy
// snapshot. The strictest matching action wins; a blocking match
// short-circuits at its severity's risk floor, non-blocking matches
// contribute their severity weight to layer 5's total.
func (e *Engine) layerPolicy(ctx context.Context, st *pipeline) (action.TraceStep, bool) {
	snap, degraded, err := e.deps.Policies.Snapshot(ctx)
	if err != nil {
		// No snapshot at all; record and let the remaining layers decide.
		st.degraded = true
		e.logger.Error("policy snapshot unavailable", "error", err)
		return action.TraceStep{
			Outcome: action.StepPass,
			Detail:  "policy_store_degraded: no snapshot",
		}, false
	}
	if degraded {
		st.degraded = true
	}

	m := snap.Match(policy.MatchInput{
		Tool:      st.norm.Tool,
		URL:       urlArg(st.req.Args),
		ArgsFlat:  st.norm.Flat,
		AgentID:   st.req.Context.AgentID,
		SessionID: st.req.Context.SessionID,
	})
	st.policyIDs = append(st.policyIDs, m.IDs...)

	var details []string
	if len(m.IDs) > 0 {
		details = append(details, fmt.Sprintf("matched %s", strings.Join(m.IDs, ", ")))
	}
	if m.CondErrors > 0 {
		details = append(details, fmt.Sprintf("%d condition errors", m.CondErrors))
	}
	if degraded {
		details = append(details, "policy_store_degraded")
	}

	if m.Decision == action.DecisionBlock {
		st.decision = action.DecisionBlock
		if m.BlockRisk > st.risk {
			st.risk = m.BlockRisk
		}
		st.explanation = "blocked by policy " + strings.Join(m.IDs, ", ")
		return action.TraceStep{
			Outcome:    action.StepBlock,
			RiskDelta:  m.BlockRisk,
			MatchedIDs: m.IDs,
			Detail:     strings.Join(details, "; "),
		}, true
	}

	st.policyWeight = m.Weight
	outcome := action.StepPass
	if m.Decision == action.DecisionReview {
		st.decision = action.Stricter(st.decision, action.DecisionReview)
		outcome = action.StepReview
	}
	return action.TraceStep{
		Outcome:    outcome,
		RiskDelta:  m.Weight,
		MatchedIDs: m.IDs,
		Detail:     strings.Join(details, "; "),
	}, false
}

// layerRiskChain is layer 5: heuristic risk scoring plus session chain
// analysis. The combined total (base + bonuses + chain boost + policy
// weight) caps at 100; totals at or above the review threshold elevate
// a tentative allow to review.
func (e *Engine) layerRiskChain(ctx context.Context, st *pipeline) (action.TraceStep, bool) {
	est := e.deps.Estimator.Estimate(st.norm.Tool, st.req.Args, st.norm.Flat)
	st.reasons = append(st.reasons, fmt.Sprintf("base %d", est.Base))
	st.reasons = append(st.reasons, est.Reasons...)

	hist, err := e.deps.Sessions.History(ctx, session.Key{
		AgentID:   st.req.Context.AgentID,
		SessionID: st.req.Context.SessionID,
	}, e.now())
	if err != nil {
		st.degraded = true
		e.logger.Warn("session history unavailable, chain analysis skipped",
			"agent_id", st.req.Context.AgentID, "error", err)
	}

	cres := e.deps.Chains.Analyze(chain.Input{
		History:  hist.Actions,
		Tool:     st.norm.Tool,
		Class:    risk.Classify(st.norm.Tool),
		ArgsFlat: st.norm.Flat,
		Now:      e.now(),
	})
	if cres.Degraded {
		st.degraded = true
	}
	if cres.PatternID != "" {
		st.chainPattern = cres.PatternID
		st.reasons = append(st.reasons, fmt.Sprintf("chain %s +%d", cres.PatternID, cres.Boost))
	}
	if st.policyWeight > 0 {
		st.reasons = append(st.reasons, fmt.Sprintf("policy weight +%d", st.policyWeight))
	}

	total := est.Total + cres.Boost + st.policyWeight
	if total > risk.MaxRisk {
		total = risk.MaxRisk
	}
	st.risk = total

	outcome := action.StepPass
	if total >= reviewThreshold {
		st.decision = action.Stricter(st.decision, action.DecisionReview)
		outcome = action.StepReview
	}
	return action.TraceStep{
		Outcome:   outcome,
		RiskDelta: est.Total + cres.Boost,
		Detail:    strings.Join(st.reasons, "; "),
	}, false
}

// urlArg extracts the conventional scalar "url" argument for policy URL
// matching.
func urlArg(args action.Value) string {
	v, ok := args.Get("url")
	if !ok {
		return ""
	}
	s, _ := v.Scalar()
	return s
}
