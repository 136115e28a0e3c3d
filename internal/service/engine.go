package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/chain"
	"github.com/Verdict-Labs/verdict/internal/domain/events"
	"github.com/Verdict-Labs/verdict/internal/domain/firewall"
	"github.com/Verdict-Labs/verdict/internal/domain/risk"
	"github.com/Verdict-Labs/verdict/internal/domain/session"
	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
)

// reviewThreshold is the combined risk at which a tentative allow is
// elevated to review.
const reviewThreshold = 80

// Risk values assigned by short-circuiting layers.
const (
	killBlockRisk     = 100
	firewallBlockRisk = 95
	scopeBlockRisk    = 90
)

// DecisionObserver receives one completed evaluation for metrics. The
// action mirrors the persisted record except FeeMilli, which carries
// the fee as actually collected rather than as assessed.
type DecisionObserver func(a action.Action, elapsed time.Duration)

// EngineDeps are the collaborators an Engine is built from. All fields
// are required except Fees.
type EngineDeps struct {
	Kill      *KillSwitch
	Firewall  *firewall.Firewall
	Policies  *PolicyService
	Estimator *risk.Estimator
	Sessions  *session.Reconstructor
	Chains    *chain.Analyzer
	Actions   audit.ActionStore
	Receipts  audit.ReceiptStore
	Bus       *Bus
	Fees      *FeeLedger
	Escalator *Escalator
}

// Engine evaluates proposed tool calls through the six-layer pipeline.
// Evaluations are independent and safe to run concurrently; all shared
// state lives in the injected collaborators.
type Engine struct {
	deps    EngineDeps
	logger  *slog.Logger
	now     Clock
	observe DecisionObserver
	tracer  trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock injects the time source.
func WithEngineClock(now Clock) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDecisionObserver registers a metrics hook invoked once per
// completed evaluation.
func WithDecisionObserver(fn DecisionObserver) EngineOption {
	return func(e *Engine) {
		e.observe = fn
	}
}

// WithEngineTracer records a span per evaluation with a child span per
// layer. Requests arriving without trace identity inherit the span's,
// so the persisted action links back to the trace.
func WithEngineTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewEngine validates the dependency set and builds the engine.
func NewEngine(deps EngineDeps, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	switch {
	case deps.Kill == nil:
		return nil, fmt.Errorf("engine: kill switch is required")
	case deps.Firewall == nil:
		return nil, fmt.Errorf("engine: firewall is required")
	case deps.Policies == nil:
		return nil, fmt.Errorf("engine: policy service is required")
	case deps.Estimator == nil:
		return nil, fmt.Errorf("engine: risk estimator is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("engine: session reconstructor is required")
	case deps.Chains == nil:
		return nil, fmt.Errorf("engine: chain analyzer is required")
	case deps.Actions == nil:
		return nil, fmt.Errorf("engine: action store is required")
	case deps.Receipts == nil:
		return nil, fmt.Errorf("engine: receipt store is required")
	case deps.Bus == nil:
		return nil, fmt.Errorf("engine: event bus is required")
	case deps.Escalator == nil:
		return nil, fmt.Errorf("engine: escalator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		deps:   deps,
		logger: logger,
		now:    time.Now,
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// pipeline is the mutable state threaded through one evaluation.
type pipeline struct {
	req     action.Request
	norm    action.Normalized
	started time.Time

	decision     action.Decision
	risk         int
	policyIDs    []string
	policyWeight int
	chainPattern string
	reasons      []string
	explanation  string
	degraded     bool
	shortCircuit bool
	trace        []action.TraceStep
}

// Evaluate runs the request through the pipeline and persists the
// decision. The returned error is nil for every decided call, including
// blocks; errors are reserved for invalid input, interrupted deadlines,
// and persistence failures after the decision was computed.
func (e *Engine) Evaluate(ctx context.Context, req action.Request) (action.Evaluation, error) {
	if err := req.Validate(); err != nil {
		return action.Evaluation{}, err
	}
	ctx, span := e.tracer.Start(ctx, "pipeline.evaluate", trace.WithAttributes(
		attribute.String("tool", req.Tool),
		attribute.String("agent_id", req.Context.AgentID),
	))
	defer span.End()
	if sc := span.SpanContext(); sc.IsValid() {
		if req.Context.TraceID == "" {
			req.Context.TraceID = sc.TraceID().String()
		}
		if req.Context.SpanID == "" {
			req.Context.SpanID = sc.SpanID().String()
		}
	}

	st := &pipeline{
		req:      req,
		norm:     action.Normalize(req.Tool, req.Args),
		started:  e.now(),
		decision: action.DecisionAllow,
	}

	layers := []struct {
		name string
		run  func(ctx context.Context, st *pipeline) (action.TraceStep, bool)
	}{
		{action.LayerKillSwitch, e.layerKillSwitch},
		{action.LayerInjection, e.layerFirewall},
		{action.LayerScope, e.layerScope},
		{action.LayerPolicy, e.layerPolicy},
		{action.LayerRiskChain, e.layerRiskChain},
	}
	for i, l := range layers {
		layerStart := e.now()
		lctx, lspan := e.tracer.Start(ctx, l.name)
		step, stop := l.run(lctx, st)
		lspan.End()
		step.Layer = i + 1
		step.Name = l.name
		step.DurationMS = e.now().Sub(layerStart).Milliseconds()
		st.trace = append(st.trace, step)

		// The in-flight layer always finishes; the deadline is honored
		// between layers and the partial trace is never persisted.
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("evaluation interrupted after %s: %w", l.name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return action.Evaluation{}, err
		}
		if stop {
			st.shortCircuit = true
			break
		}
	}

	ev, err := e.finalize(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ev, err
	}
	span.SetAttributes(
		attribute.String("decision", ev.Decision.String()),
		attribute.Int("risk", ev.Risk),
	)
	return ev, nil
}

// finalize persists the action and its receipt, settles the fee,
// publishes the bus event, and applies the escalation rules. On the
// full-pipeline path it also appends the finalize trace step.
//
// The fee is assessed from the final risk and recorded on the action,
// but the wallet is charged strictly after the append: a payment
// problem must never cost the audit log an evaluated call, and the
// action is never rolled back. An uncovered fee flags the response
// instead.
func (e *Engine) finalize(ctx context.Context, st *pipeline) (action.Evaluation, error) {
	rctx := st.req.Context
	tierLabel, tierFee := wallet.TierFor(st.risk)

	var feeDue wallet.Amount
	if rctx.AgentID != "" && e.deps.Fees != nil && e.deps.Fees.Enabled() {
		feeDue = tierFee
	}

	if st.explanation == "" {
		st.explanation = fmt.Sprintf("%s: risk %d", st.decision, st.risk)
		if len(st.reasons) > 0 {
			st.explanation += " (" + strings.Join(st.reasons, ", ") + ")"
		}
	}

	if !st.shortCircuit {
		st.trace = append(st.trace, action.TraceStep{
			Layer:   len(st.trace) + 1,
			Name:    action.LayerFinalize,
			Outcome: stepOutcomeFor(st.decision),
			Detail:  fmt.Sprintf("fee tier %s", tierLabel),
		})
	}

	a := action.Action{
		Timestamp:      st.started,
		AgentID:        rctx.AgentID,
		SessionID:      rctx.SessionID,
		UserID:         rctx.UserID,
		AllowedTools:   rctx.AllowedTools,
		Tool:           st.norm.Tool,
		Args:           st.req.Args,
		ArgsFlat:       st.norm.Flat,
		Decision:       st.decision,
		Risk:           st.risk,
		PolicyIDs:      st.policyIDs,
		ChainPattern:   st.chainPattern,
		Trace:          st.trace,
		TraceID:        rctx.TraceID,
		SpanID:         rctx.SpanID,
		ConversationID: rctx.ConversationID,
		FeeMilli:       int64(feeDue),
	}
	id, err := e.deps.Actions.AppendAction(ctx, a)
	if err != nil {
		return action.Evaluation{}, fmt.Errorf("append action: %w", err)
	}
	a.ID = id

	receipt := audit.NewReceipt(a, tierLabel, e.now())
	if err := e.deps.Receipts.PutReceipt(ctx, receipt); err != nil {
		e.logger.Warn("receipt write failed, action already persisted",
			"action_id", id, "error", err)
	}

	var collected wallet.Amount
	var payRequired bool
	if feeDue > 0 {
		charged, pr, err := e.deps.Fees.Charge(ctx, rctx.AgentID, feeDue)
		if err != nil {
			e.logger.Warn("fee settlement failed, proceeding unpaid",
				"agent_id", rctx.AgentID, "action_id", id, "error", err)
		} else {
			collected = charged
			payRequired = pr
		}
	}

	e.deps.Bus.Publish(events.NewActionEvaluated(a, e.now()))
	e.deps.Escalator.OnAction(ctx, a)

	elapsed := e.now().Sub(st.started)
	if e.observe != nil {
		observed := a
		observed.FeeMilli = int64(collected)
		e.observe(observed, elapsed)
	}
	e.logger.Info("action evaluated",
		"action_id", id, "tool", a.Tool, "decision", a.Decision.String(),
		"risk", a.Risk, "agent_id", a.AgentID, "degraded", st.degraded,
		"elapsed_ms", elapsed.Milliseconds())

	ev := action.Evaluation{
		ActionID:        id,
		Decision:        st.decision,
		Risk:            st.risk,
		Explanation:     st.explanation,
		PolicyIDs:       st.policyIDs,
		ChainPattern:    st.chainPattern,
		Trace:           st.trace,
		Degraded:        st.degraded,
		PaymentRequired: payRequired,
	}
	if payRequired {
		ev.Trace = paymentRequiredTrace(st.trace)
	}
	if st.norm.Sanitized {
		ev.ModifiedArgs = st.norm.Flat
	}
	return ev, nil
}

// paymentRequiredTrace annotates the last trace step with the unpaid
// fee. The persisted action shares the original slice, so the response
// gets its own copy.
func paymentRequiredTrace(trace []action.TraceStep) []action.TraceStep {
	out := append([]action.TraceStep(nil), trace...)
	if len(out) > 0 {
		last := &out[len(out)-1]
		if last.Detail != "" {
			last.Detail += "; payment required"
		} else {
			last.Detail = "payment required"
		}
	}
	return out
}

func stepOutcomeFor(d action.Decision) action.StepOutcome {
	switch d {
	case action.DecisionBlock:
		return action.StepBlock
	case action.DecisionReview:
		return action.StepReview
	default:
		return action.StepPass
	}
}
