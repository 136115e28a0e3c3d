package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/drift"
	"github.com/Verdict-Labs/verdict/internal/domain/firewall"
	"github.com/Verdict-Labs/verdict/internal/domain/verify"
)

// Verifier runs the post-execution verification suite: it links a
// reported tool result back to its evaluated action, runs every
// registered check, aggregates the verdict, persists the log, and
// escalates violations.
type Verifier struct {
	actions   audit.ActionStore
	logs      audit.VerificationStore
	policies  *PolicyService
	escalator *Escalator
	logger    *slog.Logger
	now       Clock

	baselineDepth int
	checks        []verify.Check
}

// verifierConfig carries the knobs consumed at check assembly.
type verifierConfig struct {
	limits        verify.Limits
	baselineDepth int
	now           Clock
}

// VerifierOption configures a Verifier before its check list is
// assembled.
type VerifierOption func(*verifierConfig)

// WithDiffLimits sets the diff-size budgets.
func WithDiffLimits(limits verify.Limits) VerifierOption {
	return func(c *verifierConfig) {
		c.limits = limits
	}
}

// WithBaselineDepth sets how many prior actions feed the drift baseline.
func WithBaselineDepth(depth int) VerifierOption {
	return func(c *verifierConfig) {
		if depth > 0 {
			c.baselineDepth = depth
		}
	}
}

// WithVerifierClock injects the time source.
func WithVerifierClock(now Clock) VerifierOption {
	return func(c *verifierConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewVerifier assembles the standard eight-check suite. The independent
// re-verify check matches against the policy service's current snapshot;
// the output-injection check reuses the pipeline's firewall patterns.
func NewVerifier(actions audit.ActionStore, logs audit.VerificationStore, policies *PolicyService, escalator *Escalator, fw *firewall.Firewall, logger *slog.Logger, opts ...VerifierOption) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := verifierConfig{
		limits:        verify.Limits{DefaultBytes: verify.DefaultDiffLimit},
		baselineDepth: drift.DefaultBaselineDepth,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	v := &Verifier{
		actions:       actions,
		logs:          logs,
		policies:      policies,
		escalator:     escalator,
		logger:        logger,
		now:           cfg.now,
		baselineDepth: cfg.baselineDepth,
	}
	v.checks = []verify.Check{
		verify.CredentialScan(),
		verify.DestructiveOutput(),
		verify.ScopeCompliance(),
		verify.DiffSize(cfg.limits),
		verify.IntentAlignment(),
		verify.OutputInjection(fw),
		verify.IndependentReverify(policies.MatchBlockIDs),
		verify.DriftDetection(),
	}
	return v
}

// Verify runs the suite against one reported result and persists the
// outcome. A missing action id degrades the action-dependent checks to
// skip rather than failing the call; a verification-log write failure is
// fatal.
func (s *Verifier) Verify(ctx context.Context, actionID int64, tool string, result action.Value, diff string) (verify.Log, error) {
	in := verify.Input{Tool: tool, Result: result, Diff: diff}

	linked, err := s.actions.GetAction(ctx, actionID)
	switch {
	case err == nil:
		in.Action = linked
		in.Known = true
	case errors.Is(err, audit.ErrActionNotFound):
		s.logger.Warn("verifying result for unknown action", "action_id", actionID)
	default:
		return verify.Log{}, fmt.Errorf("load action: %w", err)
	}

	norm := action.Normalize(tool, result)
	in.Output = norm.Flat
	in.ResultErr = resultReportsError(result)

	if in.Known && linked.AgentID != "" {
		in.Drift = s.driftScore(ctx, linked.AgentID)
	}

	results := make([]verify.CheckResult, 0, len(s.checks))
	for _, c := range s.checks {
		results = append(results, c.Run(ctx, in))
	}
	verdict, delta := verify.Aggregate(results)

	log := verify.Log{
		ActionID:  actionID,
		Tool:      norm.Tool,
		Verdict:   verdict,
		Checks:    results,
		RiskDelta: delta,
		CreatedAt: s.now(),
	}
	if in.Drift != nil {
		log.DriftScore = in.Drift.Total
	}

	id, err := s.logs.AppendVerification(ctx, log)
	if err != nil {
		return verify.Log{}, fmt.Errorf("append verification: %w", err)
	}
	log.ID = id

	s.logger.Info("verification complete",
		"verification_id", id, "action_id", actionID, "tool", norm.Tool,
		"verdict", string(verdict), "risk_delta", delta, "drift", log.DriftScore)

	if verdict == verify.VerdictViolation {
		s.escalator.OnViolation(ctx, in.Action, log)
	}
	return log, nil
}

// driftScore rebuilds the agent's cross-session drift score. Any failure
// here degrades the drift check to skip.
func (s *Verifier) driftScore(ctx context.Context, agentID string) *drift.Score {
	limit := s.baselineDepth + drift.RecentWindow
	recent, err := s.actions.RecentActions(ctx, agentID, "", time.Time{}, limit)
	if err != nil {
		s.logger.Warn("drift history query failed", "agent_id", agentID, "error", err)
		return nil
	}
	history := make([]action.Action, len(recent))
	for i, a := range recent {
		history[len(recent)-1-i] = a
	}
	score, ok := drift.Compute(history, s.now())
	if !ok {
		return nil
	}
	return &score
}

// Get returns one verification log by id.
func (s *Verifier) Get(ctx context.Context, id int64) (verify.Log, error) {
	return s.logs.GetVerification(ctx, id)
}

// ForAction returns every verification recorded for an action, oldest
// first.
func (s *Verifier) ForAction(ctx context.Context, actionID int64) ([]verify.Log, error) {
	return s.logs.VerificationsByAction(ctx, actionID)
}

// resultReportsError interprets the reported result's error conventions:
// a non-empty "error" field or a failure-carrying "status" marks the
// execution as failed.
func resultReportsError(result action.Value) bool {
	if v, ok := result.Get("error"); ok {
		switch v.Kind {
		case action.KindNull:
		case action.KindBool:
			if v.Bool {
				return true
			}
		case action.KindString:
			if v.Str != "" {
				return true
			}
		default:
			return true
		}
	}
	if v, ok := result.Get("status"); ok {
		if s, isScalar := v.Scalar(); isScalar {
			switch strings.ToLower(s) {
			case "error", "failed", "failure":
				return true
			}
		}
	}
	return false
}
