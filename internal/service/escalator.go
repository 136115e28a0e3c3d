package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/escalation"
	"github.com/Verdict-Labs/verdict/internal/domain/verify"
)

const (
	// DefaultBlockThreshold is how many blocks within the trailing
	// window auto-engage the kill switch.
	DefaultBlockThreshold = 3
	// DefaultRiskThreshold is the average risk over a full trailing
	// window that auto-engages the kill switch.
	DefaultRiskThreshold = 82
	// escalationWindow is the number of trailing actions the threshold
	// rules look at.
	escalationWindow = 10

	// sweepInterval paces the pending-expiry sweeper.
	sweepInterval = time.Minute
	// notifyTimeout bounds one notifier delivery.
	notifyTimeout = 10 * time.Second
)

// Escalator raises escalation events from evaluated actions and
// verification violations, auto-engages the kill switch when an agent
// trips the per-window thresholds, and fans events out to the configured
// notifiers. Notifier dispatch runs on its own goroutines and is never
// awaited on the request path.
type Escalator struct {
	store     escalation.Store
	actions   audit.ActionStore
	kill      *KillSwitch
	notifiers []escalation.Notifier
	logger    *slog.Logger
	now       Clock

	blockThreshold int
	riskThreshold  int
	pendingTTL     time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EscalatorOption configures an Escalator.
type EscalatorOption func(*Escalator)

// WithNotifiers sets the delivery sinks.
func WithNotifiers(notifiers ...escalation.Notifier) EscalatorOption {
	return func(e *Escalator) {
		e.notifiers = notifiers
	}
}

// WithBlockThreshold overrides the blocks-per-window auto-kill rule.
func WithBlockThreshold(n int) EscalatorOption {
	return func(e *Escalator) {
		if n > 0 {
			e.blockThreshold = n
		}
	}
}

// WithRiskThreshold overrides the average-risk auto-kill rule.
func WithRiskThreshold(n int) EscalatorOption {
	return func(e *Escalator) {
		if n > 0 {
			e.riskThreshold = n
		}
	}
}

// WithPendingTTL overrides how long a pending escalation waits for a
// resolution before the sweeper expires it.
func WithPendingTTL(ttl time.Duration) EscalatorOption {
	return func(e *Escalator) {
		if ttl > 0 {
			e.pendingTTL = ttl
		}
	}
}

// WithEscalatorClock injects the time source.
func WithEscalatorClock(now Clock) EscalatorOption {
	return func(e *Escalator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEscalator creates an Escalator. Call Start to run the expiry
// sweeper and Stop to wait for in-flight notifier deliveries.
func NewEscalator(store escalation.Store, actions audit.ActionStore, kill *KillSwitch, logger *slog.Logger, opts ...EscalatorOption) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Escalator{
		store:          store,
		actions:        actions,
		kill:           kill,
		logger:         logger,
		now:            time.Now,
		blockThreshold: DefaultBlockThreshold,
		riskThreshold:  DefaultRiskThreshold,
		pendingTTL:     escalation.DefaultPendingTTL,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the pending-expiry sweeper.
func (e *Escalator) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.done:
				return
			case <-ticker.C:
				e.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweeper and waits for in-flight notifier deliveries.
func (e *Escalator) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}

func (e *Escalator) sweep(ctx context.Context) {
	n, err := e.store.ExpirePending(ctx, e.now())
	if err != nil {
		e.logger.Warn("escalation expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		e.logger.Info("expired pending escalations", "count", n)
	}
}

// OnAction applies the threshold rules to a freshly persisted action.
// At most one escalation is raised per action; rule failures degrade to
// logs and never surface on the evaluation path.
func (e *Escalator) OnAction(ctx context.Context, a action.Action) {
	if a.AgentID == "" {
		return
	}
	recent, err := e.actions.RecentActions(ctx, a.AgentID, "", time.Time{}, escalationWindow)
	if err != nil {
		e.logger.Warn("escalation window query failed", "agent_id", a.AgentID, "error", err)
	}
	blocks, riskSum := 0, 0
	for _, r := range recent {
		if r.Decision == action.DecisionBlock {
			blocks++
		}
		riskSum += r.Risk
	}

	switch {
	case blocks >= e.blockThreshold:
		e.raise(ctx, a.AgentID, a.ID, escalation.SeverityCritical,
			fmt.Sprintf("%d blocked actions in last %d", blocks, escalationWindow), true)
	case len(recent) >= escalationWindow && riskSum/len(recent) >= e.riskThreshold:
		e.raise(ctx, a.AgentID, a.ID, escalation.SeverityCritical,
			fmt.Sprintf("average risk %d over last %d actions", riskSum/len(recent), escalationWindow), true)
	case a.Decision == action.DecisionBlock || a.Decision == action.DecisionReview:
		e.raise(ctx, a.AgentID, a.ID, escalation.SeverityFromRisk(a.Risk),
			fmt.Sprintf("%s decision with risk %d", a.Decision, a.Risk), false)
	}
}

// OnViolation raises an escalation for a verification that produced a
// violation verdict. Severity follows the accumulated risk delta.
func (e *Escalator) OnViolation(ctx context.Context, a action.Action, v verify.Log) {
	var failed []string
	for _, c := range v.Checks {
		if c.Outcome == verify.OutcomeFail {
			failed = append(failed, c.Name)
		}
	}
	e.raise(ctx, a.AgentID, v.ActionID, escalation.SeverityFromDelta(v.RiskDelta),
		fmt.Sprintf("verification violation: %s", strings.Join(failed, ", ")), false)
}

// raise engages the kill switch when asked, persists the event, and
// hands it to the notifiers.
func (e *Escalator) raise(ctx context.Context, agentID string, actionID int64, sev escalation.Severity, reason string, autoKill bool) {
	if autoKill {
		if err := e.kill.Engage(ctx, "escalator"); err != nil {
			e.logger.Error("auto kill engage not persisted", "agent_id", agentID, "error", err)
		}
	}
	now := e.now()
	ev := escalation.Event{
		AgentID:   agentID,
		ActionID:  actionID,
		Severity:  sev,
		Reason:    reason,
		Status:    escalation.StatusPending,
		AutoKill:  autoKill,
		CreatedAt: now,
		ExpiresAt: now.Add(e.pendingTTL),
	}
	id, err := e.store.AppendEscalation(ctx, ev)
	if err != nil {
		e.logger.Error("escalation not persisted",
			"agent_id", agentID, "action_id", actionID, "reason", reason, "error", err)
		return
	}
	ev.ID = id
	e.logger.Info("escalation raised",
		"escalation_id", id, "agent_id", agentID, "action_id", actionID,
		"severity", string(sev), "auto_kill", autoKill, "reason", reason)
	e.notifyAsync(ctx, ev)
}

// notifyAsync delivers the event to every notifier on detached
// goroutines. Failures are logged; nothing is retried.
func (e *Escalator) notifyAsync(ctx context.Context, ev escalation.Event) {
	base := context.WithoutCancel(ctx)
	for _, n := range e.notifiers {
		e.wg.Add(1)
		go func(n escalation.Notifier) {
			defer e.wg.Done()
			nctx, cancel := context.WithTimeout(base, notifyTimeout)
			defer cancel()
			if err := n.Notify(nctx, ev); err != nil {
				e.logger.Warn("escalation notify failed",
					"notifier", n.Name(), "escalation_id", ev.ID, "error", err)
			}
		}(n)
	}
}

// Approve resolves a pending escalation as approved.
func (e *Escalator) Approve(ctx context.Context, id int64, actor string) (escalation.Event, error) {
	return e.resolve(ctx, id, escalation.StatusApproved, actor)
}

// Reject resolves a pending escalation as rejected.
func (e *Escalator) Reject(ctx context.Context, id int64, actor string) (escalation.Event, error) {
	return e.resolve(ctx, id, escalation.StatusRejected, actor)
}

func (e *Escalator) resolve(ctx context.Context, id int64, to escalation.Status, actor string) (escalation.Event, error) {
	ev, err := e.store.GetEscalation(ctx, id)
	if err != nil {
		return escalation.Event{}, err
	}
	if err := ev.Resolve(to, actor, e.now()); err != nil {
		return escalation.Event{}, err
	}
	if err := e.store.UpdateEscalation(ctx, ev); err != nil {
		return escalation.Event{}, fmt.Errorf("update escalation: %w", err)
	}
	e.logger.Info("escalation resolved",
		"escalation_id", id, "status", string(to), "actor", actor)
	e.notifyAsync(ctx, ev)
	return ev, nil
}

// Get returns one escalation by id.
func (e *Escalator) Get(ctx context.Context, id int64) (escalation.Event, error) {
	return e.store.GetEscalation(ctx, id)
}

// List returns newest-first escalations matching the filter.
func (e *Escalator) List(ctx context.Context, f escalation.Filter) ([]escalation.Event, error) {
	return e.store.ListEscalations(ctx, f)
}
