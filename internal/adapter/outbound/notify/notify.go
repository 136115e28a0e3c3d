// Package notify provides escalation notifier sinks: a structured-log
// sink and a sequential group wrapper. Real delivery transports (chat,
// email, webhooks) implement the same interface and plug in beside them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Verdict-Labs/verdict/internal/domain/escalation"
)

// Slog writes every escalation event to the structured log. It is the
// default sink, so an unconfigured deployment still surfaces
// escalations somewhere an operator looks.
type Slog struct {
	logger *slog.Logger
}

// NewSlog creates a log sink.
func NewSlog(logger *slog.Logger) *Slog {
	return &Slog{logger: logger}
}

// Name identifies the sink in logs.
func (s *Slog) Name() string { return "slog" }

// Notify logs the event. Resolved events log at Info, open ones at Warn.
func (s *Slog) Notify(_ context.Context, e escalation.Event) error {
	level := slog.LevelWarn
	if e.Status != escalation.StatusPending {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, "escalation",
		"escalation_id", e.ID,
		"agent_id", e.AgentID,
		"action_id", e.ActionID,
		"severity", string(e.Severity),
		"status", string(e.Status),
		"auto_kill", e.AutoKill,
		"reason", e.Reason,
	)
	return nil
}

// Multi groups several sinks behind one notifier. Delivery is
// sequential in registration order; a failing sink does not stop the
// ones after it.
type Multi struct {
	name  string
	sinks []escalation.Notifier
}

// NewMulti creates a group sink with the given name.
func NewMulti(name string, sinks ...escalation.Notifier) *Multi {
	return &Multi{name: name, sinks: sinks}
}

// Name identifies the group in logs.
func (m *Multi) Name() string { return m.name }

// Notify delivers the event to every sink and joins the failures.
func (m *Multi) Notify(ctx context.Context, e escalation.Event) error {
	var errs []error
	for _, n := range m.sinks {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ escalation.Notifier = (*Slog)(nil)
	_ escalation.Notifier = (*Multi)(nil)
)
