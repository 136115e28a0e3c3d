package audit

import (
	"context"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/verify"
)

// ActionStore is the append-only action log. Append assigns the
// monotonic id; rows are immutable once written.
type ActionStore interface {
	// AppendAction persists the action and returns its assigned id.
	AppendAction(ctx context.Context, a action.Action) (int64, error)

	// GetAction returns one action by id, or ErrActionNotFound.
	GetAction(ctx context.Context, id int64) (action.Action, error)

	// ListActions returns a newest-first page matching the filter and
	// the cursor for the next page (0 when exhausted).
	ListActions(ctx context.Context, f ActionFilter) ([]action.Action, int64, error)

	// RecentActions returns the agent's newest actions first, bounded
	// by since and limit. An empty sessionID matches every session of
	// the agent. Satisfies the session reconstruction port.
	RecentActions(ctx context.Context, agentID, sessionID string, since time.Time, limit int) ([]action.Action, error)

	// Stats aggregates the log over [start, end].
	Stats(ctx context.Context, start, end time.Time) (Stats, error)
}

// ReceiptStore persists attestation receipts, one per action.
type ReceiptStore interface {
	// PutReceipt stores the receipt for its action.
	PutReceipt(ctx context.Context, r Receipt) error

	// ReceiptByAction returns the receipt for an action, or
	// ErrReceiptNotFound.
	ReceiptByAction(ctx context.Context, actionID int64) (Receipt, error)
}

// VerificationStore persists post-execution verification logs.
type VerificationStore interface {
	// AppendVerification persists the log and returns its assigned id.
	AppendVerification(ctx context.Context, v verify.Log) (int64, error)

	// GetVerification returns one log by id, or verify.ErrNotFound.
	GetVerification(ctx context.Context, id int64) (verify.Log, error)

	// VerificationsByAction returns all logs for an action, oldest
	// first.
	VerificationsByAction(ctx context.Context, actionID int64) ([]verify.Log, error)
}

// StateStore persists governor-state rows (kill switch and similar
// singletons) across restarts.
type StateStore interface {
	// GetState returns the row for key, or ErrStateNotFound.
	GetState(ctx context.Context, key string) (GovernorState, error)

	// PutState inserts or replaces the row.
	PutState(ctx context.Context, s GovernorState) error
}
