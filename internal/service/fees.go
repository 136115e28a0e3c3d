package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
)

// FeeLedger settles per-evaluation fees against agent wallets. When
// disabled every charge is a no-op; wallet reads and top-ups keep
// working so balances can be managed before fees are switched on.
type FeeLedger struct {
	wallets wallet.Store
	logger  *slog.Logger
	initial wallet.Amount
	enabled bool
}

// FeeLedgerOption configures a FeeLedger.
type FeeLedgerOption func(*FeeLedger)

// WithFeesEnabled turns fee settlement on.
func WithFeesEnabled(enabled bool) FeeLedgerOption {
	return func(l *FeeLedger) {
		l.enabled = enabled
	}
}

// WithInitialBalance sets the balance new wallets are provisioned with.
func WithInitialBalance(initial wallet.Amount) FeeLedgerOption {
	return func(l *FeeLedger) {
		if initial >= 0 {
			l.initial = initial
		}
	}
}

// NewFeeLedger creates a FeeLedger over the wallet store. Fees are
// disabled unless WithFeesEnabled is given.
func NewFeeLedger(wallets wallet.Store, logger *slog.Logger, opts ...FeeLedgerOption) *FeeLedger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &FeeLedger{
		wallets: wallets,
		logger:  logger,
		initial: wallet.DefaultInitialBalance,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enabled reports whether charges are applied.
func (l *FeeLedger) Enabled() bool {
	return l.enabled
}

// Charge deducts fee from the agent's wallet, provisioning it on first
// contact. An insufficient balance is not an error: the charge is
// skipped and paymentRequired is set, leaving the decision untouched.
// The caller must pass a non-empty agentID.
func (l *FeeLedger) Charge(ctx context.Context, agentID string, fee wallet.Amount) (charged wallet.Amount, paymentRequired bool, err error) {
	if !l.enabled || fee <= 0 {
		return 0, false, nil
	}
	if _, err := l.wallets.EnsureWallet(ctx, agentID, l.initial); err != nil {
		return 0, false, fmt.Errorf("ensure wallet: %w", err)
	}
	w, err := l.wallets.Deduct(ctx, agentID, fee)
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		l.logger.Warn("wallet cannot cover fee", "agent_id", agentID, "fee", fee.String())
		return 0, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("deduct fee: %w", err)
	}
	l.logger.Debug("fee charged",
		"agent_id", agentID, "fee", fee.String(), "balance", w.Balance.String())
	return fee, false, nil
}

// TopUp credits an agent's wallet, provisioning it on first contact.
func (l *FeeLedger) TopUp(ctx context.Context, agentID string, amount wallet.Amount) (wallet.Wallet, error) {
	if amount <= 0 {
		return wallet.Wallet{}, fmt.Errorf("%w: top-up must be positive", wallet.ErrInvalidAmount)
	}
	if _, err := l.wallets.EnsureWallet(ctx, agentID, l.initial); err != nil {
		return wallet.Wallet{}, fmt.Errorf("ensure wallet: %w", err)
	}
	w, err := l.wallets.Credit(ctx, agentID, amount)
	if err != nil {
		return wallet.Wallet{}, fmt.Errorf("credit wallet: %w", err)
	}
	l.logger.Info("wallet topped up",
		"agent_id", agentID, "amount", amount.String(), "balance", w.Balance.String())
	return w, nil
}

// Wallet returns the agent's wallet.
func (l *FeeLedger) Wallet(ctx context.Context, agentID string) (wallet.Wallet, error) {
	return l.wallets.GetWallet(ctx, agentID)
}
