// Package wallet implements the optional fee ledger: per-agent balances
// in fixed-point thousandths and the risk-band fee tiers deducted per
// evaluation.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Amount is a fixed-point money value in thousandths of a unit.
// 100.000 units are stored as 100000.
type Amount int64

// DefaultInitialBalance is the balance a wallet is provisioned with.
const DefaultInitialBalance Amount = 100_000

// String renders the amount with exactly three decimals.
func (a Amount) String() string {
	sign := ""
	if a < 0 {
		sign = "-"
		a = -a
	}
	return fmt.Sprintf("%s%d.%03d", sign, a/1000, a%1000)
}

// Sentinel errors for wallet operations.
var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// ParseAmount parses a non-negative decimal string with at most three
// fractional digits into an Amount.
func ParseAmount(s string) (Amount, error) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || (hasFrac && frac == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	f := uint64(0)
	if hasFrac {
		if len(frac) > 3 {
			return 0, fmt.Errorf("%w: %q has more than three decimals", ErrInvalidAmount, s)
		}
		f, err = strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		for i := len(frac); i < 3; i++ {
			f *= 10
		}
	}
	const maxWhole = (1<<63 - 1) / 1000
	if w > maxWhole {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	return Amount(w*1000 + f), nil
}

// Wallet is one agent's fee balance.
type Wallet struct {
	AgentID   string
	Balance   Amount
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fee tier labels, recorded on receipts.
const (
	TierLow      = "low"
	TierStandard = "standard"
	TierElevated = "elevated"
	TierCritical = "critical"
)

// TierFor maps a final risk score to its fee tier label and fee.
func TierFor(risk int) (string, Amount) {
	switch {
	case risk >= 90:
		return TierCritical, 25
	case risk >= 70:
		return TierElevated, 10
	case risk >= 40:
		return TierStandard, 5
	default:
		return TierLow, 1
	}
}

// Store persists wallets. Deduct and Credit are single-row transactions;
// Deduct checks balance >= fee as its precondition.
type Store interface {
	// EnsureWallet returns the agent's wallet, provisioning it with
	// the initial balance when absent.
	EnsureWallet(ctx context.Context, agentID string, initial Amount) (Wallet, error)

	// GetWallet returns the agent's wallet, or ErrWalletNotFound.
	GetWallet(ctx context.Context, agentID string) (Wallet, error)

	// Deduct atomically subtracts fee when the balance covers it, or
	// returns ErrInsufficientFunds leaving the balance unchanged.
	Deduct(ctx context.Context, agentID string, fee Amount) (Wallet, error)

	// Credit atomically adds amount to the balance.
	Credit(ctx context.Context, agentID string, amount Amount) (Wallet, error)
}
