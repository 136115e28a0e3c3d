package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
)

// WalletStore is the sqlite-backed wallet table. Deduct and Credit are
// single-statement updates; the balance precondition rides in the WHERE
// clause so concurrent charges never overdraw.
type WalletStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewWalletStore creates a wallet store over an opened database.
func NewWalletStore(db *sql.DB) *WalletStore {
	return &WalletStore{db: db, now: time.Now}
}

// EnsureWallet returns the agent's wallet, provisioning it with the
// initial balance when absent.
func (s *WalletStore) EnsureWallet(ctx context.Context, agentID string, initial wallet.Amount) (wallet.Wallet, error) {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (agent_id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO NOTHING`,
		agentID, int64(initial), now, now,
	)
	if err != nil {
		return wallet.Wallet{}, fmt.Errorf("provision wallet %s: %w", agentID, err)
	}
	return s.GetWallet(ctx, agentID)
}

// GetWallet returns the agent's wallet.
func (s *WalletStore) GetWallet(ctx context.Context, agentID string) (wallet.Wallet, error) {
	var (
		w                    wallet.Wallet
		balance              int64
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id, balance, created_at, updated_at FROM wallets WHERE agent_id = ?`,
		agentID,
	).Scan(&w.AgentID, &balance, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Wallet{}, wallet.ErrWalletNotFound
	}
	if err != nil {
		return wallet.Wallet{}, err
	}
	w.Balance = wallet.Amount(balance)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return w, nil
}

// Deduct atomically subtracts fee when the balance covers it.
func (s *WalletStore) Deduct(ctx context.Context, agentID string, fee wallet.Amount) (wallet.Wallet, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET balance = balance - ?, updated_at = ?
		WHERE agent_id = ? AND balance >= ?`,
		int64(fee), formatTime(s.now()), agentID, int64(fee),
	)
	if err != nil {
		return wallet.Wallet{}, fmt.Errorf("deduct from wallet %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wallet.Wallet{}, err
	}
	if n == 0 {
		// Missed either on existence or on balance; look to tell apart.
		if _, err := s.GetWallet(ctx, agentID); err != nil {
			return wallet.Wallet{}, err
		}
		return wallet.Wallet{}, wallet.ErrInsufficientFunds
	}
	return s.GetWallet(ctx, agentID)
}

// Credit atomically adds amount to the balance.
func (s *WalletStore) Credit(ctx context.Context, agentID string, amount wallet.Amount) (wallet.Wallet, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET balance = balance + ?, updated_at = ?
		WHERE agent_id = ?`,
		int64(amount), formatTime(s.now()), agentID,
	)
	if err != nil {
		return wallet.Wallet{}, fmt.Errorf("credit wallet %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wallet.Wallet{}, err
	}
	if n == 0 {
		return wallet.Wallet{}, wallet.ErrWalletNotFound
	}
	return s.GetWallet(ctx, agentID)
}

var _ wallet.Store = (*WalletStore)(nil)
