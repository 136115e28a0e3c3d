package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
)

// WalletStore is the in-memory wallet table. Deduct and Credit are
// atomic under the store mutex, mirroring the single-row transactions of
// the sqlite adapter.
type WalletStore struct {
	mu      sync.Mutex
	wallets map[string]wallet.Wallet
	now     func() time.Time
}

// NewWalletStore creates an empty wallet store.
func NewWalletStore() *WalletStore {
	return &WalletStore{
		wallets: make(map[string]wallet.Wallet),
		now:     time.Now,
	}
}

// NewWalletStoreWithClock creates a wallet store with a pinned clock.
func NewWalletStoreWithClock(now func() time.Time) *WalletStore {
	s := NewWalletStore()
	if now != nil {
		s.now = now
	}
	return s
}

// EnsureWallet returns the agent's wallet, provisioning it with the
// initial balance when absent.
func (s *WalletStore) EnsureWallet(_ context.Context, agentID string, initial wallet.Amount) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[agentID]; ok {
		return w, nil
	}
	now := s.now()
	w := wallet.Wallet{AgentID: agentID, Balance: initial, CreatedAt: now, UpdatedAt: now}
	s.wallets[agentID] = w
	return w, nil
}

// GetWallet returns the agent's wallet.
func (s *WalletStore) GetWallet(_ context.Context, agentID string) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[agentID]
	if !ok {
		return wallet.Wallet{}, wallet.ErrWalletNotFound
	}
	return w, nil
}

// Deduct atomically subtracts fee when the balance covers it.
func (s *WalletStore) Deduct(_ context.Context, agentID string, fee wallet.Amount) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[agentID]
	if !ok {
		return wallet.Wallet{}, wallet.ErrWalletNotFound
	}
	if w.Balance < fee {
		return wallet.Wallet{}, wallet.ErrInsufficientFunds
	}
	w.Balance -= fee
	w.UpdatedAt = s.now()
	s.wallets[agentID] = w
	return w, nil
}

// Credit atomically adds amount to the balance.
func (s *WalletStore) Credit(_ context.Context, agentID string, amount wallet.Amount) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[agentID]
	if !ok {
		return wallet.Wallet{}, wallet.ErrWalletNotFound
	}
	w.Balance += amount
	w.UpdatedAt = s.now()
	s.wallets[agentID] = w
	return w, nil
}

var _ wallet.Store = (*WalletStore)(nil)
