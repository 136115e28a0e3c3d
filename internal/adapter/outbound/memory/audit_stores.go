package memory

import (
	"context"
	"sync"

	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/verify"
)

// ReceiptStore is the in-memory receipt log, one receipt per action.
type ReceiptStore struct {
	mu       sync.RWMutex
	nextID   int64
	byAction map[int64]audit.Receipt
}

// NewReceiptStore creates an empty receipt store.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{byAction: make(map[int64]audit.Receipt)}
}

// PutReceipt assigns the monotonic id and stores the receipt for its
// action. A rewrite for the same action keeps its original id.
func (s *ReceiptStore) PutReceipt(_ context.Context, r audit.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byAction[r.ActionID]; ok {
		r.ID = prev.ID
	} else {
		s.nextID++
		r.ID = s.nextID
	}
	s.byAction[r.ActionID] = r
	return nil
}

// ReceiptByAction returns the receipt written for an action.
func (s *ReceiptStore) ReceiptByAction(_ context.Context, actionID int64) (audit.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byAction[actionID]
	if !ok {
		return audit.Receipt{}, audit.ErrReceiptNotFound
	}
	return r, nil
}

// VerificationStore is the in-memory verification log.
type VerificationStore struct {
	mu   sync.RWMutex
	logs []verify.Log
}

// NewVerificationStore creates an empty verification store.
func NewVerificationStore() *VerificationStore {
	return &VerificationStore{}
}

// AppendVerification persists the log and returns its assigned id.
func (s *VerificationStore) AppendVerification(_ context.Context, v verify.Log) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = int64(len(s.logs)) + 1
	s.logs = append(s.logs, v)
	return v.ID, nil
}

// GetVerification returns one log by id.
func (s *VerificationStore) GetVerification(_ context.Context, id int64) (verify.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > int64(len(s.logs)) {
		return verify.Log{}, verify.ErrNotFound
	}
	return s.logs[id-1], nil
}

// VerificationsByAction returns all logs for an action, oldest first.
func (s *VerificationStore) VerificationsByAction(_ context.Context, actionID int64) ([]verify.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []verify.Log
	for _, v := range s.logs {
		if v.ActionID == actionID {
			out = append(out, v)
		}
	}
	return out, nil
}

// StateStore is the in-memory governor-state table.
type StateStore struct {
	mu   sync.RWMutex
	rows map[string]audit.GovernorState
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{rows: make(map[string]audit.GovernorState)}
}

// GetState returns the row for key.
func (s *StateStore) GetState(_ context.Context, key string) (audit.GovernorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[key]
	if !ok {
		return audit.GovernorState{}, audit.ErrStateNotFound
	}
	return row, nil
}

// PutState inserts or replaces the row.
func (s *StateStore) PutState(_ context.Context, row audit.GovernorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.Key] = row
	return nil
}

var (
	_ audit.ReceiptStore      = (*ReceiptStore)(nil)
	_ audit.VerificationStore = (*VerificationStore)(nil)
	_ audit.StateStore        = (*StateStore)(nil)
)
