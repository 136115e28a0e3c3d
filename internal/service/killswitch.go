package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/audit"
)

// killStateKey is the governor-state row the switch persists under.
const killStateKey = "kill_switch"

// KillState is the persisted kill-switch document.
type KillState struct {
	Engaged   bool      `json:"engaged"`
	Actor     string    `json:"actor,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// KillSwitch is the pipeline's first gate. The engaged flag is read on
// every evaluation, so the hot path is a single atomic load; writes are
// serialized and persisted through the state store, with an optional
// write-through mirror for crash recovery when the primary is slow to
// come back.
//
// The two directions are deliberately asymmetric: engaging applies in
// memory even when persistence fails (blocking must win over
// bookkeeping), while releasing requires the primary write to succeed
// first so a crash cannot resurrect an unsafe open state.
type KillSwitch struct {
	store  audit.StateStore
	mirror audit.StateStore
	logger *slog.Logger
	now    Clock

	engaged atomic.Bool

	mu    sync.Mutex
	state KillState
}

// KillSwitchOption configures a KillSwitch.
type KillSwitchOption func(*KillSwitch)

// WithKillMirror adds a secondary store every state change is copied to.
// Mirror failures are logged, never fatal.
func WithKillMirror(mirror audit.StateStore) KillSwitchOption {
	return func(k *KillSwitch) {
		k.mirror = mirror
	}
}

// WithKillClock injects the time source.
func WithKillClock(now Clock) KillSwitchOption {
	return func(k *KillSwitch) {
		if now != nil {
			k.now = now
		}
	}
}

// NewKillSwitch loads the persisted state and returns the switch. When
// the primary load fails, or the primary has no row (a fresh or reset
// store), the mirror is consulted and its state adopted; if both are
// empty or failing the switch starts released and the engine still
// boots.
func NewKillSwitch(ctx context.Context, store audit.StateStore, logger *slog.Logger, opts ...KillSwitchOption) (*KillSwitch, error) {
	if logger == nil {
		logger = slog.Default()
	}
	k := &KillSwitch{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}

	st, found, err := loadKillState(ctx, k.store)
	switch {
	case err != nil && k.mirror != nil:
		k.logger.Warn("kill switch primary load failed, trying mirror", "error", err)
		st, _, err = loadKillState(ctx, k.mirror)
	case err == nil && !found && k.mirror != nil:
		// The primary has no row. That is the normal first boot, but it is
		// also what a reset primary looks like; the mirror may still hold
		// an engaged state from before the reset, and an engaged switch
		// must never boot released.
		mst, mfound, merr := loadKillState(ctx, k.mirror)
		if merr != nil {
			k.logger.Warn("kill switch mirror load failed, starting released", "error", merr)
		} else if mfound {
			st = mst
			if st.Engaged {
				k.logger.Info("kill switch state recovered from mirror")
				if perr := k.persist(ctx, st); perr != nil {
					k.logger.Warn("kill switch primary not healed from mirror", "error", perr)
				}
			}
		}
	}
	if err != nil {
		k.logger.Warn("kill switch state unavailable, starting released", "error", err)
		st = KillState{ChangedAt: k.now()}
	}
	k.state = st
	k.engaged.Store(st.Engaged)
	if st.Engaged {
		k.logger.Info("kill switch restored engaged", "actor", st.Actor, "changed_at", st.ChangedAt)
	}
	return k, nil
}

// loadKillState reads one store's kill row. A missing row is reported
// as not found rather than an error so the caller can tell a fresh
// store from a broken one.
func loadKillState(ctx context.Context, store audit.StateStore) (KillState, bool, error) {
	row, err := store.GetState(ctx, killStateKey)
	if errors.Is(err, audit.ErrStateNotFound) {
		return KillState{}, false, nil
	}
	if err != nil {
		return KillState{}, false, fmt.Errorf("load kill state: %w", err)
	}
	var st KillState
	if err := json.Unmarshal([]byte(row.Value), &st); err != nil {
		return KillState{}, false, fmt.Errorf("decode kill state: %w", err)
	}
	return st, true, nil
}

// Engaged reports whether the switch is on. Lock-free; called by every
// evaluation.
func (k *KillSwitch) Engaged() bool {
	return k.engaged.Load()
}

// Status returns a copy of the current state document.
func (k *KillSwitch) Status() KillState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Engage turns the switch on. The in-memory flag flips before
// persistence is attempted, so evaluation blocks immediately even when
// the store is down; a persistence failure is still returned to the
// caller. Engaging an engaged switch refreshes actor and timestamp.
func (k *KillSwitch) Engage(ctx context.Context, actor string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	st := KillState{Engaged: true, Actor: actor, ChangedAt: k.now()}
	k.engaged.Store(true)
	k.state = st
	k.logger.Info("kill switch engaged", "actor", actor)

	if err := k.persist(ctx, st); err != nil {
		return fmt.Errorf("kill switch engaged in memory only: %w", err)
	}
	return nil
}

// Release turns the switch off. The primary write must succeed before
// the in-memory flag flips; on failure the switch stays engaged.
func (k *KillSwitch) Release(ctx context.Context, actor string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	st := KillState{Engaged: false, Actor: actor, ChangedAt: k.now()}
	if err := k.persist(ctx, st); err != nil {
		return fmt.Errorf("kill switch release not persisted, staying engaged: %w", err)
	}
	k.engaged.Store(false)
	k.state = st
	k.logger.Info("kill switch released", "actor", actor)
	return nil
}

// persist writes the state to the primary store and best-effort to the
// mirror. Caller holds k.mu or has exclusive access during construction.
func (k *KillSwitch) persist(ctx context.Context, st KillState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode kill state: %w", err)
	}
	row := audit.GovernorState{Key: killStateKey, Value: string(raw), UpdatedAt: st.ChangedAt}
	if err := k.store.PutState(ctx, row); err != nil {
		return fmt.Errorf("persist kill state: %w", err)
	}
	if k.mirror != nil {
		if err := k.mirror.PutState(ctx, row); err != nil {
			k.logger.Warn("kill switch mirror write failed", "error", err)
		}
	}
	return nil
}
