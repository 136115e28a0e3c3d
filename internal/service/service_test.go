package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/memory"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/chain"
	"github.com/Verdict-Labs/verdict/internal/domain/firewall"
	"github.com/Verdict-Labs/verdict/internal/domain/risk"
	"github.com/Verdict-Labs/verdict/internal/domain/session"
	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failingStateStore fails every operation with the configured error.
type failingStateStore struct {
	err error
}

func (f *failingStateStore) GetState(context.Context, string) (audit.GovernorState, error) {
	return audit.GovernorState{}, f.err
}

func (f *failingStateStore) PutState(context.Context, audit.GovernorState) error {
	return f.err
}

// testEnv wires an engine over in-memory stores.
type testEnv struct {
	engine    *Engine
	actions   *memory.ActionStore
	receipts  *memory.ReceiptStore
	states    *memory.StateStore
	policies  *PolicyService
	kill      *KillSwitch
	escals    *memory.EscalationStore
	wallets   *memory.WalletStore
	fees      *FeeLedger
	escalator *Escalator
	bus       *Bus
}

func newTestEnv(t testing.TB, feesEnabled bool) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	env := &testEnv{
		actions:  memory.NewActionStore(),
		receipts: memory.NewReceiptStore(),
		states:   memory.NewStateStore(),
		escals:   memory.NewEscalationStore(),
		wallets:  memory.NewWalletStore(),
	}

	kill, err := NewKillSwitch(ctx, env.states, logger)
	if err != nil {
		t.Fatalf("NewKillSwitch: %v", err)
	}
	env.kill = kill

	policies, err := NewPolicyService(ctx, memory.NewPolicyStore(), nil, logger, WithPolicyTTL(0))
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	env.policies = policies

	env.bus = NewBus(logger, WithHeartbeatInterval(0))
	t.Cleanup(env.bus.Stop)

	env.fees = NewFeeLedger(env.wallets, logger, WithFeesEnabled(feesEnabled))
	env.escalator = NewEscalator(env.escals, env.actions, kill, logger)
	t.Cleanup(env.escalator.Stop)

	engine, err := NewEngine(EngineDeps{
		Kill:      kill,
		Firewall:  firewall.New(),
		Policies:  policies,
		Estimator: risk.NewEstimator(risk.WithInternalDomains([]string{"corp.internal"})),
		Sessions:  session.NewReconstructor(env.actions, session.Window{}),
		Chains:    chain.NewAnalyzer(),
		Actions:   env.actions,
		Receipts:  env.receipts,
		Bus:       env.bus,
		Fees:      env.fees,
		Escalator: env.escalator,
	}, logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	env.engine = engine
	return env
}

var errStoreDown = errors.New("store down")

// pinned returns a Clock frozen at t0.
func pinned(t0 time.Time) Clock {
	return func() time.Time { return t0 }
}

// drainWallet removes the agent's entire balance so the next charge
// trips the insufficiency path.
func drainWallet(t testing.TB, wallets *memory.WalletStore, agentID string) {
	t.Helper()
	ctx := context.Background()
	w, err := wallets.EnsureWallet(ctx, agentID, wallet.DefaultInitialBalance)
	if err != nil {
		t.Fatalf("EnsureWallet: %v", err)
	}
	if w.Balance > 0 {
		if _, err := wallets.Deduct(ctx, agentID, w.Balance); err != nil {
			t.Fatalf("Deduct: %v", err)
		}
	}
}
