// Package integration exercises the governance stack end to end: real
// stores under a fully wired pipeline, the HTTP surface, the MCP
// bridge, and the event stream, assembled the way the serve command
// assembles them.
package integration

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Verdict-Labs/verdict/internal/adapter/inbound/httpapi"
	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/cel"
	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/memory"
	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/sqlite"
	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/statefile"
	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/chain"
	"github.com/Verdict-Labs/verdict/internal/domain/escalation"
	"github.com/Verdict-Labs/verdict/internal/domain/firewall"
	"github.com/Verdict-Labs/verdict/internal/domain/policy"
	"github.com/Verdict-Labs/verdict/internal/domain/risk"
	"github.com/Verdict-Labs/verdict/internal/domain/session"
	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
	"github.com/Verdict-Labs/verdict/internal/service"
)

// testLogger returns a logger that writes to stderr at error level (quiet tests).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testStores bundles the outbound adapters one stack runs on.
type testStores struct {
	actions       audit.ActionStore
	receipts      audit.ReceiptStore
	verifications audit.VerificationStore
	state         audit.StateStore
	policies      policy.Store
	escalations   escalation.Store
	wallets       wallet.Store
}

func memoryStores() testStores {
	return testStores{
		actions:       memory.NewActionStore(),
		receipts:      memory.NewReceiptStore(),
		verifications: memory.NewVerificationStore(),
		state:         memory.NewStateStore(),
		policies:      memory.NewPolicyStore(),
		escalations:   memory.NewEscalationStore(),
		wallets:       memory.NewWalletStore(),
	}
}

// stackConfig tunes the harness. The zero value runs on fresh memory
// stores with heartbeats disabled so event assertions stay
// deterministic; everything else follows the serve command's defaults.
type stackConfig struct {
	stores         *testStores
	heartbeat      time.Duration
	subscriberBuf  int
	feesEnabled    bool
	initialBalance wallet.Amount
	blockThreshold int
	killMirrorPath string
}

// testStack is one fully wired engine with every collaborator exposed
// for assertions.
type testStack struct {
	testStores
	kill      *service.KillSwitch
	policies  *service.PolicyService
	bus       *service.Bus
	escalator *service.Escalator
	fees      *service.FeeLedger
	firewall  *firewall.Firewall
	engine    *service.Engine
	verifier  *service.Verifier
}

// newStack wires stores, services, and pipeline layers together in the
// serve command's order. Background loops are stopped via t.Cleanup.
func newStack(t testing.TB, cfg stackConfig) *testStack {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	st := cfg.stores
	if st == nil {
		s := memoryStores()
		st = &s
	}

	var killOpts []service.KillSwitchOption
	if cfg.killMirrorPath != "" {
		killOpts = append(killOpts, service.WithKillMirror(statefile.New(cfg.killMirrorPath, logger)))
	}
	kill, err := service.NewKillSwitch(ctx, st.state, logger, killOpts...)
	if err != nil {
		t.Fatalf("new kill switch: %v", err)
	}

	compiler, err := cel.NewCompiler()
	if err != nil {
		t.Fatalf("new condition compiler: %v", err)
	}
	policies, err := service.NewPolicyService(ctx, st.policies, compiler, logger,
		service.WithBasePolicies(service.DefaultBasePolicies()),
	)
	if err != nil {
		t.Fatalf("new policy service: %v", err)
	}

	busOpts := []service.BusOption{service.WithHeartbeatInterval(cfg.heartbeat)}
	if cfg.subscriberBuf > 0 {
		busOpts = append(busOpts, service.WithSubscriberBuffer(cfg.subscriberBuf))
	}
	bus := service.NewBus(logger, busOpts...)
	bus.Start(ctx)
	t.Cleanup(bus.Stop)

	var escOpts []service.EscalatorOption
	if cfg.blockThreshold > 0 {
		escOpts = append(escOpts, service.WithBlockThreshold(cfg.blockThreshold))
	}
	escalator := service.NewEscalator(st.escalations, st.actions, kill, logger, escOpts...)
	escalator.Start(ctx)
	t.Cleanup(escalator.Stop)

	feeOpts := []service.FeeLedgerOption{service.WithFeesEnabled(cfg.feesEnabled)}
	if cfg.initialBalance > 0 {
		feeOpts = append(feeOpts, service.WithInitialBalance(cfg.initialBalance))
	}
	fees := service.NewFeeLedger(st.wallets, logger, feeOpts...)

	fw := firewall.New()
	estimator := risk.NewEstimator()
	sessions := session.NewReconstructor(st.actions, session.Window{
		Duration:   30 * time.Minute,
		MaxEntries: 50,
	})
	chains := chain.NewAnalyzer()

	engine, err := service.NewEngine(service.EngineDeps{
		Kill:      kill,
		Firewall:  fw,
		Policies:  policies,
		Estimator: estimator,
		Sessions:  sessions,
		Chains:    chains,
		Actions:   st.actions,
		Receipts:  st.receipts,
		Bus:       bus,
		Fees:      fees,
		Escalator: escalator,
	}, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	verifier := service.NewVerifier(st.actions, st.verifications, policies, escalator, fw, logger)

	return &testStack{
		testStores: *st,
		kill:       kill,
		policies:   policies,
		bus:        bus,
		escalator:  escalator,
		fees:       fees,
		firewall:   fw,
		engine:     engine,
		verifier:   verifier,
	}
}

// newHandler builds the HTTP surface over a stack, mirroring the serve
// command's handler wiring.
func newHandler(t testing.TB, stack *testStack) *httpapi.Handler {
	t.Helper()
	h, err := httpapi.NewHandler(httpapi.Deps{
		Engine:    stack.engine,
		Verifier:  stack.verifier,
		Policies:  stack.policies,
		Kill:      stack.kill,
		Fees:      stack.fees,
		Escalator: stack.escalator,
		Bus:       stack.bus,
		Actions:   stack.actions,
		Firewall:  stack.firewall,
	}, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

// evaluate runs one request through the stack and fails the test on an
// evaluation error. Blocks are decisions, not errors.
func (s *testStack) evaluate(t testing.TB, req action.Request) action.Evaluation {
	t.Helper()
	ev, err := s.engine.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate(%s): %v", req.Tool, err)
	}
	return ev
}

func TestBootMemoryStack(t *testing.T) {
	ctx := context.Background()
	stack := newStack(t, stackConfig{})

	// 1. The base policy set is live before any write.
	active, err := stack.policies.List(ctx, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(active) != len(service.DefaultBasePolicies()) {
		t.Fatalf("active policies at boot = %d, want %d", len(active), len(service.DefaultBasePolicies()))
	}

	// 2. The kill switch starts released.
	if stack.kill.Engaged() {
		t.Fatal("kill switch engaged on a fresh state store")
	}

	// 3. A benign call travels the whole pipeline and is persisted with
	// its receipt.
	ev := stack.evaluate(t, action.Request{
		Tool:    "file_read",
		Args:    action.MapOf(action.F("path", action.String("notes/plan.md"))),
		Context: action.RequestContext{AgentID: "boot-a1", SessionID: "s1"},
	})
	if ev.Decision != action.DecisionAllow {
		t.Fatalf("decision = %s, want allow", ev.Decision)
	}
	if len(ev.Trace) != 6 {
		t.Fatalf("trace steps = %d, want 6", len(ev.Trace))
	}
	if got := ev.Trace[len(ev.Trace)-1].Name; got != action.LayerFinalize {
		t.Errorf("last trace step = %q, want %q", got, action.LayerFinalize)
	}

	stored, err := stack.actions.GetAction(ctx, ev.ActionID)
	if err != nil {
		t.Fatalf("GetAction(%d): %v", ev.ActionID, err)
	}
	if stored.Decision != action.DecisionAllow || stored.Tool != "file_read" {
		t.Errorf("persisted action = %s %s, want allow file_read", stored.Decision, stored.Tool)
	}
	if _, err := stack.receipts.ReceiptByAction(ctx, ev.ActionID); err != nil {
		t.Errorf("ReceiptByAction(%d): %v", ev.ActionID, err)
	}
}

func TestBootSQLiteSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "verdict.db")

	sqliteStores := func(tb testing.TB) (testStores, func()) {
		tb.Helper()
		db, err := sqlite.Open(path)
		if err != nil {
			tb.Fatalf("sqlite.Open(%s): %v", path, err)
		}
		return testStores{
			actions:       sqlite.NewActionStore(db),
			receipts:      sqlite.NewReceiptStore(db),
			verifications: sqlite.NewVerificationStore(db),
			state:         sqlite.NewStateStore(db),
			policies:      sqlite.NewPolicyStore(db),
			escalations:   sqlite.NewEscalationStore(db),
			wallets:       sqlite.NewWalletStore(db),
		}, func() { _ = db.Close() }
	}

	// 1. First boot: evaluate one action, create one dynamic policy,
	// engage the kill switch.
	st, closeDB := sqliteStores(t)
	stack := newStack(t, stackConfig{stores: &st})

	ev := stack.evaluate(t, action.Request{
		Tool:    "shell",
		Args:    action.MapOf(action.F("command", action.String("ls -la"))),
		Context: action.RequestContext{AgentID: "persist-a1", SessionID: "s1"},
	})
	if _, err := stack.policies.Create(ctx, policy.Spec{
		ID:          "team-sql-guard",
		Description: "review raw sql",
		ToolPattern: "sql_query",
		Severity:    policy.SeverityMedium,
		Action:      action.DecisionReview,
	}, "ops"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := stack.kill.Engage(ctx, "ops"); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	receipt, err := stack.receipts.ReceiptByAction(ctx, ev.ActionID)
	if err != nil {
		t.Fatalf("ReceiptByAction: %v", err)
	}
	closeDB()

	// 2. Second boot over the same file: the audit log, the dynamic
	// policy, and the engaged switch all come back.
	st2, closeDB2 := sqliteStores(t)
	defer closeDB2()
	stack2 := newStack(t, stackConfig{stores: &st2})

	reloaded, err := stack2.actions.GetAction(ctx, ev.ActionID)
	if err != nil {
		t.Fatalf("GetAction after restart: %v", err)
	}
	if reloaded.Tool != "shell" || reloaded.Decision != ev.Decision {
		t.Errorf("reloaded action = %s %s, want shell %s", reloaded.Tool, reloaded.Decision, ev.Decision)
	}
	if _, err := stack2.policies.Get(ctx, "team-sql-guard"); err != nil {
		t.Errorf("Get(team-sql-guard) after restart: %v", err)
	}
	if !stack2.kill.Engaged() {
		t.Error("kill switch released after restart, want engaged")
	}

	// 3. The receipt hash is a pure function of the persisted action, so
	// recomputing it from the reloaded row reproduces the stored hash.
	recomputed := audit.NewReceipt(reloaded, receipt.FeeTier, time.Now())
	if recomputed.Hash != receipt.Hash {
		t.Errorf("recomputed receipt hash = %s, want %s", recomputed.Hash, receipt.Hash)
	}

	// 4. The engaged switch still bites: the first call after restart is
	// blocked at layer one.
	ev2 := stack2.evaluate(t, action.Request{Tool: "file_read"})
	if ev2.Decision != action.DecisionBlock || ev2.Risk != 100 {
		t.Errorf("decision after engaged restart = %s risk %d, want block risk 100", ev2.Decision, ev2.Risk)
	}
}

// failingStateStore simulates a lost primary store: every call errors.
type failingStateStore struct{}

func (failingStateStore) GetState(context.Context, string) (audit.GovernorState, error) {
	return audit.GovernorState{}, errors.New("primary store down")
}

func (failingStateStore) PutState(context.Context, audit.GovernorState) error {
	return errors.New("primary store down")
}

func TestBootKillMirrorSurvivesLostPrimary(t *testing.T) {
	ctx := context.Background()
	mirrorPath := filepath.Join(t.TempDir(), "kill-state.json")
	logger := testLogger()

	// 1. Engage with a healthy primary and the file mirror attached.
	primary := memory.NewStateStore()
	kill, err := service.NewKillSwitch(ctx, primary, logger,
		service.WithKillMirror(statefile.New(mirrorPath, logger)))
	if err != nil {
		t.Fatalf("NewKillSwitch: %v", err)
	}
	if err := kill.Engage(ctx, "ops"); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	// 2. Reboot with the primary gone. The mirror alone restores the
	// engaged state.
	rebooted, err := service.NewKillSwitch(ctx, failingStateStore{}, logger,
		service.WithKillMirror(statefile.New(mirrorPath, logger)))
	if err != nil {
		t.Fatalf("NewKillSwitch with failing primary: %v", err)
	}
	if !rebooted.Engaged() {
		t.Fatal("kill switch released after losing the primary store, want engaged from mirror")
	}
	if got := rebooted.Status().Actor; got != "ops" {
		t.Errorf("restored actor = %q, want %q", got, "ops")
	}

	// 3. Reboot with a fresh, healthy primary (the memory driver after a
	// process restart). The empty primary must not mask the mirror's
	// engaged state.
	refreshed, err := service.NewKillSwitch(ctx, memory.NewStateStore(), logger,
		service.WithKillMirror(statefile.New(mirrorPath, logger)))
	if err != nil {
		t.Fatalf("NewKillSwitch with fresh primary: %v", err)
	}
	if !refreshed.Engaged() {
		t.Fatal("kill switch released after a primary reset, want engaged from mirror")
	}

	// 4. Without the mirror, the same reboot degrades to released.
	bare, err := service.NewKillSwitch(ctx, failingStateStore{}, logger)
	if err != nil {
		t.Fatalf("NewKillSwitch without mirror: %v", err)
	}
	if bare.Engaged() {
		t.Error("kill switch engaged with no recoverable state, want released")
	}
}
