package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/memory"
	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/chain"
	"github.com/Verdict-Labs/verdict/internal/domain/firewall"
	"github.com/Verdict-Labs/verdict/internal/domain/risk"
	"github.com/Verdict-Labs/verdict/internal/domain/session"
	"github.com/Verdict-Labs/verdict/internal/service"
)

func newTestBridge(t testing.TB) (*Bridge, *memory.ActionStore, *service.KillSwitch) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	actions := memory.NewActionStore()
	kill, err := service.NewKillSwitch(ctx, memory.NewStateStore(), logger)
	if err != nil {
		t.Fatalf("NewKillSwitch: %v", err)
	}
	policies, err := service.NewPolicyService(ctx, memory.NewPolicyStore(), nil, logger, service.WithPolicyTTL(0))
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	bus := service.NewBus(logger, service.WithHeartbeatInterval(0))
	t.Cleanup(bus.Stop)
	escalator := service.NewEscalator(memory.NewEscalationStore(), actions, kill, logger)
	t.Cleanup(escalator.Stop)

	engine, err := service.NewEngine(service.EngineDeps{
		Kill:      kill,
		Firewall:  firewall.New(),
		Policies:  policies,
		Estimator: risk.NewEstimator(),
		Sessions:  session.NewReconstructor(actions, session.Window{}),
		Chains:    chain.NewAnalyzer(),
		Actions:   actions,
		Receipts:  memory.NewReceiptStore(),
		Bus:       bus,
		Fees:      service.NewFeeLedger(memory.NewWalletStore(), logger, service.WithFeesEnabled(false)),
		Escalator: escalator,
	}, logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	bridge, err := New(engine, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bridge, actions, kill
}

// toolCallFrame encodes a tools/call request through the SDK codec.
func toolCallFrame(t *testing.T, id float64, tool, args string) []byte {
	t.Helper()
	rpcID, err := jsonrpc.MakeID(id)
	if err != nil {
		t.Fatalf("MakeID: %v", err)
	}
	req := &jsonrpc.Request{
		ID:     rpcID,
		Method: MethodToolsCall,
		Params: json.RawMessage(fmt.Sprintf(`{"name":%q,"arguments":%s}`, tool, args)),
	}
	raw, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	return raw
}

// decodeReply parses the bridge's error response.
func decodeReply(t *testing.T, raw []byte) (id string, code int64, message string) {
	t.Helper()
	var reply struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   struct {
			Code    int64  `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v\nraw: %s", err, raw)
	}
	if reply.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q, want 2.0", reply.JSONRPC)
	}
	return string(reply.ID), reply.Error.Code, reply.Error.Message
}

func TestNew_RequiresEngine(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New(nil) did not fail")
	}
}

func TestScreen_PassesNonToolTraffic(t *testing.T) {
	bridge, actions, _ := newTestBridge(t)
	ctx := context.Background()
	ident := action.RequestContext{AgentID: "a1"}

	rpcID, err := jsonrpc.MakeID(float64(1))
	if err != nil {
		t.Fatalf("MakeID: %v", err)
	}
	initFrame, err := jsonrpc.EncodeMessage(&jsonrpc.Request{
		ID:     rpcID,
		Method: "initialize",
		Params: json.RawMessage(`{"protocolVersion":"2024-11-05"}`),
	})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	respFrame, err := jsonrpc.EncodeMessage(&jsonrpc.Response{
		ID:     rpcID,
		Result: json.RawMessage(`{"tools":[]}`),
	})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	for _, frame := range [][]byte{initFrame, respFrame} {
		verdict, err := bridge.Screen(ctx, frame, ident)
		if err != nil {
			t.Fatalf("Screen(%s): %v", frame, err)
		}
		if !verdict.Forward {
			t.Errorf("frame not forwarded: %s", frame)
		}
		if verdict.Evaluation != nil || verdict.Reply != nil {
			t.Errorf("non-tool frame produced evaluation or reply: %s", frame)
		}
	}

	// Nothing reached the audit log.
	rows, _, err := actions.ListActions(ctx, audit.ActionFilter{})
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("non-tool traffic hit the audit log: %d rows", len(rows))
	}
}

func TestScreen_AllowedCallForwards(t *testing.T) {
	bridge, _, _ := newTestBridge(t)

	frame := toolCallFrame(t, 1, "read_file", `{"path":"/tmp/notes.txt"}`)
	verdict, err := bridge.Screen(context.Background(), frame, action.RequestContext{AgentID: "a1"})
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}

	if !verdict.Forward {
		t.Error("allowed call not forwarded")
	}
	if verdict.Reply != nil {
		t.Errorf("allowed call produced reply: %s", verdict.Reply)
	}
	if verdict.Evaluation == nil {
		t.Fatal("no evaluation attached")
	}
	if verdict.Evaluation.Decision != action.DecisionAllow {
		t.Errorf("decision = %q, want allow", verdict.Evaluation.Decision)
	}
}

func TestScreen_BlockedCallAnswersClient(t *testing.T) {
	bridge, actions, _ := newTestBridge(t)
	ctx := context.Background()

	frame := toolCallFrame(t, 7, "shell", `{"command":"rm -rf /"}`)
	verdict, err := bridge.Screen(ctx, frame, action.RequestContext{AgentID: "a1"})
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}

	if verdict.Forward {
		t.Error("blocked call was cleared for forwarding")
	}
	if verdict.Evaluation == nil || verdict.Evaluation.Decision != action.DecisionBlock {
		t.Fatalf("evaluation = %+v, want block", verdict.Evaluation)
	}
	if verdict.Reply == nil {
		t.Fatal("blocked call produced no reply")
	}

	id, code, message := decodeReply(t, verdict.Reply)
	if id != "7" {
		t.Errorf("reply id = %s, want 7", id)
	}
	if code != CodeBlocked {
		t.Errorf("reply code = %d, want %d", code, CodeBlocked)
	}
	if !strings.HasPrefix(message, "call blocked: ") {
		t.Errorf("reply message = %q", message)
	}

	// The decision is on the audit log.
	a, err := actions.GetAction(ctx, verdict.Evaluation.ActionID)
	if err != nil {
		t.Fatalf("GetAction: %v", err)
	}
	if a.Decision != action.DecisionBlock {
		t.Errorf("stored decision = %q, want block", a.Decision)
	}
}

func TestScreen_ParseErrorFailsClosed(t *testing.T) {
	bridge, _, _ := newTestBridge(t)

	verdict, err := bridge.Screen(context.Background(), []byte(`{"jsonrpc":"2.0",`), action.RequestContext{})
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if verdict.Forward {
		t.Error("undecodable frame was cleared for forwarding")
	}
	id, code, _ := decodeReply(t, verdict.Reply)
	if code != CodeParseError {
		t.Errorf("reply code = %d, want %d", code, CodeParseError)
	}
	if id != "null" {
		t.Errorf("reply id = %s, want null", id)
	}
}

func TestScreen_MissingToolName(t *testing.T) {
	bridge, _, _ := newTestBridge(t)

	rpcID, err := jsonrpc.MakeID(float64(3))
	if err != nil {
		t.Fatalf("MakeID: %v", err)
	}
	frame, err := jsonrpc.EncodeMessage(&jsonrpc.Request{
		ID:     rpcID,
		Method: MethodToolsCall,
		Params: json.RawMessage(`{"arguments":{}}`),
	})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	verdict, err := bridge.Screen(context.Background(), frame, action.RequestContext{AgentID: "a1"})
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if verdict.Forward {
		t.Error("invalid call was cleared for forwarding")
	}
	if _, code, _ := decodeReply(t, verdict.Reply); code != CodeInvalidParams {
		t.Errorf("reply code = %d, want %d", code, CodeInvalidParams)
	}
}

func TestScreen_BlockedNotificationStaysSilent(t *testing.T) {
	bridge, _, _ := newTestBridge(t)

	frame := []byte(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"shell","arguments":{"command":"rm -rf /"}}}`)
	verdict, err := bridge.Screen(context.Background(), frame, action.RequestContext{AgentID: "a1"})
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}

	if verdict.Forward {
		t.Error("blocked notification was cleared for forwarding")
	}
	if verdict.Reply != nil {
		t.Errorf("notification got a reply: %s", verdict.Reply)
	}
	if verdict.Evaluation == nil || verdict.Evaluation.Decision != action.DecisionBlock {
		t.Errorf("evaluation = %+v, want block", verdict.Evaluation)
	}
}

func TestScreen_KillSwitchBlocksEverything(t *testing.T) {
	bridge, _, kill := newTestBridge(t)
	ctx := context.Background()

	if err := kill.Engage(ctx, "ops"); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	frame := toolCallFrame(t, 9, "read_file", `{"path":"/tmp/notes.txt"}`)
	verdict, err := bridge.Screen(ctx, frame, action.RequestContext{AgentID: "a1"})
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if verdict.Forward {
		t.Error("call forwarded while kill switch engaged")
	}
	if _, code, _ := decodeReply(t, verdict.Reply); code != CodeBlocked {
		t.Errorf("reply code = %d, want %d", code, CodeBlocked)
	}
	if verdict.Evaluation == nil || verdict.Evaluation.Risk != 100 {
		t.Errorf("evaluation = %+v, want risk 100", verdict.Evaluation)
	}
}
