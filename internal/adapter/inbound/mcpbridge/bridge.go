// Package mcpbridge screens MCP client traffic through the governance
// engine. A proxy that embeds the engine feeds each raw client frame
// through Screen: tools/call requests are decoded and evaluated, and a
// blocked call is answered with a JSON-RPC error instead of reaching the
// upstream server. Frames that carry no tool invocation pass untouched.
package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/service"
)

// MethodToolsCall is the MCP method that invokes a tool.
const MethodToolsCall = "tools/call"

// JSON-RPC error codes the bridge emits. The canonical codes follow the
// JSON-RPC 2.0 spec; a governance block uses an implementation-defined
// code in the server error range.
const (
	CodeParseError    = -32700
	CodeInvalidParams = -32602
	CodeInternal      = -32603
	CodeBlocked       = -32000
)

// Bridge adapts raw JSON-RPC frames to engine evaluations.
type Bridge struct {
	engine *service.Engine
	logger *slog.Logger
}

// New builds a bridge over the engine.
func New(engine *service.Engine, logger *slog.Logger) (*Bridge, error) {
	if engine == nil {
		return nil, errors.New("mcpbridge: engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{engine: engine, logger: logger}, nil
}

// Verdict is the outcome of screening one frame.
type Verdict struct {
	// Forward reports whether the frame may continue to the upstream
	// server.
	Forward bool

	// Evaluation is set when the frame was a tools/call the engine
	// evaluated, whatever the decision.
	Evaluation *action.Evaluation

	// Reply is an encoded JSON-RPC error response for the client when
	// the frame must not be forwarded. Nil for dropped notifications,
	// which permit no response.
	Reply []byte
}

// toolCallParams is the params shape of a tools/call request.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Screen decodes one client frame and evaluates tools/call requests
// through the engine. ident attributes the call; the embedding proxy is
// expected to have authenticated its peer already. The bridge fails
// closed: an unparseable frame, an invalid tools/call, or an evaluation
// error never reaches the upstream.
//
// A review decision forwards the call. The escalation raised during
// evaluation is the follow-up channel; MCP offers no way to hold a
// request open for a human.
func (b *Bridge) Screen(ctx context.Context, raw []byte, ident action.RequestContext) (Verdict, error) {
	msg, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		b.logger.Warn("dropping undecodable frame", "error", err)
		return Verdict{Reply: errorReply(rawID(raw), CodeParseError, "Parse error")}, nil
	}

	req, ok := msg.(*jsonrpc.Request)
	if !ok || req.Method != MethodToolsCall {
		return Verdict{Forward: true}, nil
	}
	// Notifications permit no response; a dropped one stays silent.
	reply := func(code int64, message string) []byte {
		if !req.IsCall() {
			return nil
		}
		return errorReply(rawID(raw), code, message)
	}

	var params toolCallParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return Verdict{Reply: reply(CodeInvalidParams, "Invalid params")}, nil
		}
	}
	if params.Name == "" {
		return Verdict{Reply: reply(CodeInvalidParams, "Invalid params: missing tool name")}, nil
	}
	var args action.Value
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return Verdict{Reply: reply(CodeInvalidParams, "Invalid params: malformed arguments")}, nil
		}
	}

	eval, err := b.engine.Evaluate(ctx, action.Request{
		Tool:    params.Name,
		Args:    args,
		Context: ident,
	})
	if err != nil {
		b.logger.Error("evaluation failed, dropping tool call", "tool", params.Name, "error", err)
		return Verdict{Reply: reply(CodeInternal, "Internal error")}, err
	}

	if eval.Decision == action.DecisionBlock {
		b.logger.Info("tool call blocked",
			"tool", params.Name,
			"action_id", eval.ActionID,
			"risk_score", eval.Risk,
			"agent_id", ident.AgentID,
		)
		reason := fmt.Sprintf("call blocked: %s", eval.Explanation)
		return Verdict{Evaluation: &eval, Reply: reply(CodeBlocked, reason)}, nil
	}

	return Verdict{Forward: true, Evaluation: &eval}, nil
}

// wireReply is the hand-built error response. The id is lifted from the
// raw frame as-is so number, string, and null ids round-trip unchanged
// through the reply.
type wireReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   wireError       `json:"error"`
}

type wireError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// errorReply renders a JSON-RPC error response. A nil id marshals as
// null, the id JSON-RPC requires on replies to unparseable frames.
func errorReply(id json.RawMessage, code int64, message string) []byte {
	reply, err := json.Marshal(wireReply{
		JSONRPC: "2.0",
		ID:      id,
		Error:   wireError{Code: code, Message: message},
	})
	if err != nil {
		return nil
	}
	return reply
}

// rawID extracts the id field from a raw frame, nil when absent or the
// frame does not parse.
func rawID(frame []byte) json.RawMessage {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil
	}
	return envelope.ID
}
