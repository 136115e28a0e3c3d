package verdict

import "time"

// Policy is one governance rule.
type Policy struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	ToolPattern string    `json:"tool_pattern"`
	Severity    string    `json:"severity"`
	Action      string    `json:"action"`
	URLRegex    string    `json:"url_regex,omitempty"`
	ArgsRegex   string    `json:"args_regex,omitempty"`
	Condition   string    `json:"condition,omitempty"`
	Active      bool      `json:"active"`
	Origin      string    `json:"origin"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PolicySpec creates a new dynamic policy. ID is optional; the server
// generates one when empty. Active defaults to true when nil.
type PolicySpec struct {
	ID          string `json:"id,omitempty"`
	Description string `json:"description,omitempty"`
	ToolPattern string `json:"tool_pattern"`
	Severity    string `json:"severity"`
	Action      string `json:"action"`
	URLRegex    string `json:"url_regex,omitempty"`
	ArgsRegex   string `json:"args_regex,omitempty"`
	Condition   string `json:"condition,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

// PolicyPatch updates a dynamic policy. Nil fields are left unchanged.
type PolicyPatch struct {
	Description *string `json:"description,omitempty"`
	ToolPattern *string `json:"tool_pattern,omitempty"`
	Severity    *string `json:"severity,omitempty"`
	Action      *string `json:"action,omitempty"`
	URLRegex    *string `json:"url_regex,omitempty"`
	ArgsRegex   *string `json:"args_regex,omitempty"`
	Condition   *string `json:"condition,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// PolicyVersion is one entry in a policy's change history.
type PolicyVersion struct {
	PolicyID   string    `json:"policy_id"`
	Version    int       `json:"version"`
	Snapshot   Policy    `json:"snapshot"`
	DiffBefore string    `json:"diff_before,omitempty"`
	DiffAfter  string    `json:"diff_after"`
	ActorID    string    `json:"actor_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// KillState is the global kill switch position.
type KillState struct {
	Engaged   bool      `json:"engaged"`
	Actor     string    `json:"actor,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Wallet is one agent's fee balance. Balance is a decimal string with
// three places (e.g., "9.975").
type Wallet struct {
	AgentID   string    `json:"agent_id"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Escalation is one event raised for human review.
type Escalation struct {
	ID         int64     `json:"id"`
	AgentID    string    `json:"agent_id,omitempty"`
	ActionID   int64     `json:"action_id,omitempty"`
	Severity   string    `json:"severity"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"`
	AutoKill   bool      `json:"auto_kill,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
}

// Escalation status values.
const (
	EscalationPending  = "pending"
	EscalationApproved = "approved"
	EscalationRejected = "rejected"
	EscalationExpired  = "expired"
)

// EscalationFilter narrows List calls. Zero values match everything.
type EscalationFilter struct {
	AgentID  string
	Status   string
	Severity string
	Limit    int
}

// Action is one audit log entry. Args are redacted server-side before
// they reach the wire. Fee is a decimal string, empty when no fee was
// charged.
type Action struct {
	ID             int64          `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	AgentID        string         `json:"agent_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	AllowedTools   []string       `json:"allowed_tools,omitempty"`
	Tool           string         `json:"tool"`
	Args           map[string]any `json:"args"`
	Decision       Decision       `json:"decision"`
	RiskScore      int            `json:"risk_score"`
	PolicyIDs      []string       `json:"policy_ids,omitempty"`
	ChainPattern   string         `json:"chain_pattern,omitempty"`
	ExecutionTrace []TraceStep    `json:"execution_trace"`
	TraceID        string         `json:"trace_id,omitempty"`
	SpanID         string         `json:"span_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Fee            string         `json:"fee,omitempty"`
}

// ActionPage is one page of the audit log. NextCursor is zero on the
// last page; pass it back via ActionFilter.Cursor to fetch the next.
type ActionPage struct {
	Actions    []Action `json:"actions"`
	NextCursor int64    `json:"next_cursor,omitempty"`
	Count      int      `json:"count"`
}

// ActionFilter narrows Actions calls. Zero values match everything.
type ActionFilter struct {
	AgentID   string
	SessionID string
	Tool      string
	Decision  Decision
	Start     time.Time
	End       time.Time
	Limit     int
	Cursor    int64
}

// Stats aggregates the audit log over a time range.
type Stats struct {
	Total          int                  `json:"total"`
	UniqueAgents   int                  `json:"unique_agents"`
	UniqueSessions int                  `json:"unique_sessions"`
	ByTool         map[string]ToolStats `json:"by_tool"`
	ByDecision     map[string]int       `json:"by_decision"`
	MeanRisk       float64              `json:"mean_risk"`
}

// ToolStats is the per-tool slice of Stats.
type ToolStats struct {
	Calls   int `json:"calls"`
	Allowed int `json:"allowed"`
	Review  int `json:"review"`
	Blocked int `json:"blocked"`
}

// FirewallPattern describes one compiled injection detection pattern.
type FirewallPattern struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Expression string `json:"expression"`
}

// Health is the GET /healthz body.
type Health struct {
	Status            string `json:"status"`
	KillSwitchEngaged bool   `json:"kill_switch_engaged"`
}

// Event is one entry from the live event stream.
type Event struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
	Action    *ActionEvent `json:"action,omitempty"`
}

// Event kinds delivered over the stream.
const (
	EventConnected       = "connected"
	EventActionEvaluated = "action_evaluated"
)

// ActionEvent is the payload of an action_evaluated event.
type ActionEvent struct {
	ActionID  int64     `json:"action_id"`
	Tool      string    `json:"tool"`
	Decision  Decision  `json:"decision"`
	RiskScore int       `json:"risk_score"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
