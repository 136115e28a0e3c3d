// Package config provides the configuration schema for verdictd.
//
// The schema is an explicit record: every option is a named field with
// yaml and mapstructure tags, a default, and validation. Options the
// daemon does not know by name do not exist.
package config

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
)

// Config is the top-level configuration for verdictd.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Chain      ChainConfig      `yaml:"chain" mapstructure:"chain"`
	Fees       FeesConfig       `yaml:"fees" mapstructure:"fees"`
	Escalation EscalationConfig `yaml:"escalation" mapstructure:"escalation"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP listener and logging.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8372"
	// (localhost only); set ":8372" or "0.0.0.0:8372" for network access.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// SlogLevel maps the configured log level to its slog value.
func (c ServerConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	// Driver selects the store backend: "memory" or "sqlite".
	Driver string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=memory sqlite"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`

	// StateFile, when set, mirrors governor state (the kill switch) to a
	// flock-guarded JSON file so a restart sees the switch even when the
	// primary store is unavailable.
	StateFile string `yaml:"state_file" mapstructure:"state_file"`
}

// PolicyConfig configures the policy sources and snapshot cache.
type PolicyConfig struct {
	// BaseFile is a YAML file of base policies loaded at boot in place
	// of the built-in defaults.
	BaseFile string `yaml:"base_file" mapstructure:"base_file"`

	// CacheTTL bounds how long a policy snapshot is served before the
	// sources are consulted again. Zero disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" validate:"min=0"`
}

// SessionConfig bounds the reconstructed session history window.
type SessionConfig struct {
	// WindowMinutes is how far back the history reaches.
	WindowMinutes int `yaml:"window_minutes" mapstructure:"window_minutes" validate:"omitempty,min=1"`

	// MaxEntries caps the history length.
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"omitempty,min=1"`
}

// ChainConfig bounds the chain analyzer.
type ChainConfig struct {
	// TimeBudget is the soft cap for one chain analysis; on expiry the
	// evaluation proceeds without chain input and is marked degraded.
	TimeBudget time.Duration `yaml:"time_budget" mapstructure:"time_budget" validate:"min=0"`
}

// FeesConfig configures fee settlement.
type FeesConfig struct {
	// Enabled turns per-evaluation wallet charges on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// InitialBalance is the decimal balance new wallets are provisioned
	// with, e.g. "100.000".
	InitialBalance string `yaml:"initial_balance" mapstructure:"initial_balance" validate:"omitempty,amount"`
}

// InitialAmount parses the configured initial balance.
func (c FeesConfig) InitialAmount() (wallet.Amount, error) {
	if c.InitialBalance == "" {
		return wallet.DefaultInitialBalance, nil
	}
	return wallet.ParseAmount(c.InitialBalance)
}

// EscalationConfig tunes the escalation rules.
type EscalationConfig struct {
	// BlockThreshold is how many blocks within the trailing window
	// auto-engage the kill switch.
	BlockThreshold int `yaml:"block_threshold" mapstructure:"block_threshold" validate:"omitempty,min=1"`

	// RiskThreshold is the average risk over a full trailing window
	// that auto-engages the kill switch.
	RiskThreshold int `yaml:"risk_threshold" mapstructure:"risk_threshold" validate:"omitempty,min=1,max=100"`

	// PendingTTL is how long a pending escalation waits for a
	// resolution before it expires.
	PendingTTL time.Duration `yaml:"pending_ttl" mapstructure:"pending_ttl" validate:"min=0"`
}

// EventsConfig tunes the event bus.
type EventsConfig struct {
	// BufferSize is the per-subscriber channel capacity.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// HeartbeatInterval paces liveness events on idle streams. Zero
	// disables heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval" validate:"min=0"`
}

// VerifyConfig bounds the outcome verifier.
type VerifyConfig struct {
	// DiffLimitBytes caps how many output bytes the verification checks
	// scan per call.
	DiffLimitBytes int `yaml:"diff_limit_bytes" mapstructure:"diff_limit_bytes" validate:"omitempty,min=1"`

	// DriftBaselineDepth is how many prior actions the drift baseline
	// may span.
	DriftBaselineDepth int `yaml:"drift_baseline_depth" mapstructure:"drift_baseline_depth" validate:"omitempty,min=1"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns on the stdout trace and metric exporters.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only; exposing the engine on a network interface
	// is an explicit choice.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8372"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "verdict.db"
	}

	// Zero disables the cache, so the default only applies when the key
	// is absent. viper.IsSet distinguishes "not set" from "set to 0".
	if c.Policy.CacheTTL == 0 && !viper.IsSet("policy.cache_ttl") {
		c.Policy.CacheTTL = 10 * time.Second
	}

	if c.Session.WindowMinutes == 0 {
		c.Session.WindowMinutes = 60
	}
	if c.Session.MaxEntries == 0 {
		c.Session.MaxEntries = 50
	}

	if c.Chain.TimeBudget == 0 {
		c.Chain.TimeBudget = 100 * time.Millisecond
	}

	if c.Fees.InitialBalance == "" {
		c.Fees.InitialBalance = wallet.DefaultInitialBalance.String()
	}

	if c.Escalation.BlockThreshold == 0 {
		c.Escalation.BlockThreshold = 3
	}
	if c.Escalation.RiskThreshold == 0 {
		c.Escalation.RiskThreshold = 82
	}
	if c.Escalation.PendingTTL == 0 {
		c.Escalation.PendingTTL = time.Hour
	}

	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = 64
	}
	// Zero disables heartbeats, same IsSet treatment as the cache TTL.
	if c.Events.HeartbeatInterval == 0 && !viper.IsSet("events.heartbeat_interval") {
		c.Events.HeartbeatInterval = 15 * time.Second
	}

	if c.Verify.DiffLimitBytes == 0 {
		c.Verify.DiffLimitBytes = 10 * 1024
	}
	if c.Verify.DriftBaselineDepth == 0 {
		c.Verify.DriftBaselineDepth = 500
	}
}
