// Package sqlite provides the durable implementations of the outbound
// persistence ports, all tables in one database file. Open applies
// additive migrations tracked in the sqlite user_version pragma; a
// store never alters rows written by an older schema.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// migrations is the ordered schema history. Entry i brings a database
// at user_version i to version i+1. Never edit a shipped entry; append.
var migrations = []string{
	`
CREATE TABLE actions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	ts              TEXT    NOT NULL,
	agent_id        TEXT    NOT NULL DEFAULT '',
	session_id      TEXT    NOT NULL DEFAULT '',
	user_id         TEXT    NOT NULL DEFAULT '',
	allowed_tools   TEXT    NOT NULL DEFAULT 'null',
	tool            TEXT    NOT NULL,
	args            TEXT    NOT NULL DEFAULT 'null',
	args_flat       TEXT    NOT NULL DEFAULT '',
	decision        TEXT    NOT NULL,
	risk            INTEGER NOT NULL DEFAULT 0,
	policy_ids      TEXT    NOT NULL DEFAULT 'null',
	chain_pattern   TEXT    NOT NULL DEFAULT '',
	trace           TEXT    NOT NULL DEFAULT 'null',
	trace_id        TEXT    NOT NULL DEFAULT '',
	span_id         TEXT    NOT NULL DEFAULT '',
	conversation_id TEXT    NOT NULL DEFAULT '',
	fee_milli       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_actions_agent ON actions (agent_id, id);
CREATE INDEX idx_actions_session ON actions (session_id);
CREATE INDEX idx_actions_ts ON actions (ts);

CREATE TABLE receipts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	action_id  INTEGER NOT NULL UNIQUE,
	hash       TEXT    NOT NULL,
	fee_tier   TEXT    NOT NULL,
	fee_milli  INTEGER NOT NULL DEFAULT 0,
	created_at TEXT    NOT NULL
);

CREATE TABLE verifications (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	action_id   INTEGER NOT NULL,
	tool        TEXT    NOT NULL DEFAULT '',
	verdict     TEXT    NOT NULL,
	checks      TEXT    NOT NULL DEFAULT 'null',
	risk_delta  INTEGER NOT NULL DEFAULT 0,
	drift_score INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT    NOT NULL
);
CREATE INDEX idx_verifications_action ON verifications (action_id);

CREATE TABLE governor_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE policies (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE policy_versions (
	policy_id  TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	doc        TEXT    NOT NULL,
	created_at TEXT    NOT NULL,
	PRIMARY KEY (policy_id, version)
);

CREATE TABLE wallets (
	agent_id   TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE escalations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id    TEXT    NOT NULL DEFAULT '',
	action_id   INTEGER NOT NULL DEFAULT 0,
	severity    TEXT    NOT NULL,
	reason      TEXT    NOT NULL DEFAULT '',
	status      TEXT    NOT NULL,
	auto_kill   INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT    NOT NULL,
	expires_at  TEXT    NOT NULL DEFAULT '',
	resolved_at TEXT    NOT NULL DEFAULT '',
	resolved_by TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX idx_escalations_status ON escalations (status, expires_at);
`,
}

// Open opens (creating if absent) the database at path and brings its
// schema up to date. The returned handle is shared by every store
// constructor; the caller owns Close. A single connection serializes
// writers, which is how sqlite wants to be used from one process.
func Open(path string) (*sql.DB, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// timeLayout is fixed-width UTC so TEXT comparison orders correctly.
const timeLayout = "2006-01-02 15:04:05.000000000"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// jsonText marshals v for a JSON column. Nil slices and zero argument
// trees serialize as the literal "null" and decode back to nil.
func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode column: %w", err)
	}
	return string(b), nil
}

func fromJSON(s string, dst any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
