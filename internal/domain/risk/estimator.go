// Package risk implements the deterministic heuristic risk estimator:
// a tool-class base score plus keyword and cardinality bonuses derived
// from the flattened argument string. No inference, no randomness; the
// same input always yields the same score.
package risk

import (
	"regexp"
	"strings"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

// Class groups tools with equivalent risk behavior. Unknown tools fall
// into ClassUnknown.
type Class string

const (
	ClassShell     Class = "shell"
	ClassHTTP      Class = "http_request"
	ClassFileRead  Class = "file_read"
	ClassFileWrite Class = "file_write"
	ClassFileDel   Class = "file_delete"
	ClassMessaging Class = "messaging_send"
	ClassDatabase  Class = "database_query"
	ClassEnvRead   Class = "env_read"
	ClassUnknown   Class = "unknown"
)

// IsSend reports whether the class moves data out of the process
// boundary (network request or message delivery).
func (c Class) IsSend() bool {
	return c == ClassHTTP || c == ClassMessaging
}

// IsRead reports whether the class reads local state.
func (c Class) IsRead() bool {
	return c == ClassFileRead || c == ClassEnvRead
}

// IsWrite reports whether the class mutates local state.
func (c Class) IsWrite() bool {
	return c == ClassFileWrite || c == ClassFileDel
}

// classAliases maps tool names to their class. The mapping is open:
// unlisted tools are ClassUnknown and score the unknown base risk.
var classAliases = map[string]Class{
	"shell":          ClassShell,
	"bash":           ClassShell,
	"sh":             ClassShell,
	"exec":           ClassShell,
	"command_exec":   ClassShell,
	"terminal":       ClassShell,
	"http_request":   ClassHTTP,
	"http":           ClassHTTP,
	"fetch":          ClassHTTP,
	"web_request":    ClassHTTP,
	"curl":           ClassHTTP,
	"file_read":      ClassFileRead,
	"read_file":      ClassFileRead,
	"cat":            ClassFileRead,
	"file_write":     ClassFileWrite,
	"write_file":     ClassFileWrite,
	"file_delete":    ClassFileDel,
	"delete_file":    ClassFileDel,
	"messaging_send": ClassMessaging,
	"send_message":   ClassMessaging,
	"email_send":     ClassMessaging,
	"send_email":     ClassMessaging,
	"slack_send":     ClassMessaging,
	"database_query": ClassDatabase,
	"db_query":       ClassDatabase,
	"sql_query":      ClassDatabase,
	"env_read":       ClassEnvRead,
	"read_env":       ClassEnvRead,
	"printenv":       ClassEnvRead,
}

// classPatterns are substring fallbacks for tools absent from the alias
// map, checked in priority order. Substring matching is deliberately
// simple: "undelete" matches "delete", which errs toward caution.
var classPatterns = []struct {
	substr string
	class  Class
}{
	{"shell", ClassShell},
	{"exec", ClassShell},
	{"command", ClassShell},
	{"sudo", ClassShell},
	{"terminal", ClassShell},
	{"delete", ClassFileDel},
	{"remove", ClassFileDel},
	{"destroy", ClassFileDel},
	{"write", ClassFileWrite},
	{"upload", ClassFileWrite},
	{"create", ClassFileWrite},
	{"deploy", ClassFileWrite},
	{"install", ClassFileWrite},
	{"send", ClassMessaging},
	{"message", ClassMessaging},
	{"mail", ClassMessaging},
	{"notify", ClassMessaging},
	{"http", ClassHTTP},
	{"request", ClassHTTP},
	{"browse", ClassHTTP},
	{"sql", ClassDatabase},
	{"database", ClassDatabase},
	{"query", ClassDatabase},
	{"env", ClassEnvRead},
	{"read", ClassFileRead},
	{"download", ClassFileRead},
	{"search", ClassFileRead},
}

// Classify maps a normalized tool name to its risk class: exact aliases
// first, then substring patterns, then ClassUnknown.
func Classify(tool string) Class {
	name := strings.ToLower(tool)
	if c, ok := classAliases[name]; ok {
		return c
	}
	for _, p := range classPatterns {
		if strings.Contains(name, p.substr) {
			return p.class
		}
	}
	return ClassUnknown
}

// Base risk per tool class.
var classBase = map[Class]int{
	ClassShell:     60,
	ClassHTTP:      30,
	ClassFileRead:  15,
	ClassFileWrite: 40,
	ClassFileDel:   55,
	ClassMessaging: 25,
	ClassDatabase:  35,
	ClassEnvRead:   20,
	ClassUnknown:   20,
}

// BaseRisk returns the base score for a tool name.
func BaseRisk(tool string) int {
	return classBase[Classify(tool)]
}

var (
	credentialRe = regexp.MustCompile(`(?i)\b(password|passwd|secret|api[_-]?key|private[_-]?key|access[_-]?token|auth[_-]?token|client[_-]?secret|credential)s?\b` +
		`|sk-[A-Za-z0-9]{8,}` +
		`|ghp_[A-Za-z0-9]{16,}` +
		`|xox[baprs]-[A-Za-z0-9-]{8,}` +
		`|AKIA[0-9A-Z]{16}` +
		`|-----BEGIN [A-Z ]*PRIVATE KEY-----` +
		`|eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}`)

	destructiveRe = regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f|rm\s+-[a-z]*f[a-z]*r|DROP\s+TABLE|TRUNCATE\s+TABLE|mkfs(\.\w+)?|\bshutdown\b|dd\s+if=\S+\s+of=/dev/`)

	// domainRe finds host-like tokens: at least one dot, alphanumeric
	// labels. Deliberately loose; the allowlist and extension stoplist
	// filter it.
	domainRe = regexp.MustCompile(`\b[a-z0-9][a-z0-9-]{0,62}(\.[a-z0-9][a-z0-9-]{0,62})+\b`)

	// fileExtRe rejects host candidates that are really filenames.
	fileExtRe = regexp.MustCompile(`\.(txt|md|json|ya?ml|csv|log|go|py|js|ts|sh|conf|cfg|ini|toml|pem|key|crt|png|jpe?g|gif|pdf|zip|tar|gz)$`)
)

// ContainsCredentials reports whether s carries credential keywords or
// recognizable secret-token shapes. Shared with chain analysis and
// post-execution verification.
func ContainsCredentials(s string) bool {
	return credentialRe.MatchString(s)
}

// ContainsDestructive reports whether s carries destructive command
// signatures.
func ContainsDestructive(s string) bool {
	return destructiveRe.MatchString(s)
}

// Bonus deltas added on top of the class base.
const (
	bonusCredential  = 25
	bonusDestructive = 30
	bonusExfil       = 15
	bonusRecipients  = 15

	// MaxRisk caps every score.
	MaxRisk = 100

	recipientThreshold = 10
)

// Estimate is one scored request with its reasons, suitable for the
// trace detail.
type Estimate struct {
	Base    int
	Bonus   int
	Total   int
	Reasons []string
}

// Estimator scores requests. The zero value works; WithInternalDomains
// enables the network-exfil bonus for domains outside the allowlist.
type Estimator struct {
	internalDomains []string
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithInternalDomains sets the internal-domain allowlist. Host-like
// tokens in the args that fall outside every listed suffix add the
// exfil bonus. Without an allowlist the signal is meaningless and the
// bonus is never applied.
func WithInternalDomains(domains []string) Option {
	return func(e *Estimator) {
		e.internalDomains = domains
	}
}

// NewEstimator builds an Estimator.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate scores one request from its normalized tool name, original
// argument tree, and flattened argument string.
func (e *Estimator) Estimate(tool string, args action.Value, flat string) Estimate {
	est := Estimate{Base: BaseRisk(tool)}

	if ContainsCredentials(flat) {
		est.Bonus += bonusCredential
		est.Reasons = append(est.Reasons, "credential keywords")
	}
	if ContainsDestructive(flat) {
		est.Bonus += bonusDestructive
		est.Reasons = append(est.Reasons, "destructive tokens")
	}
	if e.hasExternalDomain(flat) {
		est.Bonus += bonusExfil
		est.Reasons = append(est.Reasons, "external domain")
	}
	if recipientCount(args) >= recipientThreshold {
		est.Bonus += bonusRecipients
		est.Reasons = append(est.Reasons, "mass recipients")
	}

	est.Total = est.Base + est.Bonus
	if est.Total > MaxRisk {
		est.Total = MaxRisk
	}
	return est
}

func (e *Estimator) hasExternalDomain(flat string) bool {
	if len(e.internalDomains) == 0 {
		return false
	}
	for _, host := range domainRe.FindAllString(strings.ToLower(flat), -1) {
		if fileExtRe.MatchString(host) {
			continue
		}
		internal := false
		for _, d := range e.internalDomains {
			if host == d || strings.HasSuffix(host, "."+d) {
				internal = true
				break
			}
		}
		if !internal {
			return true
		}
	}
	return false
}

func recipientCount(args action.Value) int {
	for _, key := range []string{"recipients", "to"} {
		if v, ok := args.Get(key); ok && v.Kind == action.KindList {
			return v.Len()
		}
	}
	return 0
}
