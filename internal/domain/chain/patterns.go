package chain

import (
	"regexp"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/risk"
)

var (
	privilegeRe  = regexp.MustCompile(`(?i)\bsudo\b|\bsu\s+root\b|\badmin\b|\bsetuid\b|chmod\s+[0-7]*7[0-7]{2}`)
	systemPathRe = regexp.MustCompile(`(^|\s)/(etc|usr|bin|sbin|boot|lib|var/lib)(/|\s|$)`)
	envProbeRe   = regexp.MustCompile(`(?i)\.env\b|\benvironment\b|\bprintenv\b|os\.environ|config\.(json|ya?ml|toml|ini)|/etc/`)

	// getLike matches HTTP methods that only read.
	getLike = map[string]bool{"": true, "get": true, "head": true}
)

// delayedExfilGap is how much earlier a credential read must have
// happened for delayed-exfil to fire.
const delayedExfilGap = 10 * time.Minute

// bypassDistance is the maximum Levenshtein distance between the current
// call and a previously blocked one for block-bypass-retry.
const bypassDistance = 3

// Patterns returns the pattern table in match order: descending boost,
// declaration order on ties. The table is rebuilt per call so analyzers
// can never share mutable state.
func Patterns() []Pattern {
	return []Pattern{
		{
			ID:       "repeated-scope-probing",
			Boost:    60,
			MinPrior: 2,
			Match: func(in Input) bool {
				blocked := 0
				for i := range in.History {
					if in.History[i].BlockedByScope() {
						blocked++
						if blocked >= 2 {
							return true
						}
					}
				}
				return false
			},
		},
		{
			ID:       "multi-cred-harvest",
			Boost:    60,
			MinPrior: 2,
			Match: func(in Input) bool {
				hits := 0
				for i := range in.History {
					if risk.ContainsCredentials(in.History[i].ArgsFlat) {
						hits++
						if hits >= 2 {
							return true
						}
					}
				}
				return false
			},
		},
		{
			ID:       "credential-then-http",
			Boost:    55,
			MinPrior: 1,
			Match: func(in Input) bool {
				if !in.Class.IsSend() {
					return false
				}
				for i := range in.History {
					if risk.ContainsCredentials(in.History[i].ArgsFlat) {
						return true
					}
				}
				return false
			},
		},
		{
			ID:       "privilege-escalation",
			Boost:    50,
			MinPrior: 1,
			Match: func(in Input) bool {
				target := in.Class == risk.ClassShell ||
					(in.Class.IsWrite() && systemPathRe.MatchString(in.ArgsFlat))
				if !target {
					return false
				}
				for i := range in.History {
					if privilegeRe.MatchString(in.History[i].ArgsFlat) {
						return true
					}
				}
				return false
			},
		},
		{
			ID:       "read-write-exec",
			Boost:    45,
			MinPrior: 2,
			Match: func(in Input) bool {
				if in.Class != risk.ClassShell {
					return false
				}
				readAt := -1
				for i := range in.History {
					c := risk.Classify(in.History[i].Tool)
					if c == risk.ClassFileRead && readAt < 0 {
						readAt = i
					}
					if c == risk.ClassFileWrite && readAt >= 0 && i > readAt {
						return true
					}
				}
				return false
			},
		},
		{
			ID:       "delayed-exfil",
			Boost:    45,
			MinPrior: 1,
			Match: func(in Input) bool {
				if !in.Class.IsSend() {
					return false
				}
				for i := range in.History {
					a := &in.History[i]
					if !risk.Classify(a.Tool).IsRead() {
						continue
					}
					if !risk.ContainsCredentials(a.ArgsFlat) {
						continue
					}
					if in.Now.Sub(a.Timestamp) >= delayedExfilGap {
						return true
					}
				}
				return false
			},
		},
		{
			ID:       "block-bypass-retry",
			Boost:    40,
			MinPrior: 1,
			Match: func(in Input) bool {
				current := in.Tool + " " + in.ArgsFlat
				for i := range in.History {
					a := &in.History[i]
					if a.Decision != action.DecisionBlock {
						continue
					}
					prev := a.Tool + " " + a.ArgsFlat
					if levenshtein.ComputeDistance(prev, current) <= bypassDistance {
						return true
					}
				}
				return false
			},
		},
		{
			ID:       "data-staging",
			Boost:    40,
			MinPrior: 2,
			Match: func(in Input) bool {
				if !in.Class.IsSend() {
					return false
				}
				reads := 0
				for i := range in.History {
					if risk.Classify(in.History[i].Tool) == risk.ClassFileRead {
						reads++
						if reads >= 2 {
							return true
						}
					}
				}
				return false
			},
		},
		{
			ID:       "browse-then-exfil",
			Boost:    35,
			MinPrior: 1,
			Match: func(in Input) bool {
				if in.Class != risk.ClassMessaging {
					return false
				}
				for i := range in.History {
					a := &in.History[i]
					if risk.Classify(a.Tool) != risk.ClassHTTP {
						continue
					}
					if isGetLike(a.Args) {
						return true
					}
				}
				return false
			},
		},
		{
			ID:       "env-recon",
			Boost:    35,
			MinPrior: 1,
			Match: func(in Input) bool {
				if !(in.Class.IsWrite() || in.Class == risk.ClassShell) {
					return false
				}
				for i := range in.History {
					a := &in.History[i]
					c := risk.Classify(a.Tool)
					if c == risk.ClassEnvRead {
						return true
					}
					if c.IsRead() && envProbeRe.MatchString(a.ArgsFlat) {
						return true
					}
				}
				return false
			},
		},
		{
			ID:       "rapid-tool-switching",
			Boost:    30,
			MinPrior: 3,
			Match: func(in Input) bool {
				// Last 6 actions including the current one.
				window := in.History
				if len(window) > 5 {
					window = window[len(window)-5:]
				}
				distinct := map[string]struct{}{in.Tool: {}}
				for i := range window {
					distinct[window[i].Tool] = struct{}{}
				}
				return len(distinct) >= 5
			},
		},
	}
}

// isGetLike reports whether an HTTP-class action only read: its method
// argument is absent, GET, or HEAD, and it carries no body.
func isGetLike(args action.Value) bool {
	method := ""
	if m, ok := args.Get("method"); ok {
		if s, isScalar := m.Scalar(); isScalar {
			method = strings.ToLower(s)
		}
	}
	if !getLike[method] {
		return false
	}
	if _, ok := args.Get("body"); ok {
		return false
	}
	if _, ok := args.Get("data"); ok {
		return false
	}
	return true
}
