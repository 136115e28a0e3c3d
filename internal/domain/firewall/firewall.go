// Package firewall implements the pipeline's injection layer: a fixed set
// of compiled regex patterns that catch prompt-injection and embedded
// attack directives in normalized tool-call payloads. The pattern set is
// exported for audit; callers must be able to see exactly what is
// enforced.
package firewall

import "regexp"

// Category groups patterns by the kind of attack they catch. The six
// categories are the minimum documented coverage.
type Category string

const (
	CategoryPromptOverride   Category = "prompt-override"
	CategoryRoleReset        Category = "role-reset"
	CategorySafetyDisable    Category = "safety-disable"
	CategoryExfilDirective   Category = "exfil-directive"
	CategoryCodeInjection    Category = "code-injection"
	CategoryDestructiveShell Category = "destructive-shell"
)

// Finding is a single pattern match.
type Finding struct {
	// ID is the matched pattern's identifier.
	ID string
	// Category is the pattern's attack category.
	Category Category
	// Matched is the matching text, truncated to 100 bytes.
	Matched string
	// Position is the byte offset of the match in the scanned content.
	Position int
}

// Result is the outcome of one scan.
type Result struct {
	Detected bool
	Findings []Finding
}

// MatchedIDs returns the distinct pattern ids in finding order.
func (r Result) MatchedIDs() []string {
	if len(r.Findings) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(r.Findings))
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		ids = append(ids, f.ID)
	}
	return ids
}

// PatternInfo is the audit-facing description of one pattern.
type PatternInfo struct {
	ID         string   `json:"id"`
	Category   Category `json:"category"`
	Expression string   `json:"expression"`
}

type compiledPattern struct {
	id       string
	category Category
	re       *regexp.Regexp
}

// Firewall scans payloads against the compiled pattern set. Construction
// compiles every pattern once; scanning allocates only for findings.
type Firewall struct {
	patterns []compiledPattern
}

// rawPatterns is the normative pattern table. Input is expected to be
// NFKC-folded and zero-width-stripped before scanning, so the
// expressions target clean text.
var rawPatterns = []struct {
	id       string
	category Category
	pattern  string
}{
	// prompt-override
	{
		id:       "instruction-override",
		category: CategoryPromptOverride,
		pattern:  `(?i)(?:ignore|disregard|forget|discard)\s+(?:all\s+)?(?:previous|prior|above|earlier|preceding)\s+(?:instructions|prompts|rules|context|directives)`,
	},
	{
		id:       "instruction-injection",
		category: CategoryPromptOverride,
		pattern:  `(?i)(?:new|updated|revised)\s+(?:system\s+)?(?:instructions?|rules?|prompt)\s*:`,
	},
	{
		id:       "system-tag-injection",
		category: CategoryPromptOverride,
		pattern:  `(?i)<\s*/?\s*(?:system|assistant|developer)\s*>`,
	},
	{
		id:       "delimiter-escape",
		category: CategoryPromptOverride,
		pattern:  "(?i)(?:```|---)\\s*(?:system|instructions?)\\b",
	},

	// role-reset
	{
		id:       "role-reset",
		category: CategoryRoleReset,
		pattern:  `(?i)you\s+are\s+(?:now|actually|really)\s+(?:a|an|my)\b`,
	},
	{
		id:       "role-reset-system",
		category: CategoryRoleReset,
		pattern:  `(?i)act\s+as\s+(?:the\s+)?(?:system|root|admin|administrator|superuser)`,
	},
	{
		id:       "persona-override",
		category: CategoryRoleReset,
		pattern:  `(?i)pretend\s+(?:to\s+be|you\s+are)\b`,
	},
	{
		id:       "identity-erase",
		category: CategoryRoleReset,
		pattern:  `(?i)forget\s+(?:who|what)\s+you\s+are`,
	},

	// safety-disable
	{
		id:       "safety-disable",
		category: CategorySafetyDisable,
		pattern:  `(?i)(?:disable|bypass|turn\s+off|remove|ignore)\s+(?:the\s+|all\s+)?(?:safety|guardrails?|content\s+filters?|restrictions?|safeguards?)`,
	},
	{
		id:       "jailbreak-keyword",
		category: CategorySafetyDisable,
		pattern:  `(?i)\bjailbreak\b|\bdo\s+anything\s+now\b|\bDAN\s+mode\b`,
	},
	{
		id:       "unrestricted-mode",
		category: CategorySafetyDisable,
		pattern:  `(?i)(?:unfiltered|unrestricted|uncensored)\s+(?:mode|response|output)`,
	},
	{
		id:       "refusal-suppression",
		category: CategorySafetyDisable,
		pattern:  `(?i)(?:never|do\s+not|don't)\s+(?:refuse|decline|reject)\b`,
	},

	// exfil-directive
	{
		id:       "exfil-directive",
		category: CategoryExfilDirective,
		pattern:  `(?i)(?:send|post|upload|forward|exfiltrate)\s+(?:all\s+|the\s+|your\s+)?(?:credentials?|secrets?|tokens?|keys?|passwords?|data)\s+to\b`,
	},
	{
		id:       "env-dump-directive",
		category: CategoryExfilDirective,
		pattern:  `(?i)(?:print|dump|echo|cat|reveal)\s+(?:all\s+)?(?:env(?:ironment)?(?:\s+variables?)?|\.env\b|secrets?|credentials?)`,
	},
	{
		id:       "prompt-leak",
		category: CategoryExfilDirective,
		pattern:  `(?i)(?:reveal|show|print|repeat)\s+(?:your\s+)?(?:system\s+prompt|initial\s+instructions|hidden\s+rules)`,
	},
	{
		id:       "beacon-url",
		category: CategoryExfilDirective,
		pattern:  `(?i)https?://\S*(?:webhook\.site|requestbin|burpcollaborator|interactsh|oastify)`,
	},

	// code-injection
	{
		id:       "eval-injection",
		category: CategoryCodeInjection,
		pattern:  `(?i)\beval\s*\(|\bexec\s*\(|__import__\s*\(`,
	},
	{
		id:       "subprocess-injection",
		category: CategoryCodeInjection,
		pattern:  `(?i)subprocess\.(?:run|call|popen)|os\.system\s*\(|child_process`,
	},
	{
		id:       "script-tag",
		category: CategoryCodeInjection,
		pattern:  `(?i)<\s*script[\s>]`,
	},
	{
		id:       "template-injection",
		category: CategoryCodeInjection,
		pattern:  `\{\{[^}]*(?:__class__|__globals__|constructor|process\.env)[^}]*\}\}`,
	},

	// destructive-shell
	{
		id:       "shell-dangerous",
		category: CategoryDestructiveShell,
		pattern:  `(?i)\brm\s+-[a-z]*r[a-z]*f[a-z]*\b|\brm\s+-[a-z]*f[a-z]*r[a-z]*\b`,
	},
	{
		id:       "disk-destroy",
		category: CategoryDestructiveShell,
		pattern:  `(?i)\bmkfs(\.\w+)?\b|\bdd\s+if=\S+\s+of=/dev/|>\s*/dev/sd[a-z]`,
	},
	{
		id:       "db-destroy",
		category: CategoryDestructiveShell,
		pattern:  `(?i)\bdrop\s+(?:table|database|schema)\b|\btruncate\s+table\b`,
	},
	{
		id:       "system-halt",
		category: CategoryDestructiveShell,
		pattern:  `(?i)\b(?:shutdown|poweroff|halt)\s+(?:-\w+|now)\b|\binit\s+0\b`,
	},
}

// New compiles the pattern table into a Firewall.
func New() *Firewall {
	compiled := make([]compiledPattern, 0, len(rawPatterns))
	for _, rp := range rawPatterns {
		compiled = append(compiled, compiledPattern{
			id:       rp.id,
			category: rp.category,
			re:       regexp.MustCompile(rp.pattern),
		})
	}
	return &Firewall{patterns: compiled}
}

// Scan runs every pattern against content. Empty content returns
// immediately with no findings.
func (f *Firewall) Scan(content string) Result {
	if content == "" {
		return Result{}
	}
	var findings []Finding
	for _, p := range f.patterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			matched := content[loc[0]:loc[1]]
			if len(matched) > 100 {
				matched = matched[:100]
			}
			findings = append(findings, Finding{
				ID:       p.id,
				Category: p.category,
				Matched:  matched,
				Position: loc[0],
			})
		}
	}
	return Result{Detected: len(findings) > 0, Findings: findings}
}

// ScanAll scans several payload parts (flattened args, prompt) and merges
// the findings. Positions are relative to each part.
func (f *Firewall) ScanAll(parts ...string) Result {
	var merged Result
	for _, part := range parts {
		r := f.Scan(part)
		if r.Detected {
			merged.Detected = true
			merged.Findings = append(merged.Findings, r.Findings...)
		}
	}
	return merged
}

// Patterns returns the audit-facing view of the full pattern set.
func (f *Firewall) Patterns() []PatternInfo {
	out := make([]PatternInfo, len(f.patterns))
	for i, p := range f.patterns {
		out[i] = PatternInfo{ID: p.id, Category: p.category, Expression: p.re.String()}
	}
	return out
}
