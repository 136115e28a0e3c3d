package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

// baseFile is the YAML shape of the static base policy file.
type baseFile struct {
	Policies []basePolicy `yaml:"policies"`
}

type basePolicy struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description"`
	ToolPattern string          `yaml:"tool_pattern"`
	Severity    Severity        `yaml:"severity"`
	Action      action.Decision `yaml:"action"`
	URLRegex    string          `yaml:"url_regex"`
	ArgsRegex   string          `yaml:"args_regex"`
	Condition   string          `yaml:"condition"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

// ParseBase parses the static base policy file. Every entry gets
// Origin=base and Version=1; ids must be unique within the file.
// Regex and condition compilation happens later, when the policy service
// builds its first snapshot.
func ParseBase(data []byte) ([]Policy, error) {
	var f baseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	seen := make(map[string]struct{}, len(f.Policies))
	out := make([]Policy, 0, len(f.Policies))
	for i, bp := range f.Policies {
		if bp.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrInvalidPolicy, i)
		}
		if _, dup := seen[bp.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrDuplicateID, bp.ID)
		}
		seen[bp.ID] = struct{}{}
		active := true
		if bp.Active != nil {
			active = *bp.Active
		}
		out = append(out, Policy{
			ID:          bp.ID,
			Description: bp.Description,
			ToolPattern: bp.ToolPattern,
			Severity:    bp.Severity,
			Action:      bp.Action,
			URLRegex:    bp.URLRegex,
			ArgsRegex:   bp.ArgsRegex,
			Condition:   bp.Condition,
			Active:      active,
			Origin:      OriginBase,
			Version:     1,
		})
	}
	return out, nil
}
