package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/cel"
	"github.com/Verdict-Labs/verdict/internal/domain/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and lint policy files",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Lint a base policy file",
	Long: `Lint a base policy file without starting the engine.

Parses the YAML, checks ids for uniqueness, and compiles every regex and
condition expression exactly as the engine would at boot. Exits non-zero
if any policy fails, so the command works as a pre-deploy gate.

Example:
  verdictd policy check verdict.policies.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyCheck,
}

func init() {
	policyCmd.AddCommand(policyCheckCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	base, err := policy.ParseBase(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	compiler, err := cel.NewCompiler()
	if err != nil {
		return fmt.Errorf("failed to build condition compiler: %w", err)
	}

	bad := 0
	for _, p := range base {
		if _, err := policy.Compile(p, compiler); err != nil {
			bad++
			fmt.Fprintf(os.Stderr, "%s: policy %q: %v\n", path, p.ID, err)
		}
	}

	if bad > 0 {
		return fmt.Errorf("%s: %d of %d policies failed to compile", path, bad, len(base))
	}

	fmt.Printf("%s: %d policies ok\n", path, len(base))
	return nil
}
