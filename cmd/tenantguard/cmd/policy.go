package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/value"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Evaluate, apply and list policy contexts",
}

var (
	evalContextFile string
	evalActor       string
	evalAction      string
	evalResource    string

	applyFile  string
	applyActor string

	listTenant string
)

var policyEvalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate an action against a policy context file",
	Long: `Evaluate one action against a single policy context read from a YAML file.
No storage is opened and nothing is audited.

Examples:
  tenantguard policy eval --context board.yaml --actor u1 --action TASK_CREATE \
    --resource '{"source":{"type":"JIRA"}}'`,
	RunE: runPolicyEval,
}

var policyApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Store policy contexts from a YAML file",
	Long: `Store every context listed under "contexts:" in the given YAML file.
A context replaces the stored context of the same tenant and scope.

Example file:
  contexts:
    - tenant_id: t1
      scope: BOARD
      scope_id: b1
      audit_level: FULL
      rules:
        - id: r1
          action: TASK_CREATE
          effect: ALLOW`,
	RunE: runPolicyApply,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored contexts of a tenant",
	RunE:  runPolicyList,
}

func init() {
	policyEvalCmd.Flags().StringVar(&evalContextFile, "context", "", "policy context YAML file")
	policyEvalCmd.Flags().StringVar(&evalActor, "actor", "", "actor id")
	policyEvalCmd.Flags().StringVar(&evalAction, "action", "", "action name")
	policyEvalCmd.Flags().StringVar(&evalResource, "resource", "", "resource snapshot as JSON")
	_ = policyEvalCmd.MarkFlagRequired("context")
	_ = policyEvalCmd.MarkFlagRequired("actor")
	_ = policyEvalCmd.MarkFlagRequired("action")

	policyApplyCmd.Flags().StringVar(&applyFile, "file", "", "YAML file with a contexts list")
	policyApplyCmd.Flags().StringVar(&applyActor, "actor", "cli", "actor recorded as updated_by")
	_ = policyApplyCmd.MarkFlagRequired("file")

	policyListCmd.Flags().StringVar(&listTenant, "tenant", "", "tenant id")
	_ = policyListCmd.MarkFlagRequired("tenant")

	policyCmd.AddCommand(policyEvalCmd, policyApplyCmd, policyListCmd)
	rootCmd.AddCommand(policyCmd)
}

// decisionOutput is the printed form of a policy decision.
type decisionOutput struct {
	Allowed      bool          `json:"allowed"`
	Reason       string        `json:"reason,omitempty"`
	PolicyID     string        `json:"policyId,omitempty"`
	MatchedRules []policy.Rule `json:"matchedRules"`
}

// contextsDocument is the file format of "policy apply".
type contextsDocument struct {
	Contexts []policy.Context `yaml:"contexts"`
}

func runPolicyEval(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(evalContextFile)
	if err != nil {
		return fmt.Errorf("failed to read context file: %w", err)
	}
	var pc policy.Context
	if err := yaml.Unmarshal(data, &pc); err != nil {
		return fmt.Errorf("failed to parse context file: %w", err)
	}

	resource := value.Null()
	if evalResource != "" {
		resource, err = value.Parse([]byte(evalResource))
		if err != nil {
			return fmt.Errorf("invalid --resource: %w", err)
		}
	}

	d := policy.NewEngine().Evaluate(evalActor, evalAction, pc, resource)
	out := decisionOutput{
		Allowed:      d.Allowed,
		Reason:       d.Reason,
		PolicyID:     d.PolicyID,
		MatchedRules: d.MatchedRules,
	}
	if out.MatchedRules == nil {
		out.MatchedRules = []policy.Rule{}
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func runPolicyApply(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(applyFile)
	if err != nil {
		return fmt.Errorf("failed to read contexts file: %w", err)
	}
	var doc contextsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse contexts file: %w", err)
	}
	if len(doc.Contexts) == 0 {
		return fmt.Errorf("no contexts found in %s", applyFile)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.contexts.Apply(cmd.Context(), applyActor, doc.Contexts...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d context(s).\n", len(doc.Contexts))
	return nil
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	stored, err := a.contexts.List(cmd.Context(), listTenant)
	if err != nil {
		return err
	}
	if stored == nil {
		stored = []policy.StoredContext{}
	}
	return writeJSON(cmd.OutOrStdout(), stored)
}
