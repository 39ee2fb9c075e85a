package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/pattern"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage classification and policy business rules",
	}
	cmd.PersistentFlags().String("user", "", "rule owner (required)")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(rulesImportCmd())
	cmd.AddCommand(rulesListCmd())
	return cmd
}

func rulesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Validate and store the rules in a YAML file",
		Long: `Import business rules from YAML. Every rule is validated before any is
stored, so a file with one bad rule changes nothing.

  rules:
    - name: Software subscriptions
      rule_type: classification
      priority: 10
      conditions:
        description: github
      actions:
        category: software
    - name: Large payments
      rule_type: policy
      expression: record.amount > 5000.0 && record.operation_type == "expense"
      actions:
        severity: high
        required_action: second_signature`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open rule file: %w", err)
			}
			defer func() { _ = f.Close() }()

			matcher, err := pattern.NewMatcher()
			if err != nil {
				return err
			}
			rules, err := pattern.LoadRules(f, user, pattern.NewValidator(matcher))
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			for i := range rules {
				if err := store.SaveBusinessRule(cmd.Context(), &rules[i]); err != nil {
					return fmt.Errorf("failed to save rule %q: %w", rules[i].Name, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rules\n", len(rules))
			return nil
		},
	}
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print active rules as YAML, highest priority first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			ruleType, _ := cmd.Flags().GetString("type")

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rules, err := store.ListBusinessRules(cmd.Context(), user, model.RuleType(ruleType))
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(map[string][]model.BusinessRule{"rules": rules})
		},
	}
	cmd.Flags().String("type", "", "only list rules of this type (classification, policy)")
	return cmd
}
