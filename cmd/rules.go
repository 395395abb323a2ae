package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/rules"
	"github.com/sells-group/schema-cli/internal/store"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage schema generation rules",
	Long:  "Commands for creating, editing, activating, and restoring the prompt rules that drive JSON-LD generation, keyed by domain, page type, and category.",
}

func initRuleService(cmd *cobra.Command) (*rules.Service, store.Store, error) {
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, err
	}
	return rules.NewService(st), st, nil
}

// scopeKey builds a RuleKey from the shared --domain/--page-type/--category
// flags. Unset flags widen the rule's scope.
func scopeKey(cmd *cobra.Command) model.RuleKey {
	var key model.RuleKey
	if v, _ := cmd.Flags().GetString("domain"); v != "" {
		key.Domain = &v
	}
	if v, _ := cmd.Flags().GetString("page-type"); v != "" {
		key.PageType = &v
	}
	if v, _ := cmd.Flags().GetString("category"); v != "" {
		key.Category = &v
	}
	return key
}

func scopeString(rule *model.Rule) string {
	str := func(p *string) string {
		if p == nil {
			return "*"
		}
		return *p
	}
	return fmt.Sprintf("%s/%s/%s", str(rule.Domain), str(rule.PageType), str(rule.Category))
}

// readBody loads the rule body from --body, --body-file, or stdin.
func readBody(cmd *cobra.Command) (string, error) {
	if body, _ := cmd.Flags().GetString("body"); body != "" {
		return body, nil
	}
	if path, _ := cmd.Flags().GetString("body-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", eris.Wrap(err, "read body file")
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", eris.Wrap(err, "read body from stdin")
	}
	return string(data), nil
}

// -- rules list --

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		list, err := svc.List(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "rules list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No rules defined.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSCOPE\tACTIVE\tBACKUPS\tUPDATED")
		for i := range list {
			r := &list[i]
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%s\n",
				r.ID, r.Name, scopeString(r), r.IsActive, len(r.Backups),
				r.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

// -- rules show --

var rulesShowCmd = &cobra.Command{
	Use:   "show <rule-id>",
	Short: "Show a rule including its backup history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rule, err := svc.Get(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "rules show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rule)
	},
}

// -- rules create --

var rulesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a rule",
	Long:  "Creates a rule scoped by the --domain/--page-type/--category flags. Unset flags widen the scope; with none set the rule is the global default. The body comes from --body, --body-file, or stdin.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		body, err := readBody(cmd)
		if err != nil {
			return err
		}
		activate, _ := cmd.Flags().GetBool("activate")

		rule, err := svc.Create(cmd.Context(), args[0], body, scopeKey(cmd), activate)
		if err != nil {
			if eris.Is(err, store.ErrActiveRuleConflict) {
				return eris.New("another rule is already active for this scope; deactivate it first or create without --activate")
			}
			return eris.Wrap(err, "rules create")
		}

		fmt.Printf("Created rule %s (scope %s, active %v)\n", rule.ID, scopeString(rule), rule.IsActive)
		return nil
	},
}

// -- rules edit --

var rulesEditCmd = &cobra.Command{
	Use:   "edit <rule-id>",
	Short: "Edit a rule's name or body",
	Long:  "Body changes rotate the previous body into the backup list; the oldest entry falls off past the cap.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		current, err := svc.Get(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "rules edit")
		}

		name := current.Name
		if v, _ := cmd.Flags().GetString("name"); v != "" {
			name = v
		}
		body := current.Body
		if cmd.Flags().Changed("body") || cmd.Flags().Changed("body-file") {
			body, err = readBody(cmd)
			if err != nil {
				return err
			}
		}

		rule, err := svc.Update(cmd.Context(), args[0], name, body)
		if err != nil {
			return eris.Wrap(err, "rules edit")
		}
		fmt.Printf("Updated rule %s (%d backups)\n", rule.ID, len(rule.Backups))
		return nil
	},
}

// -- rules activate / deactivate --

var rulesActivateCmd = &cobra.Command{
	Use:   "activate <rule-id>",
	Short: "Make a rule the active one for its scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := svc.Activate(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "rules activate")
		}
		fmt.Printf("Activated rule %s\n", args[0])
		return nil
	},
}

var rulesDeactivateCmd = &cobra.Command{
	Use:   "deactivate <rule-id>",
	Short: "Deactivate a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := svc.Deactivate(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "rules deactivate")
		}
		fmt.Printf("Deactivated rule %s\n", args[0])
		return nil
	},
}

// -- rules restore --

var rulesRestoreCmd = &cobra.Command{
	Use:   "restore <rule-id> <backup-index>",
	Short: "Restore a rule body from a backup",
	Long:  "Index 0 is the newest backup. The body being replaced rotates into the backup list like any edit.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		index, err := strconv.Atoi(args[1])
		if err != nil {
			return eris.Errorf("backup index must be a number, got %q", args[1])
		}

		rule, err := svc.Restore(cmd.Context(), args[0], index)
		if err != nil {
			return eris.Wrap(err, "rules restore")
		}
		fmt.Printf("Restored rule %s from backup %d\n", rule.ID, index)
		return nil
	},
}

// -- rules delete --

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Permanently delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := svc.Delete(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "rules delete")
		}
		fmt.Printf("Deleted rule %s\n", args[0])
		return nil
	},
}

// -- rules export / import --

var rulesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all rules as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return svc.ExportYAML(cmd.Context(), os.Stdout)
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import rules from a YAML export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := initRuleService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open rules file")
		}
		defer f.Close() //nolint:errcheck

		n, err := svc.ImportYAML(cmd.Context(), f)
		if err != nil {
			return eris.Wrap(err, "rules import")
		}
		fmt.Printf("Imported %d rules\n", n)
		return nil
	},
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("domain", "", "scope rule to a taxonomy domain")
	cmd.Flags().String("page-type", "", "scope rule to a page type")
	cmd.Flags().String("category", "", "scope rule to a category")
}

func init() {
	addScopeFlags(rulesCreateCmd)
	rulesCreateCmd.Flags().String("body", "", "rule body")
	rulesCreateCmd.Flags().String("body-file", "", "file to read the rule body from")
	rulesCreateCmd.Flags().Bool("activate", false, "activate the rule after creating it")

	rulesEditCmd.Flags().String("name", "", "new rule name")
	rulesEditCmd.Flags().String("body", "", "new rule body")
	rulesEditCmd.Flags().String("body-file", "", "file to read the new body from")

	rulesCmd.AddCommand(rulesListCmd, rulesShowCmd, rulesCreateCmd, rulesEditCmd,
		rulesActivateCmd, rulesDeactivateCmd, rulesRestoreCmd, rulesDeleteCmd,
		rulesExportCmd, rulesImportCmd)
	rootCmd.AddCommand(rulesCmd)
}
