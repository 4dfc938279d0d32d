package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hollis/countinghouse/internal/database"
)

func newRulesCommand() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and toggle categorization rules",
	}
	rulesCmd.AddCommand(newRulesListCommand())
	rulesCmd.AddCommand(newRulesEnableCommand(true))
	rulesCmd.AddCommand(newRulesEnableCommand(false))
	return rulesCmd
}

func newRulesListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List categorization rules by priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine) error {
				version, err := eng.rules.Version(ctx)
				if err != nil {
					return err
				}
				list, err := eng.rules.List(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("rule set version %d\n", version)
				for _, r := range list {
					if !all && !r.Active {
						continue
					}
					state := "active"
					if !r.Active {
						state = "disabled"
					}
					fmt.Printf("  %s  prio %3d  weight %.3f  %-9s %-8s %-8s hits %d  %q -> %s\n",
						r.ID, r.Priority, r.Weight, r.Kind, r.Source, state, r.HitCount,
						r.Pattern, r.Category)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include disabled rules")

	return cmd
}

func newRulesEnableCommand(enable bool) *cobra.Command {
	use, short := "disable <rule-id>", "Disable a rule without deleting it"
	if enable {
		use, short = "enable <rule-id>", "Re-enable a disabled rule"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine) error {
				rule, err := eng.rules.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if rule == nil {
					return fmt.Errorf("unknown rule %s", args[0])
				}
				err = database.WithTx(ctx, eng.db, func(tx *sql.Tx) error {
					if err := eng.rules.SetActiveTx(ctx, tx, rule.ID, enable); err != nil {
						return err
					}
					return eng.rules.BumpVersionTx(ctx, tx)
				})
				if err != nil {
					return err
				}
				state := "disabled"
				if enable {
					state = "enabled"
				}
				fmt.Printf("%s rule %s (%q -> %s)\n", state, rule.ID, rule.Pattern, rule.Category)
				return nil
			})
		},
	}
}
