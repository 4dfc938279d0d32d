package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hollis/countinghouse/internal/service"
)

func newInitCommand() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the database and seed the default taxonomy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine) error {
				if reset {
					m := &service.Maintenance{DB: eng.db}
					if err := m.Reset(ctx); err != nil {
						return err
					}
					fmt.Printf("reset database at %s\n", eng.cfg.Database.Path)
					return nil
				}
				fmt.Printf("database ready at %s\n", eng.cfg.Database.Path)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "wipe all data, keeping the schema and seed taxonomy")

	return cmd
}
