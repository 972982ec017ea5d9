package cmd

import (
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var skipDedup bool

	cmd := &cobra.Command{
		Use:   "run [mbox file]",
		Short: "Ingest, export and deduplicate in one go",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, out := cmd.Context(), cmd.OutOrStdout()
			if _, err := a.ingest(ctx, out, store, args[0]); err != nil {
				return err
			}
			if _, err := a.export(ctx, out, store); err != nil {
				return err
			}
			if skipDedup {
				return nil
			}
			_, err = a.dedup(ctx, out)
			return err
		},
	}

	cmd.Flags().BoolVar(&skipDedup, "skip-dedup", false, "Stop after the export phase")
	return cmd
}
