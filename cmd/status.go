package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var showFailures bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show staging store counts, checkpoints and recorded failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, out := cmd.Context(), cmd.OutOrStdout()
			st, err := store.Status(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Emails: %d\nAttachments: %d\nFailures: %d\n", st.Emails, st.Attachments, st.Failures)
			if len(st.Checkpoints) > 0 {
				fmt.Fprintln(out, "\nCheckpoints:")
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, cp := range st.Checkpoints {
					fmt.Fprintf(tw, "  %s\t%d\t%s\n", cp.Source, cp.Offset, cp.UpdatedAt)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			if !showFailures || st.Failures == 0 {
				return nil
			}
			failures, err := store.Failures(ctx, "")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "\nFailures:")
			for _, f := range failures {
				fmt.Fprintf(out, "  %s@%d %s: %s\n", f.Source, f.Offset, f.MessageID, f.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showFailures, "failures", false, "List every recorded ingest failure")
	return cmd
}
