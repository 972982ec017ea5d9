package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/export"
	"github.com/dhcgn/mbox-archive/staging"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write yearly text archives and attachment directories from the staging store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			_, err = a.export(cmd.Context(), cmd.OutOrStdout(), store)
			return err
		},
	}
}

func (a *app) export(ctx context.Context, out io.Writer, store *staging.Store) (export.Report, error) {
	exporter := export.New(store, export.Options{
		OutputDir:      a.cfg.OutputDir,
		TextDir:        a.cfg.TextDir,
		AttachmentDir:  a.cfg.AttachmentDir,
		SkipExtensions: a.cfg.SkipExtensions,
	}, a.logger)

	report, err := exporter.Run(ctx)
	if err != nil {
		return report, err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "YEAR\tMESSAGES\tTHREADS\tATTACHMENTS\tUNCHANGED\tSKIPPED\tREMOVED")
	totals := report.Totals()
	totals.Year = "total"
	rows := append(slices.Clone(report.Years), totals)
	for _, y := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			y.Year, y.Messages, y.Threads, y.Attachments, y.Unchanged, y.Skipped, y.Removed)
	}
	return report, tw.Flush()
}
