package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/dedup"
)

func newDedupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dedup",
		Short: "Replace duplicate attachments with links to one retained copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.dedup(cmd.Context(), cmd.OutOrStdout())
			return err
		},
	}
}

func (a *app) dedup(ctx context.Context, out io.Writer) (dedup.Report, error) {
	strategy, err := dedup.ParseStrategy(a.cfg.DedupStrategy)
	if err != nil {
		return dedup.Report{}, err
	}

	d := dedup.New(dedup.Options{
		Root:         a.cfg.AttachmentRoot(),
		Strategy:     strategy,
		ManifestPath: a.cfg.ManifestPath(),
	}, a.logger)

	report, err := d.Run(ctx)
	fmt.Fprintf(out, "Dedup (%s): %d files, %d duplicate groups, %d linked, %d already linked, %d bytes saved\n",
		strategy, report.Files, report.Groups, report.Linked, report.AlreadyLinked, report.BytesSaved)
	if report.Broken > 0 {
		fmt.Fprintf(out, "Dedup skipped %d broken links\n", report.Broken)
	}
	return report, err
}
