package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/filter"
	"github.com/dhcgn/mbox-archive/ingest"
	"github.com/dhcgn/mbox-archive/mbox"
	"github.com/dhcgn/mbox-archive/staging"
)

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [mbox file]",
		Short: "Stage the messages of an mbox file, resuming from the last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			_, err = a.ingest(cmd.Context(), cmd.OutOrStdout(), store, args[0])
			return err
		},
	}
}

func (a *app) ingest(ctx context.Context, out io.Writer, store *staging.Store, path string) (ingest.Result, error) {
	f, err := filter.New(a.cfg.FilterOptions())
	if err != nil {
		return ingest.Result{}, fmt.Errorf("create filter: %w", err)
	}

	a.logger.Info("starting ingest", "mbox", path, "db", a.cfg.DBPath, "workers", a.cfg.Workers)

	controller := ingest.New(store, ingest.Options{
		Workers:   a.cfg.Workers,
		BatchSize: a.cfg.BatchSize,
		Reader:    mbox.Options{KeepEscapes: !a.cfg.UnescapeFrom},
		Filter:    f,
		Progress:  a.cfg.Progress,
	}, a.logger)

	res, err := controller.Run(ctx, path)
	printIngest(out, res)
	if err != nil {
		return res, err
	}

	if st := f.Stats(); st.Checked > 0 {
		fmt.Fprintln(out, "Filter hits:")
		printFilterHits(out, st.Hits)
	}
	return res, nil
}

func printIngest(out io.Writer, res ingest.Result) {
	if res.Source == "" {
		return
	}
	fmt.Fprintf(out, "Ingested %s: staged %d, filtered %d, failed %d (offset %d -> %d)\n",
		res.Source, res.Staged, res.Filtered, res.Failed, res.StartOffset, res.EndOffset)
	if res.Truncated != nil {
		fmt.Fprintf(out, "Mailbox is truncated at offset %d: %s\n", res.Truncated.Offset, res.Truncated.Reason)
	}
	if res.Interrupted {
		fmt.Fprintln(out, "Interrupted; run again to resume from the checkpoint.")
	}
}
