package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dhcgn/mbox-archive/cmd"
	"github.com/dhcgn/mbox-archive/ingest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx, os.Args[1:])
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	stop()
	if errors.Is(err, ingest.ErrInterrupted) || errors.Is(err, context.Canceled) {
		os.Exit(130)
	}
	os.Exit(1)
}
