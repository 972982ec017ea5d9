// Package ingest drives mailbox reading, normalization and staging, and can
// be stopped and resumed at any point.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/dhcgn/mbox-archive/filter"
	"github.com/dhcgn/mbox-archive/mbox"
	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/progress"
	"github.com/dhcgn/mbox-archive/runner"
	"github.com/dhcgn/mbox-archive/staging"
	"github.com/dhcgn/mbox-archive/stats"
)

// ErrInterrupted is returned when ingestion was cancelled. Everything up to
// the last commit is kept and a re-run resumes from there.
var ErrInterrupted = errors.New("ingest interrupted")

const DefaultBatchSize = 250

// State is the controller's current phase.
type State int32

const (
	StateIdle State = iota
	StateReading
	StateNormalizing
	StateStaging
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateNormalizing:
		return "normalizing"
	case StateStaging:
		return "staging"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Options struct {
	// Workers is the number of parallel normalizers. Zero means NumCPU.
	Workers int
	// BatchSize is the number of messages per staging transaction.
	BatchSize int
	Reader    mbox.Options
	Filter    *filter.Filter
	// Progress draws a byte progress bar when stderr is a terminal.
	Progress bool
}

// Result summarizes one ingest run.
type Result struct {
	Source      string
	StartOffset int64
	// EndOffset is the last committed checkpoint.
	EndOffset int64
	Scanned   int
	Staged    int
	Filtered  int
	Failed    int
	Truncated *mbox.ParseError
	// Interrupted is set when the run was cancelled before the end of input.
	Interrupted bool
}

func (r Result) LogAttrs() []any {
	attrs := []any{
		"source", r.Source,
		"startOffset", r.StartOffset,
		"endOffset", r.EndOffset,
		"scanned", r.Scanned,
		"staged", r.Staged,
		"filtered", r.Filtered,
		"failed", r.Failed,
	}
	if r.Truncated != nil {
		attrs = append(attrs, "truncatedAt", r.Truncated.Offset)
	}
	if r.Interrupted {
		attrs = append(attrs, "interrupted", true)
	}
	return attrs
}

// Controller runs ingestion into one staging store.
type Controller struct {
	store  *staging.Store
	opts   Options
	logger *slog.Logger
	state  atomic.Int32

	// onCommit, if set, is called by the committer after each committed batch.
	onCommit func(offset int64)
}

func New(store *staging.Store, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Controller{store: store, opts: opts, logger: logger}
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Run ingests mailboxPath, resuming from its stored checkpoint. A truncated
// mailbox ends the run without error; Result.Truncated reports where.
func (c *Controller) Run(ctx context.Context, mailboxPath string) (Result, error) {
	if ctx.Err() != nil {
		return Result{Interrupted: true}, ErrInterrupted
	}
	c.setState(StateReading)

	source, err := filepath.Abs(mailboxPath)
	if err != nil {
		c.setState(StateFailed)
		return Result{}, &model.IOError{Op: "resolve mbox", Path: mailboxPath, Err: err}
	}
	info, err := os.Stat(source)
	if err != nil {
		c.setState(StateFailed)
		return Result{Source: source}, &model.IOError{Op: "stat mbox", Path: source, Err: err}
	}

	start, err := c.store.LastOffset(ctx, source)
	if err != nil {
		c.setState(StateFailed)
		return Result{Source: source}, err
	}
	if start > info.Size() {
		c.logger.Warn("checkpoint beyond end of mailbox, restarting from the beginning",
			"source", source, "checkpoint", start, "size", info.Size())
		start = 0
	}

	f, err := mbox.Open(source, start, c.opts.Reader)
	if err != nil {
		c.setState(StateFailed)
		return Result{Source: source}, err
	}
	defer f.Close()

	c.logger.Info("ingest starting", "source", source, "offset", start, "size", f.Size(), "workers", c.opts.Workers)

	r := runner.New(ctx, "ingest", c.logger)
	reporter := stats.NewReporter(c.logger)
	r.Subscribe("stats", reporter.Consume)
	if c.opts.Progress {
		bar := progress.New(f.Size(), start, progress.Enabled(true))
		r.Subscribe("progress", bar.Consume)
	}

	envelopes := make(chan model.Envelope, c.opts.Workers*2)
	outcomes := make(chan outcome, c.opts.Workers*2)

	r.AddStage("reader", func(ctx context.Context) error {
		defer close(envelopes)
		return c.read(ctx, r, f, envelopes)
	})
	r.AddPool("normalize", c.opts.Workers, func(ctx context.Context) error {
		return c.normalize(ctx, envelopes, outcomes)
	}, func() { close(outcomes) })

	cm := newCommitter(c, r, source, start)
	r.AddStage("committer", func(ctx context.Context) error {
		return cm.run(ctx, outcomes)
	})

	runErr := r.Start()

	res := cm.result
	res.Scanned = reporter.Summary().Scanned

	if runErr != nil {
		c.setState(StateFailed)
		return res, runErr
	}
	if ctx.Err() != nil {
		c.setState(StateFailed)
		res.Interrupted = true
		c.logger.Warn("ingest interrupted", res.LogAttrs()...)
		return res, fmt.Errorf("%w at offset %d", ErrInterrupted, res.EndOffset)
	}
	if res.Truncated != nil {
		c.logger.Warn("mailbox truncated, staged everything before it",
			"source", source, "offset", res.Truncated.Offset, "reason", res.Truncated.Reason)
	}

	c.setState(StateDone)
	c.logger.Info("ingest completed", res.LogAttrs()...)
	return res, nil
}

func (c *Controller) read(ctx context.Context, r *runner.Runner, f *mbox.File, out chan<- model.Envelope) error {
	var seq uint64
	for {
		msg, err := f.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		var perr *mbox.ParseError
		if errors.As(err, &perr) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- model.Envelope{Seq: seq, Message: model.RawMessage{Offset: perr.Offset}, Err: perr}:
			}
			return nil
		}
		if err != nil {
			return &model.IOError{Op: "read mbox", Path: f.Name(), Err: err}
		}

		r.Emit(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeScanned, Offset: msg.Offset})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- model.Envelope{Seq: seq, Message: msg}:
		}
		seq++
	}
}
