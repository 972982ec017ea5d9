package ingest

import (
	"context"
	"errors"

	"github.com/dhcgn/mbox-archive/normalize"
	"github.com/dhcgn/mbox-archive/runner"
	"github.com/dhcgn/mbox-archive/staging"
	"github.com/dhcgn/mbox-archive/stats"
)

// committer applies worker outcomes strictly in mailbox order. The
// checkpoint of a batch never passes a message that is not in that batch or
// an earlier one.
type committer struct {
	c      *Controller
	r      *runner.Runner
	source string

	next    uint64
	pending map[uint64]outcome

	batch   *staging.Batch
	applied int
	lastEnd int64

	result Result
}

func newCommitter(c *Controller, r *runner.Runner, source string, start int64) *committer {
	return &committer{
		c:       c,
		r:       r,
		source:  source,
		pending: make(map[uint64]outcome),
		lastEnd: start,
		result:  Result{Source: source, StartOffset: start, EndOffset: start},
	}
}

// run consumes outcomes until the workers close the channel. Database work
// ignores cancellation so an interrupted run still commits what it has.
func (cm *committer) run(ctx context.Context, in <-chan outcome) error {
	dbCtx := context.WithoutCancel(ctx)
	defer func() {
		if cm.batch != nil {
			cm.batch.Rollback()
		}
	}()

	for o := range in {
		cm.pending[o.seq] = o
		for {
			next, ok := cm.pending[cm.next]
			if !ok {
				break
			}
			delete(cm.pending, cm.next)
			cm.next++
			if err := cm.apply(dbCtx, next); err != nil {
				return err
			}
		}
	}
	return cm.flush(dbCtx)
}

func (cm *committer) apply(ctx context.Context, o outcome) error {
	if o.truncated != nil {
		cm.result.Truncated = o.truncated
		cm.r.Emit(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeTruncated, Offset: o.truncated.Offset, Err: o.truncated})
		return nil
	}

	cm.c.setState(StateStaging)
	defer cm.c.setState(StateNormalizing)

	if cm.batch == nil {
		b, err := cm.c.store.Begin(ctx, cm.source)
		if err != nil {
			return err
		}
		cm.batch = b
	}

	switch {
	case o.filtered:
		cm.result.Filtered++
		cm.r.Emit(stats.Event{Stage: stats.StageIngest, Type: stats.EventTypeFiltered, Offset: o.end})

	case o.err != nil:
		messageID := ""
		var nerr *normalize.Error
		if errors.As(o.err, &nerr) {
			messageID = nerr.MessageID
		}
		cm.c.logger.Warn("message not staged", "offset", o.offset, "messageID", messageID, "err", o.err)
		if err := cm.batch.RecordFailure(ctx, o.offset, messageID, o.err); err != nil {
			return err
		}
		cm.result.Failed++
		cm.r.Emit(stats.Event{Stage: stats.StageNormalize, Type: stats.EventTypeFailed, MessageID: messageID, Offset: o.end, Err: o.err})

	default:
		email := o.result.Email
		for _, w := range o.result.Warnings {
			cm.c.logger.Debug("lossy decode", "offset", o.offset, "messageID", email.MessageID, "detail", w)
		}
		if err := cm.batch.Upsert(ctx, email, o.result.Attachments); err != nil {
			return err
		}
		cm.result.Staged++
		cm.r.Emit(stats.Event{Stage: stats.StageStaging, Type: stats.EventTypeStaged, MessageID: email.MessageID, Offset: o.end})
	}

	cm.batch.Advance(o.end)
	cm.lastEnd = o.end
	cm.applied++
	if cm.applied >= cm.c.opts.BatchSize {
		return cm.flush(ctx)
	}
	return nil
}

func (cm *committer) flush(ctx context.Context) error {
	if cm.batch == nil {
		return nil
	}
	b := cm.batch
	cm.batch = nil
	if err := b.Commit(ctx); err != nil {
		return err
	}
	cm.applied = 0
	cm.result.EndOffset = cm.lastEnd
	cm.r.Emit(stats.Event{Stage: stats.StageStaging, Type: stats.EventTypeCommitted, Offset: cm.lastEnd})
	if cm.c.onCommit != nil {
		cm.c.onCommit(cm.lastEnd)
	}
	return nil
}
