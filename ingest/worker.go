package ingest

import (
	"context"
	"errors"

	"github.com/dhcgn/mbox-archive/mbox"
	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/normalize"
)

// outcome is what a worker produced for one envelope.
type outcome struct {
	seq       uint64
	offset    int64
	end       int64
	result    normalize.Result
	err       error
	filtered  bool
	truncated *mbox.ParseError
}

func (c *Controller) normalize(ctx context.Context, in <-chan model.Envelope, out chan<- outcome) error {
	for env := range in {
		o := c.process(env)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- o:
		}
	}
	return nil
}

func (c *Controller) process(env model.Envelope) outcome {
	o := outcome{seq: env.Seq, offset: env.Message.Offset, end: env.Message.End}

	if env.Err != nil {
		var perr *mbox.ParseError
		if errors.As(env.Err, &perr) {
			o.truncated = perr
			return o
		}
		o.err = env.Err
		return o
	}

	if !c.opts.Filter.Allows(env.Message.Data) {
		o.filtered = true
		return o
	}

	o.result, o.err = normalize.Message(env.Message)
	return o
}
