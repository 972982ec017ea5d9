package progress

import (
	"io"
	"os"
	"sync"
	"time"

	pb "github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/dhcgn/mbox-archive/stats"
)

// Bar shows how many bytes of the mailbox ingest has consumed.
type Bar struct {
	pb      *pb.ProgressBar
	start   int64
	done    int64
	mu      sync.Mutex
	enabled bool
}

// Enabled reports whether a progress bar should be drawn: it was asked for and
// stderr is a terminal.
func Enabled(wanted bool) bool {
	return wanted && term.IsTerminal(int(os.Stderr.Fd()))
}

// New creates a byte progress bar for a file of size bytes, resuming at
// start. A disabled bar ignores every event.
func New(size, start int64, enabled bool) *Bar {
	return newBar(os.Stderr, size, start, enabled)
}

func newBar(w io.Writer, size, start int64, enabled bool) *Bar {
	bar := &Bar{start: start, enabled: enabled}
	if !enabled {
		return bar
	}

	bar.pb = pb.NewOptions64(size-start,
		pb.OptionSetWriter(w),
		pb.OptionSetDescription("Ingest"),
		pb.OptionShowBytes(true),
		pb.OptionShowCount(),
		pb.OptionThrottle(100*time.Millisecond),
		pb.OptionSetWidth(30),
		pb.OptionOnCompletion(func() { io.WriteString(w, "\n") }),
	)
	return bar
}

// Update advances the bar from an ingest event.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeStaged, stats.EventTypeFiltered, stats.EventTypeFailed:
		if done := evt.Offset - b.start; done > b.done {
			b.done = done
			_ = b.pb.Set64(done)
		}
	case stats.EventTypeTruncated:
		b.pb.Describe("Ingest (truncated)")
	}
}

// Consume updates the bar until events is closed, then finishes it.
func (b *Bar) Consume(events <-chan stats.Event) error {
	for evt := range events {
		b.Update(evt)
	}
	b.Finish()
	return nil
}

// Finish completes the progress bar display.
func (b *Bar) Finish() {
	if !b.enabled || b.pb == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.pb.Finish()
}
