package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageMbox      Stage = "mbox"
	StageIngest    Stage = "ingest"
	StageNormalize Stage = "normalize"
	StageStaging   Stage = "staging"
)

type EventType string

const (
	EventTypeScanned   EventType = "scanned"
	EventTypeStaged    EventType = "staged"
	EventTypeFiltered  EventType = "filtered"
	EventTypeFailed    EventType = "failed"
	EventTypeTruncated EventType = "truncated"
	EventTypeCommitted EventType = "committed"
	EventTypeError     EventType = "error"
)

// Event is one pipeline observation. Offset is the byte position the event
// refers to: the message start for scanned, the message end once applied,
// and the checkpoint for committed.
type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Offset    int64
	Err       error
	Detail    string
}

type Summary struct {
	Scanned    int
	Staged     int
	Filtered   int
	Failed     int
	Truncated  bool
	Commits    int
	Checkpoint int64
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"staged", s.Staged,
		"filtered", s.Filtered,
		"failed", s.Failed,
		"commits", s.Commits,
		"checkpoint", s.Checkpoint,
	}
	if s.Truncated {
		attrs = append(attrs, "truncated", true)
	}
	if s.Errors > 0 {
		attrs = append(attrs, "errors", s.Errors)
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Consume applies events until the channel is closed.
func (c *Collector) Consume(events <-chan Event) error {
	for evt := range events {
		c.apply(evt)
	}
	return nil
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeStaged:
		c.summary.Staged++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeFailed:
		c.summary.Failed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeTruncated:
		c.summary.Truncated = true
	case EventTypeCommitted:
		c.summary.Commits++
		c.summary.Checkpoint = evt.Offset
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

// Reporter logs the collected summary once the pipeline closes its events.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
}

func (r *Reporter) Consume(events <-chan Event) error {
	if err := r.collector.Consume(events); err != nil {
		return err
	}
	if r.logger != nil {
		summary := r.collector.Snapshot()
		r.logger.Debug("event summary", append(summary.LogAttrs(), "duration", time.Since(r.started))...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map to w.
// Ties are broken by key so the output is stable.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
